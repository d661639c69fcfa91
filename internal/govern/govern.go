// Package govern implements the policy layer over snapshot governance state:
// stable error signatures, retry accounting, and the escalation decision.
// All functions are pure so identical inputs always escalate identically.
package govern

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/interlockhq/interlock/internal/run"
)

// Error kinds the orchestrator distinguishes when routing failures. The
// collaborator kinds from the connector package pass through unchanged.
const (
	KindSchemaViolation = "schema-violation"
	KindGrounding       = "grounding-violation"
	KindCoverageGap     = "coverage-gap"
	KindBudgetExceeded  = "budget-exceeded"
	KindLowQuality      = "low-quality"
	KindAmbiguity       = "ambiguity"
	KindPinnedOverwrite = "pinned-overwrite"
	KindCancelled       = "cancelled"
)

// Signature derives the stable identifier for a failure: a short hash of the
// error kind, the state it occurred in, and key context. Identical failures
// produce identical signatures, which is what the repeated-failure guard
// compares.
func Signature(kind string, state run.State, context string) string {
	sum := sha256.Sum256([]byte(kind + "|" + string(state) + "|" + context))
	return fmt.Sprintf("%s:%s", kind, hex.EncodeToString(sum[:6]))
}

// Fixable reports whether a failure kind is mechanically remediable by a
// human after escalation, as opposed to a hard stop.
func Fixable(kind string) bool {
	switch kind {
	case KindPinnedOverwrite, KindCancelled:
		return false
	default:
		return true
	}
}

// escalatesToHuman lists the kinds that indicate ambiguity or judgment calls
// rather than hard failures. Everything else fails closed.
var escalatesToHuman = map[string]bool{
	KindAmbiguity:  true,
	KindLowQuality: true,
}

// Target returns the terminal state a failure kind escalates to.
func Target(kind string) run.State {
	if escalatesToHuman[kind] {
		return run.StateHumanInterrupt
	}
	return run.StateFailClosed
}

// Decision is the outcome of the escalation check for a failed state.
type Decision struct {
	Escalate bool
	Target   run.State
	Reason   string
}

// Evaluate applies the retry and repeated-signature policy to the governance
// partition after a failure in state s. With a retry budget of R the action
// executes at most R+1 times: the counter records failures, and escalation
// fires once it exceeds R, or earlier when the same signature is seen twice
// in a row in the same state.
func Evaluate(g run.Governance, s run.State) Decision {
	if g.LastErrorKind == KindPinnedOverwrite {
		return Decision{Escalate: true, Target: run.StateFailClosed, Reason: "pinned overwrite is fatal"}
	}
	if g.SignatureStreak >= 2 && g.LastErrorState == s {
		return Decision{
			Escalate: true,
			Target:   Target(g.LastErrorKind),
			Reason:   fmt.Sprintf("signature %s repeated %d times in %s", g.LastErrorSignature, g.SignatureStreak, s),
		}
	}
	if g.Retries(s) > g.Budgets.MaxRetries {
		return Decision{
			Escalate: true,
			Target:   Target(g.LastErrorKind),
			Reason:   fmt.Sprintf("retry budget exhausted for %s (%d/%d)", s, g.Retries(s), g.Budgets.MaxRetries),
		}
	}
	return Decision{}
}

// EvaluateSearchRounds checks the backward-edge budget. Exceeding the maximum
// number of search rounds is itself an escalation condition; it prevents
// unbounded re-fetch cycling.
func EvaluateSearchRounds(g run.Governance) Decision {
	if g.SearchRounds > g.Budgets.MaxSearchRounds {
		return Decision{
			Escalate: true,
			Target:   run.StateHumanInterrupt,
			Reason:   fmt.Sprintf("search rounds exhausted (%d/%d)", g.SearchRounds, g.Budgets.MaxSearchRounds),
		}
	}
	return Decision{}
}
