package gates

import (
	"fmt"
	"strings"

	"github.com/interlockhq/interlock/internal/run"
)

// Grounding enforces the plan's provenance contract. Every implement step
// must cite evidence that exists in the current evidence set, or declare a
// logged assumption. A citation of a superseded or unknown evidence id is
// an uncited claim, not a lookup error.
func Grounding(snap *run.Snapshot) run.ValidationResult {
	known := map[string]bool{}
	for _, e := range snap.CurrentEvidence() {
		known[e.EvidenceID] = true
	}
	logged := map[string]bool{}
	for _, a := range snap.Working.Assumptions {
		logged[a] = true
	}

	var vs []run.Violation
	for i, step := range snap.Working.Plan {
		prefix := fmt.Sprintf("plan[%d]", i)
		for _, id := range step.EvidenceIDs {
			if !known[id] {
				vs = append(vs, run.Violation{
					Field:   prefix + ".evidence_ids",
					Code:    CodeUncitedClaim,
					Message: fmt.Sprintf("cites evidence %q which is not in the current evidence set", id),
				})
			}
		}
		if step.Kind != "implement" {
			continue
		}
		if len(step.EvidenceIDs) > 0 {
			continue
		}
		if strings.TrimSpace(step.Assumption) == "" {
			vs = append(vs, run.Violation{
				Field:   prefix,
				Code:    CodeUncitedClaim,
				Message: "implement step carries no evidence and no assumption",
			})
			continue
		}
		if !logged[step.Assumption] {
			vs = append(vs, run.Violation{
				Field:   prefix + ".assumption",
				Code:    CodeUnloggedAssume,
				Message: "assumption is not recorded in the run's assumption log",
			})
		}
	}

	if len(vs) > 0 {
		return fail("grounding", vs)
	}
	return ok("grounding")
}
