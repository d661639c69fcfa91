package govern

import (
	"strings"
	"testing"

	"github.com/interlockhq/interlock/internal/run"
)

func TestSignatureStability(t *testing.T) {
	a := Signature("access-denied", run.StateValidateScope, "confluence")
	b := Signature("access-denied", run.StateValidateScope, "confluence")
	if a != b {
		t.Fatalf("identical failures signed differently: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, "access-denied:") {
		t.Errorf("signature %q does not lead with the kind", a)
	}
	if c := Signature("access-denied", run.StateFetchJira, "confluence"); c == a {
		t.Error("state must be part of the signature")
	}
	if c := Signature("access-denied", run.StateValidateScope, "jira"); c == a {
		t.Error("context must be part of the signature")
	}
}

func TestEvaluateRetryBudget(t *testing.T) {
	g := run.Governance{
		Budgets:    run.Budgets{MaxRetries: 2, MaxSearchRounds: 2},
		RetryCount: map[string]int{string(run.StateFetchJira): 2},
	}
	// Distinct signatures each time, so only the counter applies.
	g.LastErrorKind = "timeout"
	g.SignatureStreak = 1

	if d := Evaluate(g, run.StateFetchJira); d.Escalate {
		t.Fatalf("escalated at retry count 2 with budget 2: %s", d.Reason)
	}

	g.RetryCount[string(run.StateFetchJira)] = 3
	d := Evaluate(g, run.StateFetchJira)
	if !d.Escalate || d.Target != run.StateFailClosed {
		t.Fatalf("budget 2 allows 3 executions, the 3rd failure must escalate: %+v", d)
	}
}

func TestEvaluateRepeatedSignature(t *testing.T) {
	g := run.Governance{
		Budgets:            run.Budgets{MaxRetries: 5},
		RetryCount:         map[string]int{string(run.StateValidateScope): 2},
		LastErrorKind:      "access-denied",
		LastErrorState:     run.StateValidateScope,
		LastErrorSignature: "access-denied:abc123",
		SignatureStreak:    2,
	}
	d := Evaluate(g, run.StateValidateScope)
	if !d.Escalate {
		t.Fatal("two identical failures in a row must escalate before the retry budget runs out")
	}
	if d.Target != run.StateFailClosed {
		t.Errorf("target = %s", d.Target)
	}

	// The streak belongs to the state it accrued in.
	if d := Evaluate(g, run.StateFetchJira); d.Escalate {
		t.Errorf("streak in another state escalated %s: %s", run.StateFetchJira, d.Reason)
	}
}

func TestEvaluateEscalationTargets(t *testing.T) {
	g := run.Governance{
		Budgets:         run.Budgets{MaxRetries: 0},
		RetryCount:      map[string]int{string(run.StateQualityReview): 1},
		LastErrorKind:   KindLowQuality,
		LastErrorState:  run.StateQualityReview,
		SignatureStreak: 1,
	}
	d := Evaluate(g, run.StateQualityReview)
	if !d.Escalate || d.Target != run.StateHumanInterrupt {
		t.Fatalf("low quality must interrupt, not fail closed: %+v", d)
	}

	g.LastErrorKind = KindBudgetExceeded
	g.RetryCount = map[string]int{string(run.StateCompression): 1}
	g.LastErrorState = run.StateCompression
	d = Evaluate(g, run.StateCompression)
	if !d.Escalate || d.Target != run.StateFailClosed {
		t.Fatalf("budget exhaustion must fail closed: %+v", d)
	}
}

func TestEvaluatePinnedOverwriteAlwaysFatal(t *testing.T) {
	g := run.Governance{
		Budgets:       run.Budgets{MaxRetries: 10},
		LastErrorKind: KindPinnedOverwrite,
	}
	d := Evaluate(g, run.StateGeneratePlan)
	if !d.Escalate || d.Target != run.StateFailClosed {
		t.Fatalf("pinned overwrite escaped escalation: %+v", d)
	}
}

func TestEvaluateSearchRounds(t *testing.T) {
	g := run.Governance{Budgets: run.Budgets{MaxSearchRounds: 2}, SearchRounds: 2}
	if d := EvaluateSearchRounds(g); d.Escalate {
		t.Fatalf("at-limit rounds escalated: %s", d.Reason)
	}
	g.SearchRounds = 3
	d := EvaluateSearchRounds(g)
	if !d.Escalate || d.Target != run.StateHumanInterrupt {
		t.Fatalf("exhausted rounds = %+v, want interrupt", d)
	}
}

func TestFixable(t *testing.T) {
	if Fixable(KindPinnedOverwrite) || Fixable(KindCancelled) {
		t.Error("hard stops reported as fixable")
	}
	if !Fixable("access-denied") || !Fixable(KindCoverageGap) {
		t.Error("remediable kinds reported as unfixable")
	}
}
