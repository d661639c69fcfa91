package engine

import (
	"testing"

	"github.com/interlockhq/interlock/internal/govern"
	"github.com/interlockhq/interlock/internal/run"
)

func failedSnapshot(state run.State, kind string) *run.Snapshot {
	snap := run.NewSnapshot("r1")
	snap.Seq = 5
	snap.State = state
	snap.LastValidation = run.ValidationResult{Gate: "action", OK: false}
	snap.Governance = run.Governance{
		Budgets:         run.Budgets{MaxEvidenceItems: 5, MaxEvidenceTokens: 8000, MaxSourcesPerType: 3, MaxSearchRounds: 2, MaxRetries: 2},
		RetryCount:      map[string]int{string(state): 1},
		LastErrorKind:   kind,
		LastErrorState:  state,
		SignatureStreak: 1,
	}
	return snap
}

func TestRouteFailureBackwardEdges(t *testing.T) {
	r := Router{GapThreshold: 0.5}

	snap := failedSnapshot(run.StateGroundingValidate, govern.KindGrounding)
	if got := r.Route(snap); got != run.StateFetchSources {
		t.Errorf("grounding failure routed to %s, want %s", got, run.StateFetchSources)
	}

	snap = failedSnapshot(run.StateExtractEntities, govern.KindSchemaViolation)
	if got := r.Route(snap); got != run.StateBuildEvidenceIndex {
		t.Errorf("entity schema failure routed to %s, want %s", got, run.StateBuildEvidenceIndex)
	}

	snap = failedSnapshot(run.StateCompression, govern.KindBudgetExceeded)
	if got := r.Route(snap); got != run.StateCompression {
		t.Errorf("budget failure routed to %s, want %s", got, run.StateCompression)
	}
}

func TestRouteFailureCoverageGapThreshold(t *testing.T) {
	r := Router{GapThreshold: 0.5}
	snap := failedSnapshot(run.StateVerifyCoverage, govern.KindCoverageGap)
	snap.Working.Coverage = []run.CoverageEntry{
		{Criterion: "a"}, // unsatisfied
		{Criterion: "b"}, // unsatisfied
		{Criterion: "c", PlanStepIDs: []string{"P1"}, ValidationStepIDs: []string{"V1"}, EvidenceIDs: []string{"E1"}},
	}
	if got := r.Route(snap); got != run.StateFetchSources {
		t.Errorf("ratio 2/3 routed to %s, want another search round", got)
	}

	snap.Working.Coverage[0] = snap.Working.Coverage[2]
	if got := r.Route(snap); got != run.StateGeneratePlan {
		t.Errorf("ratio 1/3 routed to %s, want a re-plan", got)
	}
}

func TestRouteFailureSearchRoundsExhausted(t *testing.T) {
	r := Router{GapThreshold: 0.5}
	snap := failedSnapshot(run.StateGroundingValidate, govern.KindGrounding)
	snap.Governance.SearchRounds = 3
	if got := r.Route(snap); got != run.StateHumanInterrupt {
		t.Errorf("exhausted rounds routed to %s, want %s", got, run.StateHumanInterrupt)
	}
}

func TestRouteForwardStaleness(t *testing.T) {
	r := Router{GapThreshold: 0.5}
	snap := run.NewSnapshot("r1")
	snap.Seq = 8
	snap.State = run.StateFetchSources
	snap.LastValidation = run.ValidationResult{Gate: "schema", OK: true}
	snap.Working = run.Working{
		Intent:       &run.Intent{TicketRef: "OPS-7", Goal: "g"},
		ScopeChecked: true,
		Ticket:       &run.Ticket{Key: "OPS-7", Title: "t", Description: "d"},
		Sources: []run.Source{
			{SourceID: "S1", Type: "repo", Ref: "a.go"},
			{SourceID: "S2", Type: "web", Ref: "https://x"},
		},
		Evidence: []run.EvidenceObject{
			{EvidenceID: "E1", SourceID: "S1", Snippet: "s", TokenEstimate: 1},
		},
		Entities: []run.Entity{{Name: "svc", Kind: "service"}},
		Plan:     []run.PlanStep{{StepID: "P1", Description: "d", Kind: "implement", EvidenceIDs: []string{"E1"}}},
	}
	snap.Pinned = run.Pinned{ProblemStatement: "p", AcceptanceCriteria: []string{"ac"}}
	snap.Governance.Budgets = run.Budgets{MaxEvidenceItems: 5, MaxEvidenceTokens: 8000, MaxSourcesPerType: 3, MaxSearchRounds: 2, MaxRetries: 2}

	// S2 arrived in a later search round and has no evidence yet.
	if got := r.Route(snap); got != run.StateBuildEvidenceIndex {
		t.Errorf("unindexed source routed to %s, want re-index", got)
	}

	// Index it; the plan still cites live evidence, so grounding runs next.
	snap.Working.Evidence = append(snap.Working.Evidence, run.EvidenceObject{
		EvidenceID: "E2", SourceID: "S2", Snippet: "s2", TokenEstimate: 1,
	})
	if got := r.Route(snap); got != run.StateGroundingValidate {
		t.Errorf("indexed snapshot routed to %s, want grounding validation", got)
	}

	// A citation of an id that never existed is the grounding gate's call,
	// not staleness.
	snap.Working.Plan[0].EvidenceIDs = []string{"E9"}
	if got := r.Route(snap); got != run.StateGroundingValidate {
		t.Errorf("unknown citation routed to %s, want grounding validation", got)
	}

	// Compression superseding the cited id forces a re-plan.
	snap.Working.Plan[0].EvidenceIDs = []string{"E1"}
	snap.Working.Evidence = append(snap.Working.Evidence, run.EvidenceObject{
		EvidenceID: "C3", SourceID: "S1", Snippet: "merged", TokenEstimate: 1,
		Subsumes: []string{"E1"},
	})
	if got := r.Route(snap); got != run.StateGeneratePlan {
		t.Errorf("superseded citation routed to %s, want re-plan", got)
	}
}

func TestRouteTerminatedRunStays(t *testing.T) {
	r := Router{GapThreshold: 0.5}
	snap := run.NewSnapshot("r1")
	snap.Seq = 3
	snap.State = run.StateFailClosed
	snap.Status = run.StatusFailClosed
	snap.LastValidation = run.ValidationResult{Gate: "report", OK: true}
	if got := r.Route(snap); got != run.StateFailClosed {
		t.Errorf("terminated run routed to %s", got)
	}
}
