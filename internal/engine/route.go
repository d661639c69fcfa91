package engine

import (
	"github.com/interlockhq/interlock/internal/evidence"
	"github.com/interlockhq/interlock/internal/gates"
	"github.com/interlockhq/interlock/internal/govern"
	"github.com/interlockhq/interlock/internal/run"
)

// Router computes the next state from a snapshot alone. It evaluates guard
// predicates over snapshot fields, never collaborator output, so identical
// snapshots always route identically.
type Router struct {
	// GapThreshold is the coverage gap ratio above which a failed coverage
	// gate routes back to source fetching instead of re-planning.
	GapThreshold float64
}

// Route returns the state whose action should execute next. For a snapshot
// already in a terminal state it returns that state unchanged.
func (r Router) Route(snap *run.Snapshot) run.State {
	if snap.Status != run.StatusActive {
		return snap.State
	}
	if snap.Seq > 0 && !snap.LastValidation.OK {
		return r.routeFailure(snap)
	}
	return r.routeForward(snap)
}

// routeForward picks the first pipeline stage whose artifact is missing.
// Content guards make resume trivial: the fold tells us what is done.
func (r Router) routeForward(snap *run.Snapshot) run.State {
	w := snap.Working
	switch {
	case w.Intent == nil:
		return run.StateParseIntent
	case !w.ScopeChecked:
		return run.StateValidateScope
	case w.Ticket == nil:
		return run.StateFetchJira
	case !snap.Pinned.Set():
		return run.StatePinRequirements
	case len(w.Sources) == 0:
		return run.StateFetchSources
	case len(w.Evidence) == 0, hasUnindexedSources(snap):
		return run.StateBuildEvidenceIndex
	case evidence.CheckBudget(snap.CurrentEvidence(), snap.Governance.Budgets) != nil:
		return run.StateCompression
	case len(w.Entities) == 0:
		return run.StateExtractEntities
	case len(w.Plan) == 0, planStale(snap):
		return run.StateGeneratePlan
	case !stagePassed(snap, run.StateGroundingValidate):
		return run.StateGroundingValidate
	case len(w.Coverage) == 0 || !stagePassed(snap, run.StateVerifyCoverage):
		return run.StateVerifyCoverage
	case w.Scores == nil:
		return run.StateQualityReview
	default:
		return run.StatePostResult
	}
}

// hasUnindexedSources reports whether a search round added sources the
// evidence index has not chunked yet. Subsumed evidence still counts as
// indexed; compression must not trigger a re-index.
func hasUnindexedSources(snap *run.Snapshot) bool {
	indexed := map[string]bool{}
	for _, e := range snap.Working.Evidence {
		indexed[e.SourceID] = true
	}
	for _, s := range snap.Working.Sources {
		if !indexed[s.SourceID] {
			return true
		}
	}
	return false
}

// planStale reports whether the plan cites evidence a later compression
// pass superseded, which happens when a re-fetch round replaced the
// evidence the plan was drafted against. Citations of ids that never
// existed are not staleness; the grounding gate flags those.
func planStale(snap *run.Snapshot) bool {
	current := map[string]bool{}
	for _, e := range snap.CurrentEvidence() {
		current[e.EvidenceID] = true
	}
	for _, step := range snap.Working.Plan {
		for _, id := range step.EvidenceIDs {
			if current[id] {
				continue
			}
			for _, e := range snap.Working.Evidence {
				if e.EvidenceID == id {
					return true
				}
			}
		}
	}
	return false
}

// stagePassed reports whether the snapshot has advanced past a pure
// validation stage: the stage itself, or any later one, committed an OK event.
func stagePassed(snap *run.Snapshot, s run.State) bool {
	if !snap.LastValidation.OK {
		return false
	}
	return stageIndex(snap.State) >= stageIndex(s)
}

var stageOrder = func() map[run.State]int {
	m := make(map[run.State]int, len(run.AllStates))
	for i, s := range run.AllStates {
		m[s] = i
	}
	return m
}()

func stageIndex(s run.State) int {
	return stageOrder[s]
}

// routeFailure applies the escalation policy and the explicit backward
// edges. The failed state is snap.State; the failure kind is recorded in
// governance by the same event that carried the failed validation.
func (r Router) routeFailure(snap *run.Snapshot) run.State {
	s := snap.State
	g := snap.Governance
	kind := g.LastErrorKind

	if d := govern.Evaluate(g, s); d.Escalate {
		return d.Target
	}

	// Quality deficiency is a judgment call, not a mechanical defect: it
	// escalates without burning retries.
	if kind == govern.KindLowQuality {
		return run.StateHumanInterrupt
	}

	switch kind {
	case govern.KindBudgetExceeded:
		return run.StateCompression
	case govern.KindGrounding:
		return r.backToSources(g)
	case govern.KindCoverageGap:
		if gates.GapRatio(snap.Working.Coverage) > r.GapThreshold {
			return r.backToSources(g)
		}
		return run.StateGeneratePlan
	case govern.KindSchemaViolation:
		if s == run.StateExtractEntities {
			return r.backToIndex(g)
		}
		return s
	default:
		// Collaborator failures retry the producing state.
		return s
	}
}

func (r Router) backToSources(g run.Governance) run.State {
	if d := govern.EvaluateSearchRounds(g); d.Escalate {
		return d.Target
	}
	return run.StateFetchSources
}

func (r Router) backToIndex(g run.Governance) run.State {
	if d := govern.EvaluateSearchRounds(g); d.Escalate {
		return d.Target
	}
	return run.StateBuildEvidenceIndex
}
