package report

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/interlockhq/interlock/internal/govern"
	"github.com/interlockhq/interlock/internal/run"
)

func assertGolden(t *testing.T, name string, rep *run.Report) {
	t.Helper()
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}

func TestFailureReportGolden(t *testing.T) {
	snap := run.NewSnapshot("r1")
	snap.State = run.StateVerifyCoverage
	snap.LastValidation = run.ValidationResult{
		Gate: "coverage", OK: false,
		Violations: []run.Violation{{
			Field:   "coverage[1]",
			Code:    "coverage-gap",
			Message: `criterion "p99 latency under 300ms" is not covered by a plan step, a validation step, and evidence`,
		}},
	}
	snap.Working.Coverage = []run.CoverageEntry{
		{Criterion: "orders complete without 500s", PlanStepIDs: []string{"P1"}, ValidationStepIDs: []string{"V1"}, EvidenceIDs: []string{"E1"}},
		{Criterion: "p99 latency under 300ms", PlanStepIDs: []string{"P2"}},
	}
	snap.Working.OpenUnknowns = []string{"which payment provider is primary"}
	snap.Governance.SearchRounds = 3
	snap.Governance.RetryCount = map[string]int{
		string(run.StateVerifyCoverage): 2,
		string(run.StateFetchSources):   1,
	}

	rep := Failure(snap, run.StateHumanInterrupt, govern.KindCoverageGap, "search rounds exhausted (3/2)")
	assertGolden(t, "coverage_gap_interrupt", rep)
}

func TestSuccessReportGolden(t *testing.T) {
	snap := run.NewSnapshot("r1")
	snap.State = run.StateQualityReview
	rep := Success(snap, &run.PostReceipt{PostedID: "JIRA-COMMENT-1"})
	assertGolden(t, "posted", rep)
}

func TestFailureReportNextActions(t *testing.T) {
	snap := run.NewSnapshot("r1")

	rep := Failure(snap, run.StateFailClosed, "access-denied", "retry budget exhausted for VALIDATE_SCOPE (3/2)")
	if rep.Status != run.StatusFailClosed || !rep.Fixable {
		t.Errorf("access-denied report = status %s, fixable %v", rep.Status, rep.Fixable)
	}

	rep = Failure(snap, run.StateFailClosed, govern.KindPinnedOverwrite, "pinned overwrite is fatal")
	if rep.Fixable {
		t.Error("pinned overwrite reported as fixable")
	}

	rep = Failure(snap, run.StateFailClosed, "something-new", "x")
	if rep.NextAction != "inspect the event log and rerun" {
		t.Errorf("unknown kind next action = %q", rep.NextAction)
	}
}
