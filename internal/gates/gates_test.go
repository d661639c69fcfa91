package gates

import (
	"testing"

	"github.com/interlockhq/interlock/internal/run"
)

func plannedSnapshot() *run.Snapshot {
	snap := run.NewSnapshot("r1")
	snap.Pinned = run.Pinned{
		ProblemStatement:   "checkout returns 500 under load",
		AcceptanceCriteria: []string{"orders complete", "latency under 300ms"},
		DefinitionOfDone:   []string{"deployed to staging"},
	}
	snap.Working.Evidence = []run.EvidenceObject{
		{EvidenceID: "E1", SourceID: "S1", Locator: run.Locator{Path: "svc/a.go"}, Snippet: "retry loop", TokenEstimate: 3},
		{EvidenceID: "E2", SourceID: "S2", Locator: run.Locator{URL: "https://wiki/x"}, Snippet: "timeout policy", TokenEstimate: 3},
	}
	snap.Working.Plan = []run.PlanStep{
		{StepID: "P1", Description: "bound the retry loop", Kind: "implement", Requirements: []string{"AC1"}, EvidenceIDs: []string{"E1"}, FilesTouched: []string{"svc/a.go"}, RiskNotes: "rollout behind flag"},
		{StepID: "P2", Description: "raise the upstream timeout", Kind: "implement", Requirements: []string{"AC2"}, EvidenceIDs: []string{"E2"}, FilesTouched: []string{"svc/cfg.go"}, RiskNotes: "needs config review"},
		{StepID: "V1", Description: "load test checkout", Kind: "validate", Requirements: []string{"AC1", "AC2"}, EvidenceIDs: []string{"E1"}, DependsOn: []string{"P1", "P2"}},
	}
	return snap
}

func hasCode(res run.ValidationResult, code string) bool {
	for _, v := range res.Violations {
		if v.Code == code {
			return true
		}
	}
	return false
}

func TestSchemaPassesPlannedSnapshot(t *testing.T) {
	snap := plannedSnapshot()
	for _, state := range []run.State{run.StatePinRequirements, run.StateBuildEvidenceIndex, run.StateGeneratePlan} {
		if res := Schema(state, snap); !res.OK {
			t.Errorf("%s: unexpected violations %+v", state, res.Violations)
		}
	}
}

func TestSchemaIntent(t *testing.T) {
	snap := run.NewSnapshot("r1")
	res := Schema(run.StateParseIntent, snap)
	if res.OK || !hasCode(res, CodeRequired) {
		t.Fatalf("nil intent passed: %+v", res)
	}

	snap.Working.Intent = &run.Intent{TicketRef: "OPS-7", Goal: "  "}
	res = Schema(run.StateParseIntent, snap)
	if res.OK || res.Violations[0].Field != "intent.goal" {
		t.Fatalf("blank goal passed: %+v", res)
	}
}

func TestSchemaPlanReferences(t *testing.T) {
	snap := plannedSnapshot()
	snap.Working.Plan = append(snap.Working.Plan, run.PlanStep{
		StepID:       "V2",
		Description:  "verify the rollback",
		Kind:         "verify",
		DependsOn:    []string{"P9"},
		Requirements: []string{"AC7"},
	})
	res := Schema(run.StateGeneratePlan, snap)
	if res.OK {
		t.Fatal("dangling plan references passed")
	}
	if len(res.Violations) != 3 {
		t.Errorf("violations = %+v, want bad kind, unknown step, unknown criterion", res.Violations)
	}
}

func TestSchemaEntities(t *testing.T) {
	snap := plannedSnapshot()
	snap.Working.Entities = []run.Entity{
		{Name: "checkout-svc", Kind: "service"},
		{Name: "orders table", Kind: "table"},
	}
	res := Schema(run.StateExtractEntities, snap)
	if res.OK || !hasCode(res, CodeInvalid) {
		t.Fatalf("unrecognized entity kind passed: %+v", res)
	}
}

func TestSchemaEvidenceIgnoresSubsumed(t *testing.T) {
	snap := plannedSnapshot()
	// Break a superseded object; only current evidence is validated.
	snap.Working.Evidence[0].Snippet = ""
	snap.Working.Evidence = append(snap.Working.Evidence, run.EvidenceObject{
		EvidenceID: "C3", SourceID: "S1", Locator: run.Locator{Path: "svc/a.go"},
		Snippet: "retry loop digest", TokenEstimate: 3, Subsumes: []string{"E1"},
	})
	if res := Schema(run.StateCompression, snap); !res.OK {
		t.Fatalf("superseded object leaked into validation: %+v", res.Violations)
	}
}

func TestGroundingUncitedClaim(t *testing.T) {
	snap := plannedSnapshot()
	snap.Working.Plan[0].EvidenceIDs = []string{"E9"}
	res := Grounding(snap)
	if res.OK || !hasCode(res, CodeUncitedClaim) {
		t.Fatalf("citation of unknown evidence passed: %+v", res)
	}
}

func TestGroundingSupersededCitation(t *testing.T) {
	snap := plannedSnapshot()
	snap.Working.Evidence = append(snap.Working.Evidence, run.EvidenceObject{
		EvidenceID: "C3", SourceID: "S1", Snippet: "digest", TokenEstimate: 1, Subsumes: []string{"E1"},
	})
	res := Grounding(snap)
	if res.OK || !hasCode(res, CodeUncitedClaim) {
		t.Fatal("citation of a superseded evidence id must fail grounding")
	}
}

func TestGroundingAssumptionPath(t *testing.T) {
	snap := plannedSnapshot()
	snap.Working.Plan[0].EvidenceIDs = nil

	res := Grounding(snap)
	if res.OK || !hasCode(res, CodeUncitedClaim) {
		t.Fatal("evidence-free implement step without assumption passed")
	}

	snap.Working.Plan[0].Assumption = "retry loop is the only writer"
	res = Grounding(snap)
	if res.OK || !hasCode(res, CodeUnloggedAssume) {
		t.Fatalf("unlogged assumption passed: %+v", res)
	}

	snap.Working.Assumptions = []string{"retry loop is the only writer"}
	if res = Grounding(snap); !res.OK {
		t.Fatalf("logged assumption rejected: %+v", res.Violations)
	}
}

func TestBuildCoverage(t *testing.T) {
	snap := plannedSnapshot()
	entries := BuildCoverage(snap)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want one per criterion", len(entries))
	}
	first := entries[0]
	if first.Criterion != "orders complete" {
		t.Errorf("criterion = %q", first.Criterion)
	}
	if len(first.PlanStepIDs) != 1 || first.PlanStepIDs[0] != "P1" {
		t.Errorf("plan steps = %v", first.PlanStepIDs)
	}
	if len(first.ValidationStepIDs) != 1 || first.ValidationStepIDs[0] != "V1" {
		t.Errorf("validation steps = %v", first.ValidationStepIDs)
	}
	if len(first.EvidenceIDs) != 1 || first.EvidenceIDs[0] != "E1" {
		t.Errorf("evidence = %v", first.EvidenceIDs)
	}
}

func TestCoverageGateBlocksAnyGap(t *testing.T) {
	snap := plannedSnapshot()
	snap.Working.Coverage = BuildCoverage(snap)
	if res := Coverage(snap); !res.OK {
		t.Fatalf("full coverage rejected: %+v", res.Violations)
	}

	// Remove the only validation step; both criteria lose their validation leg.
	snap.Working.Plan = snap.Working.Plan[:2]
	snap.Working.Coverage = BuildCoverage(snap)
	res := Coverage(snap)
	if res.OK || !hasCode(res, CodeCoverageGap) {
		t.Fatal("criterion without validation step passed coverage")
	}
	if got := GapRatio(snap.Working.Coverage); got != 1 {
		t.Errorf("gap ratio = %v, want 1", got)
	}
}

func TestGapRatioEmptyMatrix(t *testing.T) {
	if got := GapRatio(nil); got != 1 {
		t.Errorf("empty matrix ratio = %v, want 1", got)
	}
}

func TestRubricScoring(t *testing.T) {
	snap := plannedSnapshot()
	snap.Working.Coverage = BuildCoverage(snap)
	r := Rubric{Completeness: 0.4, Clarity: 0.3, RiskDisclosure: 0.3, Threshold: 0.7}

	score, res := r.Gate(snap)
	if !res.OK {
		t.Fatalf("well-formed plan failed review: %+v", res.Violations)
	}
	if score.Weighted != 1 {
		t.Errorf("weighted = %v, want 1", score.Weighted)
	}

	// Strip disclosures and file lists; clarity and risk collapse.
	for i := range snap.Working.Plan {
		snap.Working.Plan[i].RiskNotes = ""
		snap.Working.Plan[i].FilesTouched = nil
	}
	score, res = r.Gate(snap)
	if res.OK || !hasCode(res, CodeLowQuality) {
		t.Fatalf("degraded plan passed review with %v", score)
	}
	if score.RiskDisclosure != 0 {
		t.Errorf("risk disclosure = %v, want 0", score.RiskDisclosure)
	}
	if score.Clarity != round4(1.0/3.0) {
		t.Errorf("clarity = %v", score.Clarity)
	}
}

func TestMissingFields(t *testing.T) {
	res := fail("schema", []run.Violation{
		{Field: "ticket.title", Code: CodeRequired},
		{Field: "intent.goal", Code: CodeRequired},
		{Field: "ticket.title", Code: CodeInvalid},
	})
	got := MissingFields(res)
	if len(got) != 2 || got[0] != "ticket.title" || got[1] != "intent.goal" {
		t.Errorf("missing fields = %v", got)
	}
}
