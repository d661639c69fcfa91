package gates

import (
	"fmt"
	"sort"

	"github.com/interlockhq/interlock/internal/run"
)

// BuildCoverage derives the coverage matrix from the pinned acceptance
// criteria and the current plan. Construction is deterministic: criteria are
// labeled AC1..ACn in pinned order and step ids are sorted within each entry.
func BuildCoverage(snap *run.Snapshot) []run.CoverageEntry {
	entries := make([]run.CoverageEntry, 0, len(snap.Pinned.AcceptanceCriteria))
	for i, criterion := range snap.Pinned.AcceptanceCriteria {
		label := fmt.Sprintf("AC%d", i+1)
		entry := run.CoverageEntry{Criterion: criterion}

		evidence := map[string]bool{}
		for _, step := range snap.Working.Plan {
			if !requires(step, label) {
				continue
			}
			switch step.Kind {
			case "implement":
				entry.PlanStepIDs = append(entry.PlanStepIDs, step.StepID)
			case "validate":
				entry.ValidationStepIDs = append(entry.ValidationStepIDs, step.StepID)
			}
			for _, id := range step.EvidenceIDs {
				evidence[id] = true
			}
		}
		for id := range evidence {
			entry.EvidenceIDs = append(entry.EvidenceIDs, id)
		}
		sort.Strings(entry.PlanStepIDs)
		sort.Strings(entry.ValidationStepIDs)
		sort.Strings(entry.EvidenceIDs)
		entries = append(entries, entry)
	}
	return entries
}

func requires(step run.PlanStep, label string) bool {
	for _, r := range step.Requirements {
		if r == label {
			return true
		}
	}
	return false
}

// Coverage fails when any acceptance criterion lacks an implement step, a
// validation step, or supporting evidence. Any gap blocks; the discrepancy
// list names each unsatisfied criterion.
func Coverage(snap *run.Snapshot) run.ValidationResult {
	var vs []run.Violation
	for i, entry := range snap.Working.Coverage {
		if entry.Satisfied() {
			continue
		}
		vs = append(vs, run.Violation{
			Field:   fmt.Sprintf("coverage[%d]", i),
			Code:    CodeCoverageGap,
			Message: fmt.Sprintf("criterion %q is not covered by a plan step, a validation step, and evidence", entry.Criterion),
		})
	}
	if len(vs) > 0 {
		return fail("coverage", vs)
	}
	return ok("coverage")
}

// GapRatio reports the fraction of coverage entries that are unsatisfied.
// Routing uses it to decide between re-planning and another search round.
func GapRatio(entries []run.CoverageEntry) float64 {
	if len(entries) == 0 {
		return 1
	}
	gaps := 0
	for _, e := range entries {
		if !e.Satisfied() {
			gaps++
		}
	}
	return float64(gaps) / float64(len(entries))
}
