// Package gates holds the pure validation checks applied between states:
// schema, grounding, and coverage, plus the quality review rubric. Gates
// never mutate or repair data; they only report violations, and the
// orchestrator decides where a failed gate routes.
package gates

import "github.com/interlockhq/interlock/internal/run"

// Violation codes shared with the routing layer.
const (
	CodeRequired       = "required"
	CodeInvalid        = "invalid"
	CodeUncitedClaim   = "uncited-claim"
	CodeUnloggedAssume = "unlogged-assumption"
	CodeCoverageGap    = "coverage-gap"
	CodeLowQuality     = "low-quality"
)

func ok(gate string) run.ValidationResult {
	return run.ValidationResult{Gate: gate, OK: true}
}

func fail(gate string, violations []run.Violation) run.ValidationResult {
	return run.ValidationResult{Gate: gate, OK: false, Violations: violations}
}

// MissingFields extracts the violated field names from a result, sorted by
// first occurrence, for invalidation reports.
func MissingFields(res run.ValidationResult) []string {
	seen := map[string]bool{}
	var fields []string
	for _, v := range res.Violations {
		if v.Field != "" && !seen[v.Field] {
			fields = append(fields, v.Field)
			seen[v.Field] = true
		}
	}
	return fields
}
