package evidence

import (
	"fmt"

	"github.com/interlockhq/interlock/internal/run"
)

// BudgetViolation describes which guard an evidence set exceeds.
type BudgetViolation struct {
	Budget  string `json:"budget"` // max_evidence_items, max_evidence_tokens, max_sources_per_type
	Limit   int    `json:"limit"`
	Actual  int    `json:"actual"`
	Context string `json:"context,omitempty"`
}

func (v *BudgetViolation) String() string {
	if v.Context != "" {
		return fmt.Sprintf("%s exceeded: %d > %d (%s)", v.Budget, v.Actual, v.Limit, v.Context)
	}
	return fmt.Sprintf("%s exceeded: %d > %d", v.Budget, v.Actual, v.Limit)
}

// CheckBudget returns the first guard the current evidence set exceeds, or
// nil when the set is in budget. Checks are ordered so the result is
// deterministic: items, then tokens.
func CheckBudget(objs []run.EvidenceObject, b run.Budgets) *BudgetViolation {
	if len(objs) > b.MaxEvidenceItems {
		return &BudgetViolation{Budget: "max_evidence_items", Limit: b.MaxEvidenceItems, Actual: len(objs)}
	}
	tokens := 0
	for _, o := range objs {
		tokens += o.TokenEstimate
	}
	if tokens > b.MaxEvidenceTokens {
		return &BudgetViolation{Budget: "max_evidence_tokens", Limit: b.MaxEvidenceTokens, Actual: tokens}
	}
	return nil
}

// CheckSourceBudget enforces the per-type source cap before fetching.
func CheckSourceBudget(sources []run.Source, b run.Budgets) *BudgetViolation {
	byType := map[string]int{}
	for _, s := range sources {
		byType[s.Type]++
		if byType[s.Type] > b.MaxSourcesPerType {
			return &BudgetViolation{
				Budget:  "max_sources_per_type",
				Limit:   b.MaxSourcesPerType,
				Actual:  byType[s.Type],
				Context: s.Type,
			}
		}
	}
	return nil
}
