package run

import "errors"

// Delta is the unit of state change committed with every event. Exactly one
// partition pointer must be set; a multi-partition or empty delta is invalid.
type Delta struct {
	Pinned     *PinnedDelta     `json:"pinned,omitempty"`
	Working    *WorkingDelta    `json:"working,omitempty"`
	Governance *GovernanceDelta `json:"governance,omitempty"`
}

// PinnedDelta sets write-once requirement fields. Non-zero fields are set;
// setting an already-set field is rejected with ErrPinnedOverwrite.
type PinnedDelta struct {
	ProblemStatement   string   `json:"problem_statement,omitempty"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	Constraints        []string `json:"constraints,omitempty"`
	DefinitionOfDone   []string `json:"definition_of_done,omitempty"`
}

// WorkingDelta patches the working partition. Add* fields append, Set* fields
// replace, pointer fields overwrite when non-nil.
type WorkingDelta struct {
	Intent          *Intent          `json:"intent,omitempty"`
	ScopeChecked    *bool            `json:"scope_checked,omitempty"`
	Ticket          *Ticket          `json:"ticket,omitempty"`
	AddSources      []Source         `json:"add_sources,omitempty"`
	AddEvidence     []EvidenceObject `json:"add_evidence,omitempty"`
	SetEntities     []Entity         `json:"set_entities,omitempty"`
	SetPlan         []PlanStep       `json:"set_plan,omitempty"`
	ClearPlan       bool             `json:"clear_plan,omitempty"`
	SetCoverage     []CoverageEntry  `json:"set_coverage,omitempty"`
	SetScores       *RubricScore     `json:"set_scores,omitempty"`
	AddOpenUnknowns []string         `json:"add_open_unknowns,omitempty"`
	AddAssumptions  []string         `json:"add_assumptions,omitempty"`
	Receipt         *PostReceipt     `json:"receipt,omitempty"`
	Report          *Report          `json:"report,omitempty"`
}

// FailureRecord carries the stable signature and kind of a failed action.
type FailureRecord struct {
	Signature string `json:"signature"`
	Kind      string `json:"kind"`
}

// GovernanceDelta patches the governance partition.
type GovernanceDelta struct {
	SetBudgets      *Budgets       `json:"set_budgets,omitempty"`
	IncRetry        State          `json:"inc_retry,omitempty"`
	ResetRetry      State          `json:"reset_retry,omitempty"`
	IncSearchRounds bool           `json:"inc_search_rounds,omitempty"`
	Failure         *FailureRecord `json:"failure,omitempty"`
	ClearFailure    bool           `json:"clear_failure,omitempty"`
}

var errDeltaPartitions = errors.New("delta must patch exactly one partition")

func (d *Delta) validate() error {
	n := 0
	if d.Pinned != nil {
		n++
	}
	if d.Working != nil {
		n++
	}
	if d.Governance != nil {
		n++
	}
	if n != 1 {
		return errDeltaPartitions
	}
	return nil
}

// Partition names the partition a delta patches, for event inspection.
func (d *Delta) Partition() string {
	switch {
	case d == nil:
		return ""
	case d.Pinned != nil:
		return "pinned"
	case d.Working != nil:
		return "working"
	case d.Governance != nil:
		return "governance"
	default:
		return ""
	}
}
