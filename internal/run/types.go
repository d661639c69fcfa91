package run

import "time"

// Run is one resolution attempt for a ticket.
type Run struct {
	ID             string    `json:"id"`
	TicketRef      string    `json:"ticket_ref"`
	CurrentState   State     `json:"current_state"`
	TerminalStatus Status    `json:"terminal_status"`
	CreatedAt      time.Time `json:"created_at"`
}

// Event is one immutable entry in a run's append-only log.
type Event struct {
	Seq            int64            `json:"seq"`
	RunID          string           `json:"run_id"`
	State          State            `json:"state"`
	Timestamp      time.Time        `json:"timestamp"`
	ToolCallHashes []string         `json:"tool_call_hashes,omitempty"`
	Validation     ValidationResult `json:"validation"`
	Delta          *Delta           `json:"delta,omitempty"`
	ErrorSignature string           `json:"error_signature,omitempty"`
	ErrorKind      string           `json:"error_kind,omitempty"`
}

// ValidationResult is the outcome of the gate applied to a state's action.
type ValidationResult struct {
	Gate       string      `json:"gate,omitempty"`
	OK         bool        `json:"ok"`
	Violations []Violation `json:"violations,omitempty"`
}

// Violation is a single gate finding. Code is stable and drives routing.
type Violation struct {
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Intent is the parsed goal of a run, proposed by the model from the trigger.
type Intent struct {
	TicketRef string   `json:"ticket_ref"`
	Goal      string   `json:"goal"`
	Unknowns  []string `json:"unknowns,omitempty"`
}

// Ticket is the fetched tracker issue. Body text is transient input to
// requirement pinning; only this trimmed record survives in the snapshot.
type Ticket struct {
	Key         string   `json:"key"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Labels      []string `json:"labels,omitempty"`
}

// Source is reference metadata for an origin document. The full body is
// never persisted; evidence objects carry the retained spans.
type Source struct {
	SourceID string `json:"source_id"`
	Type     string `json:"type"` // jira, confluence, repo, web
	Ref      string `json:"ref"`
	Title    string `json:"title,omitempty"`
}

// Locator resolves an evidence snippet to its exact origin span.
type Locator struct {
	URL       string `json:"url,omitempty"`
	Anchor    string `json:"anchor,omitempty"`
	Path      string `json:"path,omitempty"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
}

// EvidenceObject is a located, provenance-carrying snippet. Objects are
// immutable; compression supersedes them via Subsumes, never edits them.
type EvidenceObject struct {
	EvidenceID    string   `json:"evidence_id"`
	SourceID      string   `json:"source_id"`
	Locator       Locator  `json:"locator"`
	Snippet       string   `json:"snippet"`
	TokenEstimate int      `json:"token_estimate"`
	Tags          []string `json:"tags,omitempty"`
	Subsumes      []string `json:"subsumes,omitempty"`
}

// Entity is a typed domain entity extracted from evidence.
type Entity struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"` // service, endpoint, config, dataset, component
	EvidenceIDs []string `json:"evidence_ids,omitempty"`
}

// PlanStep is one step of the proposed resolution plan.
type PlanStep struct {
	StepID       string   `json:"step_id"`
	Description  string   `json:"description"`
	Kind         string   `json:"kind"` // implement, validate
	DependsOn    []string `json:"depends_on,omitempty"`
	Requirements []string `json:"requirements,omitempty"` // acceptance criterion refs, e.g. "AC1"
	EvidenceIDs  []string `json:"evidence_ids,omitempty"`
	Assumption   string   `json:"assumption,omitempty"` // logged assumption text when no evidence backs the step
	FilesTouched []string `json:"files_touched,omitempty"`
	RiskNotes    string   `json:"risk_notes,omitempty"`
}

// CoverageEntry maps one acceptance criterion to the plan steps, validation
// steps, and evidence that satisfy it.
type CoverageEntry struct {
	Criterion         string   `json:"criterion"` // "AC1", "AC2", ...
	PlanStepIDs       []string `json:"plan_step_ids,omitempty"`
	ValidationStepIDs []string `json:"validation_step_ids,omitempty"`
	EvidenceIDs       []string `json:"evidence_ids,omitempty"`
}

// Satisfied reports whether all three dimensions are non-empty.
func (c CoverageEntry) Satisfied() bool {
	return len(c.PlanStepIDs) > 0 && len(c.ValidationStepIDs) > 0 && len(c.EvidenceIDs) > 0
}

// RubricScore holds the quality review dimensions, each in [0,1].
type RubricScore struct {
	Completeness   float64 `json:"completeness"`
	Clarity        float64 `json:"clarity"`
	RiskDisclosure float64 `json:"risk_disclosure"`
	Weighted       float64 `json:"weighted"`
}

// PostReceipt records the delivery acknowledgement from the write-back system.
type PostReceipt struct {
	PostedID string `json:"posted_id"`
}
