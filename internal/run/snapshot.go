package run

import (
	"errors"
	"fmt"
	"time"
)

// ErrPinnedOverwrite is returned when a delta tries to change an already-set
// pinned field. It is always fatal and never retried.
var ErrPinnedOverwrite = errors.New("pinned field already set")

// SigPinnedOverwrite is the error signature recorded for such attempts.
const SigPinnedOverwrite = "pinned-overwrite"

// Budgets are the hard guards applied to a run. They are pinned into
// governance at run creation so replay does not depend on live config.
type Budgets struct {
	MaxEvidenceItems  int `json:"max_evidence_items"`
	MaxEvidenceTokens int `json:"max_evidence_tokens"`
	MaxSourcesPerType int `json:"max_sources_per_type"`
	MaxSearchRounds   int `json:"max_search_rounds"`
	MaxRetries        int `json:"max_retries"`
}

// Pinned is the write-once partition: the problem definition fixed early in
// the run and never altered afterwards.
type Pinned struct {
	ProblemStatement   string   `json:"problem_statement,omitempty"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	Constraints        []string `json:"constraints,omitempty"`
	DefinitionOfDone   []string `json:"definition_of_done,omitempty"`
}

// Set reports whether the requirement fields have been pinned.
func (p Pinned) Set() bool {
	return p.ProblemStatement != "" && len(p.AcceptanceCriteria) > 0
}

// Working is the mutable partition, patched only through deltas.
type Working struct {
	Intent       *Intent          `json:"intent,omitempty"`
	ScopeChecked bool             `json:"scope_checked,omitempty"`
	Ticket       *Ticket          `json:"ticket,omitempty"`
	Sources      []Source         `json:"sources,omitempty"`
	Evidence     []EvidenceObject `json:"evidence,omitempty"`
	Entities     []Entity         `json:"entities,omitempty"`
	Plan         []PlanStep       `json:"plan,omitempty"`
	Coverage     []CoverageEntry  `json:"coverage,omitempty"`
	Scores       *RubricScore     `json:"scores,omitempty"`
	OpenUnknowns []string         `json:"open_unknowns,omitempty"`
	Assumptions  []string         `json:"assumptions,omitempty"`
	Receipt      *PostReceipt     `json:"receipt,omitempty"`
	Report       *Report          `json:"report,omitempty"`
}

// Governance holds the policy counters, mutated only via orchestrator deltas.
type Governance struct {
	Budgets            Budgets        `json:"budgets"`
	RetryCount         map[string]int `json:"retry_count,omitempty"`
	SearchRounds       int            `json:"search_rounds"`
	LastErrorSignature string         `json:"last_error_signature,omitempty"`
	LastErrorKind      string         `json:"last_error_kind,omitempty"`
	LastErrorState     State          `json:"last_error_state,omitempty"`
	SignatureStreak    int            `json:"signature_streak,omitempty"`
}

// Retries returns the retry counter for a state.
func (g Governance) Retries(s State) int {
	return g.RetryCount[string(s)]
}

// Report is the structured outcome emitted on every terminal transition:
// findings, failures, gaps, and a recommended next action, never a bare trace.
type Report struct {
	State           State    `json:"state"`
	Status          Status   `json:"status"`
	ReasonCode      string   `json:"reason_code"`
	Fixable         bool     `json:"fixable"`
	Summary         string   `json:"summary"`
	Findings        []string `json:"findings,omitempty"`
	MissingFields   []string `json:"missing_or_invalid_fields,omitempty"`
	CoverageGaps    []string `json:"coverage_gaps,omitempty"`
	OpenUnknowns    []string `json:"open_unknowns,omitempty"`
	NextAction      string   `json:"required_next_action"`
	SearchRounds    int      `json:"search_rounds"`
	RetriesConsumed int      `json:"retries_consumed"`
}

// Snapshot is the materialized fold of a run's events. The snapshot at
// sequence N equals a pure fold of events 1..N; see Apply.
type Snapshot struct {
	RunID          string           `json:"run_id"`
	Seq            int64            `json:"seq"`
	State          State            `json:"state"` // state of the last applied event
	Status         Status           `json:"status"`
	LastValidation ValidationResult `json:"last_validation"`
	Pinned         Pinned           `json:"pinned"`
	Working        Working          `json:"working"`
	Governance     Governance       `json:"governance"`
}

// NewSnapshot returns the empty snapshot for a run, before any event.
func NewSnapshot(runID string) *Snapshot {
	return &Snapshot{
		RunID:      runID,
		Status:     StatusActive,
		Governance: Governance{RetryCount: map[string]int{}},
	}
}

// Apply folds one event into the snapshot. Any error means the event is
// invalid and must not be committed.
func (s *Snapshot) Apply(ev Event) error {
	if ev.RunID != s.RunID {
		return fmt.Errorf("event run %q does not match snapshot run %q", ev.RunID, s.RunID)
	}
	if !ev.State.Valid() {
		return fmt.Errorf("event %d names unknown state %q", ev.Seq, ev.State)
	}
	if ev.Seq != s.Seq+1 {
		return fmt.Errorf("event seq %d does not follow snapshot seq %d", ev.Seq, s.Seq)
	}
	if ev.Delta != nil {
		if err := ev.Delta.validate(); err != nil {
			return fmt.Errorf("event %d: %w", ev.Seq, err)
		}
		if ev.Delta.Pinned != nil {
			if err := s.applyPinned(ev.Delta.Pinned); err != nil {
				return err
			}
		}
		if ev.Delta.Working != nil {
			s.applyWorking(ev.Delta.Working)
		}
		if ev.Delta.Governance != nil {
			s.applyGovernance(ev)
		}
	}
	s.Seq = ev.Seq
	s.State = ev.State
	s.LastValidation = ev.Validation
	if ev.State.Terminal() && ev.Validation.OK {
		s.Status = TerminalStatus(ev.State)
	}
	return nil
}

// Fold rebuilds a snapshot from an ordered event sequence.
func Fold(runID string, events []Event) (*Snapshot, error) {
	snap := NewSnapshot(runID)
	for _, ev := range events {
		if err := snap.Apply(ev); err != nil {
			return nil, fmt.Errorf("fold event %d: %w", ev.Seq, err)
		}
	}
	return snap, nil
}

func (s *Snapshot) applyPinned(d *PinnedDelta) error {
	if d.ProblemStatement != "" {
		if s.Pinned.ProblemStatement != "" {
			return fmt.Errorf("problem_statement: %w", ErrPinnedOverwrite)
		}
		s.Pinned.ProblemStatement = d.ProblemStatement
	}
	if len(d.AcceptanceCriteria) > 0 {
		if len(s.Pinned.AcceptanceCriteria) > 0 {
			return fmt.Errorf("acceptance_criteria: %w", ErrPinnedOverwrite)
		}
		s.Pinned.AcceptanceCriteria = d.AcceptanceCriteria
	}
	if len(d.Constraints) > 0 {
		if len(s.Pinned.Constraints) > 0 {
			return fmt.Errorf("constraints: %w", ErrPinnedOverwrite)
		}
		s.Pinned.Constraints = d.Constraints
	}
	if len(d.DefinitionOfDone) > 0 {
		if len(s.Pinned.DefinitionOfDone) > 0 {
			return fmt.Errorf("definition_of_done: %w", ErrPinnedOverwrite)
		}
		s.Pinned.DefinitionOfDone = d.DefinitionOfDone
	}
	return nil
}

func (s *Snapshot) applyWorking(d *WorkingDelta) {
	w := &s.Working
	if d.Intent != nil {
		w.Intent = d.Intent
	}
	if d.ScopeChecked != nil {
		w.ScopeChecked = *d.ScopeChecked
	}
	if d.Ticket != nil {
		w.Ticket = d.Ticket
	}
	w.Sources = append(w.Sources, d.AddSources...)
	w.Evidence = append(w.Evidence, d.AddEvidence...)
	if d.SetEntities != nil {
		w.Entities = d.SetEntities
	}
	if d.SetPlan != nil {
		w.Plan = d.SetPlan
	}
	if d.ClearPlan {
		w.Plan = nil
	}
	if d.SetCoverage != nil {
		w.Coverage = d.SetCoverage
	}
	if d.SetScores != nil {
		w.Scores = d.SetScores
	}
	for _, u := range d.AddOpenUnknowns {
		if !contains(w.OpenUnknowns, u) {
			w.OpenUnknowns = append(w.OpenUnknowns, u)
		}
	}
	for _, a := range d.AddAssumptions {
		if !contains(w.Assumptions, a) {
			w.Assumptions = append(w.Assumptions, a)
		}
	}
	if d.Receipt != nil {
		w.Receipt = d.Receipt
	}
	if d.Report != nil {
		w.Report = d.Report
	}
}

func (s *Snapshot) applyGovernance(ev Event) {
	d := ev.Delta.Governance
	g := &s.Governance
	if g.RetryCount == nil {
		g.RetryCount = map[string]int{}
	}
	if d.SetBudgets != nil {
		g.Budgets = *d.SetBudgets
	}
	if d.IncRetry != "" {
		g.RetryCount[string(d.IncRetry)]++
	}
	if d.ResetRetry != "" {
		delete(g.RetryCount, string(d.ResetRetry))
	}
	if d.IncSearchRounds {
		g.SearchRounds++
	}
	if d.Failure != nil {
		if d.Failure.Signature == g.LastErrorSignature && ev.State == g.LastErrorState {
			g.SignatureStreak++
		} else {
			g.SignatureStreak = 1
		}
		g.LastErrorSignature = d.Failure.Signature
		g.LastErrorKind = d.Failure.Kind
		g.LastErrorState = ev.State
	}
	if d.ClearFailure {
		g.SignatureStreak = 0
		g.LastErrorKind = ""
		g.LastErrorState = ""
	}
}

// CurrentEvidence returns the non-superseded working evidence, in log order.
// Objects subsumed by a compression pass stay in the log for audit but are
// excluded here.
func (s *Snapshot) CurrentEvidence() []EvidenceObject {
	subsumed := map[string]bool{}
	for _, e := range s.Working.Evidence {
		for _, id := range e.Subsumes {
			subsumed[id] = true
		}
	}
	var cur []EvidenceObject
	for _, e := range s.Working.Evidence {
		if !subsumed[e.EvidenceID] {
			cur = append(cur, e)
		}
	}
	return cur
}

// EvidenceTokens sums token estimates over the current evidence set.
func (s *Snapshot) EvidenceTokens() int {
	total := 0
	for _, e := range s.CurrentEvidence() {
		total += e.TokenEstimate
	}
	return total
}

// Clone deep-copies the snapshot through a canonical JSON round-trip.
func (s *Snapshot) Clone() (*Snapshot, error) {
	data, err := MarshalCanonical(s)
	if err != nil {
		return nil, err
	}
	return UnmarshalSnapshot(data)
}

// Preview applies a candidate event to a copy of the snapshot, leaving the
// original untouched. Gates run against the preview before anything is
// committed to the log.
func (s *Snapshot) Preview(ev Event) (*Snapshot, error) {
	c, err := s.Clone()
	if err != nil {
		return nil, err
	}
	if err := c.Apply(ev); err != nil {
		return nil, err
	}
	return c, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Clock abstracts event timestamps so tests can pin them.
type Clock func() time.Time

// UTCNow is the default clock.
func UTCNow() time.Time { return time.Now().UTC() }
