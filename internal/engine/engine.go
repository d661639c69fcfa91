// Package engine drives the resolution FSM: it executes state actions
// against collaborators, submits results to the validation gates, commits
// deltas to the state bus, and routes via pure guards over the snapshot.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/interlockhq/interlock/internal/bus"
	"github.com/interlockhq/interlock/internal/config"
	"github.com/interlockhq/interlock/internal/connector"
	"github.com/interlockhq/interlock/internal/evidence"
	"github.com/interlockhq/interlock/internal/gates"
	"github.com/interlockhq/interlock/internal/govern"
	"github.com/interlockhq/interlock/internal/report"
	"github.com/interlockhq/interlock/internal/run"
)

// Engine executes runs. One Engine serves many runs concurrently; each run's
// event log is single-writer, so no cross-run locking exists here.
type Engine struct {
	store     *bus.Store
	compiler  *evidence.Compiler
	conn      connector.Connector
	model     connector.Model
	writeback connector.Writeback
	cfg       *config.Config
	router    Router
	rubric    gates.Rubric
	timeout   time.Duration
	clock     run.Clock
	progress  io.Writer // live progress output; nil = silent

	// bodies caches fetched source content per run for the current process
	// only. Bodies are never persisted; the index re-fetches after a resume.
	// Guarded by bodiesMu: concurrent runs share one Engine.
	bodiesMu sync.Mutex
	bodies   map[string]map[string]string
}

// New creates an Engine from a validated config and its collaborators.
func New(store *bus.Store, cfg *config.Config, conn connector.Connector, model connector.Model, wb connector.Writeback) (*Engine, error) {
	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %s", errs[0].Error())
	}
	timeout, err := cfg.ActionTimeout()
	if err != nil {
		return nil, err
	}
	return &Engine{
		store:     store,
		compiler:  evidence.NewCompiler(cfg.Engine.ChunkLines),
		conn:      conn,
		model:     model,
		writeback: wb,
		cfg:       cfg,
		router:    Router{GapThreshold: *cfg.Coverage.GapThreshold},
		rubric: gates.Rubric{
			Completeness:   cfg.Quality.Weights.Completeness,
			Clarity:        cfg.Quality.Weights.Clarity,
			RiskDisclosure: cfg.Quality.Weights.RiskDisclosure,
			Threshold:      *cfg.Quality.Threshold,
		},
		timeout: timeout,
		clock:   run.UTCNow,
		bodies:  map[string]map[string]string{},
	}, nil
}

// SetClock overrides event timestamps (for testing).
func (e *Engine) SetClock(c run.Clock) {
	e.clock = c
}

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
func (e *Engine) SetProgress(w io.Writer) {
	e.progress = w
}

// logf prints a progress line if a progress writer is configured.
func (e *Engine) logf(format string, args ...interface{}) {
	if e.progress != nil {
		fmt.Fprintf(e.progress, "  → "+format+"\n", args...)
	}
}

// Begin creates a run for a ticket reference and pins the budgets into its
// governance partition. The run id is generated when not supplied.
func (e *Engine) Begin(ctx context.Context, runID, ticketRef string) (*run.Run, error) {
	if ticketRef == "" {
		return nil, fmt.Errorf("ticket reference is required")
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	r := run.Run{
		ID:             runID,
		TicketRef:      ticketRef,
		CurrentState:   run.StateParseIntent,
		TerminalStatus: run.StatusActive,
		CreatedAt:      e.clock(),
	}
	if err := e.store.CreateRun(ctx, r); err != nil {
		return nil, err
	}

	budgets := e.cfg.RunBudgets()
	_, err := e.store.Append(ctx, run.Event{
		Seq:        1,
		RunID:      runID,
		State:      run.StateParseIntent,
		Timestamp:  e.clock(),
		Validation: run.ValidationResult{Gate: "init", OK: true},
		Delta:      &run.Delta{Governance: &run.GovernanceDelta{SetBudgets: &budgets}},
	})
	if err != nil {
		return nil, err
	}
	e.logf("run %s created for %s", runID, ticketRef)
	return &r, nil
}

// StepResult describes one engine step.
type StepResult struct {
	RunID    string     `json:"run_id"`
	State    run.State  `json:"state"`
	OK       bool       `json:"ok"`
	Next     run.State  `json:"next_state"`
	Status   run.Status `json:"status"`
	Seq      int64      `json:"seq"`
	Terminal bool       `json:"terminal"`
	Message  string     `json:"message,omitempty"`
}

// Step routes the run one transition forward: it picks the next state from
// the snapshot, executes that state's action, and commits the outcome.
func (e *Engine) Step(ctx context.Context, runID string) (*StepResult, error) {
	snap, err := e.store.GetSnapshot(ctx, runID)
	if err != nil {
		return nil, err
	}
	if snap.Status != run.StatusActive {
		return &StepResult{
			RunID: runID, State: snap.State, OK: true, Next: snap.State,
			Status: snap.Status, Seq: snap.Seq, Terminal: true,
			Message: fmt.Sprintf("run already terminated as %s", snap.Status),
		}, nil
	}

	next := e.router.Route(snap)
	e.logf("run %s: %s", runID, next)

	if next.Terminal() {
		return e.finish(ctx, snap, next)
	}

	actx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	out := e.execute(actx, snap, next)
	return e.commit(ctx, snap, next, out)
}

// Run drives a run until it terminates or the context is cancelled.
// Cancellation lands between transitions, never mid-action, and appends a
// terminal fail-closed event before returning.
func (e *Engine) Run(ctx context.Context, runID string) (*StepResult, error) {
	for {
		if err := ctx.Err(); err != nil {
			return e.cancel(runID)
		}
		res, err := e.Step(ctx, runID)
		if err != nil {
			return nil, err
		}
		if res.Terminal {
			return res, nil
		}
	}
}

// Resume continues an interrupted run from its last committed snapshot.
// Routing is guard-based over the fold, so resuming is just running.
func (e *Engine) Resume(ctx context.Context, runID string) (*StepResult, error) {
	if _, err := e.store.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return e.Run(ctx, runID)
}

// cancel appends the terminal fail-closed event for a cancelled run. It uses
// a fresh context: the run context is already dead.
func (e *Engine) cancel(runID string) (*StepResult, error) {
	ctx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()

	snap, err := e.store.GetSnapshot(ctx, runID)
	if err != nil {
		return nil, err
	}
	if snap.Status != run.StatusActive {
		return &StepResult{RunID: runID, State: snap.State, Status: snap.Status, Seq: snap.Seq, Terminal: true}, nil
	}
	rep := report.Failure(snap, run.StateFailClosed, govern.KindCancelled, "run cancelled between transitions")
	return e.appendTerminal(ctx, snap, run.StateFailClosed, rep)
}

// finish executes a terminal state's action and commits the terminal event.
func (e *Engine) finish(ctx context.Context, snap *run.Snapshot, target run.State) (*StepResult, error) {
	switch target {
	case run.StatePostResult:
		return e.post(ctx, snap)
	default:
		kind := snap.Governance.LastErrorKind
		if kind == "" {
			kind = govern.KindAmbiguity
		}
		reason := escalationReason(snap, target)
		rep := report.Failure(snap, target, kind, reason)
		return e.appendTerminal(ctx, snap, target, rep)
	}
}

func escalationReason(snap *run.Snapshot, target run.State) string {
	g := snap.Governance
	if d := govern.Evaluate(g, g.LastErrorState); d.Escalate {
		return d.Reason
	}
	if d := govern.EvaluateSearchRounds(g); d.Escalate {
		return d.Reason
	}
	if g.LastErrorKind != "" {
		return fmt.Sprintf("escalated to %s after %s in %s", target, g.LastErrorKind, g.LastErrorState)
	}
	return fmt.Sprintf("escalated to %s", target)
}

// appendTerminal commits the structured report event that ends a run.
func (e *Engine) appendTerminal(ctx context.Context, snap *run.Snapshot, target run.State, rep *run.Report) (*StepResult, error) {
	next, err := e.store.Append(ctx, run.Event{
		Seq:        snap.Seq + 1,
		RunID:      snap.RunID,
		State:      target,
		Timestamp:  e.clock(),
		Validation: run.ValidationResult{Gate: "report", OK: true},
		Delta:      &run.Delta{Working: &run.WorkingDelta{Report: rep}},
	})
	if err != nil {
		return nil, err
	}
	e.dropBodies(snap.RunID)
	e.logf("run %s terminated: %s (%s)", snap.RunID, next.Status, rep.ReasonCode)
	return &StepResult{
		RunID: snap.RunID, State: target, OK: true, Next: target,
		Status: next.Status, Seq: next.Seq, Terminal: true, Message: rep.Summary,
	}, nil
}

// commit turns an action outcome into events. A success commits the artifact
// delta (already gate-validated in execute), then clears the state's failure
// bookkeeping. A failure commits governance bookkeeping: retry counter,
// failure record, and a search round when the failure routes backward.
func (e *Engine) commit(ctx context.Context, snap *run.Snapshot, state run.State, out *outcome) (*StepResult, error) {
	if out.err == nil {
		return e.commitSuccess(ctx, snap, state, out)
	}
	return e.commitFailure(ctx, snap, state, out)
}

func (e *Engine) commitSuccess(ctx context.Context, snap *run.Snapshot, state run.State, out *outcome) (*StepResult, error) {
	next, err := e.store.Append(ctx, run.Event{
		Seq:            snap.Seq + 1,
		RunID:          snap.RunID,
		State:          state,
		Timestamp:      e.clock(),
		ToolCallHashes: out.hashes,
		Validation:     out.validation,
		Delta:          out.delta,
	})
	if errors.Is(err, run.ErrPinnedOverwrite) {
		// The delta tried to rewrite a pinned field; nothing was committed.
		out.err = err
		out.kind = govern.KindPinnedOverwrite
		out.context = run.SigPinnedOverwrite
		out.validation = run.ValidationResult{
			Gate: "pinned", OK: false,
			Violations: []run.Violation{{Field: "pinned", Code: gates.CodeInvalid, Message: err.Error()}},
		}
		return e.commitFailure(ctx, snap, state, out)
	}
	if err != nil {
		return nil, err
	}

	if next.Governance.Retries(state) > 0 || next.Governance.SignatureStreak > 0 {
		next, err = e.store.Append(ctx, run.Event{
			Seq:        next.Seq + 1,
			RunID:      snap.RunID,
			State:      state,
			Timestamp:  e.clock(),
			Validation: run.ValidationResult{Gate: "governance", OK: true},
			Delta: &run.Delta{Governance: &run.GovernanceDelta{
				ResetRetry:   state,
				ClearFailure: true,
			}},
		})
		if err != nil {
			return nil, err
		}
	}

	routed := e.router.Route(next)
	return &StepResult{
		RunID: snap.RunID, State: state, OK: true, Next: routed,
		Status: next.Status, Seq: next.Seq, Terminal: false,
	}, nil
}

func (e *Engine) commitFailure(ctx context.Context, snap *run.Snapshot, state run.State, out *outcome) (*StepResult, error) {
	sig := govern.Signature(out.kind, state, out.context)
	e.logf("run %s: %s failed: %s", snap.RunID, state, sig)

	// A gate can fail an artifact worth keeping, the coverage matrix with
	// its gaps for one. Commit it with the failed validation attached, then
	// the governance bookkeeping.
	if out.delta != nil && out.kind != govern.KindPinnedOverwrite {
		committed, err := e.store.Append(ctx, run.Event{
			Seq:            snap.Seq + 1,
			RunID:          snap.RunID,
			State:          state,
			Timestamp:      e.clock(),
			ToolCallHashes: out.hashes,
			Validation:     out.validation,
			Delta:          out.delta,
		})
		if err != nil {
			return nil, err
		}
		out.hashes = nil
		snap = committed
	}

	next, err := e.store.Append(ctx, run.Event{
		Seq:            snap.Seq + 1,
		RunID:          snap.RunID,
		State:          state,
		Timestamp:      e.clock(),
		ToolCallHashes: out.hashes,
		Validation:     out.validation,
		ErrorSignature: sig,
		ErrorKind:      out.kind,
		Delta: &run.Delta{Governance: &run.GovernanceDelta{
			IncRetry:        state,
			IncSearchRounds: e.backwardEdge(state, out),
			Failure:         &run.FailureRecord{Signature: sig, Kind: out.kind},
		}},
	})
	if err != nil {
		return nil, err
	}

	routed := e.router.Route(next)
	msg := out.err.Error()
	return &StepResult{
		RunID: snap.RunID, State: state, OK: false, Next: routed,
		Status: next.Status, Seq: next.Seq, Terminal: false, Message: msg,
	}, nil
}

// backwardEdge reports whether a failure re-enters evidence gathering, which
// is what the search-round counter bounds.
func (e *Engine) backwardEdge(state run.State, out *outcome) bool {
	switch out.kind {
	case govern.KindGrounding:
		return true
	case govern.KindCoverageGap:
		return out.gapRatio > e.router.GapThreshold
	case govern.KindSchemaViolation:
		return state == run.StateExtractEntities
	default:
		return false
	}
}
