package bus

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/interlockhq/interlock/internal/run"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite", filepath.Join(t.TempDir(), "interlock.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func testRun(id string) run.Run {
	return run.Run{
		ID:             id,
		TicketRef:      "OPS-7",
		CurrentState:   "",
		TerminalStatus: run.StatusActive,
		CreatedAt:      time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

func appendOK(t *testing.T, s *Store, ev run.Event) *run.Snapshot {
	t.Helper()
	snap, err := s.Append(context.Background(), ev)
	if err != nil {
		t.Fatalf("append seq %d: %v", ev.Seq, err)
	}
	return snap
}

func TestAppendAndReadBack(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if err := s.CreateRun(ctx, testRun("r1")); err != nil {
		t.Fatalf("create run: %v", err)
	}

	checked := true
	appendOK(t, s, run.Event{
		Seq: 1, RunID: "r1", State: run.StateParseIntent,
		Timestamp:  time.Now().UTC(),
		Validation: run.ValidationResult{Gate: "schema", OK: true},
		Delta:      &run.Delta{Working: &run.WorkingDelta{Intent: &run.Intent{TicketRef: "OPS-7", Goal: "restore checkout"}}},
	})
	snap := appendOK(t, s, run.Event{
		Seq: 2, RunID: "r1", State: run.StateValidateScope,
		Timestamp:  time.Now().UTC(),
		Validation: run.ValidationResult{Gate: "schema", OK: true},
		Delta:      &run.Delta{Working: &run.WorkingDelta{ScopeChecked: &checked}},
	})
	if snap.Seq != 2 || !snap.Working.ScopeChecked {
		t.Fatalf("returned snapshot = seq %d, scope %v", snap.Seq, snap.Working.ScopeChecked)
	}

	events, err := s.Events(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[0].Seq != 1 || events[1].State != run.StateValidateScope {
		t.Fatalf("events = %+v", events)
	}

	r, err := s.GetRun(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if r.CurrentState != run.StateValidateScope || r.TerminalStatus != run.StatusActive {
		t.Errorf("run index row = %+v", r)
	}

	stored, err := s.GetSnapshot(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Seq != 2 || stored.Working.Intent == nil {
		t.Errorf("stored snapshot = %+v", stored)
	}
}

func TestAppendRejectedEventLeavesLogUntouched(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if err := s.CreateRun(ctx, testRun("r1")); err != nil {
		t.Fatal(err)
	}
	appendOK(t, s, run.Event{
		Seq: 1, RunID: "r1", State: run.StatePinRequirements,
		Timestamp:  time.Now().UTC(),
		Validation: run.ValidationResult{Gate: "schema", OK: true},
		Delta: &run.Delta{Pinned: &run.PinnedDelta{
			ProblemStatement:   "checkout 500s",
			AcceptanceCriteria: []string{"orders complete"},
		}},
	})

	_, err := s.Append(ctx, run.Event{
		Seq: 2, RunID: "r1", State: run.StatePinRequirements,
		Timestamp:  time.Now().UTC(),
		Validation: run.ValidationResult{Gate: "schema", OK: true},
		Delta:      &run.Delta{Pinned: &run.PinnedDelta{ProblemStatement: "rewritten"}},
	})
	if !errors.Is(err, run.ErrPinnedOverwrite) {
		t.Fatalf("expected pinned overwrite rejection, got %v", err)
	}

	events, err := s.Events(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("rejected event reached the log: %d events", len(events))
	}
	snap, err := s.GetSnapshot(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Seq != 1 || snap.Pinned.ProblemStatement != "checkout 500s" {
		t.Fatalf("snapshot moved after rejection: %+v", snap)
	}
}

func TestAppendRejectsSequenceGap(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if err := s.CreateRun(ctx, testRun("r1")); err != nil {
		t.Fatal(err)
	}
	_, err := s.Append(ctx, run.Event{
		Seq: 5, RunID: "r1", State: run.StateParseIntent,
		Timestamp:  time.Now().UTC(),
		Validation: run.ValidationResult{OK: true},
	})
	if err == nil {
		t.Fatal("out-of-order event accepted")
	}
}

func TestVerifyReplay(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if err := s.CreateRun(ctx, testRun("r1")); err != nil {
		t.Fatal(err)
	}
	appendOK(t, s, run.Event{
		Seq: 1, RunID: "r1", State: run.StateParseIntent,
		Timestamp:  time.Date(2026, 3, 14, 9, 31, 0, 0, time.UTC),
		Validation: run.ValidationResult{Gate: "schema", OK: true},
		Delta:      &run.Delta{Working: &run.WorkingDelta{Intent: &run.Intent{TicketRef: "OPS-7", Goal: "restore checkout"}}},
	})

	if err := s.VerifyReplay(ctx, "r1"); err != nil {
		t.Fatalf("replay diverged from stored snapshot: %v", err)
	}

	folded, err := s.Replay(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if folded.Seq != 1 || folded.Working.Intent.Goal != "restore checkout" {
		t.Errorf("folded snapshot = %+v", folded)
	}
}

func TestNotFound(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if _, err := s.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun: %v", err)
	}
	if _, err := s.GetSnapshot(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSnapshot: %v", err)
	}
	if _, err := s.Replay(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Replay: %v", err)
	}
}

func TestListRunsOrderAndLimit(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"r1", "r2", "r3"} {
		r := testRun(id)
		r.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 3 || runs[0].ID != "r3" {
		t.Fatalf("runs = %+v, want newest first", runs)
	}

	runs, err = s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("limit ignored: %d runs", len(runs))
	}
}

func TestMigrateIdempotent(t *testing.T) {
	s := testStore(t)
	if err := s.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestRebindPassthroughOnSQLite(t *testing.T) {
	s := testStore(t)
	q := `SELECT 1 FROM runs WHERE id = ? AND ticket_ref = ?`
	if got := s.Rebind(q); got != q {
		t.Errorf("sqlite rebind changed the query: %s", got)
	}
}
