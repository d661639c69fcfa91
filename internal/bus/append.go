package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/interlockhq/interlock/internal/run"
)

// CreateRun registers a new run with an empty log.
func (s *Store) CreateRun(ctx context.Context, r run.Run) error {
	_, err := s.conn.ExecContext(ctx, s.rebind(
		`INSERT INTO runs (id, ticket_ref, current_state, terminal_status, created_at) VALUES (?, ?, ?, ?, ?)`),
		r.ID, r.TicketRef, string(r.CurrentState), string(r.TerminalStatus), r.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("create run %s: %w", r.ID, err)
	}
	snap := run.NewSnapshot(r.ID)
	body, err := run.MarshalCanonical(snap)
	if err != nil {
		return err
	}
	if _, err := s.conn.ExecContext(ctx, s.rebind(
		`INSERT INTO snapshots (run_id, seq, body) VALUES (?, 0, ?)`), r.ID, string(body)); err != nil {
		return fmt.Errorf("create snapshot %s: %w", r.ID, err)
	}
	return nil
}

// Append validates an event against the run's current snapshot and commits
// it atomically: event row, refreshed snapshot, and the runs index row move
// together or not at all. An event the fold rejects, a pinned overwrite
// included, leaves the log untouched.
func (s *Store) Append(ctx context.Context, ev run.Event) (*run.Snapshot, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var body string
	err = tx.QueryRowContext(ctx, s.rebind(
		`SELECT body FROM snapshots WHERE run_id = ?`), ev.RunID).Scan(&body)
	if err != nil {
		return nil, fmt.Errorf("load snapshot for run %s: %w", ev.RunID, err)
	}
	snap, err := run.UnmarshalSnapshot([]byte(body))
	if err != nil {
		return nil, err
	}

	next, err := snap.Preview(ev)
	if err != nil {
		return nil, err
	}

	evBody, err := run.MarshalCanonical(ev)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, s.rebind(
		`INSERT INTO events (run_id, seq, state, ts, body, error_signature, error_kind) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		ev.RunID, ev.Seq, string(ev.State), ev.Timestamp.Format(time.RFC3339Nano),
		string(evBody), nullable(ev.ErrorSignature), nullable(ev.ErrorKind),
	); err != nil {
		return nil, fmt.Errorf("append event %d for run %s: %w", ev.Seq, ev.RunID, err)
	}

	snapBody, err := run.MarshalCanonical(next)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, s.rebind(
		`UPDATE snapshots SET seq = ?, body = ? WHERE run_id = ?`),
		next.Seq, string(snapBody), ev.RunID,
	); err != nil {
		return nil, fmt.Errorf("update snapshot for run %s: %w", ev.RunID, err)
	}

	if _, err := tx.ExecContext(ctx, s.rebind(
		`UPDATE runs SET current_state = ?, terminal_status = ? WHERE id = ?`),
		string(next.State), string(next.Status), ev.RunID,
	); err != nil {
		return nil, fmt.Errorf("update run %s: %w", ev.RunID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit event %d for run %s: %w", ev.Seq, ev.RunID, err)
	}
	return next, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
