package bus

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/interlockhq/interlock/internal/run"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// GetRun returns the index row for a run.
func (s *Store) GetRun(ctx context.Context, runID string) (*run.Run, error) {
	row := s.conn.QueryRowContext(ctx, s.rebind(
		`SELECT id, ticket_ref, current_state, terminal_status, created_at FROM runs WHERE id = ?`), runID)
	return scanRun(row)
}

// ListRuns returns runs newest first, up to limit (0 means all).
func (s *Store) ListRuns(ctx context.Context, limit int) ([]run.Run, error) {
	q := `SELECT id, ticket_ref, current_state, terminal_status, created_at FROM runs ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.conn.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []run.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*run.Run, error) {
	var r run.Run
	var state, status, createdAt string
	err := row.Scan(&r.ID, &r.TicketRef, &state, &status, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.CurrentState = run.State(state)
	r.TerminalStatus = run.Status(status)
	r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse run created_at: %w", err)
	}
	return &r, nil
}

// Events returns the full ordered event log for a run.
func (s *Store) Events(ctx context.Context, runID string) ([]run.Event, error) {
	rows, err := s.conn.QueryContext(ctx, s.rebind(
		`SELECT body FROM events WHERE run_id = ? ORDER BY seq ASC`), runID)
	if err != nil {
		return nil, fmt.Errorf("load events for run %s: %w", runID, err)
	}
	defer rows.Close()

	var events []run.Event
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var ev run.Event
		if err := json.Unmarshal([]byte(body), &ev); err != nil {
			return nil, fmt.Errorf("unmarshal event for run %s: %w", runID, err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// GetSnapshot returns the stored materialized snapshot for a run.
func (s *Store) GetSnapshot(ctx context.Context, runID string) (*run.Snapshot, error) {
	var body string
	err := s.conn.QueryRowContext(ctx, s.rebind(
		`SELECT body FROM snapshots WHERE run_id = ?`), runID).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot for run %s: %w", runID, err)
	}
	return run.UnmarshalSnapshot([]byte(body))
}
