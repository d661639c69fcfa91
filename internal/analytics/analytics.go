// Package analytics computes operator-facing aggregates over the event log:
// run outcomes, per-state durations, and failure signatures. Everything here
// is read-only and derived; nothing feeds back into routing.
package analytics

import (
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// DB is the slice of the state bus analytics queries need.
type DB interface {
	Conn() *sql.DB
	Rebind(query string) string
}

// Outcome holds run counts per terminal status.
type Outcome struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// QueryOutcomes returns run counts grouped by status.
func QueryOutcomes(database DB) ([]Outcome, error) {
	rows, err := database.Conn().Query(
		`SELECT terminal_status, COUNT(*) FROM runs GROUP BY terminal_status ORDER BY terminal_status`)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var o Outcome
		if err := rows.Scan(&o.Status, &o.Count); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// StateDuration holds duration stats for one FSM state.
type StateDuration struct {
	State string  `json:"state"`
	Count int     `json:"count"`
	Avg   float64 `json:"avg_seconds"`
	P50   float64 `json:"p50_seconds"`
	P95   float64 `json:"p95_seconds"`
}

// QueryStateDurations measures how long runs spend producing each state's
// event: the gap between an event and its predecessor in the same run is
// attributed to the event's state.
func QueryStateDurations(database DB, since string) ([]StateDuration, error) {
	query := `
		SELECT e1.state, e1.ts,
			(SELECT e2.ts FROM events e2
			 WHERE e2.run_id = e1.run_id AND e2.seq = e1.seq - 1) as prev_ts
		FROM events e1
		WHERE e1.seq > 1`
	args := []any{}
	if since != "" {
		query += ` AND e1.ts >= ?`
		args = append(args, since)
	}

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query state durations: %w", err)
	}
	defer rows.Close()

	durations := map[string][]float64{}
	for rows.Next() {
		var state, endTS string
		var startTS sql.NullString
		if err := rows.Scan(&state, &endTS, &startTS); err != nil {
			return nil, fmt.Errorf("scan state duration: %w", err)
		}
		if !startTS.Valid {
			continue
		}
		start, err := time.Parse(time.RFC3339Nano, startTS.String)
		if err != nil {
			continue
		}
		end, err := time.Parse(time.RFC3339Nano, endTS)
		if err != nil {
			continue
		}
		secs := end.Sub(start).Seconds()
		if secs >= 0 {
			durations[state] = append(durations[state], secs)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []StateDuration
	for state, ds := range durations {
		sort.Float64s(ds)
		results = append(results, StateDuration{
			State: state,
			Count: len(ds),
			Avg:   avg(ds),
			P50:   percentile(ds, 50),
			P95:   percentile(ds, 95),
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].State < results[j].State })
	return results, nil
}

// FailureCount holds how often a failure kind occurred, and in which state
// it most recently appeared.
type FailureCount struct {
	Kind      string `json:"kind"`
	State     string `json:"state"`
	Count     int    `json:"count"`
	LastSeen  string `json:"last_seen"`
	Signature string `json:"last_signature"`
}

// QueryFailures returns failure events grouped by kind and state, most
// frequent first.
func QueryFailures(database DB, since string) ([]FailureCount, error) {
	query := `
		SELECT error_kind, state, COUNT(*), MAX(ts), MAX(error_signature)
		FROM events
		WHERE error_kind IS NOT NULL`
	args := []any{}
	if since != "" {
		query += ` AND ts >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY error_kind, state ORDER BY COUNT(*) DESC, error_kind`

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	var out []FailureCount
	for rows.Next() {
		var f FailureCount
		if err := rows.Scan(&f.Kind, &f.State, &f.Count, &f.LastSeen, &f.Signature); err != nil {
			return nil, fmt.Errorf("scan failure count: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Summary is the one-screen stats rollup.
type Summary struct {
	TotalRuns      int             `json:"total_runs"`
	ActiveRuns     int             `json:"active_runs"`
	Posted         int             `json:"posted"`
	Interrupted    int             `json:"interrupted"`
	FailedClosed   int             `json:"failed_closed"`
	EscalationRate float64         `json:"escalation_rate"`
	Outcomes       []Outcome       `json:"outcomes"`
	StateDurations []StateDuration `json:"state_durations"`
	Failures       []FailureCount  `json:"failures"`
}

// BuildSummary assembles the full stats rollup.
func BuildSummary(database DB, since string) (*Summary, error) {
	outcomes, err := QueryOutcomes(database)
	if err != nil {
		return nil, err
	}
	durations, err := QueryStateDurations(database, since)
	if err != nil {
		return nil, err
	}
	failures, err := QueryFailures(database, since)
	if err != nil {
		return nil, err
	}

	s := &Summary{Outcomes: outcomes, StateDurations: durations, Failures: failures}
	for _, o := range outcomes {
		s.TotalRuns += o.Count
		switch o.Status {
		case "ACTIVE":
			s.ActiveRuns += o.Count
		case "POSTED":
			s.Posted += o.Count
		case "INTERRUPTED":
			s.Interrupted += o.Count
		case "FAILED_CLOSED":
			s.FailedClosed += o.Count
		}
	}
	if terminal := s.Posted + s.Interrupted + s.FailedClosed; terminal > 0 {
		s.EscalationRate = float64(s.Interrupted+s.FailedClosed) / float64(terminal)
	}
	return s, nil
}

func avg(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// percentile expects vals sorted ascending.
func percentile(vals []float64, p int) float64 {
	if len(vals) == 0 {
		return 0
	}
	idx := len(vals) * p / 100
	if idx >= len(vals) {
		idx = len(vals) - 1
	}
	return vals[idx]
}
