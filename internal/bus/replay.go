package bus

import (
	"bytes"
	"context"
	"fmt"

	"github.com/interlockhq/interlock/internal/run"
)

// Replay rebuilds a run's snapshot purely from its event log.
func (s *Store) Replay(ctx context.Context, runID string) (*run.Snapshot, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	events, err := s.Events(ctx, runID)
	if err != nil {
		return nil, err
	}
	return run.Fold(runID, events)
}

// VerifyReplay folds the event log and compares the result byte for byte
// against the stored snapshot. A mismatch means the log and the materialized
// state have diverged, which should be impossible.
func (s *Store) VerifyReplay(ctx context.Context, runID string) error {
	stored, err := s.GetSnapshot(ctx, runID)
	if err != nil {
		return err
	}
	folded, err := s.Replay(ctx, runID)
	if err != nil {
		return err
	}
	storedBytes, err := run.MarshalCanonical(stored)
	if err != nil {
		return err
	}
	foldedBytes, err := run.MarshalCanonical(folded)
	if err != nil {
		return err
	}
	if !bytes.Equal(storedBytes, foldedBytes) {
		return fmt.Errorf("replay mismatch for run %s: folded snapshot differs from stored snapshot at seq %d", runID, stored.Seq)
	}
	return nil
}
