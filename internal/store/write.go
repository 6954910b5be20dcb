package store

import (
	"context"
	"fmt"
	"time"
)

// StartRun inserts a run record.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate IDs are silently ignored.
func (s *Store) StartRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, bucket, prefix, mode, started_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		run.Bucket,
		run.Prefix,
		run.Mode,
		run.StartedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// RecordPoke inserts a poke record.
// Uses ON CONFLICT(run_id, seq) DO NOTHING so a replayed poke is ignored.
//
// Note: The run referenced by RunID must exist (foreign key constraint).
func (s *Store) RecordPoke(ctx context.Context, p Poke) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pokes
		(run_id, seq, observed_at, key_count, inactivity_seconds, changed, outcome, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`,
		p.RunID,
		p.Seq,
		p.ObservedAt.UnixMilli(),
		p.KeyCount,
		p.InactivitySeconds,
		p.Changed,
		p.Outcome,
		p.Error,
	)
	if err != nil {
		return fmt.Errorf("record poke: %w", err)
	}
	return nil
}

// FinishRun stamps the terminal outcome of a run.
// Returns ErrRunNotFound if the run does not exist.
func (s *Store) FinishRun(ctx context.Context, id string, finishedAt time.Time, outcome, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, outcome = ?, error = ?
		WHERE id = ?
	`, finishedAt.UnixMilli(), outcome, errMsg, id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run %s: %w", id, ErrRunNotFound)
	}
	return nil
}
