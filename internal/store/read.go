package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetRun returns a single run.
// Returns ErrRunNotFound if the id is unknown.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, bucket, prefix, mode, started_at, finished_at, outcome, error
		FROM runs
		WHERE id = ?
	`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("get run %s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns up to limit runs, newest first.
// A non-positive limit returns every run.
//
// Returns an empty slice (not nil) if there are no runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bucket, prefix, mode, started_at, finished_at, outcome, error
		FROM runs
		ORDER BY started_at DESC, id COLLATE BINARY ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ListPokes returns every poke of a run ordered by seq.
//
// Returns an empty slice (not nil) if the run has no pokes.
func (s *Store) ListPokes(ctx context.Context, runID string) ([]Poke, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, observed_at, key_count, inactivity_seconds, changed, outcome, error
		FROM pokes
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query pokes: %w", err)
	}
	defer rows.Close()

	pokes := []Poke{}
	for rows.Next() {
		var (
			p          Poke
			observedAt int64
		)
		if err := rows.Scan(
			&p.RunID,
			&p.Seq,
			&observedAt,
			&p.KeyCount,
			&p.InactivitySeconds,
			&p.Changed,
			&p.Outcome,
			&p.Error,
		); err != nil {
			return nil, fmt.Errorf("scan poke: %w", err)
		}
		p.ObservedAt = time.UnixMilli(observedAt).UTC()
		pokes = append(pokes, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pokes: %w", err)
	}
	return pokes, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run        Run
		startedAt  int64
		finishedAt sql.NullInt64
	)
	if err := row.Scan(
		&run.ID,
		&run.Bucket,
		&run.Prefix,
		&run.Mode,
		&startedAt,
		&finishedAt,
		&run.Outcome,
		&run.Error,
	); err != nil {
		return Run{}, err
	}
	run.StartedAt = time.UnixMilli(startedAt).UTC()
	if finishedAt.Valid {
		run.FinishedAt = time.UnixMilli(finishedAt.Int64).UTC()
	}
	return run, nil
}
