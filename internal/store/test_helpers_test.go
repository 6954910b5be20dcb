package store

import (
	"path/filepath"
	"testing"
	"time"
)

var testEpoch = time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRun creates a run with minimal required fields.
func createTestRun(id string, startedAt time.Time) Run {
	return Run{
		ID:        id,
		Bucket:    "test-bucket",
		Prefix:    "test-prefix/path",
		Mode:      "poke",
		StartedAt: startedAt,
	}
}

// createTestPoke creates a poke with minimal required fields.
func createTestPoke(runID string, seq int64, observedAt time.Time) Poke {
	return Poke{
		RunID:      runID,
		Seq:        seq,
		ObservedAt: observedAt,
		KeyCount:   1,
		Outcome:    "accumulating",
	}
}
