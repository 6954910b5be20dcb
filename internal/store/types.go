package store

import "time"

// Run is one sensor run: every poke from start until a terminal outcome.
type Run struct {
	ID         string    `json:"id"`
	Bucket     string    `json:"bucket"`
	Prefix     string    `json:"prefix"`
	Mode       string    `json:"mode"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Finished reports whether the run reached a terminal outcome.
func (r Run) Finished() bool {
	return !r.FinishedAt.IsZero()
}

// Poke is a single poke cycle within a run.
type Poke struct {
	RunID             string    `json:"run_id"`
	Seq               int64     `json:"seq"`
	ObservedAt        time.Time `json:"observed_at"`
	KeyCount          int       `json:"key_count"`
	InactivitySeconds int64     `json:"inactivity_seconds"`
	Changed           bool      `json:"changed"`
	Outcome           string    `json:"outcome"`
	Error             string    `json:"error,omitempty"`
}
