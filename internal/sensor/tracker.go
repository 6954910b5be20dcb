package sensor

import (
	"log/slog"
	"time"

	"github.com/roach88/keysettle/internal/clock"
)

// State is the tracker's position in its two-state lifecycle.
type State string

const (
	// StateAccumulating means the key set is still changing or has not
	// been quiet for long enough.
	StateAccumulating State = "accumulating"

	// StateStable means Evaluate has returned true. It is terminal.
	StateStable State = "stable"
)

// Snapshot is a value copy of the tracker state.
type Snapshot struct {
	State            State
	KeyCount         int
	LastActivity     time.Time
	Inactivity       time.Duration
	Changed          bool
	BaselineRecorded bool
}

// InactivitySeconds returns the inactivity in whole seconds.
func (s Snapshot) InactivitySeconds() int64 {
	return int64(s.Inactivity / time.Second)
}

// Tracker detects when a key set has stopped changing.
//
// Not safe for concurrent use. One poke at a time.
type Tracker struct {
	bucket           string
	prefix           string
	inactivityPeriod time.Duration
	minObjects       int
	allowDelete      bool
	softFail         bool

	clock  clock.Clock
	logger *slog.Logger

	previous     KeySet
	observed     int
	started      bool
	lastActivity time.Time
	inactivity   time.Duration
	changed      bool
	state        State
}

// NewTracker creates a tracker from opts. Options are not validated here;
// KeysUnchangedSensor does that.
func NewTracker(opts Options, clk clock.Clock, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		bucket:           opts.Bucket,
		prefix:           opts.Prefix,
		inactivityPeriod: opts.InactivityPeriod,
		minObjects:       opts.MinObjects,
		allowDelete:      opts.AllowDelete,
		softFail:         opts.SoftFail,
		clock:            clock.OrSystem(clk),
		logger:           logger,
		state:            StateAccumulating,
	}
	if opts.PreviousObjects != nil {
		t.previous = opts.PreviousObjects.Clone()
		t.observed = t.previous.Len()
		t.started = true
	}
	return t
}

// Evaluate compares current with the previous key set and reports whether
// the set has been stable for at least the inactivity period.
//
// Returns an ILLEGAL_STATE error (wrapped in SkipError under SoftFail) when
// keys vanished and deletions are not allowed.
func (t *Tracker) Evaluate(current KeySet) (bool, error) {
	now := t.clock.Now()
	t.changed = false
	t.observed = current.Len()

	if !t.started {
		t.started = true
		t.previous = current.Clone()
		t.lastActivity = now
		t.inactivity = 0
		t.changed = true
		t.logger.Debug("recorded baseline key set",
			"path", objectPath(t.bucket, t.prefix),
			"objects", current.Len())
		return false, nil
	}

	// Deletion check first, so a cycle that both adds and removes keys
	// fails instead of counting as an ordinary change.
	if !t.allowDelete && !current.IsSupersetOf(t.previous) {
		deleted := t.previous.Missing(current)
		t.logger.Error("objects deleted between pokes",
			"path", objectPath(t.bucket, t.prefix),
			"deleted", deleted)
		return false, Degrade(NewIllegalStateError(t.bucket, t.prefix, deleted), t.softFail)
	}

	if !current.Equal(t.previous) {
		if deleted := t.previous.Missing(current); len(deleted) > 0 {
			t.logger.Info("objects deleted during the last poke interval, resetting last activity time",
				"path", objectPath(t.bucket, t.prefix),
				"deleted", deleted)
		} else {
			t.logger.Info("new objects found, resetting last activity time",
				"path", objectPath(t.bucket, t.prefix),
				"objects", current.Len())
		}
		t.previous = current.Clone()
		t.lastActivity = now
		t.inactivity = 0
		t.changed = true
		return false, nil
	}

	// A seeded baseline has no activity time until its first poke.
	if t.lastActivity.IsZero() {
		t.lastActivity = now
	}
	t.inactivity = now.Sub(t.lastActivity)
	if t.inactivity < 0 {
		t.inactivity = 0
	}

	if t.inactivity < t.inactivityPeriod {
		return false, nil
	}

	if current.Len() < t.minObjects {
		t.logger.Error("inactivity period passed, not enough objects found",
			"path", objectPath(t.bucket, t.prefix),
			"objects", current.Len(),
			"min_objects", t.minObjects)
		return false, nil
	}

	t.state = StateStable
	t.logger.Info("key set is stable",
		"path", objectPath(t.bucket, t.prefix),
		"objects", current.Len(),
		"inactivity", t.inactivity)
	return true, nil
}

// InactivitySeconds returns the inactivity computed by the last Evaluate,
// truncated to whole seconds.
func (t *Tracker) InactivitySeconds() int64 {
	return int64(t.inactivity / time.Second)
}

// Inactivity returns the inactivity computed by the last Evaluate.
func (t *Tracker) Inactivity() time.Duration {
	return t.inactivity
}

// State returns the lifecycle state.
func (t *Tracker) State() State {
	return t.state
}

// Snapshot returns a copy of the current state. KeyCount is the size of the
// last listed set, which differs from the baseline after a rejected deletion.
func (t *Tracker) Snapshot() Snapshot {
	return Snapshot{
		State:            t.state,
		KeyCount:         t.observed,
		LastActivity:     t.lastActivity,
		Inactivity:       t.inactivity,
		Changed:          t.changed,
		BaselineRecorded: t.started,
	}
}
