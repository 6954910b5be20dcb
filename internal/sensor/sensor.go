package sensor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/keysettle/internal/clock"
)

// Lister fetches the current key set under a bucket/prefix.
// Implementations own listing, pagination and authentication.
type Lister interface {
	ListKeys(ctx context.Context, bucket, prefix string) (KeySet, error)
}

// ListerFunc adapts a function to the Lister interface.
type ListerFunc func(ctx context.Context, bucket, prefix string) (KeySet, error)

// ListKeys calls f.
func (f ListerFunc) ListKeys(ctx context.Context, bucket, prefix string) (KeySet, error) {
	return f(ctx, bucket, prefix)
}

// Sensor is the callback surface a host scheduler drives.
type Sensor interface {
	// Poke runs one poll cycle. True means the sensor is done.
	Poke(ctx context.Context) (bool, error)

	// ExecuteComplete handles the event a deferred trigger produced.
	ExecuteComplete(event Event) error
}

// Event statuses.
const (
	EventStatusSuccess = "success"
	EventStatusError   = "error"
)

// Event is delivered to ExecuteComplete in deferred mode.
type Event struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Option customizes a KeysUnchangedSensor.
type Option func(*KeysUnchangedSensor)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *KeysUnchangedSensor) {
		s.logger = l
	}
}

// KeysUnchangedSensor succeeds once the keys under a prefix stop changing.
type KeysUnchangedSensor struct {
	opts    Options
	lister  Lister
	tracker *Tracker
	logger  *slog.Logger
}

var _ Sensor = (*KeysUnchangedSensor)(nil)

// New validates opts and creates a sensor. Configuration problems are
// returned as CONFIG_INVALID errors and are never soft-failed.
func New(opts Options, lister Lister, clk clock.Clock, options ...Option) (*KeysUnchangedSensor, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if lister == nil {
		return nil, NewConfigError("lister", "a key lister is required")
	}

	s := &KeysUnchangedSensor{
		opts:   opts,
		lister: lister,
		logger: slog.Default(),
	}
	for _, o := range options {
		o(s)
	}
	s.logger = s.logger.With("bucket", opts.Bucket, "prefix", opts.Prefix)
	s.tracker = NewTracker(opts, clk, s.logger)
	return s, nil
}

// Poke lists the current keys and evaluates them.
// Listing errors are returned as-is (wrapped) so the host can retry.
func (s *KeysUnchangedSensor) Poke(ctx context.Context) (bool, error) {
	s.logger.Debug("poking for keys")

	keys, err := s.lister.ListKeys(ctx, s.opts.Bucket, s.opts.Prefix)
	if err != nil {
		return false, fmt.Errorf("list keys in %s: %w", objectPath(s.opts.Bucket, s.opts.Prefix), err)
	}
	return s.tracker.Evaluate(keys)
}

// ExecuteComplete finishes a deferred run. An "error" status fails with the
// event message, or skips under SoftFail. Any other status is success.
func (s *KeysUnchangedSensor) ExecuteComplete(event Event) error {
	if event.Status == EventStatusError {
		s.logger.Error("deferred trigger reported an error", "message", event.Message)
		return Degrade(NewExternalEventError(event.Message), s.opts.SoftFail)
	}
	s.logger.Info("deferred trigger completed", "status", event.Status)
	return nil
}

// Evaluate runs the stability check on an already-fetched key set.
func (s *KeysUnchangedSensor) Evaluate(current KeySet) (bool, error) {
	return s.tracker.Evaluate(current)
}

// InactivitySeconds returns the inactivity from the last poke in whole seconds.
func (s *KeysUnchangedSensor) InactivitySeconds() int64 {
	return s.tracker.InactivitySeconds()
}

// Snapshot returns a copy of the tracker state.
func (s *KeysUnchangedSensor) Snapshot() Snapshot {
	return s.tracker.Snapshot()
}

// Options returns the effective options, defaults included.
func (s *KeysUnchangedSensor) Options() Options {
	return s.opts
}

// Lister returns the key source the sensor polls.
func (s *KeysUnchangedSensor) Lister() Lister {
	return s.lister
}
