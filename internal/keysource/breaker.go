package keysource

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/roach88/keysettle/internal/sensor"
)

// BreakerSettings tunes the circuit breaker around a lister.
type BreakerSettings struct {
	Name string

	// MaxFailures is the number of consecutive failures that opens the breaker.
	MaxFailures uint32

	// OpenTimeout is how long the breaker stays open before a trial call.
	OpenTimeout time.Duration

	Logger *slog.Logger
}

// DefaultBreakerSettings returns settings suited to minute-scale pokes.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Name:        "keysource",
		MaxFailures: 5,
		OpenTimeout: 2 * time.Minute,
	}
}

// BreakerLister stops calling a failing backend until it has had time to
// recover. While open, ListKeys returns gobreaker.ErrOpenState.
type BreakerLister struct {
	next sensor.Lister
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerLister wraps next.
func NewBreakerLister(next sensor.Lister, s BreakerSettings) *BreakerLister {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxFailures := s.MaxFailures
	if maxFailures == 0 {
		maxFailures = 1
	}

	settings := gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("key source circuit breaker changed state",
				"breaker", name, "from", from.String(), "to", to.String())
		},
		// A cancelled poke says nothing about backend health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}

	return &BreakerLister{
		next: next,
		cb:   gobreaker.NewCircuitBreaker(settings),
	}
}

// ListKeys delegates to the wrapped lister through the breaker.
func (b *BreakerLister) ListKeys(ctx context.Context, bucket, prefix string) (sensor.KeySet, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.ListKeys(ctx, bucket, prefix)
	})
	if err != nil {
		return nil, err
	}
	return res.(sensor.KeySet), nil
}

// State reports the breaker state.
func (b *BreakerLister) State() gobreaker.State {
	return b.cb.State()
}

// IsOpen reports whether err is the breaker refusing a call rather than a
// backend failure.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
