// Package trigger runs the key-set stability check in the background and
// reports a single completion event, for hosts that defer the sensor
// instead of holding it between pokes.
package trigger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/keysettle/internal/clock"
	"github.com/roach88/keysettle/internal/sensor"
)

// Trigger polls a lister with its own Tracker and emits exactly one Event.
type Trigger struct {
	opts   sensor.Options
	lister sensor.Lister
	clock  clock.Clock
	logger *slog.Logger
}

// New creates a trigger. SoftFail is not applied here; the event is handed
// to KeysUnchangedSensor.ExecuteComplete, which applies it.
func New(opts sensor.Options, lister sensor.Lister, clk clock.Clock, logger *slog.Logger) *Trigger {
	if logger == nil {
		logger = slog.Default()
	}
	opts.SoftFail = false
	if opts.PokeInterval <= 0 {
		opts.PokeInterval = sensor.DefaultPokeInterval
	}
	return &Trigger{
		opts:   opts,
		lister: lister,
		clock:  clock.OrSystem(clk),
		logger: logger.With("component", "trigger"),
	}
}

// Run starts polling and returns the event channel. The channel receives one
// event and is then closed. If ctx is cancelled first it is closed without
// an event.
func (t *Trigger) Run(ctx context.Context) <-chan sensor.Event {
	events := make(chan sensor.Event, 1)
	go func() {
		defer close(events)
		if ev, ok := t.loop(ctx); ok {
			events <- ev
		}
	}()
	return events
}

func (t *Trigger) loop(ctx context.Context) (sensor.Event, bool) {
	tracker := sensor.NewTracker(t.opts, t.clock, t.logger)
	ticker := time.NewTicker(t.opts.PokeInterval)
	defer ticker.Stop()

	for {
		keys, err := t.lister.ListKeys(ctx, t.opts.Bucket, t.opts.Prefix)
		if err != nil {
			if ctx.Err() != nil {
				return sensor.Event{}, false
			}
			return errorEvent(err), true
		}

		done, err := tracker.Evaluate(keys)
		if err != nil {
			return errorEvent(err), true
		}
		if done {
			t.logger.Info("trigger fired", "objects", keys.Len())
			return sensor.Event{Status: sensor.EventStatusSuccess}, true
		}

		select {
		case <-ctx.Done():
			return sensor.Event{}, false
		case <-ticker.C:
		}
	}
}

// errorEvent keeps the bare message of sensor errors so ExecuteComplete
// does not repeat the error code.
func errorEvent(err error) sensor.Event {
	msg := err.Error()
	var se *sensor.SensorError
	if errors.As(err, &se) {
		msg = se.Message
	}
	return sensor.Event{Status: sensor.EventStatusError, Message: msg}
}
