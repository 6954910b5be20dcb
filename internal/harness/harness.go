package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/keysettle/internal/keysource"
	"github.com/roach88/keysettle/internal/sensor"
	"github.com/roach88/keysettle/internal/testutil"
)

// Harness executes one scenario against a fresh sensor.
// The bucket lives in memory and time only moves when a step advances it.
type Harness struct {
	sensor *sensor.KeysUnchangedSensor
	lister *keysource.MemoryLister
	clock  *testutil.FakeClock
	start  time.Time
	opts   sensor.Options
	logger *slog.Logger
}

// Run executes a scenario with logging suppressed.
func Run(scenario *Scenario) (*Result, error) {
	return RunWithLogger(context.Background(), scenario, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// RunWithLogger executes a scenario, sending sensor logs to logger.
//
// Execution flow:
// 1. Build a sensor over an in-memory lister and a fake clock
// 2. For each step, advance the clock, then poke or deliver the event
// 3. Record a trace event and check the expect clause
//
// Expectation mismatches are reported in Result.Errors. A returned error
// means the scenario itself could not run.
func RunWithLogger(ctx context.Context, scenario *Scenario, logger *slog.Logger) (*Result, error) {
	opts, err := scenario.Options.SensorOptions()
	if err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	clk := testutil.NewFakeClock(time.Time{})
	lister := keysource.NewMemoryLister()
	s, err := sensor.New(opts, lister, clk, sensor.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create sensor: %w", err)
	}

	h := &Harness{
		sensor: s,
		lister: lister,
		clock:  clk,
		start:  clk.Now(),
		opts:   s.Options(),
		logger: logger,
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		var advance time.Duration
		if step.Advance != "" {
			advance, err = time.ParseDuration(step.Advance)
			if err != nil {
				return nil, fmt.Errorf("step %d: advance: %w", i, err)
			}
		}

		ev, stepErr := h.executeStep(ctx, i, step, advance)
		result.AddTrace(ev)
		for _, msg := range checkExpect(i, step.Expect, ev, stepErr) {
			result.AddError(msg)
		}
	}
	return result, nil
}

// executeStep runs one step and returns its trace event along with the
// error the sensor produced, if any.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, advance time.Duration) (TraceEvent, error) {
	h.clock.Advance(advance)

	ev := TraceEvent{
		Step:           i,
		ElapsedSeconds: int64(h.clock.Now().Sub(h.start) / time.Second),
	}

	var (
		done    bool
		stepErr error
	)
	if step.Event != nil {
		ev.Action = ActionComplete
		ev.KeyCount = h.sensor.Snapshot().KeyCount
		stepErr = h.sensor.ExecuteComplete(sensor.Event{
			Status:  step.Event.Status,
			Message: step.Event.Message,
		})
		done = stepErr == nil
	} else {
		ev.Action = ActionPoke
		h.lister.Replace(h.opts.Bucket, step.Keys...)
		ev.KeyCount = h.countVisible(step.Keys)
		done, stepErr = h.sensor.Poke(ctx)
	}

	ev.Outcome = string(sensor.Classify(done, stepErr))
	ev.InactivitySeconds = h.sensor.InactivitySeconds()
	if stepErr != nil {
		ev.Error = stepErr.Error()
	}

	h.logger.Debug("scenario step completed",
		"step", i,
		"action", ev.Action,
		"outcome", ev.Outcome,
		"inactivity_seconds", ev.InactivitySeconds)
	return ev, stepErr
}

// countVisible counts the distinct keys the sensor can see under the prefix.
func (h *Harness) countVisible(keys []string) int {
	n := 0
	for k := range sensor.NewKeySet(keys...) {
		if strings.HasPrefix(k, h.opts.Prefix) {
			n++
		}
	}
	return n
}

func checkExpect(i int, expect *ExpectClause, ev TraceEvent, stepErr error) []string {
	if expect == nil {
		return nil
	}

	var errs []string
	if ev.Outcome != expect.Result {
		errs = append(errs, fmt.Sprintf("step %d: expected result %q, got %q", i, expect.Result, ev.Outcome))
	}
	if expect.InactivitySeconds != nil && ev.InactivitySeconds != *expect.InactivitySeconds {
		errs = append(errs, fmt.Sprintf("step %d: expected inactivity_seconds %d, got %d",
			i, *expect.InactivitySeconds, ev.InactivitySeconds))
	}
	if expect.Error != "" {
		switch {
		case stepErr == nil:
			errs = append(errs, fmt.Sprintf("step %d: expected error containing %q, got none", i, expect.Error))
		case !strings.Contains(stepErr.Error(), expect.Error):
			errs = append(errs, fmt.Sprintf("step %d: expected error containing %q, got %q", i, expect.Error, stepErr.Error()))
		}
	}
	return errs
}
