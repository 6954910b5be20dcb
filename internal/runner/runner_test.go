package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/keysettle/internal/keysource"
	"github.com/roach88/keysettle/internal/metrics"
	"github.com/roach88/keysettle/internal/sensor"
	"github.com/roach88/keysettle/internal/store"
	"github.com/roach88/keysettle/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runOptions() sensor.Options {
	opts := sensor.DefaultOptions()
	opts.Bucket = "test-bucket"
	opts.Prefix = "test-prefix/path"
	opts.InactivityPeriod = 20 * time.Second
	opts.PokeInterval = time.Millisecond
	opts.Timeout = time.Hour
	return opts
}

// advancingLister calls next and then moves the clock forward by step on
// every call after the first.
func advancingLister(clk *testutil.FakeClock, step time.Duration, next func(call int) (sensor.KeySet, error)) sensor.Lister {
	var mu sync.Mutex
	call := 0
	return sensor.ListerFunc(func(ctx context.Context, bucket, prefix string) (sensor.KeySet, error) {
		mu.Lock()
		defer mu.Unlock()
		if call > 0 {
			clk.Advance(step)
		}
		call++
		return next(call)
	})
}

func constant(keys ...string) func(int) (sensor.KeySet, error) {
	return func(int) (sensor.KeySet, error) { return sensor.NewKeySet(keys...), nil }
}

type fixture struct {
	clock  *testutil.FakeClock
	store  *store.Store
	runner *Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clk := testutil.NewFakeClock(testutil.DefaultEpoch)
	return &fixture{
		clock: clk,
		store: st,
		runner: New(Config{
			Recorder: st,
			Metrics:  metrics.New(prometheus.NewRegistry()),
			IDs:      testutil.NewFixedRunIDGenerator("run-1"),
			Clock:    clk,
			Logger:   quietLogger(),
		}),
	}
}

func (f *fixture) sensor(t *testing.T, opts sensor.Options, lister sensor.Lister) *sensor.KeysUnchangedSensor {
	t.Helper()
	s, err := sensor.New(opts, lister, f.clock, sensor.WithLogger(quietLogger()))
	require.NoError(t, err)
	return s
}

func TestRun_StableAfterInactivityPeriod(t *testing.T) {
	f := newFixture(t)
	s := f.sensor(t, runOptions(), advancingLister(f.clock, 10*time.Second, constant("a")))

	res, err := f.runner.Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, sensor.OutcomeStable, res.Outcome)
	assert.Equal(t, int64(3), res.Pokes)

	pokes, err := f.store.ListPokes(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, pokes, 3)
	assert.Equal(t, []int64{0, 10, 20}, []int64{pokes[0].InactivitySeconds, pokes[1].InactivitySeconds, pokes[2].InactivitySeconds})
	assert.Equal(t, []string{"accumulating", "accumulating", "stable"}, []string{pokes[0].Outcome, pokes[1].Outcome, pokes[2].Outcome})
	assert.True(t, pokes[0].Changed)
	assert.False(t, pokes[1].Changed)
	assert.Equal(t, testutil.DefaultEpoch.Add(20*time.Second), pokes[2].ObservedAt)

	run, err := f.store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "stable", run.Outcome)
	assert.Equal(t, "poke", run.Mode)
	assert.True(t, run.Finished())

	assert.Equal(t, sensor.StateStable, f.runner.LastSnapshot().State)
}

func TestRun_DeletionFails(t *testing.T) {
	tests := []struct {
		name        string
		softFail    bool
		wantOutcome sensor.Outcome
	}{
		{name: "hard fail", softFail: false, wantOutcome: sensor.OutcomeFailed},
		{name: "soft fail", softFail: true, wantOutcome: sensor.OutcomeSkipped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			opts := runOptions()
			opts.SoftFail = tt.softFail
			lister := advancingLister(f.clock, 10*time.Second, func(call int) (sensor.KeySet, error) {
				if call == 1 {
					return sensor.NewKeySet("a", "b"), nil
				}
				return sensor.NewKeySet("a"), nil
			})

			res, err := f.runner.Run(context.Background(), f.sensor(t, opts, lister))
			require.Error(t, err)
			assert.True(t, sensor.IsIllegalState(err))
			assert.Equal(t, tt.softFail, sensor.IsSkip(err))
			assert.Equal(t, tt.wantOutcome, res.Outcome)
			assert.Equal(t, int64(2), res.Pokes)

			run, err := f.store.GetRun(context.Background(), "run-1")
			require.NoError(t, err)
			assert.Equal(t, string(tt.wantOutcome), run.Outcome)
			assert.Contains(t, run.Error, "objects were deleted")

			pokes, err := f.store.ListPokes(context.Background(), "run-1")
			require.NoError(t, err)
			require.Len(t, pokes, 2)
			assert.Equal(t, []int{2, 1}, []int{pokes[0].KeyCount, pokes[1].KeyCount},
				"the rejected poke logs the listed count")
		})
	}
}

func TestRun_Timeout(t *testing.T) {
	tests := []struct {
		name        string
		softFail    bool
		wantOutcome sensor.Outcome
	}{
		{name: "hard fail", softFail: false, wantOutcome: sensor.OutcomeFailed},
		{name: "soft fail", softFail: true, wantOutcome: sensor.OutcomeSkipped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			opts := runOptions()
			opts.Timeout = 25 * time.Second
			opts.SoftFail = tt.softFail
			// A new key every poke, so the set never settles.
			lister := advancingLister(f.clock, 10*time.Second, func(call int) (sensor.KeySet, error) {
				keys := make([]string, 0, call)
				for i := 0; i < call; i++ {
					keys = append(keys, fmt.Sprintf("part-%d", i))
				}
				return sensor.NewKeySet(keys...), nil
			})

			res, err := f.runner.Run(context.Background(), f.sensor(t, opts, lister))
			require.Error(t, err)
			assert.True(t, sensor.IsTimeout(err))
			assert.Equal(t, tt.softFail, sensor.IsSkip(err))
			assert.Equal(t, tt.wantOutcome, res.Outcome)
			assert.Equal(t, int64(4), res.Pokes)
		})
	}
}

func TestRun_ListErrorsExhaustBudget(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("503 SlowDown")
	lister := advancingLister(f.clock, time.Second, func(int) (sensor.KeySet, error) {
		return nil, boom
	})

	res, err := f.runner.Run(context.Background(), f.sensor(t, runOptions(), lister))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, sensor.OutcomeFailed, res.Outcome)
	assert.Equal(t, int64(DefaultMaxListErrors), res.Pokes)
}

func TestRun_ListErrorRecovers(t *testing.T) {
	f := newFixture(t)
	lister := advancingLister(f.clock, 10*time.Second, func(call int) (sensor.KeySet, error) {
		if call == 2 {
			return nil, errors.New("connection reset")
		}
		return sensor.NewKeySet("a"), nil
	})

	res, err := f.runner.Run(context.Background(), f.sensor(t, runOptions(), lister))
	require.NoError(t, err)
	assert.Equal(t, sensor.OutcomeStable, res.Outcome)
	// The failed poke does not reset activity: t=0 baseline, t=10 error, t=20 stable.
	assert.Equal(t, int64(3), res.Pokes)

	pokes, err := f.store.ListPokes(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, pokes, 3)
	assert.Equal(t, "failed", pokes[1].Outcome)
	assert.Contains(t, pokes[1].Error, "connection reset")
}

func breakerSettings(maxFailures uint32, openTimeout time.Duration) keysource.BreakerSettings {
	s := keysource.DefaultBreakerSettings()
	s.MaxFailures = maxFailures
	s.OpenTimeout = openTimeout
	s.Logger = quietLogger()
	return s
}

func countOpenPokes(pokes []store.Poke) int {
	n := 0
	for _, p := range pokes {
		if strings.Contains(p.Error, gobreaker.ErrOpenState.Error()) {
			n++
		}
	}
	return n
}

func TestRun_BreakerOpensAndRecovers(t *testing.T) {
	f := newFixture(t)
	var calls atomic.Int32
	backend := advancingLister(f.clock, 10*time.Second, func(call int) (sensor.KeySet, error) {
		calls.Add(1)
		if call <= 2 {
			return nil, errors.New("503 SlowDown")
		}
		return sensor.NewKeySet("a"), nil
	})
	guarded := keysource.NewBreakerLister(backend, breakerSettings(2, 20*time.Millisecond))

	res, err := f.runner.Run(context.Background(), f.sensor(t, runOptions(), guarded))
	require.NoError(t, err)
	assert.Equal(t, sensor.OutcomeStable, res.Outcome)
	assert.Equal(t, gobreaker.StateClosed, guarded.State())

	// Two failures, then baseline at t=20, t=30, stable at t=40.
	assert.Equal(t, int32(5), calls.Load())
	assert.Greater(t, res.Pokes, int64(5), "pokes refused by the open breaker never reach the backend")

	pokes, err := f.store.ListPokes(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Positive(t, countOpenPokes(pokes))
}

func TestRun_BreakerReplacesListErrorBudget(t *testing.T) {
	tests := []struct {
		name        string
		softFail    bool
		wantOutcome sensor.Outcome
	}{
		{name: "hard fail", softFail: false, wantOutcome: sensor.OutcomeFailed},
		{name: "soft fail", softFail: true, wantOutcome: sensor.OutcomeSkipped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			opts := runOptions()
			opts.Timeout = time.Minute
			opts.SoftFail = tt.softFail
			var calls atomic.Int32
			boom := errors.New("503 SlowDown")
			backend := advancingLister(f.clock, 10*time.Second, func(int) (sensor.KeySet, error) {
				calls.Add(1)
				return nil, boom
			})
			guarded := keysource.NewBreakerLister(backend, breakerSettings(5, 10*time.Millisecond))

			res, err := f.runner.Run(context.Background(), f.sensor(t, opts, guarded))
			require.Error(t, err)
			assert.True(t, sensor.IsTimeout(err), "the run outlives the unguarded budget and ends on its timeout")
			assert.Equal(t, tt.softFail, sensor.IsSkip(err))
			assert.Equal(t, tt.wantOutcome, res.Outcome)
			assert.Equal(t, gobreaker.StateOpen, guarded.State())

			// Five failures open the breaker at t=40; half-open trials at t=50 and t=60.
			assert.Equal(t, int32(7), calls.Load())
			assert.Greater(t, calls.Load(), int32(DefaultMaxListErrors))
			assert.Greater(t, res.Pokes, int64(7))
		})
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	f := newFixture(t)
	// Clock never moves, so the set never settles.
	s := f.sensor(t, runOptions(), advancingLister(f.clock, 0, constant("a")))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := f.runner.Run(ctx, s)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, sensor.OutcomeFailed, res.Outcome)

	run, err := f.store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.True(t, run.Finished(), "run is closed even after cancellation")
}

func TestRun_Deferred(t *testing.T) {
	f := newFixture(t)
	opts := runOptions()
	opts.Deferrable = true

	res, err := f.runner.Run(context.Background(),
		f.sensor(t, opts, advancingLister(f.clock, 10*time.Second, constant("a"))))
	require.NoError(t, err)
	assert.Equal(t, sensor.OutcomeStable, res.Outcome)

	run, err := f.store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "deferred", run.Mode)
}

func TestRun_DeferredErrorHonoursSoftFail(t *testing.T) {
	f := newFixture(t)
	opts := runOptions()
	opts.Deferrable = true
	opts.SoftFail = true
	lister := advancingLister(f.clock, 10*time.Second, func(call int) (sensor.KeySet, error) {
		if call == 1 {
			return sensor.NewKeySet("a", "b"), nil
		}
		return sensor.NewKeySet("b"), nil
	})

	res, err := f.runner.Run(context.Background(), f.sensor(t, opts, lister))
	require.Error(t, err)
	assert.True(t, sensor.IsSkip(err))
	assert.True(t, sensor.IsExternalEventError(err))
	assert.Contains(t, err.Error(), "objects were deleted")
	assert.Equal(t, sensor.OutcomeSkipped, res.Outcome)
}

func TestRun_DeferredTimeoutUsesRunClock(t *testing.T) {
	tests := []struct {
		name        string
		softFail    bool
		wantOutcome sensor.Outcome
	}{
		{name: "hard fail", softFail: false, wantOutcome: sensor.OutcomeFailed},
		{name: "soft fail", softFail: true, wantOutcome: sensor.OutcomeSkipped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			opts := runOptions()
			opts.Deferrable = true
			opts.Timeout = 25 * time.Second
			opts.SoftFail = tt.softFail
			// A new key every poke, so the set never settles. Only the fake
			// clock moves past the timeout.
			lister := advancingLister(f.clock, 10*time.Second, func(call int) (sensor.KeySet, error) {
				keys := make([]string, 0, call)
				for i := 0; i < call; i++ {
					keys = append(keys, fmt.Sprintf("part-%d", i))
				}
				return sensor.NewKeySet(keys...), nil
			})

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			res, err := f.runner.Run(ctx, f.sensor(t, opts, lister))
			require.Error(t, err)
			assert.True(t, sensor.IsTimeout(err))
			assert.Equal(t, tt.softFail, sensor.IsSkip(err))
			assert.Equal(t, tt.wantOutcome, res.Outcome)
			assert.NoError(t, ctx.Err(), "timeout comes from the run clock, not the caller's deadline")

			run, err := f.store.GetRun(context.Background(), "run-1")
			require.NoError(t, err)
			assert.Equal(t, string(tt.wantOutcome), run.Outcome)
		})
	}
}

func TestRun_NoRecorder(t *testing.T) {
	clk := testutil.NewFakeClock(testutil.DefaultEpoch)
	r := New(Config{Clock: clk, Logger: quietLogger()})
	s, err := sensor.New(runOptions(), advancingLister(clk, 10*time.Second, constant("a")), clk,
		sensor.WithLogger(quietLogger()))
	require.NoError(t, err)

	res, err := r.Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, sensor.OutcomeStable, res.Outcome)

	_, parseErr := uuid.Parse(res.RunID)
	assert.NoError(t, parseErr, "default run ids are UUIDs")
}

func TestUUIDv7Generator(t *testing.T) {
	gen := UUIDv7Generator{}

	id, err := uuid.Parse(gen.Generate())
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())
	assert.NotEqual(t, gen.Generate(), gen.Generate())
}
