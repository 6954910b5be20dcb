package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/keysettle/internal/clock"
	"github.com/roach88/keysettle/internal/keysource"
	"github.com/roach88/keysettle/internal/metrics"
	"github.com/roach88/keysettle/internal/sensor"
	"github.com/roach88/keysettle/internal/store"
	"github.com/roach88/keysettle/internal/trigger"
)

// DefaultMaxListErrors is how many consecutive listing failures a run
// tolerates before giving up. Runs whose lister sits behind a
// keysource.BreakerLister have no budget: the breaker owns retries and the
// run is bounded by its timeout.
const DefaultMaxListErrors = 3

// Target is what the runner drives. KeysUnchangedSensor implements it.
type Target interface {
	sensor.Sensor
	Options() sensor.Options
	Snapshot() sensor.Snapshot
	Lister() sensor.Lister
}

// Recorder persists the poke log. *store.Store implements it.
type Recorder interface {
	StartRun(ctx context.Context, run store.Run) error
	RecordPoke(ctx context.Context, p store.Poke) error
	FinishRun(ctx context.Context, id string, finishedAt time.Time, outcome, errMsg string) error
}

// Config wires optional collaborators. The zero value is usable.
type Config struct {
	Recorder Recorder
	Metrics  *metrics.Metrics
	IDs      RunIDGenerator
	Clock    clock.Clock
	Logger   *slog.Logger

	// MaxListErrors bounds consecutive non-sensor poke errors for listers
	// without a circuit breaker. Zero uses DefaultMaxListErrors.
	MaxListErrors int
}

// Result summarizes a finished run.
type Result struct {
	RunID   string
	Outcome sensor.Outcome
	Pokes   int64
	Err     error
}

// Runner drives sensors to completion.
type Runner struct {
	recorder      Recorder
	metrics       *metrics.Metrics
	ids           RunIDGenerator
	clock         clock.Clock
	logger        *slog.Logger
	maxListErrors int

	mu   sync.Mutex
	last sensor.Snapshot
}

// New creates a runner.
func New(cfg Config) *Runner {
	r := &Runner{
		recorder:      cfg.Recorder,
		metrics:       cfg.Metrics,
		ids:           cfg.IDs,
		clock:         clock.OrSystem(cfg.Clock),
		logger:        cfg.Logger,
		maxListErrors: cfg.MaxListErrors,
	}
	if r.ids == nil {
		r.ids = UUIDv7Generator{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.maxListErrors <= 0 {
		r.maxListErrors = DefaultMaxListErrors
	}
	return r
}

// LastSnapshot returns the snapshot published after the latest poke.
// Safe to call from other goroutines (e.g. the /status handler).
func (r *Runner) LastSnapshot() sensor.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Runner) publish(snap sensor.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = snap
}

// Run drives t until it reaches a terminal outcome. The returned error is
// nil only for OutcomeStable.
func (r *Runner) Run(ctx context.Context, t Target) (Result, error) {
	opts := t.Options()
	res := Result{RunID: r.ids.Generate()}
	logger := r.logger.With("run_id", res.RunID, "bucket", opts.Bucket, "prefix", opts.Prefix)

	mode := string(opts.Mode)
	if opts.Deferrable {
		mode = "deferred"
	}
	r.startRun(ctx, logger, store.Run{
		ID:        res.RunID,
		Bucket:    opts.Bucket,
		Prefix:    opts.Prefix,
		Mode:      mode,
		StartedAt: r.clock.Now(),
	})
	logger.Info("sensor run started", "mode", mode,
		"inactivity_period", opts.InactivityPeriod, "poke_interval", opts.PokeInterval)

	if opts.Deferrable {
		res = r.runDeferred(ctx, logger, t, res)
	} else {
		res = r.runPoking(ctx, logger, t, res)
	}

	errMsg := ""
	if res.Err != nil {
		errMsg = res.Err.Error()
	}
	r.finishRun(ctx, logger, res.RunID, res.Outcome, errMsg)
	logger.Info("sensor run finished", "outcome", res.Outcome, "pokes", res.Pokes)
	return res, res.Err
}

func (r *Runner) runPoking(ctx context.Context, logger *slog.Logger, t Target, res Result) Result {
	opts := t.Options()
	started := r.clock.Now()
	listErrors := 0
	_, guarded := t.Lister().(*keysource.BreakerLister)

	for {
		res.Pokes++
		begin := time.Now()
		done, err := t.Poke(ctx)
		took := time.Since(begin)
		observedAt := r.clock.Now()

		outcome := sensor.Classify(done, err)
		snap := t.Snapshot()
		r.publish(snap)
		r.metrics.ObservePoke(outcome, snap, took)
		r.recordPoke(ctx, logger, res.RunID, res.Pokes, observedAt, snap, outcome, err)

		switch {
		case err != nil && isSensorError(err):
			return finish(res, outcome, err)
		case err != nil && ctx.Err() != nil:
			return finish(res, sensor.OutcomeFailed, ctx.Err())
		case err != nil && keysource.IsOpen(err):
			logger.Debug("key source breaker open, backing off", "error", err)
		case err != nil:
			listErrors++
			logger.Warn("poke failed", "error", err, "consecutive_failures", listErrors)
			if !guarded && listErrors >= r.maxListErrors {
				return finish(res, sensor.OutcomeFailed, err)
			}
		case done:
			return finish(res, sensor.OutcomeStable, nil)
		default:
			listErrors = 0
		}

		if waited := r.clock.Now().Sub(started); waited >= opts.Timeout {
			err := sensor.Degrade(sensor.NewTimeoutError(opts.Bucket, opts.Prefix, waited.String()), opts.SoftFail)
			return finish(res, sensor.Classify(false, err), err)
		}

		timer := time.NewTimer(opts.PokeInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return finish(res, sensor.OutcomeFailed, ctx.Err())
		case <-timer.C:
		}
	}
}

func (r *Runner) runDeferred(ctx context.Context, logger *slog.Logger, t Target, res Result) Result {
	opts := t.Options()
	started := r.clock.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.Info("deferring to trigger")
	events := trigger.New(opts, t.Lister(), r.clock, logger).Run(ctx)

	// The deadline is checked on the run clock at the poke interval, as in
	// poke mode.
	interval := opts.PokeInterval
	if interval <= 0 {
		interval = sensor.DefaultPokeInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return finish(res, sensor.OutcomeFailed, ctx.Err())
			}
			if err := t.ExecuteComplete(ev); err != nil {
				return finish(res, sensor.Classify(false, err), err)
			}
			return finish(res, sensor.OutcomeStable, nil)
		case <-ticker.C:
			if waited := r.clock.Now().Sub(started); waited >= opts.Timeout {
				cancel()
				err := sensor.Degrade(sensor.NewTimeoutError(opts.Bucket, opts.Prefix, waited.String()), opts.SoftFail)
				return finish(res, sensor.Classify(false, err), err)
			}
		}
	}
}

func finish(res Result, outcome sensor.Outcome, err error) Result {
	res.Outcome = outcome
	res.Err = err
	return res
}

// isSensorError reports errors that end a run regardless of retry budget.
func isSensorError(err error) bool {
	var se *sensor.SensorError
	return errors.As(err, &se)
}

// Recorder failures are logged, never fatal.
func (r *Runner) startRun(ctx context.Context, logger *slog.Logger, run store.Run) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.StartRun(ctx, run); err != nil {
		logger.Warn("failed to record run start", "error", err)
	}
}

func (r *Runner) recordPoke(ctx context.Context, logger *slog.Logger, runID string, seq int64,
	observedAt time.Time, snap sensor.Snapshot, outcome sensor.Outcome, pokeErr error) {
	if r.recorder == nil {
		return
	}
	p := store.Poke{
		RunID:             runID,
		Seq:               seq,
		ObservedAt:        observedAt,
		KeyCount:          snap.KeyCount,
		InactivitySeconds: snap.InactivitySeconds(),
		Changed:           snap.Changed,
		Outcome:           string(outcome),
	}
	if pokeErr != nil {
		p.Error = pokeErr.Error()
	}
	if err := r.recorder.RecordPoke(context.WithoutCancel(ctx), p); err != nil {
		logger.Warn("failed to record poke", "seq", seq, "error", err)
	}
}

func (r *Runner) finishRun(ctx context.Context, logger *slog.Logger, runID string, outcome sensor.Outcome, errMsg string) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.FinishRun(context.WithoutCancel(ctx), runID, r.clock.Now(), string(outcome), errMsg); err != nil {
		logger.Warn("failed to record run finish", "error", err)
	}
}
