package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/roach88/keysettle/internal/clock"
	"github.com/roach88/keysettle/internal/config"
	"github.com/roach88/keysettle/internal/keysource"
	"github.com/roach88/keysettle/internal/metrics"
	"github.com/roach88/keysettle/internal/runner"
	"github.com/roach88/keysettle/internal/sensor"
	"github.com/roach88/keysettle/internal/store"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	ConfigPath  string
	Database    string
	MetricsAddr string

	// Lister overrides the S3 key source (for testing).
	Lister sensor.Lister

	// Clock and IDs override the runner's clock and run ids (for testing).
	Clock clock.Clock
	IDs   runner.RunIDGenerator
}

// WatchSummary is the watch command's output.
type WatchSummary struct {
	RunID   string `json:"run_id"`
	Bucket  string `json:"bucket"`
	Prefix  string `json:"prefix"`
	Outcome string `json:"outcome"`
	Pokes   int64  `json:"pokes"`
	Error   string `json:"error,omitempty"`
}

func (s WatchSummary) String() string {
	out := fmt.Sprintf("run %s: %s/%s %s after %d poke(s)\n", s.RunID, s.Bucket, s.Prefix, s.Outcome, s.Pokes)
	if s.Error != "" {
		out += fmt.Sprintf("  %s\n", s.Error)
	}
	return out
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poke a prefix until its key set settles",
		Long: `Poke a bucket prefix until the set of keys under it stays unchanged
for the configured inactivity period.

Every poke is appended to the SQLite poke log when --db is given.
Prometheus metrics and a live /status endpoint are served when
--metrics-addr is given.

Exit codes:
  0 - Key set settled
  1 - Sensor failed (deleted keys, timeout, listing errors)
  2 - Command error (invalid config, database error, etc.)
  3 - Sensor failure skipped under soft_fail

Examples:
  keysettle watch --config ./keysettle.yaml
  keysettle watch --config ./keysettle.yaml --db ./keysettle.db --metrics-addr :9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config (required)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite poke log (overrides config)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "listen address for /metrics and /status (overrides config)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	slog.SetDefault(logger)
	out := opts.formatter(cmd)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_ = out.Error(CodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if opts.MetricsAddr != "" {
		cfg.MetricsAddr = opts.MetricsAddr
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	lister := opts.Lister
	if lister == nil {
		s3Lister, err := keysource.NewS3Lister(ctx, cfg.S3Config())
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to create S3 client", err)
		}
		lister = s3Lister
	}
	breaker := cfg.BreakerSettings()
	breaker.Logger = logger
	lister = keysource.NewBreakerLister(lister, breaker)

	s, err := sensor.New(cfg.SensorOptions(), lister, opts.Clock, sensor.WithLogger(logger))
	if err != nil {
		_ = out.Error(CodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid sensor options", err)
	}

	var recorder runner.Recorder
	if cfg.Database != "" {
		logger.Info("opening poke log", "path", cfg.Database)
		st, err := store.Open(cfg.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		recorder = st
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := runner.New(runner.Config{
		Recorder: recorder,
		Metrics:  metrics.New(registry),
		IDs:      opts.IDs,
		Clock:    opts.Clock,
		Logger:   logger,
	})

	if cfg.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.MetricsAddr, registry, r.LastSnapshot, logger)
		if err := srv.Start(); err != nil {
			return WrapExitError(ExitCommandError, "failed to start metrics server", err)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("error stopping metrics server", "error", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	res, runErr := r.Run(ctx, s)

	opt := s.Options()
	summary := WatchSummary{
		RunID:   res.RunID,
		Bucket:  opt.Bucket,
		Prefix:  opt.Prefix,
		Outcome: string(res.Outcome),
		Pokes:   res.Pokes,
	}
	if runErr != nil {
		summary.Error = runErr.Error()
	}
	if err := out.Success(summary); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}

	switch code := ExitCodeForOutcome(res.Outcome); {
	case code == ExitSuccess:
		return nil
	case errors.Is(runErr, context.Canceled):
		return WrapExitError(ExitFailure, "watch interrupted", runErr)
	default:
		return WrapExitError(code, fmt.Sprintf("sensor %s", res.Outcome), runErr)
	}
}
