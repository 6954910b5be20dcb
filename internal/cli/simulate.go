package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/keysettle/internal/harness"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	Trace bool // include the step trace in the output
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name    string               `json:"name"`
	Pass    bool                 `json:"pass"`
	Outcome string               `json:"outcome,omitempty"`
	Errors  []string             `json:"errors,omitempty"`
	Trace   []harness.TraceEvent `json:"trace,omitempty"`
}

// SimulateResult holds the overall simulation result.
type SimulateResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

func (r SimulateResult) String() string {
	var b strings.Builder
	for _, s := range r.Scenarios {
		mark := "✓"
		if !s.Pass {
			mark = "✗"
		}
		fmt.Fprintf(&b, "%s %s (%s)\n", mark, s.Name, s.Outcome)
		for _, ev := range s.Trace {
			fmt.Fprintf(&b, "    step %d  t+%ds  %s  keys=%d  inactive=%ds  %s\n",
				ev.Step, ev.ElapsedSeconds, ev.Action, ev.KeyCount, ev.InactivitySeconds, ev.Outcome)
		}
		for _, e := range s.Errors {
			fmt.Fprintf(&b, "  %s\n", e)
		}
	}
	fmt.Fprintf(&b, "\n%d passed, %d failed, %d total\n", r.Passed, r.Failed, r.Total)
	return b.String()
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate <scenario.yaml>...",
		Short: "Replay scripted key-set scenarios",
		Long: `Run scenario files against the sensor with a simulated clock and
an in-memory bucket. No storage backend is contacted.

Exit codes:
  0 - All scenarios matched their expectations
  1 - One or more scenarios did not match
  2 - Command error (unreadable or invalid scenario file)

Examples:
  keysettle simulate ./scenarios/settle.yaml
  keysettle simulate ./scenarios/*.yaml --trace
  keysettle simulate ./scenarios/settle.yaml --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Trace, "trace", false, "print every step of each scenario")

	return cmd
}

func runSimulate(opts *SimulateOptions, paths []string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// Sensor logs are noise here unless asked for.
	logWriter := io.Discard
	if opts.Verbose {
		logWriter = out.GetErrWriter()
	}
	logger := newLogger(opts.RootOptions, logWriter)

	result := SimulateResult{
		Scenarios: make([]ScenarioResult, 0, len(paths)),
		Total:     len(paths),
	}
	for _, path := range paths {
		scenario, err := harness.LoadScenario(path)
		if err != nil {
			_ = out.Error(CodeConfig, err.Error(), map[string]string{"path": path})
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to load scenario %s", path), err)
		}

		run, err := harness.RunWithLogger(ctx, scenario, logger)
		if err != nil {
			_ = out.Error(CodeSensor, err.Error(), map[string]string{"scenario": scenario.Name})
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to run scenario %s", scenario.Name), err)
		}

		sr := ScenarioResult{Name: scenario.Name, Pass: run.Pass, Errors: run.Errors}
		if final, ok := run.Final(); ok {
			sr.Outcome = final.Outcome
		}
		if opts.Trace {
			sr.Trace = run.Trace
		}
		result.Scenarios = append(result.Scenarios, sr)
		if run.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if err := out.Success(result); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}
