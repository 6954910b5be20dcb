package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/keysettle/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	RunID    string
	Limit    int
}

// RunList is the history output without --run.
type RunList struct {
	Runs []store.Run `json:"runs"`
}

func (l RunList) String() string {
	if len(l.Runs) == 0 {
		return "No runs recorded.\n"
	}
	var b strings.Builder
	for _, r := range l.Runs {
		outcome := r.Outcome
		if !r.Finished() {
			outcome = "running"
		}
		fmt.Fprintf(&b, "%s  %s  %s/%s  %s  %s\n",
			r.ID, r.StartedAt.UTC().Format(time.RFC3339), r.Bucket, r.Prefix, r.Mode, outcome)
	}
	return b.String()
}

// RunDetail is the history output for a single run.
type RunDetail struct {
	Run   store.Run    `json:"run"`
	Pokes []store.Poke `json:"pokes"`
}

func (d RunDetail) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s (%s/%s, mode %s)\n", d.Run.ID, d.Run.Bucket, d.Run.Prefix, d.Run.Mode)
	fmt.Fprintf(&b, "Started:  %s\n", d.Run.StartedAt.UTC().Format(time.RFC3339))
	if d.Run.Finished() {
		fmt.Fprintf(&b, "Finished: %s (%s)\n", d.Run.FinishedAt.UTC().Format(time.RFC3339), d.Run.Outcome)
	}
	if d.Run.Error != "" {
		fmt.Fprintf(&b, "Error:    %s\n", d.Run.Error)
	}
	fmt.Fprintf(&b, "\nPokes (%d):\n", len(d.Pokes))
	for _, p := range d.Pokes {
		changed := ""
		if p.Changed {
			changed = " changed"
		}
		fmt.Fprintf(&b, "  #%d  %s  keys=%d  inactive=%ds  %s%s\n",
			p.Seq, p.ObservedAt.UTC().Format(time.RFC3339), p.KeyCount, p.InactivitySeconds, p.Outcome, changed)
		if p.Error != "" {
			fmt.Fprintf(&b, "      %s\n", p.Error)
		}
	}
	return b.String()
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded sensor runs",
		Long: `Show sensor runs recorded in the SQLite poke log.

Without --run, lists runs newest first. With --run, shows every
poke of that run in order.

Examples:
  keysettle history --db ./keysettle.db
  keysettle history --db ./keysettle.db --limit 5
  keysettle history --db ./keysettle.db --run 01890a5d-ac96-774b-bcce-b302099a8057 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite poke log (required)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "show the pokes of one run")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of runs to list (0 for all)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	// Opening would create an empty database; a typo should be an error.
	if _, err := os.Stat(opts.Database); os.IsNotExist(err) {
		_ = out.Error(CodeStore, fmt.Sprintf("database not found: %s", opts.Database), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", opts.Database))
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if opts.RunID == "" {
		runs, err := st.ListRuns(ctx, opts.Limit)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list runs", err)
		}
		return out.Success(RunList{Runs: runs})
	}

	run, err := st.GetRun(ctx, opts.RunID)
	if errors.Is(err, store.ErrRunNotFound) {
		_ = out.Error(CodeNotFound, fmt.Sprintf("run not found: %s", opts.RunID), nil)
		return WrapExitError(ExitCommandError, "run not found", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}
	pokes, err := st.ListPokes(ctx, opts.RunID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list pokes", err)
	}
	return out.Success(RunDetail{Run: run, Pokes: pokes})
}
