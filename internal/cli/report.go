package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/chessbench/internal/model"
	"github.com/roach88/chessbench/internal/report"
	"github.com/roach88/chessbench/internal/store"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	Database string
	RunID    string // optional - defaults to the latest run
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show the results of a run",
		Long: `Show accuracy for both predictors over one run.

Without --run, the most recently started run is shown.

Examples:
  chessbench report --db bench.db
  chessbench report --db bench.db --run 01925f7e-8c4b-7d0a-9c2e-3f1b2a4d5e6f
  chessbench report --db bench.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id to report (default: latest)")

	return cmd
}

func runReport(opts *ReportOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	out := opts.formatter(cmd)

	st, err := openExisting(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	var agg model.RunAggregate
	if opts.RunID != "" {
		agg, err = st.ReadRun(ctx, opts.RunID)
	} else {
		agg, err = st.LatestRun(ctx)
	}
	if errors.Is(err, store.ErrNotFound) {
		if opts.RunID != "" {
			return NewExitError(ExitCommandError, fmt.Sprintf("run not found: %s", opts.RunID))
		}
		return NewExitError(ExitCommandError, "no runs recorded")
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}

	attempts, err := st.ReadAttempts(ctx, agg.RunID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read attempts", err)
	}

	if err := out.Success(report.Summarize(agg, attempts)); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}
	return nil
}
