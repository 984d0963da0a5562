package cli

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/chessbench/internal/model"
	"github.com/roach88/chessbench/internal/report"
	"github.com/roach88/chessbench/internal/store"
)

// RunsOptions holds flags for the runs command.
type RunsOptions struct {
	*RootOptions
	Database string
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs",
		Long: `List every run recorded in the database, newest first.

Examples:
  chessbench runs --db bench.db
  chessbench runs --db bench.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

// runList renders as a table in text mode and a plain array in JSON.
type runList []model.RunAggregate

// WriteText implements TextRenderer.
func (l runList) WriteText(w io.Writer) error {
	return report.RenderRuns(w, l)
}

func runRuns(opts *RunsOptions, cmd *cobra.Command) error {
	st, err := openExisting(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(context.Background())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}
	if runs == nil {
		runs = []model.RunAggregate{}
	}

	if err := opts.formatter(cmd).Success(runList(runs)); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}
	return nil
}

// openExisting opens a database that must already exist. Read-only
// commands never create one.
func openExisting(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, WrapExitError(ExitCommandError, "database not found", err)
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}
