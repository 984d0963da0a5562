package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/chessbench/internal/config"
	"github.com/roach88/chessbench/internal/engine"
	"github.com/roach88/chessbench/internal/evaluator"
	"github.com/roach88/chessbench/internal/metrics"
	"github.com/roach88/chessbench/internal/position"
	"github.com/roach88/chessbench/internal/predict"
	"github.com/roach88/chessbench/internal/queue"
	"github.com/roach88/chessbench/internal/report"
	"github.com/roach88/chessbench/internal/source"
	"github.com/roach88/chessbench/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath  string
	MetricsFile string

	// flag values, applied over the config file only when set
	database        string
	target          int
	depth           int
	exactDepth      bool
	timeout         time.Duration
	cutoffMin       int
	cutoffMax       int
	flushInterval   int
	maxEmptyBatches int
	batchSize       int
	lichessUser     string
	chesscomUser    string
	pgnFiles        []string
	enginePath      string
	seed            int64

	// HTTPClient overrides the providers' HTTP client (for testing).
	HTTPClient source.HTTPClient
	// Evaluator overrides the engine selected by config (for testing).
	Evaluator predict.Evaluator
	// RunIDGenerator overrides the UUIDv7 generator (for testing).
	RunIDGenerator engine.RunIDGenerator
	// Sleeper overrides the queue's backoff sleeper (for testing).
	Sleeper queue.Sleeper
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd, _ := newRunCommand(rootOpts)
	return cmd
}

func newRunCommand(rootOpts *RootOptions) (*cobra.Command, *RunOptions) {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a benchmark",
		Long: `Run a benchmark until the target number of games has been scored.

Games already recorded in the database are never scored again. Results are
flushed every --flush-interval predictions, so an interrupted run keeps its
work. Ctrl-C stops after the game in progress and saves everything scored.

Flags override values from --config.

Examples:
  chessbench run --db bench.db --lichess-user DrNykterstein --target 50
  chessbench run --db bench.db --pgn games.pgn --engine /usr/bin/stockfish
  chessbench run --config run.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchmark(opts, cmd)
		},
	}

	d := config.Default()
	f := cmd.Flags()
	f.StringVar(&opts.ConfigPath, "config", "", "path to a YAML run configuration")
	f.StringVar(&opts.MetricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")
	f.StringVar(&opts.database, "db", d.Database, "path to SQLite database")
	f.IntVar(&opts.target, "target", d.TargetCount, "number of games to score")
	f.IntVar(&opts.depth, "depth", d.EvaluatorDepth, "engine search depth")
	f.BoolVar(&opts.exactDepth, "exact-depth", d.RequireExactDepth, "fail evaluations that stop short of --depth")
	f.DurationVar(&opts.timeout, "timeout", d.EvaluatorTimeout, "per-position evaluation timeout")
	f.IntVar(&opts.cutoffMin, "cutoff-min", d.CutoffRange.Min, "earliest cutoff move")
	f.IntVar(&opts.cutoffMax, "cutoff-max", d.CutoffRange.Max, "latest cutoff move")
	f.IntVar(&opts.flushInterval, "flush-interval", d.FlushInterval, "flush results every N predictions")
	f.IntVar(&opts.maxEmptyBatches, "max-empty-batches", d.MaxEmptyBatches, "consecutive empty fetches before giving up")
	f.IntVar(&opts.batchSize, "batch-size", d.BatchSize, "games requested per fetch")
	f.StringVar(&opts.lichessUser, "lichess-user", "", "Lichess username to pull games from")
	f.StringVar(&opts.chesscomUser, "chesscom-user", "", "Chess.com username to pull games from")
	f.StringSliceVar(&opts.pgnFiles, "pgn", nil, "PGN file to pull games from (repeatable)")
	f.StringVar(&opts.enginePath, "engine", "", "path to a UCI engine binary (default: material count)")
	f.Int64Var(&opts.seed, "seed", d.Seed, "random seed for cutoff selection")

	return cmd, opts
}

// loadConfig builds the run configuration: defaults, then the config file,
// then every flag set on the command line.
func loadConfig(opts *RunOptions, cmd *cobra.Command) (config.RunConfig, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	f := cmd.Flags()
	set := func(name string, apply func()) {
		if f.Changed(name) {
			apply()
		}
	}
	set("db", func() { cfg.Database = opts.database })
	set("target", func() { cfg.TargetCount = opts.target })
	set("depth", func() { cfg.EvaluatorDepth = opts.depth })
	set("exact-depth", func() { cfg.RequireExactDepth = opts.exactDepth })
	set("timeout", func() { cfg.EvaluatorTimeout = opts.timeout })
	set("cutoff-min", func() { cfg.CutoffRange.Min = opts.cutoffMin })
	set("cutoff-max", func() { cfg.CutoffRange.Max = opts.cutoffMax })
	set("flush-interval", func() { cfg.FlushInterval = opts.flushInterval })
	set("max-empty-batches", func() { cfg.MaxEmptyBatches = opts.maxEmptyBatches })
	set("batch-size", func() { cfg.BatchSize = opts.batchSize })
	set("lichess-user", func() { cfg.Sources.LichessUser = opts.lichessUser })
	set("chesscom-user", func() { cfg.Sources.ChessComUser = opts.chesscomUser })
	set("pgn", func() { cfg.Sources.PGNFiles = opts.pgnFiles })
	set("engine", func() { cfg.EnginePath = opts.enginePath })
	set("seed", func() { cfg.Seed = opts.seed })

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if cfg.Sources.Empty() {
		return cfg, &config.ConfigError{Field: "sources", Message: "at least one of --lichess-user, --chesscom-user or --pgn is required"}
	}
	return cfg, nil
}

// buildSources creates one source per configured provider.
func buildSources(cfg config.RunConfig, client source.HTTPClient) []source.Source {
	var out []source.Source
	if cfg.Sources.LichessUser != "" {
		out = append(out, source.NewLichessSource(cfg.Sources.LichessUser, client))
	}
	if cfg.Sources.ChessComUser != "" {
		out = append(out, source.NewChessComSource(cfg.Sources.ChessComUser, client))
	}
	for _, path := range cfg.Sources.PGNFiles {
		out = append(out, source.NewPGNFileSource(path))
	}
	return out
}

// RunOutput is the run command's payload.
type RunOutput struct {
	*engine.Result
	Summary report.Summary `json:"summary"`
}

// WriteText implements TextRenderer.
func (o RunOutput) WriteText(w io.Writer) error {
	if err := o.Summary.WriteText(w); err != nil {
		return err
	}
	if o.State == engine.Exhausted {
		if _, err := fmt.Fprintf(w, "\nSources exhausted (%s) after %d refills.\n", o.Queue.Reason, o.Queue.Refills); err != nil {
			return err
		}
	}
	if o.Flush.Lost > 0 {
		if _, err := fmt.Fprintf(w, "\nWARNING: %d predictions could not be saved.\n", o.Flush.Lost); err != nil {
			return err
		}
	}
	return nil
}

func runBenchmark(opts *RunOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	cfg, err := loadConfig(opts, cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	slog.Info("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	eval := opts.Evaluator
	if eval == nil {
		if cfg.EnginePath != "" {
			uci := evaluator.NewUCI(cfg.EnginePath)
			defer func() {
				if closeErr := uci.Close(); closeErr != nil {
					slog.Warn("error closing engine", "error", closeErr)
				}
			}()
			eval = uci
		} else {
			slog.Warn("no engine configured, using material evaluator")
			eval = evaluator.NewMaterial()
		}
	}

	m := metrics.New()
	runnerOpts := []engine.RunnerOption{
		engine.WithMetrics(m),
		engine.WithProgress(func(p engine.Progress) {
			if p.Message != "" {
				out.VerboseLog("[%d/%d] %s: %s", p.Completed, p.Target, p.Phase, p.Message)
			}
		}),
	}
	if opts.RunIDGenerator != nil {
		runnerOpts = append(runnerOpts, engine.WithRunIDGenerator(opts.RunIDGenerator))
	}
	if opts.Sleeper != nil {
		runnerOpts = append(runnerOpts, engine.WithSleeper(opts.Sleeper))
	}

	runner := engine.New(
		st,
		source.NewMultiplexer(buildSources(cfg, opts.HTTPClient)...),
		position.NewResolver(rand.New(rand.NewSource(cfg.Seed)), cfg.PositionOptions()),
		predict.New(predict.NewHeuristic(), eval, cfg.PredictConfig()),
		engine.Config{
			TargetCount:   cfg.TargetCount,
			CutoffRange:   cfg.CutoffRange,
			FlushInterval: cfg.FlushInterval,
			Queue:         cfg.QueueConfig(),
		},
		runnerOpts...,
	)

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, finishing current game", "signal", sig)
			runner.Cancel()
		case <-ctx.Done():
		}
	}()

	result, runErr := runner.Run(ctx)

	if opts.MetricsFile != "" {
		if err := m.WriteTextfile(opts.MetricsFile); err != nil {
			slog.Error("failed to write metrics", "path", opts.MetricsFile, "error", err)
		}
	}

	if result != nil && result.State != engine.Failed {
		attempts, err := st.ReadAttempts(context.WithoutCancel(ctx), result.RunID)
		if err != nil {
			slog.Error("failed to read attempts for report", "run_id", result.RunID, "error", err)
		}
		output := RunOutput{Result: result, Summary: report.Summarize(result.Aggregate, attempts)}
		if err := out.Success(output); err != nil {
			return WrapExitError(ExitCommandError, "failed to write output", err)
		}
	}

	switch {
	case runErr == nil:
		return nil
	case engine.IsExhausted(runErr):
		return WrapExitError(ExitFailure, "sources exhausted before target", runErr)
	case engine.IsStoreUnavailable(runErr):
		return WrapExitError(ExitCommandError, "result store unavailable", runErr)
	default:
		return WrapExitError(ExitFailure, "run failed", runErr)
	}
}
