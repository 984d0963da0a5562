package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/chessbench/internal/ledger"
	"github.com/roach88/chessbench/internal/metrics"
	"github.com/roach88/chessbench/internal/model"
	"github.com/roach88/chessbench/internal/persist"
	"github.com/roach88/chessbench/internal/position"
	"github.com/roach88/chessbench/internal/queue"
)

// Store is the Result Store as seen by the run controller.
type Store interface {
	persist.Store
	LoadRecordedIDs(ctx context.Context) (map[string]struct{}, error)
}

// Resolver selects and replays a record's cutoff position.
type Resolver interface {
	Resolve(rec model.GameRecord, cr position.CutoffRange) (position.Resolved, error)
}

// Predictor runs the pattern predictor and the evaluator on one position.
type Predictor interface {
	Predict(ctx context.Context, res position.Resolved) (model.PredictionAttempt, error)
}

// Config holds the run-level settings.
type Config struct {
	TargetCount   int
	CutoffRange   position.CutoffRange
	FlushInterval int
	Queue         queue.Config
}

// Result is the outcome of Run.
type Result struct {
	RunID     string              `json:"run_id"`
	State     State               `json:"state"`
	Aggregate model.RunAggregate  `json:"aggregate"`
	Failures  map[string]int      `json:"failures,omitempty"`
	Queue     queue.Stats         `json:"queue"`
	Ledger    ledger.Stats        `json:"ledger"`
	Flush     persist.FlushReport `json:"flush"`
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithProgress registers the progress callback.
func WithProgress(fn ProgressFunc) RunnerOption {
	return func(r *Runner) { r.progress = fn }
}

// WithMetrics records run metrics on m.
func WithMetrics(m *metrics.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithSleeper replaces the queue's backoff sleeper.
func WithSleeper(s queue.Sleeper) RunnerOption {
	return func(r *Runner) { r.sleeper = s }
}

// WithRunIDGenerator replaces the UUIDv7 run id generator.
func WithRunIDGenerator(g RunIDGenerator) RunnerOption {
	return func(r *Runner) { r.runIDs = g }
}

// WithNow replaces the wall clock used for aggregate timestamps.
func WithNow(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// WithTerminalFlushTimeout bounds each final or emergency flush attempt.
func WithTerminalFlushTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.terminalTimeout = d }
}

// Runner drives one benchmark run. A Runner is single use.
//
// Thread-safety model:
//   - Run(): must be called from exactly one goroutine, once
//   - Cancel(), State(): safe from any goroutine
type Runner struct {
	store     Store
	fetcher   queue.Fetcher
	resolver  Resolver
	predictor Predictor
	cfg       Config

	progress        ProgressFunc
	metrics         *metrics.Metrics
	sleeper         queue.Sleeper
	runIDs          RunIDGenerator
	now             func() time.Time
	terminalTimeout time.Duration

	state     atomic.Int32
	cancelled atomic.Bool

	mu       sync.Mutex
	cancelFn context.CancelFunc
}

// New creates a Runner.
func New(
	store Store,
	fetcher queue.Fetcher,
	resolver Resolver,
	predictor Predictor,
	cfg Config,
	opts ...RunnerOption,
) *Runner {
	if cfg.FlushInterval < 1 {
		cfg.FlushInterval = 1
	}
	r := &Runner{
		store:     store,
		fetcher:   fetcher,
		resolver:  resolver,
		predictor: predictor,
		cfg:       cfg,
		runIDs:    UUIDv7Generator{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns the current state.
func (r *Runner) State() State {
	return State(r.state.Load())
}

// Cancel requests cooperative cancellation. The record in flight finishes,
// no new record is started, and the final flush still runs.
func (r *Runner) Cancel() {
	r.cancelled.Store(true)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelFn != nil {
		r.cancelFn()
	}
}

func (r *Runner) cancelRequested(ctx context.Context) bool {
	return r.cancelled.Load() || ctx.Err() != nil
}

// run holds the collaborators built for one Run call.
type run struct {
	state     *RunState
	ledger    *ledger.Ledger
	queue     *queue.Controller
	persister *persist.Persister
	clock     *Clock
}

// Run executes the run to a terminal state.
//
// The returned error is nil for Completed and Cancelled, an *ExhaustedError
// for Exhausted and a *RunError for Failed. The Result is always non-nil.
// A panic from a collaborator triggers one emergency flush and is then
// re-panicked.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.mu.Lock()
	r.cancelFn = cancel
	r.mu.Unlock()
	if r.cancelled.Load() {
		cancel()
	}

	startedAt := r.now()
	agg := model.NewRunAggregate(r.runIDs.Generate(), r.cfg.TargetCount, startedAt)
	rs := newRunState(agg)
	r.enter(rs, Initializing, "loading recorded games")

	slog.Info("run starting",
		"run_id", rs.RunID,
		"target", r.cfg.TargetCount,
		"flush_interval", r.cfg.FlushInterval,
		"cutoff_min", r.cfg.CutoffRange.Min,
		"cutoff_max", r.cfg.CutoffRange.Max,
	)

	recorded, err := r.store.LoadRecordedIDs(ctx)
	if err != nil {
		if r.cancelRequested(ctx) {
			r.enter(rs, Cancelled, "cancelled before start")
			return r.result(rs, nil), nil
		}
		r.enter(rs, Failed, "result store unavailable")
		return r.result(rs, nil), &RunError{Code: ErrCodeStoreUnavailable, RunID: rs.RunID, Message: "load recorded games", Err: err}
	}

	led := ledger.New(recorded)
	rn := &run{
		state:  rs,
		ledger: led,
		clock:  NewClock(),
		queue: queue.New(r.fetcher, led, r.cfg.Queue,
			r.queueOptions()...,
		),
		persister: persist.New(r.store, r.cfg.FlushInterval,
			persist.WithOnPersisted(func(ids []string) { led.MarkPersisted(ids...) }),
			persist.WithFlushHook(r.metrics.ObserveFlush),
			persist.WithTerminalTimeout(r.terminalTimeout),
		),
	}
	slog.Debug("exclusion ledger loaded", "run_id", rs.RunID, "persisted", len(recorded))

	if err := r.store.UpsertRunAggregate(context.WithoutCancel(ctx), rs.Aggregate); err != nil {
		r.enter(rs, Failed, "result store unavailable")
		return r.result(rs, nil), &RunError{Code: ErrCodeStoreUnavailable, RunID: rs.RunID, Message: "record run", Err: err}
	}

	panicked := true
	defer func() {
		if !panicked {
			return
		}
		rec := recover()
		rs.Phase = Failed
		r.state.Store(int32(Failed))
		rs.Aggregate.Status = model.RunStatusFailed
		rs.Aggregate.UpdatedAt = r.now()
		report := rn.persister.EmergencyFlush(ctx, rs.Aggregate)
		r.metrics.ObserveLost(report.Lost)
		slog.Error("run panicked",
			"run_id", rs.RunID,
			"completed", rs.Aggregate.CompletedCount,
			"flushed", report.Written,
			"lost", report.Lost,
			"panic", fmt.Sprint(rec),
		)
		if rec != nil {
			panic(rec)
		}
	}()

	runErr := r.loop(ctx, rn)
	panicked = false

	return r.finish(ctx, rn, runErr)
}

func (r *Runner) queueOptions() []queue.Option {
	opts := []queue.Option{queue.WithRefillHook(r.metrics.ObserveRefill)}
	if r.sleeper != nil {
		opts = append(opts, queue.WithSleeper(r.sleeper))
	}
	return opts
}

// loop runs FetchingFirstBatch and Looping and leaves rs.Phase terminal.
func (r *Runner) loop(ctx context.Context, rn *run) error {
	rs := rn.state

	r.enter(rs, FetchingFirstBatch, "fetching first batch")
	if err := rn.queue.Fill(ctx); err != nil {
		return r.stop(ctx, rn, err, ErrCodeFirstBatchEmpty)
	}

	r.enter(rs, Looping, "")
	for !rs.TargetReached() {
		if r.cancelRequested(ctx) {
			r.enter(rs, Cancelled, "cancelled")
			return nil
		}

		rec, err := rn.queue.Next(ctx)
		if err != nil {
			return r.stop(ctx, rn, err, ErrCodeQueueExhausted)
		}
		rs.Drawn++
		seq := rn.clock.Next()
		r.metrics.SetBacklog(rn.queue.Stats().Backlog)

		r.process(ctx, rn, rec, seq)
	}

	r.enter(rs, Completed, "target reached")
	return nil
}

// stop maps a queue error to a terminal state.
func (r *Runner) stop(ctx context.Context, rn *run, err error, code ErrorCode) error {
	rs := rn.state
	switch {
	case r.cancelRequested(ctx):
		r.enter(rs, Cancelled, "cancelled")
		return nil
	case errors.Is(err, queue.ErrExhausted):
		stats := rn.queue.Stats()
		r.enter(rs, Exhausted, fmt.Sprintf("no fresh records (%s)", stats.Reason))
		return &ExhaustedError{
			Code:      code,
			RunID:     rs.RunID,
			Completed: rs.Aggregate.CompletedCount,
			Target:    rs.Aggregate.TargetCount,
			Reason:    stats.Reason,
		}
	default:
		r.enter(rs, Failed, err.Error())
		return &RunError{Code: ErrCodeQueueFailed, RunID: rs.RunID, Message: "queue refill", Err: err}
	}
}

// process drives one record through resolve, predict and bookkeeping.
// Every error here is per-record: the record is blacklisted and the loop
// continues.
func (r *Runner) process(ctx context.Context, rn *run, rec model.GameRecord, seq int64) {
	rs := rn.state

	if !rec.Outcome.Known() {
		r.fail(rn, rec, model.NewMalformedRecordError(rec.ID, "no recorded result", nil))
		return
	}

	res, err := r.resolver.Resolve(rec, r.cfg.CutoffRange)
	if err != nil {
		r.fail(rn, rec, err)
		return
	}

	start := time.Now()
	attempt, err := r.predictor.Predict(ctx, res)
	r.metrics.ObserveEvaluation(time.Since(start).Seconds())
	if err != nil {
		r.fail(rn, rec, err)
		return
	}

	attempt.RunID = rs.RunID
	attempt.Seq = seq
	attempt.GameID = rec.ID
	attempt.Source = rec.Source
	attempt.Score(rec.Outcome)

	if !rn.ledger.MarkPredicted(rec.ID) {
		slog.Warn("record already classified, dropping prediction",
			"game_id", rec.ID,
			"classification", rn.ledger.Classification(rec.ID).String(),
		)
		return
	}
	rs.Aggregate.Record(attempt)
	rs.Aggregate.UpdatedAt = r.now()
	rn.persister.Add(attempt)
	r.metrics.ObservePrediction(attempt)

	slog.Debug("record predicted",
		"game_id", rec.ID,
		"seq", seq,
		"cutoff_move", attempt.CutoffMove,
		"pattern", attempt.PatternPrediction.String(),
		"evaluator", attempt.EvaluatorPrediction.String(),
		"actual", attempt.ActualOutcome.String(),
	)

	if rn.persister.ShouldFlush(rs.Aggregate.CompletedCount) {
		// A failed periodic flush keeps its attempts buffered for the next one.
		_ = rn.persister.Flush(context.WithoutCancel(ctx), rs.Aggregate)
	}
	r.reportRecord(rs, rec.ID, "", fmt.Sprintf("predicted %s", rec.ID))
}

// fail blacklists rec for the rest of the run.
func (r *Runner) fail(rn *run, rec model.GameRecord, err error) {
	rs := rn.state
	code, ok := model.RecordErrorCodeOf(err)
	if !ok {
		code = model.ErrCodeEvaluatorError
	}
	if !rn.ledger.MarkFailed(rec.ID) {
		slog.Warn("record already classified, ignoring failure",
			"game_id", rec.ID,
			"error", err,
		)
		return
	}
	rs.Failures[code]++
	rs.Aggregate.RecordFailure()
	rs.Aggregate.UpdatedAt = r.now()
	r.metrics.ObserveFailure(strings.ToLower(string(code)))

	slog.Warn("record skipped",
		"game_id", rec.ID,
		"source", string(rec.Source),
		"code", string(code),
		"error", err,
	)
	r.reportRecord(rs, rec.ID, code, fmt.Sprintf("skipped %s (%s)", rec.ID, code))
}

// finish performs the final flush and builds the result.
func (r *Runner) finish(ctx context.Context, rn *run, runErr error) (*Result, error) {
	rs := rn.state
	rs.Aggregate.Status = rs.Phase.RunStatus()
	rs.Aggregate.UpdatedAt = r.now()

	report := rn.persister.FinalFlush(ctx, rs.Aggregate)
	r.metrics.ObserveLost(report.Lost)

	res := r.result(rs, rn)
	res.Flush = report

	slog.Info("run finished",
		"run_id", rs.RunID,
		"state", rs.Phase.String(),
		"completed", rs.Aggregate.CompletedCount,
		"failed", rs.Aggregate.FailedCount,
		"target", rs.Aggregate.TargetCount,
		"pattern_accuracy", rs.Aggregate.PatternAccuracy,
		"evaluator_accuracy", rs.Aggregate.EvaluatorAccuracy,
		"lost", report.Lost,
	)
	return res, runErr
}

func (r *Runner) result(rs *RunState, rn *run) *Result {
	res := &Result{
		RunID:     rs.RunID,
		State:     rs.Phase,
		Aggregate: rs.Aggregate,
		Failures:  rs.failureCounts(),
	}
	if rs.Phase.Terminal() {
		res.Aggregate.Status = rs.Phase.RunStatus()
	}
	if rn != nil {
		res.Queue = rn.queue.Stats()
		res.Ledger = rn.ledger.Stats()
	}
	return res
}

// enter moves the run to state s and reports progress.
func (r *Runner) enter(rs *RunState, s State, msg string) {
	rs.Phase = s
	r.state.Store(int32(s))
	slog.Debug("run state", "run_id", rs.RunID, "state", s.String())
	r.report(rs, msg)
}

func (r *Runner) report(rs *RunState, msg string) {
	r.reportRecord(rs, "", "", msg)
}

func (r *Runner) reportRecord(rs *RunState, gameID string, failure model.RecordErrorCode, msg string) {
	if r.progress == nil {
		return
	}
	r.progress(Progress{
		Completed: rs.Aggregate.CompletedCount,
		Target:    rs.Aggregate.TargetCount,
		Phase:     rs.Phase,
		Message:   msg,
		GameID:    gameID,
		Failure:   failure,
	})
}
