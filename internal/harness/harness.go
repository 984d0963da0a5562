package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/roach88/chessbench/internal/engine"
	"github.com/roach88/chessbench/internal/model"
	"github.com/roach88/chessbench/internal/position"
	"github.com/roach88/chessbench/internal/predict"
	"github.com/roach88/chessbench/internal/queue"
	"github.com/roach88/chessbench/internal/source"
	"github.com/roach88/chessbench/internal/testutil"
)

// malformedMoveText fails replay on the third ply.
const malformedMoveText = "e4 e5 Ke3 Nc6"

// recordedRunID owns the attempts seeded from Scenario.Recorded.
const recordedRunID = "recorded"

// Harness is the test execution engine.
// It runs scenarios with a stepping clock, a recording sleeper and a fixed
// run id.
type Harness struct {
	logger *slog.Logger
	start  time.Time
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the harness logger. Defaults to discarding output.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// New creates a Harness.
func New(opts ...Option) *Harness {
	h := &Harness{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		start:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run executes a scenario with a default harness.
func Run(scenario *Scenario) (*Result, error) {
	return New().Run(context.Background(), scenario)
}

// Run executes a test scenario and returns the result.
//
// Execution flow:
// 1. Seed an in-memory store with the scenario's recorded games
// 2. Build scripted sources and evaluator
// 3. Run the controller to a terminal state, tracing side effects
// 4. Check the expect clause and evaluate assertions
//
// The returned error covers harness failures only; a run that ends
// differently than expected is reported through Result.Errors.
func (h *Harness) Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	cfg := scenario.Config.withDefaults()
	runID := "scenario-" + scenario.Name
	tr := &tracer{}

	mem := testutil.NewMemoryStore()
	for _, id := range scenario.Recorded {
		if err := mem.UpsertAttempt(ctx, model.PredictionAttempt{RunID: recordedRunID, GameID: id}); err != nil {
			return nil, fmt.Errorf("failed to seed recorded game %s: %w", id, err)
		}
	}

	games := newGameBook(scenario)
	sources := make([]source.Source, len(scenario.Sources))
	for i, script := range scenario.Sources {
		sources[i] = games.source(script)
	}

	sleeper := &tracingSleeper{tracer: tr}
	progress := &progressTracer{tracer: tr}
	runner := engine.New(
		&tracingStore{MemoryStore: mem, tracer: tr},
		&tracingFetcher{fetcher: source.NewMultiplexer(sources...), tracer: tr},
		position.NewResolver(rand.New(rand.NewSource(7)), position.Options{MinMoves: 10, MaxFraction: 0.6}),
		predict.New(predict.NewHeuristic(), newScriptedEvaluator(scenario.Evaluator), predict.Config{
			Depth:    8,
			Timeout:  time.Second,
			DrawBand: predict.DefaultDrawBand,
		}),
		engine.Config{
			TargetCount:   cfg.Target,
			CutoffRange:   position.CutoffRange{Min: cfg.CutoffMin, Max: cfg.CutoffMax},
			FlushInterval: cfg.FlushInterval,
			Queue: queue.Config{
				BatchSize:       cfg.BatchSize,
				MaxEmptyBatches: cfg.MaxEmptyBatches,
				MaxRefills:      cfg.MaxRefills,
				BackoffBase:     cfg.BackoffBase,
				BackoffMax:      cfg.BackoffMax,
			},
		},
		engine.WithSleeper(sleeper),
		engine.WithRunIDGenerator(testutil.NewFixedRunIDGenerator(runID)),
		engine.WithNow(testutil.NewSteppingClock(h.start, time.Second).Now),
		engine.WithProgress(progress.observe),
	)

	h.logger.Debug("scenario starting", "scenario", scenario.Name, "run_id", runID)
	runResult, runErr := runner.Run(ctx)

	result := NewResult()
	result.Trace = tr.events()
	result.Run = runResult
	result.RunErr = runErr
	result.StoredIDs = storedIDs(mem, runID)
	if agg, ok := mem.Aggregate(runID); ok {
		fields, err := aggregateFields(agg)
		if err != nil {
			return nil, err
		}
		result.Aggregate = fields
	}

	h.checkExpect(scenario.Expect, result)
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, sleeper.waits()) {
		result.AddError(errMsg)
	}

	h.logger.Debug("scenario finished",
		"scenario", scenario.Name,
		"state", runResult.State.String(),
		"events", len(result.Trace),
		"pass", result.Pass,
	)
	return result, nil
}

func (h *Harness) checkExpect(expect ExpectClause, result *Result) {
	if got := result.Run.State.String(); got != expect.State {
		result.AddError(fmt.Sprintf("expected state %s, got %s", expect.State, got))
	}
	if got := errorCode(result.RunErr); got != expect.ErrorCode {
		result.AddError(fmt.Sprintf("expected error code %q, got %q (%v)", expect.ErrorCode, got, result.RunErr))
	}
}

// errorCode extracts the run error code, or "" for a nil error.
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	var ee *engine.ExhaustedError
	if errors.As(err, &ee) {
		return string(ee.Code)
	}
	var re *engine.RunError
	if errors.As(err, &re) {
		return string(re.Code)
	}
	return "UNKNOWN"
}

func storedIDs(mem *testutil.MemoryStore, runID string) []string {
	out := []string{}
	for _, a := range mem.Attempts() {
		if a.RunID == runID {
			out = append(out, a.GameID)
		}
	}
	return out
}

// aggregateFields flattens agg to its JSON field names.
func aggregateFields(agg model.RunAggregate) (map[string]any, error) {
	data, err := json.Marshal(agg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode aggregate: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode aggregate: %w", err)
	}
	return fields, nil
}

// gameBook builds fixture records by id.
type gameBook struct {
	outcomes  map[string]model.Outcome
	malformed map[string]bool
}

func newGameBook(s *Scenario) *gameBook {
	b := &gameBook{
		outcomes:  make(map[string]model.Outcome, len(s.Outcomes)),
		malformed: make(map[string]bool, len(s.Malformed)),
	}
	for id, token := range s.Outcomes {
		// validated when the scenario was parsed
		b.outcomes[id], _ = model.ParseOutcome(token)
	}
	for _, id := range s.Malformed {
		b.malformed[id] = true
	}
	return b
}

func (b *gameBook) game(id string) model.GameRecord {
	outcome, ok := b.outcomes[id]
	if !ok {
		outcome = model.OutcomeWhiteWin
	}
	rec := testutil.Game(id, outcome)
	if b.malformed[id] {
		rec.MoveText = malformedMoveText
	}
	return rec
}

func (b *gameBook) source(script SourceScript) *testutil.StubSource {
	stub := &testutil.StubSource{
		SourceName:    script.Name,
		Batches:       make([][]model.GameRecord, len(script.Batches)),
		IgnoreExclude: script.IgnoreExclude,
	}
	for i, ids := range script.Batches {
		for _, id := range ids {
			stub.Batches[i] = append(stub.Batches[i], b.game(id))
		}
	}
	if len(script.Errors) > 0 {
		stub.Errs = make(map[int]error, len(script.Errors))
		for call, msg := range script.Errors {
			stub.Errs[call] = errors.New(msg)
		}
	}
	return stub
}

// scriptedEvaluator returns a clear white advantage unless the call is
// scripted to fail.
type scriptedEvaluator struct {
	mu       sync.Mutex
	calls    int
	failures map[int]string
}

func newScriptedEvaluator(script EvaluatorScript) *scriptedEvaluator {
	return &scriptedEvaluator{failures: script.Failures}
}

func (e *scriptedEvaluator) Evaluate(_ context.Context, _ string, opts predict.EvalOptions) (predict.Evaluation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	switch e.failures[e.calls] {
	case FailTimeout:
		return predict.Evaluation{}, context.DeadlineExceeded
	case FailError:
		return predict.Evaluation{}, fmt.Errorf("scripted failure on call %d", e.calls)
	}
	return predict.Evaluation{Score: 400, DepthReached: opts.Depth}, nil
}
