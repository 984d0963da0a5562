package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chessbench/internal/metrics"
	"github.com/roach88/chessbench/internal/model"
	"github.com/roach88/chessbench/internal/position"
	"github.com/roach88/chessbench/internal/predict"
	"github.com/roach88/chessbench/internal/queue"
	"github.com/roach88/chessbench/internal/source"
	"github.com/roach88/chessbench/internal/store"
	tu "github.com/roach88/chessbench/internal/testutil"
)

// scriptedEvaluator succeeds with a clear white advantage unless call n
// (1-based) is scripted to fail or to panic.
type scriptedEvaluator struct {
	mu      sync.Mutex
	calls   int
	fail    map[int]error
	panicOn int
}

func (e *scriptedEvaluator) Evaluate(_ context.Context, _ string, opts predict.EvalOptions) (predict.Evaluation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.calls == e.panicOn {
		panic(fmt.Sprintf("evaluator blew up on call %d", e.calls))
	}
	if err, ok := e.fail[e.calls]; ok {
		return predict.Evaluation{}, err
	}
	return predict.Evaluation{Score: 400, DepthReached: opts.Depth}, nil
}

func (e *scriptedEvaluator) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func whitePattern() predict.PatternFunc {
	return func([]string) predict.PatternResult {
		return predict.PatternResult{Outcome: model.OutcomeWhiteWin, Archetype: predict.ArchetypeBalanced, Confidence: 60}
	}
}

func testConfig(target int) Config {
	return Config{
		TargetCount:   target,
		CutoffRange:   position.CutoffRange{Min: 5, Max: 8},
		FlushInterval: 2,
		Queue: queue.Config{
			BatchSize:       10,
			MaxEmptyBatches: 3,
			MaxRefills:      50,
			BackoffBase:     time.Second,
			BackoffMax:      30 * time.Second,
		},
	}
}

type fixture struct {
	store     Store
	sources   []source.Source
	evaluator *scriptedEvaluator
	pattern   predict.PatternPredictor
	sleeper   *tu.RecordingSleeper
	runID     string
	cfg       Config
	opts      []RunnerOption
}

func newFixture(t *testing.T, target int, batches ...[]model.GameRecord) *fixture {
	t.Helper()
	return &fixture{
		store:     tu.NewMemoryStore(),
		sources:   []source.Source{tu.NewStubSource(batches...)},
		evaluator: &scriptedEvaluator{fail: map[int]error{}},
		pattern:   whitePattern(),
		sleeper:   &tu.RecordingSleeper{},
		runID:     "run-1",
		cfg:       testConfig(target),
	}
}

func (f *fixture) runner() *Runner {
	resolver := position.NewResolver(rand.New(rand.NewSource(7)), position.Options{MinMoves: 10, MaxFraction: 0.6})
	predictor := predict.New(f.pattern, f.evaluator, predict.Config{Depth: 8, Timeout: time.Second})
	opts := append([]RunnerOption{
		WithSleeper(f.sleeper),
		WithRunIDGenerator(tu.NewFixedRunIDGenerator(f.runID)),
		WithNow(tu.NewSteppingClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), time.Second).Now),
	}, f.opts...)
	return New(f.store, source.NewMultiplexer(f.sources...), resolver, predictor, f.cfg, opts...)
}

func (f *fixture) memory(t *testing.T) *tu.MemoryStore {
	t.Helper()
	ms, ok := f.store.(*tu.MemoryStore)
	require.True(t, ok)
	return ms
}

func seedPersisted(t *testing.T, s persistSeeder, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, s.UpsertAttempt(context.Background(), model.PredictionAttempt{RunID: "earlier", GameID: id}))
	}
}

type persistSeeder interface {
	UpsertAttempt(ctx context.Context, a model.PredictionAttempt) error
}

func attemptIDs(attempts []model.PredictionAttempt, runID string) []string {
	var out []string
	for _, a := range attempts {
		if a.RunID == runID {
			out = append(out, a.GameID)
		}
	}
	return out
}

func TestRun_ScenarioA_SkipsPersistedRecords(t *testing.T) {
	recs := tu.Games("g", 5)
	f := newFixture(t, 3, recs)
	f.sources = []source.Source{&tu.StubSource{SourceName: "stub", Batches: [][]model.GameRecord{recs}, IgnoreExclude: true}}
	ms := f.memory(t)
	seedPersisted(t, ms, "g-2", "g-4")

	res, err := f.runner().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Completed, res.State)
	assert.Equal(t, 3, res.Aggregate.CompletedCount)
	assert.Equal(t, model.RunStatusCompleted, res.Aggregate.Status)
	assert.Equal(t, []string{"g-1", "g-3", "g-5"}, attemptIDs(ms.Attempts(), "run-1"))
	assert.Equal(t, 3, f.evaluator.Calls())

	agg, ok := ms.Aggregate("run-1")
	require.True(t, ok)
	assert.Equal(t, 3, agg.CompletedCount)
	assert.Equal(t, model.RunStatusCompleted, agg.Status)
}

func TestRun_ScenarioB_TimeoutIsBlacklistedAndLoopContinues(t *testing.T) {
	f := newFixture(t, 3, tu.Games("g", 4))
	f.evaluator.fail[2] = context.DeadlineExceeded

	res, err := f.runner().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Completed, res.State)
	assert.Equal(t, 3, res.Aggregate.CompletedCount)
	assert.Equal(t, 1, res.Aggregate.FailedCount)
	assert.Equal(t, map[string]int{string(model.ErrCodeEvaluatorTimeout): 1}, res.Failures)
	assert.Equal(t, []string{"g-1", "g-3", "g-4"}, attemptIDs(f.memory(t).Attempts(), "run-1"))
	assert.Equal(t, 1, res.Ledger.Failed)
	assert.Equal(t, 3, res.Ledger.Predicted)
}

func TestRun_ScenarioC_EmptySourceExhausts(t *testing.T) {
	f := newFixture(t, 3)

	res, err := f.runner().Run(context.Background())
	require.Error(t, err)

	assert.True(t, IsExhausted(err))
	assert.True(t, IsFirstBatchEmpty(err))
	assert.True(t, errors.Is(err, queue.ErrExhausted))
	assert.Equal(t, Exhausted, res.State)
	assert.Less(t, res.Aggregate.CompletedCount, res.Aggregate.TargetCount)
	assert.Equal(t, queue.ReasonEmptyStreak, res.Queue.Reason)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, f.sleeper.Waits())

	// the final flush still records the run's terminal status
	agg, ok := f.memory(t).Aggregate("run-1")
	require.True(t, ok)
	assert.Equal(t, model.RunStatusExhausted, agg.Status)
	assert.False(t, res.Flush.Skipped)
}

func TestRun_ExhaustedAfterPartialProgress(t *testing.T) {
	f := newFixture(t, 5, tu.Games("g", 2))

	res, err := f.runner().Run(context.Background())
	require.Error(t, err)

	var ee *ExhaustedError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, ErrCodeQueueExhausted, ee.Code)
	assert.Equal(t, 2, ee.Completed)
	assert.Equal(t, 5, ee.Target)

	assert.Equal(t, Exhausted, res.State)
	assert.Equal(t, []string{"g-1", "g-2"}, attemptIDs(f.memory(t).Attempts(), "run-1"))
	assert.Equal(t, 0, res.Flush.Lost)
}

func TestRun_DedupAcrossRuns(t *testing.T) {
	recs := tu.Games("g", 6)
	ms := tu.NewMemoryStore()

	first := newFixture(t, 3, recs)
	first.store = ms
	_, err := first.runner().Run(context.Background())
	require.NoError(t, err)

	second := newFixture(t, 3, recs)
	second.store = ms
	second.runID = "run-2"
	_, err = second.runner().Run(context.Background())
	require.NoError(t, err)

	firstIDs := attemptIDs(ms.Attempts(), "run-1")
	secondIDs := attemptIDs(ms.Attempts(), "run-2")
	assert.Equal(t, []string{"g-1", "g-2", "g-3"}, firstIDs)
	assert.Equal(t, []string{"g-4", "g-5", "g-6"}, secondIDs)

	highest, _ := ms.MaxUpserts()
	assert.Equal(t, 1, highest, "no game id may be written twice")
}

func TestRun_DedupAcrossRuns_SQLite(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "bench.db"))
	require.NoError(t, err)
	defer s.Close()

	recs := tu.Games("g", 4)
	for i, runID := range []string{"run-1", "run-2"} {
		f := newFixture(t, 2, recs)
		f.store = s
		f.runID = runID
		res, err := f.runner().Run(context.Background())
		require.NoError(t, err, "run %d", i+1)
		assert.Equal(t, Completed, res.State)
	}

	ctx := context.Background()
	first, err := s.ReadAttempts(ctx, "run-1")
	require.NoError(t, err)
	second, err := s.ReadAttempts(ctx, "run-2")
	require.NoError(t, err)

	assert.Equal(t, []string{"g-1", "g-2"}, attemptIDs(first, "run-1"))
	assert.Equal(t, []string{"g-3", "g-4"}, attemptIDs(second, "run-2"))

	agg, err := s.ReadRun(ctx, "run-2")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, agg.Status)
	assert.Equal(t, 2, agg.CompletedCount)
}

func TestRun_AttemptsInDrawOrderWithIncreasingSeq(t *testing.T) {
	f := newFixture(t, 4, tu.Games("g", 5))
	f.evaluator.fail[2] = errors.New("engine crashed")

	_, err := f.runner().Run(context.Background())
	require.NoError(t, err)

	attempts := f.memory(t).Attempts()
	require.Len(t, attempts, 4)
	for i := 1; i < len(attempts); i++ {
		assert.Greater(t, attempts[i].Seq, attempts[i-1].Seq)
	}
	assert.Equal(t, int64(1), attempts[0].Seq)
	assert.Equal(t, int64(3), attempts[1].Seq, "the failed draw consumes seq 2")
	for _, a := range attempts {
		assert.Equal(t, "run-1", a.RunID)
		assert.Equal(t, model.OutcomeWhiteWin, a.ActualOutcome)
		assert.True(t, a.PatternCorrect)
		assert.True(t, a.EvaluatorCorrect)
		assert.Equal(t, model.SourcePGNFile, a.Source)
	}
}

func TestRun_EvaluatorPanicBlacklistsRecordAndContinues(t *testing.T) {
	f := newFixture(t, 3, tu.Games("g", 4))
	f.evaluator.panicOn = 2

	res, err := f.runner().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Completed, res.State)
	assert.Equal(t, 3, res.Aggregate.CompletedCount)
	assert.Equal(t, 1, res.Aggregate.FailedCount)
	assert.Equal(t, map[string]int{string(model.ErrCodeEvaluatorError): 1}, res.Failures)
	assert.Equal(t, []string{"g-1", "g-3", "g-4"}, attemptIDs(f.memory(t).Attempts(), "run-1"))
}

func TestRun_MalformedAndUnknownOutcomeAreBlacklisted(t *testing.T) {
	batch := []model.GameRecord{
		{ID: "bad-moves", Source: model.SourcePGNFile, MoveText: "e4 e5 Ke7", Outcome: model.OutcomeDraw},
		tu.Game("no-result", model.OutcomeUnknown),
		tu.Game("good-1", model.OutcomeBlackWin),
		tu.Game("good-2", model.OutcomeWhiteWin),
	}
	f := newFixture(t, 2, batch)

	res, err := f.runner().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[string]int{string(model.ErrCodeMalformedRecord): 2}, res.Failures)
	assert.Equal(t, 2, res.Aggregate.FailedCount)
	assert.Equal(t, []string{"good-1", "good-2"}, attemptIDs(f.memory(t).Attempts(), "run-1"))
	assert.Equal(t, 2, f.evaluator.Calls(), "malformed records never reach the evaluator")

	attempts := f.memory(t).Attempts()
	assert.False(t, attempts[0].EvaluatorCorrect, "black won good-1")
	assert.Equal(t, 1, res.Aggregate.EvaluatorCorrectCount)
}

func TestRun_CrashSafetyBound(t *testing.T) {
	f := newFixture(t, 7, tu.Games("g", 8))
	f.cfg.FlushInterval = 3
	ms := f.memory(t)

	var checked int
	f.opts = append(f.opts, WithProgress(func(p Progress) {
		if p.Phase != Looping || p.Completed == 0 {
			return
		}
		stored := len(ms.StoredIDs())
		assert.LessOrEqual(t, p.Completed-stored, f.cfg.FlushInterval-1,
			"completed=%d stored=%d", p.Completed, stored)
		if p.Completed%f.cfg.FlushInterval == 0 {
			assert.Equal(t, p.Completed, stored)
		}
		checked++
	}))

	res, err := f.runner().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, checked)
	assert.Len(t, ms.StoredIDs(), res.Aggregate.CompletedCount)
}

func TestRun_PeriodicFlushFailureRetriedNextCycle(t *testing.T) {
	f := newFixture(t, 4, tu.Games("g", 4))
	ms := f.memory(t)
	failures := 1
	ms.FailAttempt = func(model.PredictionAttempt) error {
		if failures > 0 {
			failures--
			return errors.New("database is locked")
		}
		return nil
	}

	res, err := f.runner().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Completed, res.State)
	assert.Equal(t, []string{"g-1", "g-2", "g-3", "g-4"}, attemptIDs(ms.Attempts(), "run-1"))
	assert.Equal(t, 0, res.Flush.Lost)
}

func TestRun_TerminalFlushFailureKeepsOutcome(t *testing.T) {
	f := newFixture(t, 3, tu.Games("g", 3))
	f.cfg.FlushInterval = 10
	ms := f.memory(t)
	ms.FailAttempt = func(model.PredictionAttempt) error { return errors.New("disk full") }

	res, err := f.runner().Run(context.Background())
	require.NoError(t, err, "a store failure never replaces the run outcome")

	assert.Equal(t, Completed, res.State)
	assert.Equal(t, 3, res.Flush.Lost)
	assert.True(t, res.Flush.Retried)
	assert.Error(t, res.Flush.Err)
}

func TestRun_CancelStopsBeforeNextRecord(t *testing.T) {
	f := newFixture(t, 5, tu.Games("g", 5))
	var r *Runner
	f.opts = append(f.opts, WithProgress(func(p Progress) {
		if p.Phase == Looping && p.Completed == 1 {
			r.Cancel()
		}
	}))
	r = f.runner()

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Cancelled, res.State)
	assert.Equal(t, Cancelled, r.State())
	assert.Equal(t, 1, res.Aggregate.CompletedCount)
	assert.Equal(t, 1, f.evaluator.Calls())
	assert.Equal(t, []string{"g-1"}, attemptIDs(f.memory(t).Attempts(), "run-1"), "final flush captures completed work")

	agg, ok := f.memory(t).Aggregate("run-1")
	require.True(t, ok)
	assert.Equal(t, model.RunStatusCancelled, agg.Status)
}

func TestRun_CancelDuringBackoff(t *testing.T) {
	f := newFixture(t, 3, tu.Games("g", 1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.sleeper.OnSleep = func(int, time.Duration) { cancel() }

	res, err := f.runner().Run(ctx)
	require.NoError(t, err, "cancellation is not exhaustion")

	assert.Equal(t, Cancelled, res.State)
	assert.Equal(t, 1, res.Aggregate.CompletedCount)
	assert.Len(t, f.sleeper.Waits(), 1)
	assert.Len(t, f.memory(t).StoredIDs(), 1)
}

func TestRun_CancelBeforeStart(t *testing.T) {
	f := newFixture(t, 3, tu.Games("g", 3))
	r := f.runner()
	r.Cancel()

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Cancelled, res.State)
	assert.Equal(t, 0, f.evaluator.Calls())
}

func TestRun_PatternPanicTriggersEmergencyFlush(t *testing.T) {
	f := newFixture(t, 5, tu.Games("g", 5))
	f.cfg.FlushInterval = 10
	calls := 0
	f.pattern = predict.PatternFunc(func(prefix []string) predict.PatternResult {
		calls++
		if calls == 3 {
			panic("pattern invariant violated")
		}
		return whitePattern()(prefix)
	})
	r := f.runner()

	assert.PanicsWithValue(t, "pattern invariant violated", func() {
		_, _ = r.Run(context.Background())
	})

	ms := f.memory(t)
	assert.Equal(t, []string{"g-1", "g-2"}, attemptIDs(ms.Attempts(), "run-1"))
	agg, ok := ms.Aggregate("run-1")
	require.True(t, ok)
	assert.Equal(t, model.RunStatusFailed, agg.Status)
	assert.Equal(t, Failed, r.State())
}

type brokenStore struct {
	*tu.MemoryStore
}

func (brokenStore) LoadRecordedIDs(context.Context) (map[string]struct{}, error) {
	return nil, errors.New("unable to open database file")
}

func TestRun_StoreUnavailable(t *testing.T) {
	f := newFixture(t, 3, tu.Games("g", 3))
	f.store = brokenStore{tu.NewMemoryStore()}

	res, err := f.runner().Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsStoreUnavailable(err))
	assert.Equal(t, Failed, res.State)
	assert.Equal(t, 0, f.evaluator.Calls())
}

func TestRun_ProgressPhases(t *testing.T) {
	f := newFixture(t, 2, tu.Games("g", 2))
	var phases []State
	f.opts = append(f.opts, WithProgress(func(p Progress) {
		if len(phases) == 0 || phases[len(phases)-1] != p.Phase {
			phases = append(phases, p.Phase)
		}
		assert.Equal(t, 2, p.Target)
	}))

	_, err := f.runner().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []State{Initializing, FetchingFirstBatch, Looping, Completed}, phases)
}

func TestRun_ProgressRecordEvents(t *testing.T) {
	f := newFixture(t, 2, tu.Games("g", 3))
	f.evaluator.fail[2] = errors.New("engine crashed")
	var records []Progress
	f.opts = append(f.opts, WithProgress(func(p Progress) {
		if p.GameID != "" {
			records = append(records, p)
		}
	}))

	_, err := f.runner().Run(context.Background())
	require.NoError(t, err)

	require.Len(t, records, 3)
	assert.Equal(t, "g-1", records[0].GameID)
	assert.Empty(t, records[0].Failure)
	assert.Equal(t, 1, records[0].Completed)
	assert.Equal(t, "g-2", records[1].GameID)
	assert.Equal(t, model.ErrCodeEvaluatorError, records[1].Failure)
	assert.Equal(t, "g-3", records[2].GameID)
	assert.Equal(t, 2, records[2].Completed)
}

func TestRun_Metrics(t *testing.T) {
	f := newFixture(t, 2, tu.Games("g", 3))
	f.evaluator.fail[1] = context.DeadlineExceeded
	m := metrics.New()
	f.opts = append(f.opts, WithMetrics(m))

	_, err := f.runner().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PredictionsTotal.WithLabelValues("both_correct")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FailuresTotal.WithLabelValues("evaluator_timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FlushesTotal.WithLabelValues("periodic", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FlushesTotal.WithLabelValues("final", "ok")))
}

func TestState_Names(t *testing.T) {
	assert.Equal(t, "fetching_first_batch", FetchingFirstBatch.String())
	assert.Equal(t, "unknown", State(99).String())
	assert.True(t, Exhausted.Terminal())
	assert.False(t, Looping.Terminal())
	assert.Equal(t, model.RunStatusRunning, Looping.RunStatus())
}
