package report

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chessbench/internal/model"
	"github.com/roach88/chessbench/internal/predict"
)

var testStart = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func attempt(id, archetype string, pattern, evaluator, actual model.Outcome) model.PredictionAttempt {
	a := model.PredictionAttempt{
		RunID:               "run-golden",
		GameID:              id,
		PatternArchetype:    archetype,
		PatternPrediction:   pattern,
		EvaluatorPrediction: evaluator,
	}
	a.Score(actual)
	return a
}

func goldenRun() (model.RunAggregate, []model.PredictionAttempt) {
	white, black, draw := model.OutcomeWhiteWin, model.OutcomeBlackWin, model.OutcomeDraw
	attempts := []model.PredictionAttempt{
		attempt("g-1", predict.ArchetypeBalanced, white, white, white),
		attempt("g-2", predict.ArchetypeBalanced, white, black, white),
		attempt("g-3", predict.ArchetypeKingsideAttack, black, white, white),
		attempt("g-4", predict.ArchetypeTacticalMelee, draw, draw, white),
	}

	agg := model.NewRunAggregate("run-golden", 5, testStart)
	for _, a := range attempts {
		agg.Record(a)
	}
	agg.RecordFailure()
	agg.Status = model.RunStatusExhausted
	agg.UpdatedAt = testStart.Add(90 * time.Second)
	return agg, attempts
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestRender_Golden(t *testing.T) {
	agg, attempts := goldenRun()

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, agg, attempts))
	newGoldie(t).Assert(t, "run_report", buf.Bytes())
}

func TestRender_EmptyRun(t *testing.T) {
	agg := model.NewRunAggregate("run-empty", 10, testStart)
	agg.Status = model.RunStatusCancelled

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, agg, nil))
	newGoldie(t).Assert(t, "empty_report", buf.Bytes())
}

func TestRenderRuns_Golden(t *testing.T) {
	a := model.NewRunAggregate("run-a", 4, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	a.Record(attempt("x-1", "", model.OutcomeBlackWin, model.OutcomeWhiteWin, model.OutcomeWhiteWin))
	a.Status = model.RunStatusExhausted

	b := model.NewRunAggregate("run-b", 3, time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC))
	b.Record(attempt("y-1", "", model.OutcomeWhiteWin, model.OutcomeWhiteWin, model.OutcomeWhiteWin))
	b.Record(attempt("y-2", "", model.OutcomeDraw, model.OutcomeDraw, model.OutcomeDraw))
	b.Record(attempt("y-3", "", model.OutcomeWhiteWin, model.OutcomeBlackWin, model.OutcomeBlackWin))
	b.Status = model.RunStatusCompleted

	var buf bytes.Buffer
	require.NoError(t, RenderRuns(&buf, []model.RunAggregate{b, a}))
	newGoldie(t).Assert(t, "runs", buf.Bytes())
}

func TestRenderRuns_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderRuns(&buf, nil))
	assert.Equal(t, "No runs recorded.\n", buf.String())
}

func TestSummarize(t *testing.T) {
	agg, attempts := goldenRun()
	s := Summarize(agg, attempts)

	assert.Equal(t, 4, s.Completed)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.PatternOnly)
	assert.Equal(t, 1, s.EvaluatorOnly)
	require.Len(t, s.Archetypes, 3)
	assert.Equal(t, predict.ArchetypeBalanced, s.Archetypes[0].Archetype)
	assert.Equal(t, 2, s.Archetypes[0].Games)
	assert.InDelta(t, 1.0, s.Archetypes[0].PatternAccuracy, 1e-9)
	assert.InDelta(t, 0.5, s.Archetypes[0].EvaluatorAccuracy, 1e-9)
}

func TestSummarize_UnlabeledArchetype(t *testing.T) {
	agg := model.NewRunAggregate("r", 1, testStart)
	a := attempt("g", "", model.OutcomeDraw, model.OutcomeDraw, model.OutcomeDraw)
	agg.Record(a)

	s := Summarize(agg, []model.PredictionAttempt{a})
	require.Len(t, s.Archetypes, 1)
	assert.Equal(t, "unlabeled", s.Archetypes[0].Archetype)
}

type failingWriter struct{ n int }

func (w *failingWriter) Write(p []byte) (int, error) {
	w.n++
	return 0, errors.New("broken pipe")
}

func TestRender_StopsAtFirstWriteError(t *testing.T) {
	agg, attempts := goldenRun()
	w := &failingWriter{}

	err := Render(w, agg, attempts)
	require.Error(t, err)
	assert.Equal(t, 1, w.n)
}
