package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/chessbench/internal/model"
)

var testTime = time.Date(2026, 3, 14, 15, 9, 26, 535000000, time.UTC)

// createTestStore creates a new store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRun writes a fresh aggregate so attempts can reference runID.
func createTestRun(t *testing.T, s *Store, runID string) model.RunAggregate {
	t.Helper()
	agg := model.NewRunAggregate(runID, 10, testTime)
	require.NoError(t, s.UpsertRunAggregate(context.Background(), agg))
	return agg
}

// createTestAttempt creates a scored attempt with minimal required fields.
func createTestAttempt(runID, gameID string, seq int64) model.PredictionAttempt {
	a := model.PredictionAttempt{
		RunID:                 runID,
		Seq:                   seq,
		GameID:                gameID,
		Source:                model.SourceLichess,
		PositionFEN:           "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1",
		CutoffMove:            12,
		PatternPrediction:     model.OutcomeWhiteWin,
		PatternConfidence:     62,
		PatternArchetype:      "balanced",
		EvaluatorPrediction:   model.OutcomeDraw,
		EvaluatorConfidence:   88,
		EvaluatorScore:        12,
		EvaluatorDepthReached: 12,
	}
	a.Score(model.OutcomeWhiteWin)
	return a
}
