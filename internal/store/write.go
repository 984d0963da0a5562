package store

import (
	"context"
	"fmt"

	"github.com/roach88/chessbench/internal/model"
)

// UpsertAttempt records a scored game.
// Uses ON CONFLICT(game_id) DO NOTHING for idempotency - a game already
// recorded by this or any earlier run is silently left as is.
// Other constraint violations (e.g., an unknown run_id) still return errors.
func (s *Store) UpsertAttempt(ctx context.Context, a model.PredictionAttempt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prediction_attempts
		(game_id, run_id, seq, source, position_fen, cutoff_move,
		 pattern_prediction, pattern_confidence, pattern_archetype,
		 evaluator_prediction, evaluator_confidence, evaluator_score, evaluator_mate_in, evaluator_depth_reached,
		 actual_outcome, pattern_correct, evaluator_correct)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(game_id) DO NOTHING
	`,
		a.GameID,
		a.RunID,
		a.Seq,
		string(a.Source),
		a.PositionFEN,
		a.CutoffMove,
		formatOutcome(a.PatternPrediction),
		a.PatternConfidence,
		a.PatternArchetype,
		formatOutcome(a.EvaluatorPrediction),
		a.EvaluatorConfidence,
		a.EvaluatorScore,
		a.EvaluatorMateIn,
		a.EvaluatorDepthReached,
		formatOutcome(a.ActualOutcome),
		boolToInt(a.PatternCorrect),
		boolToInt(a.EvaluatorCorrect),
	)
	if err != nil {
		return fmt.Errorf("write attempt %s: %w", a.GameID, err)
	}
	return nil
}

// UpsertRunAggregate creates or updates the aggregate row for agg.RunID.
//
// Updates are monotonic: a write whose completed_count is lower than the
// stored one is ignored, so a late or retried flush of an older aggregate
// can never roll the row back. started_at is fixed by the first write.
func (s *Store) UpsertRunAggregate(ctx context.Context, agg model.RunAggregate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO benchmark_runs
		(run_id, status, target_count, completed_count, failed_count,
		 pattern_correct_count, evaluator_correct_count, both_correct_count, both_wrong_count, agreement_count,
		 pattern_accuracy, evaluator_accuracy, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status                  = excluded.status,
			target_count            = excluded.target_count,
			completed_count         = excluded.completed_count,
			failed_count            = excluded.failed_count,
			pattern_correct_count   = excluded.pattern_correct_count,
			evaluator_correct_count = excluded.evaluator_correct_count,
			both_correct_count      = excluded.both_correct_count,
			both_wrong_count        = excluded.both_wrong_count,
			agreement_count         = excluded.agreement_count,
			pattern_accuracy        = excluded.pattern_accuracy,
			evaluator_accuracy      = excluded.evaluator_accuracy,
			updated_at              = excluded.updated_at
		WHERE excluded.completed_count >= benchmark_runs.completed_count
	`,
		agg.RunID,
		string(agg.Status),
		agg.TargetCount,
		agg.CompletedCount,
		agg.FailedCount,
		agg.PatternCorrectCount,
		agg.EvaluatorCorrectCount,
		agg.BothCorrectCount,
		agg.BothWrongCount,
		agg.AgreementCount,
		agg.PatternAccuracy,
		agg.EvaluatorAccuracy,
		formatTime(agg.StartedAt),
		formatTime(agg.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("write run aggregate %s: %w", agg.RunID, err)
	}
	return nil
}
