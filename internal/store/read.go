package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/chessbench/internal/model"
)

// LoadRecordedIDs returns every game_id in the store. Called once at run
// start to seed the exclusion ledger.
func (s *Store) LoadRecordedIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT game_id FROM prediction_attempts`)
	if err != nil {
		return nil, fmt.Errorf("query recorded ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan recorded id: %w", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recorded ids: %w", err)
	}
	return ids, nil
}

// HasRecorded reports whether an attempt for gameID exists.
func (s *Store) HasRecorded(ctx context.Context, gameID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM prediction_attempts WHERE game_id = ?`, gameID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query recorded %s: %w", gameID, err)
	}
	return true, nil
}

// CountAttempts returns the number of recorded attempts. An empty runID
// counts across all runs.
func (s *Store) CountAttempts(ctx context.Context, runID string) (int, error) {
	query := `SELECT COUNT(*) FROM prediction_attempts`
	var args []any
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return n, nil
}

// ReadAttempts returns the attempts recorded by runID in draw order:
// ORDER BY seq ASC, game_id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if the run recorded nothing.
func (s *Store) ReadAttempts(ctx context.Context, runID string) ([]model.PredictionAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT game_id, run_id, seq, source, position_fen, cutoff_move,
		       pattern_prediction, pattern_confidence, pattern_archetype,
		       evaluator_prediction, evaluator_confidence, evaluator_score, evaluator_mate_in, evaluator_depth_reached,
		       actual_outcome, pattern_correct, evaluator_correct
		FROM prediction_attempts
		WHERE run_id = ?
		ORDER BY seq ASC, game_id COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	attempts := []model.PredictionAttempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return attempts, nil
}

// ReadRun returns the aggregate for runID, or ErrNotFound.
func (s *Store) ReadRun(ctx context.Context, runID string) (model.RunAggregate, error) {
	row := s.db.QueryRowContext(ctx, runColumns+` WHERE run_id = ?`, runID)
	agg, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RunAggregate{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return model.RunAggregate{}, err
	}
	return agg, nil
}

// LatestRun returns the most recently started run, or ErrNotFound.
func (s *Store) LatestRun(ctx context.Context) (model.RunAggregate, error) {
	row := s.db.QueryRowContext(ctx, runColumns+` ORDER BY started_at DESC, run_id COLLATE BINARY DESC LIMIT 1`)
	agg, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RunAggregate{}, fmt.Errorf("latest run: %w", ErrNotFound)
	}
	if err != nil {
		return model.RunAggregate{}, err
	}
	return agg, nil
}

// ListRuns returns every run, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]model.RunAggregate, error) {
	rows, err := s.db.QueryContext(ctx, runColumns+` ORDER BY started_at DESC, run_id COLLATE BINARY DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []model.RunAggregate{}
	for rows.Next() {
		agg, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

const runColumns = `
	SELECT run_id, status, target_count, completed_count, failed_count,
	       pattern_correct_count, evaluator_correct_count, both_correct_count, both_wrong_count, agreement_count,
	       pattern_accuracy, evaluator_accuracy, started_at, updated_at
	FROM benchmark_runs`

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (model.RunAggregate, error) {
	var (
		agg       model.RunAggregate
		status    string
		startedAt string
		updatedAt string
	)
	err := row.Scan(
		&agg.RunID,
		&status,
		&agg.TargetCount,
		&agg.CompletedCount,
		&agg.FailedCount,
		&agg.PatternCorrectCount,
		&agg.EvaluatorCorrectCount,
		&agg.BothCorrectCount,
		&agg.BothWrongCount,
		&agg.AgreementCount,
		&agg.PatternAccuracy,
		&agg.EvaluatorAccuracy,
		&startedAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RunAggregate{}, err
	}
	if err != nil {
		return model.RunAggregate{}, fmt.Errorf("scan run: %w", err)
	}

	agg.Status = model.RunStatus(status)
	if agg.StartedAt, err = parseTime(startedAt); err != nil {
		return model.RunAggregate{}, fmt.Errorf("scan run: %w", err)
	}
	if agg.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.RunAggregate{}, fmt.Errorf("scan run: %w", err)
	}
	return agg, nil
}

func scanAttempt(row scanner) (model.PredictionAttempt, error) {
	var (
		a                                model.PredictionAttempt
		src                              string
		patternPred, evalPred, actual    string
		patternCorrect, evaluatorCorrect int
	)
	err := row.Scan(
		&a.GameID,
		&a.RunID,
		&a.Seq,
		&src,
		&a.PositionFEN,
		&a.CutoffMove,
		&patternPred,
		&a.PatternConfidence,
		&a.PatternArchetype,
		&evalPred,
		&a.EvaluatorConfidence,
		&a.EvaluatorScore,
		&a.EvaluatorMateIn,
		&a.EvaluatorDepthReached,
		&actual,
		&patternCorrect,
		&evaluatorCorrect,
	)
	if err != nil {
		return model.PredictionAttempt{}, fmt.Errorf("scan attempt: %w", err)
	}

	a.Source = model.SourceKind(src)
	if a.PatternPrediction, err = parseOutcome(patternPred); err != nil {
		return model.PredictionAttempt{}, fmt.Errorf("scan attempt %s: %w", a.GameID, err)
	}
	if a.EvaluatorPrediction, err = parseOutcome(evalPred); err != nil {
		return model.PredictionAttempt{}, fmt.Errorf("scan attempt %s: %w", a.GameID, err)
	}
	if a.ActualOutcome, err = parseOutcome(actual); err != nil {
		return model.PredictionAttempt{}, fmt.Errorf("scan attempt %s: %w", a.GameID, err)
	}
	a.PatternCorrect = patternCorrect != 0
	a.EvaluatorCorrect = evaluatorCorrect != 0
	return a, nil
}
