package model

import "time"

// PredictionAttempt is the unit persisted per scored record.
//
// Created once per successfully resolved and predicted record, immutable
// afterwards, and written to the result store once (idempotent on GameID).
type PredictionAttempt struct {
	RunID  string     `json:"run_id"`
	Seq    int64      `json:"seq"` // draw order within the run
	GameID string     `json:"game_id"`
	Source SourceKind `json:"source"`

	PositionFEN string `json:"position_fen"`
	CutoffMove  int    `json:"cutoff_move"`

	PatternPrediction Outcome `json:"pattern_prediction"`
	PatternConfidence int     `json:"pattern_confidence"` // 0-100
	PatternArchetype  string  `json:"pattern_archetype"`

	EvaluatorPrediction   Outcome `json:"evaluator_prediction"`
	EvaluatorConfidence   int     `json:"evaluator_confidence"` // 0-100
	EvaluatorScore        int     `json:"evaluator_score"`      // centipawns, white's perspective
	EvaluatorMateIn       int     `json:"evaluator_mate_in"`    // 0 if no forced mate; >0 white mates
	EvaluatorDepthReached int     `json:"evaluator_depth_reached"`

	ActualOutcome    Outcome `json:"actual_outcome"`
	PatternCorrect   bool    `json:"pattern_correct"`
	EvaluatorCorrect bool    `json:"evaluator_correct"`
}

// Score fills in the ground truth and the two correctness flags.
func (a *PredictionAttempt) Score(actual Outcome) {
	a.ActualOutcome = actual
	a.PatternCorrect = a.PatternPrediction == actual
	a.EvaluatorCorrect = a.EvaluatorPrediction == actual
}

// Agree reports whether both predictors produced the same outcome.
func (a PredictionAttempt) Agree() bool {
	return a.PatternPrediction == a.EvaluatorPrediction
}

// RunStatus is the lifecycle status recorded on a RunAggregate.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusExhausted RunStatus = "exhausted"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusFailed    RunStatus = "failed"
)

// RunAggregate summarizes one benchmark run.
//
// Upserted repeatedly during the run and once more at termination. Never
// deleted; CompletedCount only grows for a given RunID.
type RunAggregate struct {
	RunID  string    `json:"run_id"`
	Status RunStatus `json:"status"`

	TargetCount    int `json:"target_count"`
	CompletedCount int `json:"completed_count"`
	FailedCount    int `json:"failed_count"`

	PatternCorrectCount   int     `json:"pattern_correct_count"`
	EvaluatorCorrectCount int     `json:"evaluator_correct_count"`
	BothCorrectCount      int     `json:"both_correct_count"`
	BothWrongCount        int     `json:"both_wrong_count"`
	AgreementCount        int     `json:"agreement_count"`
	PatternAccuracy       float64 `json:"pattern_accuracy"`   // 0-1
	EvaluatorAccuracy     float64 `json:"evaluator_accuracy"` // 0-1

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRunAggregate creates the aggregate for a fresh run.
func NewRunAggregate(runID string, target int, startedAt time.Time) RunAggregate {
	return RunAggregate{
		RunID:       runID,
		Status:      RunStatusRunning,
		TargetCount: target,
		StartedAt:   startedAt,
		UpdatedAt:   startedAt,
	}
}

// Record folds one scored attempt into the aggregate.
func (r *RunAggregate) Record(a PredictionAttempt) {
	r.CompletedCount++
	if a.PatternCorrect {
		r.PatternCorrectCount++
	}
	if a.EvaluatorCorrect {
		r.EvaluatorCorrectCount++
	}
	switch {
	case a.PatternCorrect && a.EvaluatorCorrect:
		r.BothCorrectCount++
	case !a.PatternCorrect && !a.EvaluatorCorrect:
		r.BothWrongCount++
	}
	if a.Agree() {
		r.AgreementCount++
	}
	r.PatternAccuracy = float64(r.PatternCorrectCount) / float64(r.CompletedCount)
	r.EvaluatorAccuracy = float64(r.EvaluatorCorrectCount) / float64(r.CompletedCount)
}

// RecordFailure counts a record that reached a failed terminal classification.
func (r *RunAggregate) RecordFailure() {
	r.FailedCount++
}
