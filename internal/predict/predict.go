// Package predict produces the two predictions compared by the benchmark:
// a pattern prediction from the move sequence alone, and an evaluator
// prediction from a search engine's score of the cutoff position.
//
// Both are normalized to the same three-way outcome space. The evaluator
// call is raced against a timeout; cancellation of the caller's context
// never aborts an evaluation that is already in flight.
package predict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/chessbench/internal/model"
	"github.com/roach88/chessbench/internal/position"
)

// EvalOptions controls one evaluation.
type EvalOptions struct {
	Depth             int
	RequireExactDepth bool
}

// Evaluation is an engine's verdict on a position, from White's perspective.
type Evaluation struct {
	Score        int  // centipawns; positive favors White
	DepthReached int  // deepest completed search depth
	IsMate       bool // a forced mate was found
	MateIn       int  // moves to mate; positive if White mates, negative if Black mates
}

// Evaluator analyzes a position given as FEN.
type Evaluator interface {
	Evaluate(ctx context.Context, fen string, opts EvalOptions) (Evaluation, error)
}

// PatternResult is a pattern predictor's verdict.
type PatternResult struct {
	Outcome    model.Outcome
	Archetype  string
	Confidence int // 0-100
}

// PatternPredictor predicts from the move prefix alone. Implementations are
// pure and deterministic; a panic is a programming error and is not caught.
type PatternPredictor interface {
	Predict(movePrefix []string) PatternResult
}

// PatternFunc adapts a function to PatternPredictor.
type PatternFunc func(movePrefix []string) PatternResult

// Predict implements PatternPredictor.
func (f PatternFunc) Predict(movePrefix []string) PatternResult {
	return f(movePrefix)
}

// DefaultDrawBand is the centipawn band around zero read as a draw.
const DefaultDrawBand = 50

// Config controls the evaluator side.
type Config struct {
	Depth             int
	RequireExactDepth bool
	Timeout           time.Duration
	DrawBand          int
}

// DefaultConfig returns the CLI defaults.
func DefaultConfig() Config {
	return Config{Depth: 12, Timeout: 30 * time.Second, DrawBand: DefaultDrawBand}
}

// Predictor runs both predictors against one resolved position.
type Predictor struct {
	pattern   PatternPredictor
	evaluator Evaluator
	cfg       Config
}

// New creates a Predictor. Zero config fields take their defaults.
func New(pattern PatternPredictor, evaluator Evaluator, cfg Config) *Predictor {
	d := DefaultConfig()
	if cfg.Depth <= 0 {
		cfg.Depth = d.Depth
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.DrawBand <= 0 {
		cfg.DrawBand = d.DrawBand
	}
	return &Predictor{pattern: pattern, evaluator: evaluator, cfg: cfg}
}

// Config returns the effective configuration.
func (p *Predictor) Config() Config {
	return p.cfg
}

// Predict produces a PredictionAttempt for res, without ground truth.
//
// Errors are *model.RecordError with code EVALUATOR_TIMEOUT or
// EVALUATOR_ERROR. A panicking evaluator yields EVALUATOR_ERROR; a panic in
// the pattern predictor propagates.
func (p *Predictor) Predict(ctx context.Context, res position.Resolved) (model.PredictionAttempt, error) {
	pat := p.pattern.Predict(res.Prefix())

	ev, err := p.evaluate(ctx, res.GameID, res.FEN)
	if err != nil {
		return model.PredictionAttempt{}, err
	}
	outcome, confidence := Normalize(ev, p.cfg.DrawBand)

	return model.PredictionAttempt{
		GameID:                res.GameID,
		PositionFEN:           res.FEN,
		CutoffMove:            res.CutoffMove,
		PatternPrediction:     pat.Outcome,
		PatternConfidence:     clampPercent(pat.Confidence),
		PatternArchetype:      pat.Archetype,
		EvaluatorPrediction:   outcome,
		EvaluatorConfidence:   confidence,
		EvaluatorScore:        ev.Score,
		EvaluatorMateIn:       ev.MateIn,
		EvaluatorDepthReached: ev.DepthReached,
	}, nil
}

type evalResult struct {
	ev  Evaluation
	err error
}

// evaluate races the evaluator against the timeout. The evaluation runs on
// a context detached from ctx's cancellation so a cancelled run still lets
// the in-flight call finish (or time out) on its own terms.
func (p *Predictor) evaluate(ctx context.Context, gameID, fen string) (Evaluation, error) {
	evalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.Timeout)
	defer cancel()

	opts := EvalOptions{Depth: p.cfg.Depth, RequireExactDepth: p.cfg.RequireExactDepth}
	done := make(chan evalResult, 1)
	start := time.Now()
	go func() {
		defer func() {
			if v := recover(); v != nil {
				done <- evalResult{err: fmt.Errorf("evaluator panic: %v", v)}
			}
		}()
		ev, err := p.evaluator.Evaluate(evalCtx, fen, opts)
		done <- evalResult{ev: ev, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) {
				return Evaluation{}, model.NewEvaluatorTimeoutError(gameID, r.err)
			}
			return Evaluation{}, model.NewEvaluatorError(gameID, "evaluation failed", r.err)
		}
		if opts.RequireExactDepth && r.ev.DepthReached < opts.Depth {
			msg := fmt.Sprintf("depth %d reached, %d required", r.ev.DepthReached, opts.Depth)
			return Evaluation{}, model.NewEvaluatorError(gameID, msg, nil)
		}
		slog.Debug("evaluation complete",
			"game_id", gameID,
			"score", r.ev.Score,
			"depth", r.ev.DepthReached,
			"elapsed", time.Since(start),
		)
		return r.ev, nil
	case <-evalCtx.Done():
		return Evaluation{}, model.NewEvaluatorTimeoutError(gameID, evalCtx.Err())
	}
}
