package evaluator

import (
	"context"

	"github.com/notnil/chess"

	"github.com/roach88/chessbench/internal/predict"
)

var pieceValues = map[chess.PieceType]int{
	chess.Pawn:   100,
	chess.Knight: 320,
	chess.Bishop: 330,
	chess.Rook:   500,
	chess.Queen:  900,
}

// Material scores a position by counting material. It does not search, so
// it reports a reached depth of zero.
type Material struct{}

// NewMaterial returns a material evaluator.
func NewMaterial() *Material {
	return &Material{}
}

// Evaluate implements predict.Evaluator.
func (m *Material) Evaluate(ctx context.Context, fen string, _ predict.EvalOptions) (predict.Evaluation, error) {
	if err := ctx.Err(); err != nil {
		return predict.Evaluation{}, err
	}
	game, err := positionFromFEN(fen)
	if err != nil {
		return predict.Evaluation{}, err
	}
	pos := game.Position()

	if game.Method() == chess.Checkmate {
		// The side to move is mated.
		score := MateScore
		if pos.Turn() == chess.White {
			score = -MateScore
		}
		return predict.Evaluation{Score: score, IsMate: true}, nil
	}
	if game.Method() == chess.Stalemate {
		return predict.Evaluation{}, nil
	}

	score := 0
	for _, piece := range pos.Board().SquareMap() {
		v := pieceValues[piece.Type()]
		if piece.Color() == chess.Black {
			v = -v
		}
		score += v
	}
	return predict.Evaluation{Score: score}, nil
}
