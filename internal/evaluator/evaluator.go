// Package evaluator provides predict.Evaluator implementations: a UCI engine
// driver (Stockfish or any UCI-speaking binary) and a static material
// counter used when no engine is configured.
package evaluator

import (
	"fmt"

	"github.com/notnil/chess"
)

// MateScore is the centipawn value reported alongside a forced mate, signed
// for the mating side.
const MateScore = 32000

// positionFromFEN decodes fen into a game so callers get both the position
// and the game-level status (checkmate, stalemate).
func positionFromFEN(fen string) (*chess.Game, error) {
	opt, err := chess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("decode fen: %w", err)
	}
	return chess.NewGame(opt), nil
}

// whitePerspective converts a side-to-move score into White's perspective.
func whitePerspective(turn chess.Color, cp, mate int) (int, int) {
	if turn == chess.Black {
		return -cp, -mate
	}
	return cp, mate
}
