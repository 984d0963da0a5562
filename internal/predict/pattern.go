package predict

import (
	"math"
	"strings"

	"github.com/roach88/chessbench/internal/model"
)

// Archetype labels assigned by the heuristic pattern predictor.
const (
	ArchetypeTacticalMelee     = "tactical-melee"
	ArchetypeKingsideAttack    = "kingside-attack"
	ArchetypeClosedManeuvering = "closed-maneuvering"
	ArchetypeOpenExchange      = "open-exchange"
	ArchetypeBalanced          = "balanced"
)

// sideStats tallies one side's move features.
type sideStats struct {
	moves      int
	captures   int
	checks     int
	pawnMoves  int
	promotions int
	castled    string // "", "O-O" or "O-O-O"
	kingside   int    // non-pawn moves landing on files f-h
}

// Heuristic is a deterministic pattern predictor over SAN move prefixes.
//
// It scores each side on initiative (captures, checks, promotions, castling)
// and labels the game shape from feature densities. It never looks at a
// board: the move strings are the whole input.
type Heuristic struct {
	// DrawThreshold is the |score| below which the prediction is a draw.
	DrawThreshold float64
}

// NewHeuristic returns the heuristic predictor with its default threshold.
func NewHeuristic() *Heuristic {
	return &Heuristic{DrawThreshold: 1.5}
}

// Predict implements PatternPredictor.
func (h *Heuristic) Predict(movePrefix []string) PatternResult {
	var white, black sideStats
	for i, mv := range movePrefix {
		side := &white
		if i%2 == 1 {
			side = &black
		}
		tally(side, mv)
	}

	score := initiative(white) - initiative(black)
	outcome := model.OutcomeDraw
	confidence := 0
	switch {
	case math.Abs(score) < h.DrawThreshold:
		confidence = 40 + int(math.Round(20*(1-math.Abs(score)/h.DrawThreshold)))
	case score > 0:
		outcome = model.OutcomeWhiteWin
		confidence = 50 + int(math.Min(45, math.Round(8*(score-h.DrawThreshold+1))))
	default:
		outcome = model.OutcomeBlackWin
		confidence = 50 + int(math.Min(45, math.Round(8*(-score-h.DrawThreshold+1))))
	}

	return PatternResult{
		Outcome:    outcome,
		Archetype:  archetype(white, black),
		Confidence: clampPercent(confidence),
	}
}

func tally(s *sideStats, mv string) {
	s.moves++
	if mv == "" {
		return
	}
	if strings.Contains(mv, "x") {
		s.captures++
	}
	if strings.HasSuffix(mv, "+") || strings.HasSuffix(mv, "#") {
		s.checks++
	}
	if strings.Contains(mv, "=") {
		s.promotions++
	}

	switch core := strings.TrimRight(mv, "+#"); {
	case core == "O-O" || core == "O-O-O":
		s.castled = core
	case mv[0] >= 'a' && mv[0] <= 'h':
		s.pawnMoves++
	default:
		if dest := destinationFile(core); dest >= 'f' && dest <= 'h' {
			s.kingside++
		}
	}
}

// destinationFile returns the file letter of the target square of a piece
// move such as "Nf3", "Rxd7" or "Qh5", or 0 if none is found.
func destinationFile(core string) byte {
	core = strings.TrimSuffix(core, "=Q")
	for i := len(core) - 2; i >= 0; i-- {
		if core[i] >= 'a' && core[i] <= 'h' && core[i+1] >= '1' && core[i+1] <= '8' {
			return core[i]
		}
	}
	return 0
}

func initiative(s sideStats) float64 {
	score := 0.6*float64(s.captures) + 0.8*float64(s.checks) + 3*float64(s.promotions)
	if s.castled != "" {
		score += 0.5
	}
	return score
}

func archetype(white, black sideStats) string {
	plies := white.moves + black.moves
	if plies == 0 {
		return ArchetypeBalanced
	}
	n := float64(plies)
	captures := float64(white.captures + black.captures)
	checks := float64(white.checks + black.checks)
	pawns := float64(white.pawnMoves + black.pawnMoves)

	switch {
	case (captures+checks)/n >= 0.4:
		return ArchetypeTacticalMelee
	case (white.checks >= 3 && white.kingside >= 3) || (black.checks >= 3 && black.kingside >= 3):
		return ArchetypeKingsideAttack
	case captures/n >= 0.25:
		return ArchetypeOpenExchange
	case pawns/n >= 0.4 && captures/n < 0.1:
		return ArchetypeClosedManeuvering
	default:
		return ArchetypeBalanced
	}
}
