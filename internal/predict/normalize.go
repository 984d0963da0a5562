package predict

import (
	"math"

	"github.com/roach88/chessbench/internal/model"
)

// Normalize maps an evaluation onto the outcome space.
//
// A forced mate decides for the mating side with confidence 100. Otherwise a
// score inside (-drawBand, drawBand) is a draw with confidence 100-|cp|, and
// anything else goes to the side the score favors with confidence equal to
// the logistic win probability 1/(1+10^(-|cp|/400)), as a percentage.
func Normalize(ev Evaluation, drawBand int) (model.Outcome, int) {
	if ev.IsMate {
		switch {
		case ev.MateIn > 0:
			return model.OutcomeWhiteWin, 100
		case ev.MateIn < 0:
			return model.OutcomeBlackWin, 100
		case ev.Score > 0:
			return model.OutcomeWhiteWin, 100
		case ev.Score < 0:
			return model.OutcomeBlackWin, 100
		}
	}

	cp := ev.Score
	abs := cp
	if abs < 0 {
		abs = -abs
	}

	if abs < drawBand {
		return model.OutcomeDraw, clampPercent(100 - abs)
	}

	outcome := model.OutcomeWhiteWin
	if cp < 0 {
		outcome = model.OutcomeBlackWin
	}
	return outcome, WinProbability(abs)
}

// WinProbability converts a centipawn advantage into a 0-100 win chance.
func WinProbability(cp int) int {
	p := 1 / (1 + math.Pow(10, -float64(cp)/400))
	return clampPercent(int(math.Round(p * 100)))
}

func clampPercent(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
