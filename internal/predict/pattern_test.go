package predict

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/chessbench/internal/model"
	"github.com/roach88/chessbench/internal/testutil"
)

func interleave(white, black []string) []string {
	out := make([]string, 0, len(white)+len(black))
	for i := range white {
		out = append(out, white[i])
		if i < len(black) {
			out = append(out, black[i])
		}
	}
	return out
}

func TestHeuristic_EmptyPrefix(t *testing.T) {
	got := NewHeuristic().Predict(nil)
	assert.Equal(t, model.OutcomeDraw, got.Outcome)
	assert.Equal(t, ArchetypeBalanced, got.Archetype)
}

func TestHeuristic_Deterministic(t *testing.T) {
	prefix := strings.Fields(testutil.OperaGameSAN)[:20]
	h := NewHeuristic()
	assert.Equal(t, h.Predict(prefix), h.Predict(prefix))
}

func TestHeuristic_ClosedManeuvering(t *testing.T) {
	prefix := []string{"d4", "d5", "c4", "e6", "Nc3", "Nf6", "e3", "c6", "Nf3", "Nbd7"}
	got := NewHeuristic().Predict(prefix)
	assert.Equal(t, ArchetypeClosedManeuvering, got.Archetype)
	assert.Equal(t, model.OutcomeDraw, got.Outcome)
	assert.Equal(t, 60, got.Confidence)
}

func TestHeuristic_TacticalMelee(t *testing.T) {
	prefix := []string{"e4", "d5", "exd5", "Qxd5", "Nc3", "Qxc3", "bxc3", "e5"}
	got := NewHeuristic().Predict(prefix)
	assert.Equal(t, ArchetypeTacticalMelee, got.Archetype)
	assert.Equal(t, model.OutcomeDraw, got.Outcome, "symmetric captures cancel out")
}

func TestHeuristic_KingsideAttack(t *testing.T) {
	white := []string{"Nf3", "c3", "Qg4+", "d3", "Bh6+", "b3", "Qg7+", "a3", "Rf1", "h3"}
	black := []string{"a6", "Nc6", "a5", "Ra7", "b6", "Rb7", "Nb8", "Ra8", "c6", "Bb7"}
	got := NewHeuristic().Predict(interleave(white, black))
	assert.Equal(t, ArchetypeKingsideAttack, got.Archetype)
	assert.Equal(t, model.OutcomeWhiteWin, got.Outcome)
}

func TestHeuristic_InitiativeFavorsWhite(t *testing.T) {
	prefix := []string{"e4", "e5", "Nf3", "Nc6", "Bc4", "Nf6", "O-O", "Nd4", "Nxe5", "Nxf3+", "Qxf3", "Qe7", "Bxf7+", "Kd8"}
	got := NewHeuristic().Predict(prefix)
	assert.Equal(t, model.OutcomeWhiteWin, got.Outcome)
	assert.Greater(t, got.Confidence, 50)
	assert.LessOrEqual(t, got.Confidence, 95)
}

func TestHeuristic_PromotionFavorsBlack(t *testing.T) {
	prefix := []string{"a3", "h5", "b3", "h4", "c3", "h3", "d3", "hxg2", "e3", "gxh1=Q"}
	got := NewHeuristic().Predict(prefix)
	assert.Equal(t, model.OutcomeBlackWin, got.Outcome)
}

func TestDestinationFile(t *testing.T) {
	assert.Equal(t, byte('f'), destinationFile("Nf3"))
	assert.Equal(t, byte('d'), destinationFile("Rxd7"))
	assert.Equal(t, byte('h'), destinationFile("Qh5"))
	assert.Equal(t, byte('d'), destinationFile("Nbd7"))
	assert.Equal(t, byte(0), destinationFile("O-O"))
}
