// Package position replays a game record and picks the mid-game cutoff
// position both predictors are asked about.
package position

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/notnil/chess"

	"github.com/roach88/chessbench/internal/model"
)

// CutoffRange bounds the cutoff move number, in full moves, inclusive.
type CutoffRange struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// Options controls record acceptance.
type Options struct {
	// MinMoves is the fewest full moves that must replay legally.
	MinMoves int
	// MaxFraction caps the cutoff at this share of the game's length.
	MaxFraction float64
}

// DefaultOptions returns the CLI defaults.
func DefaultOptions() Options {
	return Options{MinMoves: 20, MaxFraction: 0.6}
}

// Resolved is a record replayed up to its cutoff.
type Resolved struct {
	GameID     string
	FEN        string          // position after the cutoff move
	Position   *chess.Position // same position, for evaluators that want it
	CutoffMove int             // full-move number of the cutoff
	Moves      []string        // every legally replayed SAN move
	TotalMoves int             // full moves replayed, rounded up
}

// Prefix returns the SAN moves played up to and including the cutoff.
func (r Resolved) Prefix() []string {
	n := 2 * r.CutoffMove
	if n > len(r.Moves) {
		n = len(r.Moves)
	}
	return r.Moves[:n]
}

// Resolver picks cutoffs with an injected random source.
// Not safe for concurrent use; the run loop owns it.
type Resolver struct {
	rng  *rand.Rand
	opts Options
}

// NewResolver creates a resolver. A nil rng is seeded with 1 so runs are
// reproducible by default.
func NewResolver(rng *rand.Rand, opts Options) *Resolver {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	if opts.MinMoves <= 0 {
		opts.MinMoves = 1
	}
	if opts.MaxFraction <= 0 || opts.MaxFraction > 1 {
		opts.MaxFraction = DefaultOptions().MaxFraction
	}
	return &Resolver{rng: rng, opts: opts}
}

// Bounds returns the inclusive cutoff interval for a game of totalMoves
// full moves: [r.Min, min(r.Max, floor(fraction*totalMoves))].
// ok is false when the interval is empty.
func Bounds(r CutoffRange, totalMoves int, fraction float64) (lo, hi int, ok bool) {
	lo = r.Min
	if lo < 1 {
		lo = 1
	}
	hi = int(math.Floor(fraction * float64(totalMoves)))
	if r.Max < hi {
		hi = r.Max
	}
	return lo, hi, hi >= lo
}

// Resolve replays rec and selects a cutoff within cr.
//
// Replay stops at the first token that is not a legal move; the moves before
// it are kept. Fails with a malformed-record RecordError if fewer than
// MinMoves full moves replay, or if the game is too short for any cutoff in
// range. Such records are never retried.
func (res *Resolver) Resolve(rec model.GameRecord, cr CutoffRange) (Resolved, error) {
	tokens := Tokenize(rec.MoveText)
	if len(tokens) == 0 {
		return Resolved{}, model.NewMalformedRecordError(rec.ID, "no moves in record", nil)
	}

	positions, moves, replayErr := Replay(tokens)
	total := (len(moves) + 1) / 2
	if total < res.opts.MinMoves {
		msg := fmt.Sprintf("only %d legal moves replayed, need %d", total, res.opts.MinMoves)
		return Resolved{}, model.NewMalformedRecordError(rec.ID, msg, replayErr)
	}

	lo, hi, ok := Bounds(cr, total, res.opts.MaxFraction)
	if !ok {
		msg := fmt.Sprintf("game of %d moves too short for cutoff range [%d, %d]", total, cr.Min, cr.Max)
		return Resolved{}, model.NewMalformedRecordError(rec.ID, msg, nil)
	}
	cutoff := lo + res.rng.Intn(hi-lo+1)

	ply := 2 * cutoff
	if ply > len(moves) {
		ply = len(moves)
	}
	pos := positions[ply]

	return Resolved{
		GameID:     rec.ID,
		FEN:        pos.String(),
		Position:   pos,
		CutoffMove: cutoff,
		Moves:      moves,
		TotalMoves: total,
	}, nil
}

// Replay plays tokens from the standard starting position.
//
// positions[i] is the position after i plies (positions[0] is the start).
// moves holds the canonical SAN of each legally applied token. err describes the
// first rejected token and is nil if every token applied.
func Replay(tokens []string) (positions []*chess.Position, moves []string, err error) {
	pos := chess.NewGame().Position()
	positions = append(positions, pos)

	for i, tok := range tokens {
		m, decodeErr := decodeSAN(pos, tok)
		if decodeErr != nil {
			return positions, moves, fmt.Errorf("ply %d %q: %w", i+1, tok, decodeErr)
		}
		moves = append(moves, san.Encode(pos, m))
		pos = pos.Update(m)
		positions = append(positions, pos)
	}
	return positions, moves, nil
}

var san = chess.AlgebraicNotation{}

// decodeSAN matches tok against the legal moves in pos. Check and mate
// suffixes are optional on either side.
func decodeSAN(pos *chess.Position, tok string) (*chess.Move, error) {
	if m, err := san.Decode(pos, tok); err == nil {
		return m, nil
	}
	want := strings.TrimRight(tok, "+#")
	for _, m := range pos.ValidMoves() {
		if strings.TrimRight(san.Encode(pos, m), "+#") == want {
			return m, nil
		}
	}
	return nil, fmt.Errorf("illegal or unparseable move")
}
