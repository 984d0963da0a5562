package testutil

import (
	"fmt"

	"github.com/roach88/chessbench/internal/model"
)

// OperaGameSAN is Morphy's Opera Game (Paris, 1858) as bare SAN tokens.
// 17 full moves, 33 plies, white mates.
const OperaGameSAN = "e4 e5 Nf3 d6 d4 Bg4 dxe5 Bxf3 Qxf3 dxe5 Bc4 Nf6 Qb3 Qe7 Nc3 c6 " +
	"Bg5 b5 Nxb5 cxb5 Bxb5+ Nbd7 O-O-O Rd8 Rxd7 Rxd7 Rd1 Qe6 Bxd7+ Nxd7 Qb8+ Nxb8 Rd8#"

// OperaGamePGN is the same game as numbered movetext with a comment, a NAG
// and a result marker.
const OperaGamePGN = `[Event "Paris"]
[Site "Paris FRA"]
[Date "1858.??.??"]
[White "Paul Morphy"]
[Black "Duke Karl / Count Isouard"]
[Result "1-0"]

1. e4 e5 2. Nf3 d6 3. d4 Bg4 {This is a weak move already.} 4. dxe5 Bxf3
5. Qxf3 dxe5 6. Bc4 Nf6 7. Qb3 Qe7 8. Nc3 c6 9. Bg5 b5 10. Nxb5 cxb5
11. Bxb5+ Nbd7 12. O-O-O Rd8 13. Rxd7 Rxd7 14. Rd1 Qe6 15. Bxd7+ Nxd7
16. Qb8+ $1 Nxb8 17. Rd8# 1-0`

// OperaGameFullMoves is the number of full moves in the Opera Game.
const OperaGameFullMoves = 17

// Game returns a record with the given id carrying the Opera Game moves.
func Game(id string, outcome model.Outcome) model.GameRecord {
	return model.GameRecord{
		ID:       id,
		Source:   model.SourcePGNFile,
		MoveText: OperaGameSAN,
		Outcome:  outcome,
		Metadata: map[string]string{"event": "fixture"},
	}
}

// Games returns n white-win fixture records with ids prefix-1 .. prefix-n.
func Games(prefix string, n int) []model.GameRecord {
	out := make([]model.GameRecord, n)
	for i := range out {
		out[i] = Game(fmt.Sprintf("%s-%d", prefix, i+1), model.OutcomeWhiteWin)
	}
	return out
}

// IDs returns the ids of recs in order.
func IDs(recs []model.GameRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
