package source

import (
	"bufio"
	"regexp"
	"strings"
)

var tagLine = regexp.MustCompile(`^\[(\w+)\s+"((?:[^"\\]|\\.)*)"\]\s*$`)

// pgnGame is one game split out of a multi-game PGN stream.
type pgnGame struct {
	Tags     map[string]string
	MoveText string
}

// splitPGN splits a PGN stream into games. A new game starts at the first
// tag line following movetext. Games with no movetext are dropped.
func splitPGN(text string) []pgnGame {
	var (
		games   []pgnGame
		current = pgnGame{Tags: map[string]string{}}
		moves   strings.Builder
		inMoves bool
	)

	flush := func() {
		mt := strings.TrimSpace(moves.String())
		if mt != "" {
			current.MoveText = mt
			games = append(games, current)
		}
		current = pgnGame{Tags: map[string]string{}}
		moves.Reset()
		inMoves = false
	}

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if m := tagLine.FindStringSubmatch(line); m != nil {
			if inMoves {
				flush()
			}
			current.Tags[m[1]] = strings.ReplaceAll(m[2], `\"`, `"`)
			continue
		}
		if line == "" {
			continue
		}
		inMoves = true
		moves.WriteString(line)
		moves.WriteByte('\n')
	}
	flush()

	return games
}

// nativeIDFromSite extracts a provider game id from a PGN Site tag such as
// "https://lichess.org/q7ZvsdUF" or "https://www.chess.com/game/live/123".
func nativeIDFromSite(site string) string {
	site = strings.TrimSpace(site)
	if !strings.HasPrefix(site, "http://") && !strings.HasPrefix(site, "https://") {
		return ""
	}
	site = strings.TrimRight(site, "/")
	idx := strings.LastIndex(site, "/")
	if idx < 0 || idx == len(site)-1 {
		return ""
	}
	return site[idx+1:]
}
