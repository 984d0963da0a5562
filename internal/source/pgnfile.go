package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/roach88/chessbench/internal/model"
)

// PGNFileSource serves games from a local multi-game PGN file.
// The cursor is the index of the next game to return.
type PGNFileSource struct {
	path string

	once  sync.Once
	games []model.GameRecord
	err   error
}

// NewPGNFileSource creates a source reading path lazily on first fetch.
func NewPGNFileSource(path string) *PGNFileSource {
	return &PGNFileSource{path: path}
}

// Name implements Source.
func (s *PGNFileSource) Name() string {
	return "pgnfile:" + s.path
}

// FetchBatch implements Source.
func (s *PGNFileSource) FetchBatch(ctx context.Context, req BatchRequest) (Batch, error) {
	s.once.Do(s.load)
	if s.err != nil {
		return Batch{}, s.err
	}

	start := 0
	if req.Cursor != "" {
		n, err := strconv.Atoi(req.Cursor)
		if err != nil || n < 0 {
			return Batch{}, fmt.Errorf("pgn file: invalid cursor %q", req.Cursor)
		}
		start = n
	}

	exclude := req.Exclude
	if exclude == nil {
		exclude = noneExcluded{}
	}

	var out []model.GameRecord
	i := start
	for ; i < len(s.games) && len(out) < req.Count; i++ {
		if err := ctx.Err(); err != nil {
			return Batch{}, err
		}
		if exclude.Has(s.games[i].ID) {
			continue
		}
		out = append(out, s.games[i])
	}

	return Batch{
		Records:    out,
		NextCursor: strconv.Itoa(i),
		Done:       i >= len(s.games),
	}, nil
}

func (s *PGNFileSource) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.err = fmt.Errorf("pgn file: %w", err)
		return
	}

	for _, g := range splitPGN(string(data)) {
		rec, err := recordFromPGN(model.SourcePGNFile, g)
		if err != nil {
			slog.Warn("skipping pgn game", "path", s.path, "error", err)
			continue
		}
		s.games = append(s.games, rec)
	}
	slog.Info("pgn file loaded", "path", s.path, "games", len(s.games))
}

// recordFromPGN converts a split PGN game into a GameRecord.
// The move text is re-assembled with its tag section so downstream parsing
// sees a complete PGN.
func recordFromPGN(kind model.SourceKind, g pgnGame) (model.GameRecord, error) {
	outcome, err := model.ParseOutcome(g.Tags["Result"])
	if err != nil {
		outcome = model.OutcomeUnknown
	}

	// A game exported from a provider keeps the provider's identity, so the
	// same game read from a file and from the API dedupes to one ID.
	site := g.Tags["Site"]
	idKind := kind
	switch {
	case strings.Contains(site, "lichess.org/"):
		idKind = model.SourceLichess
	case strings.Contains(site, "chess.com/"):
		idKind = model.SourceChessCom
	}

	id, err := model.GameID(idKind, nativeIDFromSite(site), g.MoveText)
	if err != nil {
		return model.GameRecord{}, err
	}

	meta := make(map[string]string, len(g.Tags))
	for k, v := range g.Tags {
		meta[strings.ToLower(k)] = v
	}

	return model.GameRecord{
		ID:       id,
		Source:   kind,
		MoveText: g.MoveText,
		Outcome:  outcome,
		Metadata: meta,
	}, nil
}
