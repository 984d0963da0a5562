package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/roach88/chessbench/internal/model"
)

// DefaultChessComBaseURL is the Chess.com published-data API root.
const DefaultChessComBaseURL = "https://api.chess.com"

// chessComUserAgent identifies the client; Chess.com blocks anonymous agents.
const chessComUserAgent = "chessbench/0.1 (+https://github.com/roach88/chessbench)"

// ChessComSource walks a player's monthly archives, newest month first.
//
// The cursor is "<archive>:<offset>": the index of the archive counted from
// the newest, and the offset of the next game inside it.
type ChessComSource struct {
	baseURL string
	user    string
	client  HTTPClient
	limiter *rate.Limiter

	archives []string // newest first, loaded once
	cached   struct {
		index int
		games []chessComGame
	}
}

// ChessComOption configures a ChessComSource.
type ChessComOption func(*ChessComSource)

// WithChessComBaseURL overrides the API root.
func WithChessComBaseURL(u string) ChessComOption {
	return func(s *ChessComSource) { s.baseURL = u }
}

// WithChessComLimiter overrides the request rate limiter.
func WithChessComLimiter(l *rate.Limiter) ChessComOption {
	return func(s *ChessComSource) { s.limiter = l }
}

// NewChessComSource creates a source for one Chess.com player.
func NewChessComSource(user string, client HTTPClient, opts ...ChessComOption) *ChessComSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	s := &ChessComSource{
		baseURL: DefaultChessComBaseURL,
		user:    strings.ToLower(user),
		client:  client,
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
	}
	s.cached.index = -1
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements Source.
func (s *ChessComSource) Name() string {
	return "chesscom:" + s.user
}

type chessComPlayer struct {
	Username string `json:"username"`
	Rating   int    `json:"rating"`
	Result   string `json:"result"`
}

type chessComGame struct {
	URL         string         `json:"url"`
	PGN         string         `json:"pgn"`
	TimeControl string         `json:"time_control"`
	TimeClass   string         `json:"time_class"`
	EndTime     int64          `json:"end_time"`
	Rules       string         `json:"rules"`
	White       chessComPlayer `json:"white"`
	Black       chessComPlayer `json:"black"`
}

// FetchBatch implements Source.
func (s *ChessComSource) FetchBatch(ctx context.Context, req BatchRequest) (Batch, error) {
	if s.archives == nil {
		if err := s.loadArchives(ctx); err != nil {
			return Batch{}, err
		}
	}

	archive, offset, err := parseChessComCursor(req.Cursor)
	if err != nil {
		return Batch{}, err
	}

	exclude := req.Exclude
	if exclude == nil {
		exclude = noneExcluded{}
	}

	var records []model.GameRecord
	for archive < len(s.archives) && len(records) < req.Count {
		games, err := s.archiveGames(ctx, archive)
		if err != nil {
			// Keep what we have; the cursor still points at the failed archive.
			if len(records) > 0 {
				break
			}
			return Batch{}, err
		}

		for offset < len(games) && len(records) < req.Count {
			g := games[offset]
			offset++
			rec, ok := chessComRecord(g)
			if !ok || exclude.Has(rec.ID) {
				continue
			}
			records = append(records, rec)
		}
		if offset >= len(games) {
			archive++
			offset = 0
		}
	}

	return Batch{
		Records:    records,
		NextCursor: fmt.Sprintf("%d:%d", archive, offset),
		Done:       archive >= len(s.archives),
	}, nil
}

func (s *ChessComSource) loadArchives(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/pub/player/%s/games/archives", s.baseURL, url.PathEscape(s.user))

	var body struct {
		Archives []string `json:"archives"`
	}
	if err := s.getJSON(ctx, endpoint, &body); err != nil {
		return fmt.Errorf("chesscom: archives: %w", err)
	}

	archives := make([]string, 0, len(body.Archives))
	for i := len(body.Archives) - 1; i >= 0; i-- {
		archives = append(archives, body.Archives[i])
	}
	s.archives = archives
	return nil
}

func (s *ChessComSource) archiveGames(ctx context.Context, index int) ([]chessComGame, error) {
	if s.cached.index == index {
		return s.cached.games, nil
	}

	var body struct {
		Games []chessComGame `json:"games"`
	}
	if err := s.getJSON(ctx, s.archives[index], &body); err != nil {
		return nil, fmt.Errorf("chesscom: archive %d: %w", index, err)
	}

	s.cached.index = index
	s.cached.games = body.Games
	return body.Games, nil
}

func (s *ChessComSource) getJSON(ctx context.Context, endpoint string, out any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", chessComUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("call api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api returned status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func parseChessComCursor(cursor string) (archive, offset int, err error) {
	if cursor == "" {
		return 0, 0, nil
	}
	a, o, ok := strings.Cut(cursor, ":")
	if !ok {
		return 0, 0, fmt.Errorf("chesscom: invalid cursor %q", cursor)
	}
	if archive, err = strconv.Atoi(a); err != nil {
		return 0, 0, fmt.Errorf("chesscom: invalid cursor %q", cursor)
	}
	if offset, err = strconv.Atoi(o); err != nil {
		return 0, 0, fmt.Errorf("chesscom: invalid cursor %q", cursor)
	}
	return archive, offset, nil
}

func chessComRecord(g chessComGame) (model.GameRecord, bool) {
	if g.PGN == "" || (g.Rules != "" && g.Rules != "chess") {
		return model.GameRecord{}, false
	}

	games := splitPGN(g.PGN)
	if len(games) == 0 {
		return model.GameRecord{}, false
	}

	id, err := model.GameID(model.SourceChessCom, nativeIDFromSite(g.URL), games[0].MoveText)
	if err != nil {
		return model.GameRecord{}, false
	}

	return model.GameRecord{
		ID:       id,
		Source:   model.SourceChessCom,
		MoveText: games[0].MoveText,
		Outcome:  chessComOutcome(g.White.Result, g.Black.Result),
		Metadata: map[string]string{
			"white":        g.White.Username,
			"black":        g.Black.Username,
			"white_rating": strconv.Itoa(g.White.Rating),
			"black_rating": strconv.Itoa(g.Black.Rating),
			"time_control": g.TimeControl,
			"time_class":   g.TimeClass,
			"end_time":     strconv.FormatInt(g.EndTime, 10),
		},
	}, true
}

var chessComDrawResults = map[string]bool{
	"agreed":             true,
	"repetition":         true,
	"stalemate":          true,
	"insufficient":       true,
	"50move":             true,
	"timevsinsufficient": true,
}

func chessComOutcome(white, black string) model.Outcome {
	switch {
	case white == "win":
		return model.OutcomeWhiteWin
	case black == "win":
		return model.OutcomeBlackWin
	case chessComDrawResults[white] || chessComDrawResults[black]:
		return model.OutcomeDraw
	default:
		return model.OutcomeUnknown
	}
}
