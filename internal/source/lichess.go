package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/roach88/chessbench/internal/model"
)

// DefaultLichessBaseURL is the public Lichess API root.
const DefaultLichessBaseURL = "https://lichess.org"

// LichessSource exports a user's game history over the NDJSON games API.
//
// The cursor is the "until" timestamp (epoch ms): games are returned newest
// first, so the next page ends one millisecond before the oldest game seen.
type LichessSource struct {
	baseURL string
	user    string
	client  HTTPClient
	limiter *rate.Limiter
}

// LichessOption configures a LichessSource.
type LichessOption func(*LichessSource)

// WithLichessBaseURL overrides the API root (tests point this at httptest).
func WithLichessBaseURL(u string) LichessOption {
	return func(s *LichessSource) { s.baseURL = u }
}

// WithLichessLimiter overrides the request rate limiter.
func WithLichessLimiter(l *rate.Limiter) LichessOption {
	return func(s *LichessSource) { s.limiter = l }
}

// NewLichessSource creates a source for one Lichess user.
// Default rate: one request per second, matching Lichess' guidance of
// issuing one request at a time.
func NewLichessSource(user string, client HTTPClient, opts ...LichessOption) *LichessSource {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	s := &LichessSource{
		baseURL: DefaultLichessBaseURL,
		user:    user,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements Source.
func (s *LichessSource) Name() string {
	return "lichess:" + s.user
}

type lichessPlayer struct {
	User struct {
		Name string `json:"name"`
	} `json:"user"`
	Rating int `json:"rating"`
}

type lichessGame struct {
	ID        string `json:"id"`
	Rated     bool   `json:"rated"`
	Variant   string `json:"variant"`
	Speed     string `json:"speed"`
	CreatedAt int64  `json:"createdAt"`
	Status    string `json:"status"`
	Winner    string `json:"winner"`
	Moves     string `json:"moves"`
	Players   struct {
		White lichessPlayer `json:"white"`
		Black lichessPlayer `json:"black"`
	} `json:"players"`
}

// FetchBatch implements Source.
func (s *LichessSource) FetchBatch(ctx context.Context, req BatchRequest) (Batch, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return Batch{}, err
	}

	q := url.Values{}
	q.Set("max", strconv.Itoa(req.Count))
	q.Set("moves", "true")
	q.Set("clocks", "false")
	q.Set("evals", "false")
	q.Set("opening", "false")
	if req.Cursor != "" {
		q.Set("until", req.Cursor)
	}
	endpoint := fmt.Sprintf("%s/api/games/user/%s?%s", s.baseURL, url.PathEscape(s.user), q.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Batch{}, fmt.Errorf("lichess: create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/x-ndjson")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return Batch{}, fmt.Errorf("lichess: call api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Batch{NextCursor: req.Cursor}, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return Batch{}, fmt.Errorf("lichess: api returned status %s", resp.Status)
	}

	exclude := req.Exclude
	if exclude == nil {
		exclude = noneExcluded{}
	}

	var (
		records  []model.GameRecord
		oldest   int64
		seen     int
		excluded int
	)
	dec := json.NewDecoder(resp.Body)
	for {
		var g lichessGame
		if err := dec.Decode(&g); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return Batch{}, fmt.Errorf("lichess: decode game: %w", err)
		}
		seen++
		if oldest == 0 || g.CreatedAt < oldest {
			oldest = g.CreatedAt
		}

		rec, ok := lichessRecord(g)
		if !ok {
			continue
		}
		if exclude.Has(rec.ID) {
			excluded++
			continue
		}
		records = append(records, rec)
	}

	if seen == 0 {
		return Batch{NextCursor: req.Cursor, Done: true}, nil
	}
	return Batch{
		Records:    records,
		NextCursor: strconv.FormatInt(oldest-1, 10),
		Done:       seen < req.Count,
		Excluded:   excluded,
	}, nil
}

// lichessRecord converts an exported game. Non-standard variants and games
// without moves are skipped.
func lichessRecord(g lichessGame) (model.GameRecord, bool) {
	if g.ID == "" || g.Moves == "" {
		return model.GameRecord{}, false
	}
	if g.Variant != "" && g.Variant != "standard" {
		return model.GameRecord{}, false
	}

	id, err := model.GameID(model.SourceLichess, g.ID, g.Moves)
	if err != nil {
		return model.GameRecord{}, false
	}

	return model.GameRecord{
		ID:       id,
		Source:   model.SourceLichess,
		MoveText: g.Moves,
		Outcome:  lichessOutcome(g),
		Metadata: map[string]string{
			"white":        g.Players.White.User.Name,
			"black":        g.Players.Black.User.Name,
			"white_rating": strconv.Itoa(g.Players.White.Rating),
			"black_rating": strconv.Itoa(g.Players.Black.Rating),
			"speed":        g.Speed,
			"status":       g.Status,
			"created_at":   strconv.FormatInt(g.CreatedAt, 10),
		},
	}, true
}

func lichessOutcome(g lichessGame) model.Outcome {
	switch g.Winner {
	case "white":
		return model.OutcomeWhiteWin
	case "black":
		return model.OutcomeBlackWin
	}
	switch g.Status {
	case "draw", "stalemate":
		return model.OutcomeDraw
	case "outoftime":
		// Timeout with no winner means insufficient mating material.
		return model.OutcomeDraw
	}
	return model.OutcomeUnknown
}
