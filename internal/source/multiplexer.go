package source

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/chessbench/internal/model"
)

// maxExcludedPages caps how many consecutive fully-excluded pages one source
// may serve within a single Fetch.
const maxExcludedPages = 5

// Multiplexer pulls bounded batches from several sources.
//
// Sources are asked in round-robin order, starting after the one that served
// the previous call, so one prolific provider cannot starve the others.
// Per-source cursors and drained flags are the Multiplexer's own state.
type Multiplexer struct {
	sources []Source
	cursors map[string]string
	drained map[string]bool
	next    int
}

// NewMultiplexer creates a multiplexer over the given sources.
func NewMultiplexer(sources ...Source) *Multiplexer {
	return &Multiplexer{
		sources: sources,
		cursors: make(map[string]string, len(sources)),
		drained: make(map[string]bool, len(sources)),
	}
}

// Fetch returns up to count records whose IDs are not in exclude.
//
// Returning fewer than count, including zero, is normal (rate limiting,
// sparse history). An error is returned only when every asked source failed
// and nothing at all was collected.
func (m *Multiplexer) Fetch(ctx context.Context, count int, exclude Excluder) ([]model.GameRecord, error) {
	if exclude == nil {
		exclude = noneExcluded{}
	}
	if count <= 0 || len(m.sources) == 0 {
		return nil, nil
	}

	var (
		out   []model.GameRecord
		seen  = make(map[string]struct{}, count)
		errs  = make(map[string]error)
		asked int
	)

	for i := 0; i < len(m.sources) && len(out) < count; i++ {
		src := m.sources[(m.next+i)%len(m.sources)]
		name := src.Name()
		if m.drained[name] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}

		asked++
		if err := m.pull(ctx, src, count, exclude, seen, &out); err != nil {
			errs[name] = err
		}
	}
	m.next = (m.next + 1) % len(m.sources)

	if len(out) == 0 && asked > 0 && len(errs) == asked {
		return nil, &SourceFetchError{Errs: errs}
	}
	return out, nil
}

// pull reads pages from src into out. A page whose records were all
// excluded is followed by the next one, up to maxExcludedPages, so a resumed
// run can walk past history it has already scored within one fetch.
func (m *Multiplexer) pull(ctx context.Context, src Source, count int, exclude Excluder, seen map[string]struct{}, out *[]model.GameRecord) error {
	name := src.Name()
	for page := 1; ; page++ {
		cursor := m.cursors[name]
		batch, err := src.FetchBatch(ctx, BatchRequest{
			Count:   count - len(*out),
			Exclude: exclude,
			Cursor:  cursor,
		})
		if errors.Is(err, ErrRateLimited) {
			slog.Warn("source rate limited", "source", name)
			return nil
		}
		if err != nil {
			slog.Warn("source fetch failed", "source", name, "error", err)
			if page > 1 {
				return nil
			}
			return err
		}

		m.cursors[name] = batch.NextCursor
		if batch.Done {
			slog.Info("source drained", "source", name)
			m.drained[name] = true
		}

		kept, excluded := 0, batch.Excluded
		for _, rec := range batch.Records {
			if len(*out) >= count {
				break
			}
			if rec.ID == "" {
				continue
			}
			if exclude.Has(rec.ID) {
				excluded++
				continue
			}
			if _, dup := seen[rec.ID]; dup {
				continue
			}
			seen[rec.ID] = struct{}{}
			*out = append(*out, rec)
			kept++
		}

		slog.Debug("source batch",
			"source", name,
			"page", page,
			"returned", len(batch.Records),
			"kept", kept,
			"excluded", excluded,
			"cursor", batch.NextCursor,
		)

		if kept > 0 || excluded == 0 || batch.Done || batch.NextCursor == cursor || page >= maxExcludedPages {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return nil
		}
	}
}

// Drained reports whether every source has said it has nothing more to give.
func (m *Multiplexer) Drained() bool {
	for _, src := range m.sources {
		if !m.drained[src.Name()] {
			return false
		}
	}
	return true
}
