package harness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/chessbench/internal/engine"
	"github.com/roach88/chessbench/internal/model"
	"github.com/roach88/chessbench/internal/queue"
	"github.com/roach88/chessbench/internal/source"
	"github.com/roach88/chessbench/internal/testutil"
)

// tracer collects events from every traced collaborator in one sequence.
type tracer struct {
	mu    sync.Mutex
	seq   int64
	trace []TraceEvent
}

func (t *tracer) add(kind, gameID, detail string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	t.trace = append(t.trace, TraceEvent{Seq: t.seq, Kind: kind, GameID: gameID, Detail: detail})
}

func (t *tracer) events() []TraceEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TraceEvent{}, t.trace...)
}

// tracingStore records every write that reaches the store.
type tracingStore struct {
	*testutil.MemoryStore
	tracer *tracer
}

func (s *tracingStore) UpsertAttempt(ctx context.Context, a model.PredictionAttempt) error {
	err := s.MemoryStore.UpsertAttempt(ctx, a)
	if err == nil {
		s.tracer.add(EventWriteAttempt, a.GameID, fmt.Sprintf("seq=%d", a.Seq))
	}
	return err
}

func (s *tracingStore) UpsertRunAggregate(ctx context.Context, agg model.RunAggregate) error {
	err := s.MemoryStore.UpsertRunAggregate(ctx, agg)
	if err == nil {
		s.tracer.add(EventWriteAggregate, "", fmt.Sprintf("status=%s completed=%d failed=%d", agg.Status, agg.CompletedCount, agg.FailedCount))
	}
	return err
}

// tracingFetcher records every fetch the queue makes.
type tracingFetcher struct {
	fetcher queue.Fetcher
	tracer  *tracer
}

func (f *tracingFetcher) Fetch(ctx context.Context, count int, exclude source.Excluder) ([]model.GameRecord, error) {
	recs, err := f.fetcher.Fetch(ctx, count, exclude)
	if err != nil {
		f.tracer.add(EventFetch, "", "error")
	} else {
		f.tracer.add(EventFetch, "", fmt.Sprintf("%d records", len(recs)))
	}
	return recs, err
}

// tracingSleeper records backoff waits without sleeping.
type tracingSleeper struct {
	testutil.RecordingSleeper
	tracer *tracer
}

func (s *tracingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.tracer.add(EventBackoff, "", d.String())
	return s.RecordingSleeper.Sleep(ctx, d)
}

func (s *tracingSleeper) waits() []time.Duration {
	return s.RecordingSleeper.Waits()
}

// progressTracer turns controller progress into state and record events.
type progressTracer struct {
	tracer *tracer
	seen   bool
	phase  engine.State
}

func (p *progressTracer) observe(pr engine.Progress) {
	switch {
	case pr.GameID != "" && pr.Failure != "":
		p.tracer.add(EventFailed, pr.GameID, string(pr.Failure))
	case pr.GameID != "":
		p.tracer.add(EventPredicted, pr.GameID, fmt.Sprintf("completed=%d", pr.Completed))
	case !p.seen || pr.Phase != p.phase:
		p.tracer.add(EventState, "", pr.Phase.String())
	}
	p.seen = true
	p.phase = pr.Phase
}
