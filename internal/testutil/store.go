package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/roach88/chessbench/internal/model"
)

// MemoryStore is an in-memory Result Store that records every call.
//
// It has the same idempotency rules as the SQLite store: the first attempt
// per game wins, and aggregates only move forward in completed count.
// Failure hooks let tests inject store errors.
type MemoryStore struct {
	// FailAttempt, if set, is consulted before each attempt write; a non-nil
	// return fails that write.
	FailAttempt func(a model.PredictionAttempt) error
	// FailAggregate, if set, is consulted before each aggregate write.
	FailAggregate func(agg model.RunAggregate) error

	mu         sync.Mutex
	attempts   map[string]model.PredictionAttempt
	order      []string
	upserts    map[string]int
	aggregates map[string]model.RunAggregate
	aggWrites  int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		attempts:   make(map[string]model.PredictionAttempt),
		upserts:    make(map[string]int),
		aggregates: make(map[string]model.RunAggregate),
	}
}

// UpsertAttempt records a; a second write for the same game is ignored.
func (s *MemoryStore) UpsertAttempt(_ context.Context, a model.PredictionAttempt) error {
	if s.FailAttempt != nil {
		if err := s.FailAttempt(a); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts[a.GameID]++
	if _, ok := s.attempts[a.GameID]; ok {
		return nil
	}
	s.attempts[a.GameID] = a
	s.order = append(s.order, a.GameID)
	return nil
}

// UpsertRunAggregate stores agg unless a newer one is already present.
func (s *MemoryStore) UpsertRunAggregate(_ context.Context, agg model.RunAggregate) error {
	if s.FailAggregate != nil {
		if err := s.FailAggregate(agg); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aggWrites++
	if cur, ok := s.aggregates[agg.RunID]; ok && agg.CompletedCount < cur.CompletedCount {
		return nil
	}
	s.aggregates[agg.RunID] = agg
	return nil
}

// LoadRecordedIDs returns the ids of every stored attempt.
func (s *MemoryStore) LoadRecordedIDs(context.Context) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[string]struct{}, len(s.attempts))
	for id := range s.attempts {
		ids[id] = struct{}{}
	}
	return ids, nil
}

// StoredIDs returns stored game ids in write order.
func (s *MemoryStore) StoredIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Attempts returns stored attempts in write order.
func (s *MemoryStore) Attempts() []model.PredictionAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.PredictionAttempt, len(s.order))
	for i, id := range s.order {
		out[i] = s.attempts[id]
	}
	return out
}

// UpsertCount returns how many times UpsertAttempt reached the store for id.
func (s *MemoryStore) UpsertCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts[id]
}

// MaxUpserts returns the highest per-id upsert count and the ids sorted.
func (s *MemoryStore) MaxUpserts() (int, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	highest := 0
	ids := make([]string, 0, len(s.upserts))
	for id, n := range s.upserts {
		ids = append(ids, id)
		if n > highest {
			highest = n
		}
	}
	sort.Strings(ids)
	return highest, ids
}

// Aggregate returns the stored aggregate for runID.
func (s *MemoryStore) Aggregate(runID string) (model.RunAggregate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg, ok := s.aggregates[runID]
	return agg, ok
}

// AggregateWrites returns the number of accepted or ignored aggregate writes.
func (s *MemoryStore) AggregateWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aggWrites
}
