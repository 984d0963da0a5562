package testutil

import (
	"context"
	"strconv"
	"sync"

	"github.com/roach88/chessbench/internal/model"
	"github.com/roach88/chessbench/internal/source"
)

// StubSource is a scripted source.Source.
//
// Call i returns Batches[i] (filtered through the request's Exclude, as a
// well-behaved provider would) or Errs[i] if set. Once the script runs out,
// every call returns an empty batch that is not Done, which is what a
// sparse provider looks like to the queue controller.
type StubSource struct {
	SourceName string
	Batches    [][]model.GameRecord
	Errs       map[int]error
	// IgnoreExclude returns batches unfiltered, simulating a provider with
	// inconsistent server-side filtering.
	IgnoreExclude bool

	mu    sync.Mutex
	calls int
}

// NewStubSource creates a stub that serves batches in order.
func NewStubSource(batches ...[]model.GameRecord) *StubSource {
	return &StubSource{SourceName: "stub", Batches: batches}
}

// Name implements source.Source.
func (s *StubSource) Name() string {
	return s.SourceName
}

// FetchBatch implements source.Source.
func (s *StubSource) FetchBatch(ctx context.Context, req source.BatchRequest) (source.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.calls
	s.calls++
	if err, ok := s.Errs[i]; ok {
		return source.Batch{}, err
	}
	if i >= len(s.Batches) {
		return source.Batch{NextCursor: strconv.Itoa(i + 1)}, nil
	}

	var (
		out      []model.GameRecord
		excluded int
	)
	for _, rec := range s.Batches[i] {
		if !s.IgnoreExclude && req.Exclude != nil && req.Exclude.Has(rec.ID) {
			excluded++
			continue
		}
		out = append(out, rec)
	}
	return source.Batch{Records: out, NextCursor: strconv.Itoa(i + 1), Excluded: excluded}, nil
}

// Calls returns how many times FetchBatch was invoked.
func (s *StubSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
