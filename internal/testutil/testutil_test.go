package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chessbench/internal/model"
	"github.com/roach88/chessbench/internal/source"
)

func TestStubSource_ServesScriptThenEmpty(t *testing.T) {
	boom := errors.New("boom")
	s := NewStubSource(Games("a", 2), nil, Games("b", 1))
	s.Errs = map[int]error{1: boom}

	b, err := s.FetchBatch(context.Background(), source.BatchRequest{Count: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"a-1", "a-2"}, IDs(b.Records))

	_, err = s.FetchBatch(context.Background(), source.BatchRequest{Count: 10})
	assert.ErrorIs(t, err, boom)

	b, err = s.FetchBatch(context.Background(), source.BatchRequest{Count: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"b-1"}, IDs(b.Records))

	b, err = s.FetchBatch(context.Background(), source.BatchRequest{Count: 10})
	require.NoError(t, err)
	assert.Empty(t, b.Records)
	assert.False(t, b.Done)
	assert.Equal(t, 4, s.Calls())
}

func TestStubSource_HonorsExclude(t *testing.T) {
	s := NewStubSource(Games("a", 3))
	b, err := s.FetchBatch(context.Background(), source.BatchRequest{Count: 10, Exclude: source.NewIDSet("a-2")})
	require.NoError(t, err)
	assert.Equal(t, []string{"a-1", "a-3"}, IDs(b.Records))
	assert.Equal(t, 1, b.Excluded)
}

func TestRecordingSleeper(t *testing.T) {
	var s RecordingSleeper
	require.NoError(t, s.Sleep(context.Background(), time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Sleep(ctx, 2*time.Second), context.Canceled)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, s.Waits())
}

func TestSteppingClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewSteppingClock(start, time.Minute)
	assert.Equal(t, start, c.Now())
	assert.Equal(t, start.Add(time.Minute), c.Now())
}

func TestFixedRunIDGenerator(t *testing.T) {
	assert.Equal(t, "test-run-default", NewFixedRunIDGenerator("").Generate())
	g := NewFixedRunIDGenerator("run-1")
	assert.Equal(t, g.Generate(), g.Generate())
}

func TestGame(t *testing.T) {
	g := Game("x", model.OutcomeDraw)
	assert.Equal(t, "x", g.ID)
	assert.Equal(t, model.OutcomeDraw, g.Outcome)
	assert.NotEmpty(t, g.MoveText)
}

func TestMemoryStore_IdempotentAttempts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	a := model.PredictionAttempt{GameID: "g", RunID: "r1", CutoffMove: 10}
	require.NoError(t, s.UpsertAttempt(ctx, a))
	a.CutoffMove = 20
	require.NoError(t, s.UpsertAttempt(ctx, a))

	assert.Equal(t, []string{"g"}, s.StoredIDs())
	assert.Equal(t, 10, s.Attempts()[0].CutoffMove)
	assert.Equal(t, 2, s.UpsertCount("g"))

	ids, err := s.LoadRecordedIDs(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, "g")
}

func TestMemoryStore_MonotonicAggregate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.UpsertRunAggregate(ctx, model.RunAggregate{RunID: "r", CompletedCount: 3}))
	require.NoError(t, s.UpsertRunAggregate(ctx, model.RunAggregate{RunID: "r", CompletedCount: 1}))

	agg, ok := s.Aggregate("r")
	require.True(t, ok)
	assert.Equal(t, 3, agg.CompletedCount)
	assert.Equal(t, 2, s.AggregateWrites())
}

func TestMemoryStore_FailureHook(t *testing.T) {
	boom := errors.New("disk full")
	s := NewMemoryStore()
	s.FailAttempt = func(model.PredictionAttempt) error { return boom }
	assert.ErrorIs(t, s.UpsertAttempt(context.Background(), model.PredictionAttempt{GameID: "g"}), boom)
	assert.Empty(t, s.StoredIDs())
}
