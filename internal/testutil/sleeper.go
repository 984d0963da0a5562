package testutil

import (
	"context"
	"sync"
	"time"
)

// RecordingSleeper records requested waits instead of sleeping.
// It still honors cancellation: a done ctx yields ctx.Err().
type RecordingSleeper struct {
	// OnSleep, if set, runs before each recorded wait returns. Tests use it
	// to cancel a run from inside a backoff.
	OnSleep func(n int, d time.Duration)

	mu    sync.Mutex
	waits []time.Duration
}

// Sleep implements queue.Sleeper.
func (s *RecordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	n := len(s.waits)
	s.mu.Unlock()

	if s.OnSleep != nil {
		s.OnSleep(n, d)
	}
	return ctx.Err()
}

// Waits returns a copy of the recorded waits in order.
func (s *RecordingSleeper) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}
