// Package persist buffers prediction attempts in memory and flushes them to
// the Result Store in draw order.
//
// Flushes happen on every Nth success (periodic), once at loop exit (final)
// and once on an unrecovered panic (emergency). Every write is an upsert, so
// re-flushing an attempt that already reached the store is harmless.
//
// A periodic flush that fails keeps the unwritten attempts buffered for the
// next cycle. Terminal flushes retry once and then give up, reporting how
// many attempts were lost; the run's own outcome is never replaced by a
// store error.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/chessbench/internal/model"
)

// Store is the write side of the Result Store.
type Store interface {
	UpsertAttempt(ctx context.Context, a model.PredictionAttempt) error
	UpsertRunAggregate(ctx context.Context, agg model.RunAggregate) error
}

// Kind labels a flush for logs and metrics.
type Kind string

const (
	KindPeriodic  Kind = "periodic"
	KindFinal     Kind = "final"
	KindEmergency Kind = "emergency"
)

// StoreWriteError reports a failed flush. Attempts not yet written remain
// buffered.
type StoreWriteError struct {
	// Op is "attempt" or "aggregate".
	Op string
	// GameID is the attempt whose write failed (Op == "attempt").
	GameID string
	// RunID identifies the run.
	RunID string
	// Pending is the number of attempts still buffered.
	Pending int
	// Err is the underlying store error.
	Err error
}

// Error implements the error interface.
func (e *StoreWriteError) Error() string {
	if e.Op == "attempt" {
		return fmt.Sprintf("store write failed: attempt %s (run=%s, pending=%d): %v", e.GameID, e.RunID, e.Pending, e.Err)
	}
	return fmt.Sprintf("store write failed: %s (run=%s, pending=%d): %v", e.Op, e.RunID, e.Pending, e.Err)
}

// Unwrap returns the underlying store error.
func (e *StoreWriteError) Unwrap() error {
	return e.Err
}

// IsStoreWriteError returns true if err is (or wraps) a StoreWriteError.
func IsStoreWriteError(err error) bool {
	var se *StoreWriteError
	return errors.As(err, &se)
}

// FlushReport summarizes a terminal flush.
type FlushReport struct {
	Kind    Kind  `json:"kind"`
	Written int   `json:"written"` // attempts written by this flush, retry included
	Lost    int   `json:"lost"`    // attempts still unwritten after the retry
	Retried bool  `json:"retried"`
	Skipped bool  `json:"skipped,omitempty"` // emergency flush already ran
	Err     error `json:"-"`                 // last store error, if any
}

// FlushEvent is passed to the flush hook after every flush attempt.
type FlushEvent struct {
	Kind    Kind
	Written int
	Pending int
	Elapsed time.Duration
	Err     error
}

// Option configures a Persister.
type Option func(*Persister)

// WithOnPersisted registers the callback that receives the ids of attempts
// once they are durably written. The run controller folds them into the
// exclusion ledger's persisted set.
func WithOnPersisted(fn func(ids []string)) Option {
	return func(p *Persister) { p.onPersisted = fn }
}

// WithFlushHook registers a callback invoked after every flush attempt.
func WithFlushHook(fn func(FlushEvent)) Option {
	return func(p *Persister) { p.onFlush = fn }
}

// WithTerminalTimeout bounds each terminal flush attempt. Zero means no bound.
func WithTerminalTimeout(d time.Duration) Option {
	return func(p *Persister) { p.terminalTimeout = d }
}

// Persister owns the in-memory attempt buffer. Not safe for concurrent use;
// the run loop is its only caller.
type Persister struct {
	store    Store
	interval int

	buffer []model.PredictionAttempt
	total  int // attempts written over the persister's lifetime

	onPersisted     func(ids []string)
	onFlush         func(FlushEvent)
	terminalTimeout time.Duration
	emergencyDone   bool
}

// New creates a persister that flushes every interval successes.
// An interval below 1 is treated as 1.
func New(store Store, interval int, opts ...Option) *Persister {
	if interval < 1 {
		interval = 1
	}
	p := &Persister{store: store, interval: interval}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Interval returns the flush interval.
func (p *Persister) Interval() int {
	return p.interval
}

// Add buffers an attempt. Attempts are flushed in the order added.
func (p *Persister) Add(a model.PredictionAttempt) {
	p.buffer = append(p.buffer, a)
}

// Pending returns the number of buffered, unwritten attempts.
func (p *Persister) Pending() int {
	return len(p.buffer)
}

// Written returns the number of attempts written so far.
func (p *Persister) Written() int {
	return p.total
}

// ShouldFlush reports whether completed successes hit a flush boundary.
func (p *Persister) ShouldFlush(completed int) bool {
	return completed > 0 && completed%p.interval == 0
}

// Flush writes every buffered attempt, then the aggregate.
//
// Attempts are removed from the buffer only once written. On failure the
// remainder stays buffered and a *StoreWriteError is returned.
func (p *Persister) Flush(ctx context.Context, agg model.RunAggregate) error {
	return p.flush(ctx, KindPeriodic, agg)
}

func (p *Persister) flush(ctx context.Context, kind Kind, agg model.RunAggregate) error {
	start := time.Now()
	written, err := p.writeAttempts(ctx, agg.RunID)
	if err == nil {
		if aggErr := p.store.UpsertRunAggregate(ctx, agg); aggErr != nil {
			err = &StoreWriteError{Op: "aggregate", RunID: agg.RunID, Pending: len(p.buffer), Err: aggErr}
		}
	}

	if p.onFlush != nil {
		p.onFlush(FlushEvent{
			Kind:    kind,
			Written: written,
			Pending: len(p.buffer),
			Elapsed: time.Since(start),
			Err:     err,
		})
	}
	if err != nil {
		slog.Error("flush failed",
			"kind", string(kind),
			"run_id", agg.RunID,
			"written", written,
			"pending", len(p.buffer),
			"error", err,
		)
		return err
	}
	slog.Debug("flush complete",
		"kind", string(kind),
		"run_id", agg.RunID,
		"written", written,
		"completed", agg.CompletedCount,
	)
	return nil
}

// writeAttempts writes the buffer front to back and stops at the first
// failure. Written attempts are dropped from the buffer and reported to the
// OnPersisted callback even when a later write fails.
func (p *Persister) writeAttempts(ctx context.Context, runID string) (int, error) {
	var (
		ids []string
		err error
	)
	for _, a := range p.buffer {
		if writeErr := p.store.UpsertAttempt(ctx, a); writeErr != nil {
			err = &StoreWriteError{
				Op:      "attempt",
				GameID:  a.GameID,
				RunID:   runID,
				Pending: len(p.buffer) - len(ids),
				Err:     writeErr,
			}
			break
		}
		ids = append(ids, a.GameID)
	}

	n := len(ids)
	if n > 0 {
		rest := make([]model.PredictionAttempt, len(p.buffer)-n)
		copy(rest, p.buffer[n:])
		p.buffer = rest
		p.total += n
		if p.onPersisted != nil {
			p.onPersisted(ids)
		}
	}
	return n, err
}

// FinalFlush is the unconditional flush at loop exit. It runs on a context
// detached from ctx's cancellation, retries once, and never returns an
// error: a persistent failure is logged and counted as lost attempts.
func (p *Persister) FinalFlush(ctx context.Context, agg model.RunAggregate) FlushReport {
	return p.terminal(ctx, KindFinal, agg)
}

// EmergencyFlush is the best-effort flush before a panic propagates. It
// runs at most once per persister; later calls report Skipped.
func (p *Persister) EmergencyFlush(ctx context.Context, agg model.RunAggregate) FlushReport {
	if p.emergencyDone {
		return FlushReport{Kind: KindEmergency, Skipped: true, Lost: len(p.buffer)}
	}
	p.emergencyDone = true
	return p.terminal(ctx, KindEmergency, agg)
}

func (p *Persister) terminal(ctx context.Context, kind Kind, agg model.RunAggregate) FlushReport {
	ctx = context.WithoutCancel(ctx)
	report := FlushReport{Kind: kind}

	for attempt := 0; attempt < 2; attempt++ {
		before := p.total
		err := p.flushBounded(ctx, kind, agg)
		report.Written += p.total - before
		if err == nil {
			report.Err = nil
			break
		}
		report.Err = err
		if attempt == 0 {
			report.Retried = true
			slog.Warn("terminal flush failed, retrying", "kind", string(kind), "run_id", agg.RunID, "error", err)
		}
	}

	report.Lost = len(p.buffer)
	if report.Err != nil {
		slog.Error("terminal flush gave up",
			"kind", string(kind),
			"run_id", agg.RunID,
			"lost", report.Lost,
			"error", report.Err,
		)
	}
	return report
}

func (p *Persister) flushBounded(ctx context.Context, kind Kind, agg model.RunAggregate) error {
	if p.terminalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.terminalTimeout)
		defer cancel()
	}
	return p.flush(ctx, kind, agg)
}
