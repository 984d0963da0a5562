// Package queue implements the refill/drain state machine that feeds records
// to the run loop.
//
// The controller owns the in-memory backlog and every retry decision: the
// empty-streak counter, the refill budget, and the exponential backoff
// between empty fetches all live here and nowhere else.
//
// State machine:
//
//	Draining  --backlog consumed-->           Refilling
//	Refilling --fetch had >=1 fresh record--> Draining
//	Refilling --fetch had 0 fresh records-->  Refilling (streak++, backoff)
//	Refilling --streak or budget spent-->     Exhausted (terminal)
//
// A fetch whose records are all already excluded counts as empty. So does a
// fetch that failed outright. The streak resets only on genuinely new work.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/chessbench/internal/ledger"
	"github.com/roach88/chessbench/internal/model"
	"github.com/roach88/chessbench/internal/source"
)

// State is the controller's position in the refill state machine.
type State int

const (
	// Draining serves records from the in-memory backlog.
	Draining State = iota
	// Refilling is waiting on a fetch (or a backoff sleep before one).
	Refilling
	// Exhausted is terminal: the retry budget is spent.
	Exhausted
)

// String returns a lowercase label for logs and progress events.
func (s State) String() string {
	switch s {
	case Draining:
		return "draining"
	case Refilling:
		return "refilling"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// ErrExhausted is returned by Next and Fill once the controller is terminal.
var ErrExhausted = errors.New("queue exhausted")

// ExhaustReason says which budget ran out.
type ExhaustReason string

const (
	ReasonNone         ExhaustReason = ""
	ReasonEmptyStreak  ExhaustReason = "empty_streak"
	ReasonRefillBudget ExhaustReason = "refill_budget"
)

// Fetcher is the Game Source Multiplexer as seen by the controller.
type Fetcher interface {
	Fetch(ctx context.Context, count int, exclude source.Excluder) ([]model.GameRecord, error)
}

// Ledger is the part of the exclusion ledger the controller reads.
// The persisted view is handed to the fetcher; the full check runs at draw
// time so session classifications made after a fetch are still honored.
type Ledger interface {
	IsExcluded(id string) bool
	PersistedView() ledger.View
}

// Sleeper waits between empty refills. Implementations must return early
// with ctx.Err() when ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep implements Sleeper.
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Config bounds the controller's retry behavior.
type Config struct {
	BatchSize       int           // records requested per fetch
	MaxEmptyBatches int           // consecutive empty fetches before Exhausted
	MaxRefills      int           // total fetch attempts before Exhausted
	BackoffBase     time.Duration // wait after the first empty fetch
	BackoffMax      time.Duration // cap on any single wait
}

// DefaultConfig returns the defaults used by the CLI.
func DefaultConfig() Config {
	return Config{
		BatchSize:       20,
		MaxEmptyBatches: 5,
		MaxRefills:      200,
		BackoffBase:     time.Second,
		BackoffMax:      30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxEmptyBatches <= 0 {
		c.MaxEmptyBatches = d.MaxEmptyBatches
	}
	if c.MaxRefills <= 0 {
		c.MaxRefills = d.MaxRefills
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = c.BackoffBase
	}
	return c
}

// Backoff returns the wait before the fetch that follows the streak-th
// consecutive empty fetch: base * 2^(streak-1), capped at max.
// A streak of zero waits nothing.
func (c Config) Backoff(streak int) time.Duration {
	if streak <= 0 {
		return 0
	}
	wait := c.BackoffBase
	for i := 1; i < streak; i++ {
		wait *= 2
		if wait >= c.BackoffMax || wait <= 0 {
			return c.BackoffMax
		}
	}
	if wait > c.BackoffMax {
		return c.BackoffMax
	}
	return wait
}

// RefillEvent describes one fetch attempt. Passed to the refill hook.
type RefillEvent struct {
	Attempt int           // 1-based refill attempt number
	Fetched int           // records returned by the fetcher
	Fresh   int           // records that survived exclusion and dedupe
	Streak  int           // empty streak after this attempt
	Waited  time.Duration // backoff slept before this attempt
	Err     error         // fetcher error, if any
}

// Option configures a Controller.
type Option func(*Controller)

// WithSleeper replaces the wall-clock sleeper.
func WithSleeper(s Sleeper) Option {
	return func(c *Controller) { c.sleeper = s }
}

// WithRefillHook registers a callback invoked after every fetch attempt.
func WithRefillHook(fn func(RefillEvent)) Option {
	return func(c *Controller) { c.onRefill = fn }
}

// Stats is a snapshot of controller state.
type Stats struct {
	State       State         `json:"-"`
	StateName   string        `json:"state"`
	EmptyStreak int           `json:"empty_streak"`
	Refills     int           `json:"refills"`
	Backlog     int           `json:"backlog"`
	Skipped     int           `json:"skipped"`
	LastWait    time.Duration `json:"last_wait"`
	Reason      ExhaustReason `json:"reason,omitempty"`
}

// Controller is the queue state machine. It is not safe for concurrent use;
// the run loop is its only caller.
type Controller struct {
	fetcher Fetcher
	ledger  Ledger
	cfg     Config
	sleeper Sleeper

	onRefill func(RefillEvent)

	state    State
	backlog  []model.GameRecord
	pos      int
	streak   int
	refills  int
	skipped  int
	lastWait time.Duration
	reason   ExhaustReason
}

// New creates a controller with an empty backlog. The first Next (or Fill)
// triggers the first fetch.
func New(fetcher Fetcher, l Ledger, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		fetcher: fetcher,
		ledger:  l,
		cfg:     cfg.withDefaults(),
		sleeper: timerSleeper{},
		state:   Refilling,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	return c.state
}

// Config returns the effective configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// Stats returns a snapshot for progress reporting.
func (c *Controller) Stats() Stats {
	return Stats{
		State:       c.state,
		StateName:   c.state.String(),
		EmptyStreak: c.streak,
		Refills:     c.refills,
		Backlog:     len(c.backlog) - c.pos,
		Skipped:     c.skipped,
		LastWait:    c.lastWait,
		Reason:      c.reason,
	}
}

// Fill performs refills until the backlog holds fresh work. It is a no-op
// while records remain in the backlog. Returns ErrExhausted when the budget
// runs out first, or ctx.Err() if cancelled during a backoff sleep.
func (c *Controller) Fill(ctx context.Context) error {
	if c.state == Exhausted {
		return ErrExhausted
	}
	if c.pos < len(c.backlog) {
		return nil
	}
	return c.refill(ctx)
}

// Next returns the next record that is not excluded by the ledger.
//
// Records classified after they were fetched (for example a duplicate that
// was just predicted) are skipped here. Returns ErrExhausted once terminal.
func (c *Controller) Next(ctx context.Context) (model.GameRecord, error) {
	for {
		if c.state == Exhausted {
			return model.GameRecord{}, ErrExhausted
		}

		for c.pos < len(c.backlog) {
			rec := c.backlog[c.pos]
			c.backlog[c.pos] = model.GameRecord{}
			c.pos++
			if c.ledger.IsExcluded(rec.ID) {
				c.skipped++
				slog.Debug("queue skipped excluded record", "game_id", rec.ID)
				continue
			}
			return rec, nil
		}

		c.state = Refilling
		if err := c.refill(ctx); err != nil {
			return model.GameRecord{}, err
		}
	}
}

func (c *Controller) refill(ctx context.Context) error {
	c.state = Refilling

	for {
		if c.refills >= c.cfg.MaxRefills {
			return c.exhaust(ReasonRefillBudget)
		}

		var waited time.Duration
		if c.streak > 0 {
			waited = c.cfg.Backoff(c.streak)
			c.lastWait = waited
			slog.Debug("queue backing off", "streak", c.streak, "wait", waited)
			if err := c.sleeper.Sleep(ctx, waited); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		c.refills++
		recs, err := c.fetcher.Fetch(ctx, c.cfg.BatchSize, c.ledger.PersistedView())
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			slog.Warn("queue fetch failed", "attempt", c.refills, "error", err)
		}

		fresh := c.fresh(recs)
		if len(fresh) > 0 {
			c.streak = 0
			c.lastWait = 0
		} else {
			c.streak++
		}
		c.notify(RefillEvent{
			Attempt: c.refills,
			Fetched: len(recs),
			Fresh:   len(fresh),
			Streak:  c.streak,
			Waited:  waited,
			Err:     err,
		})

		if len(fresh) > 0 {
			c.backlog = fresh
			c.pos = 0
			c.state = Draining
			slog.Debug("queue refilled", "attempt", c.refills, "fetched", len(recs), "fresh", len(fresh))
			return nil
		}

		slog.Info("queue fetch yielded no new records",
			"attempt", c.refills,
			"fetched", len(recs),
			"streak", c.streak,
			"max_empty_batches", c.cfg.MaxEmptyBatches,
		)
		if c.streak >= c.cfg.MaxEmptyBatches {
			return c.exhaust(ReasonEmptyStreak)
		}
	}
}

// fresh drops excluded records and duplicates within the batch.
func (c *Controller) fresh(recs []model.GameRecord) []model.GameRecord {
	out := make([]model.GameRecord, 0, len(recs))
	seen := make(map[string]struct{}, len(recs))
	for _, rec := range recs {
		if rec.ID == "" || c.ledger.IsExcluded(rec.ID) {
			continue
		}
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		out = append(out, rec)
	}
	return out
}

func (c *Controller) exhaust(reason ExhaustReason) error {
	c.state = Exhausted
	c.reason = reason
	c.backlog = nil
	c.pos = 0
	slog.Warn("queue exhausted",
		"reason", string(reason),
		"refills", c.refills,
		"streak", c.streak,
	)
	return ErrExhausted
}

func (c *Controller) notify(ev RefillEvent) {
	if c.onRefill != nil {
		c.onRefill(ev)
	}
}
