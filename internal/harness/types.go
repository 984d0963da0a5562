package harness

import (
	"fmt"

	"github.com/roach88/chessbench/internal/engine"
)

// Event kinds recorded in a trace.
const (
	EventState          = "state"
	EventFetch          = "fetch"
	EventBackoff        = "backoff"
	EventPredicted      = "predicted"
	EventFailed         = "failed"
	EventWriteAttempt   = "write_attempt"
	EventWriteAggregate = "write_aggregate"
)

// TraceEvent is one observable side effect of a run.
type TraceEvent struct {
	Seq    int64  `json:"seq"`
	Kind   string `json:"kind"`
	GameID string `json:"game_id,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Label identifies the event in trace assertions: kind:game for events
// about a single game, state:<name> for state changes, kind otherwise.
func (e TraceEvent) Label() string {
	switch {
	case e.GameID != "":
		return e.Kind + ":" + e.GameID
	case e.Kind == EventState:
		return e.Kind + ":" + e.Detail
	default:
		return e.Kind
	}
}

func (e TraceEvent) String() string {
	if e.Detail == "" || e.Kind == EventState {
		return fmt.Sprintf("[%d] %s", e.Seq, e.Label())
	}
	return fmt.Sprintf("[%d] %s (%s)", e.Seq, e.Label(), e.Detail)
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if the expect clause and every assertion match.
	Pass bool `json:"pass"`

	// Trace contains every recorded event in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Run is the controller's result.
	Run *engine.Result `json:"-"`

	// RunErr is the error returned by the controller.
	RunErr error `json:"-"`

	// StoredIDs lists the games written to the store, in write order.
	StoredIDs []string `json:"stored_ids"`

	// Aggregate is the stored run aggregate keyed by JSON field name.
	Aggregate map[string]any `json:"aggregate,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Trace:     []TraceEvent{},
		Errors:    []string{},
		StoredIDs: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
