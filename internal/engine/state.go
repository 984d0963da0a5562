package engine

import (
	"github.com/roach88/chessbench/internal/model"
)

// State is a Run Controller state.
type State int

const (
	Initializing State = iota
	FetchingFirstBatch
	Looping
	Completed
	Exhausted
	Cancelled
	Failed
)

var stateNames = [...]string{
	Initializing:       "initializing",
	FetchingFirstBatch: "fetching_first_batch",
	Looping:            "looping",
	Completed:          "completed",
	Exhausted:          "exhausted",
	Cancelled:          "cancelled",
	Failed:             "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s >= Completed
}

// RunStatus maps a state to the status recorded on the run aggregate.
func (s State) RunStatus() model.RunStatus {
	switch s {
	case Completed:
		return model.RunStatusCompleted
	case Exhausted:
		return model.RunStatusExhausted
	case Cancelled:
		return model.RunStatusCancelled
	case Failed:
		return model.RunStatusFailed
	default:
		return model.RunStatusRunning
	}
}

// Progress is reported after every state change and every processed record.
type Progress struct {
	Completed int    `json:"completed"`
	Target    int    `json:"target"`
	Phase     State  `json:"phase"`
	Message   string `json:"message,omitempty"`

	// GameID is set for per-record updates.
	GameID string `json:"game_id,omitempty"`
	// Failure is set when GameID was blacklisted.
	Failure model.RecordErrorCode `json:"failure,omitempty"`
}

// ProgressFunc receives progress updates on the run loop's goroutine.
type ProgressFunc func(Progress)

// RunState is the mutable bookkeeping of one run. It is owned by the run
// loop and threaded through it; nothing else mutates it.
type RunState struct {
	RunID     string
	Phase     State
	Aggregate model.RunAggregate

	// Drawn counts records taken from the queue.
	Drawn int
	// Failures counts blacklisted records per error code.
	Failures map[model.RecordErrorCode]int
}

func newRunState(agg model.RunAggregate) *RunState {
	return &RunState{
		RunID:     agg.RunID,
		Phase:     Initializing,
		Aggregate: agg,
		Failures:  make(map[model.RecordErrorCode]int),
	}
}

// Remaining is the number of successes still needed to reach the target.
func (s *RunState) Remaining() int {
	return s.Aggregate.TargetCount - s.Aggregate.CompletedCount
}

// TargetReached reports whether the run has all the successes it needs.
func (s *RunState) TargetReached() bool {
	return s.Remaining() <= 0
}

func (s *RunState) failureCounts() map[string]int {
	out := make(map[string]int, len(s.Failures))
	for code, n := range s.Failures {
		out[string(code)] = n
	}
	return out
}
