package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/chessbench/internal/engine"
	"github.com/roach88/chessbench/internal/model"
)

// Assertion types.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertStoredIDs     = "stored_ids"
	AssertBackoff       = "backoff"
	AssertFinalState    = "final_state"
)

// Evaluator failure kinds.
const (
	FailTimeout = "timeout"
	FailError   = "error"
)

// Scenario defines a benchmark run to execute and the outcome to check.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config holds the run settings. Unset fields take DefaultRunConfig.
	Config RunConfig `yaml:"config"`

	// Recorded lists games already stored by an earlier run.
	Recorded []string `yaml:"recorded,omitempty"`

	// Sources are consulted round-robin by the multiplexer.
	Sources []SourceScript `yaml:"sources"`

	// Outcomes overrides a game's recorded result with a PGN result token.
	Outcomes map[string]string `yaml:"outcomes,omitempty"`

	// Malformed lists games whose move text cannot be replayed.
	Malformed []string `yaml:"malformed,omitempty"`

	// Evaluator scripts evaluator failures.
	Evaluator EvaluatorScript `yaml:"evaluator,omitempty"`

	// Expect is the terminal state of the run.
	Expect ExpectClause `yaml:"expect"`

	// Assertions validate the trace and the store.
	Assertions []Assertion `yaml:"assertions"`
}

// RunConfig is the subset of run settings a scenario controls.
type RunConfig struct {
	Target          int           `yaml:"target"`
	FlushInterval   int           `yaml:"flush_interval"`
	CutoffMin       int           `yaml:"cutoff_min"`
	CutoffMax       int           `yaml:"cutoff_max"`
	BatchSize       int           `yaml:"batch_size"`
	MaxEmptyBatches int           `yaml:"max_empty_batches"`
	MaxRefills      int           `yaml:"max_refills"`
	BackoffBase     time.Duration `yaml:"backoff_base"`
	BackoffMax      time.Duration `yaml:"backoff_max"`
}

// DefaultRunConfig fills the settings a scenario leaves unset.
var DefaultRunConfig = RunConfig{
	Target:          3,
	FlushInterval:   2,
	CutoffMin:       5,
	CutoffMax:       8,
	BatchSize:       10,
	MaxEmptyBatches: 3,
	MaxRefills:      50,
	BackoffBase:     time.Second,
	BackoffMax:      30 * time.Second,
}

func (c RunConfig) withDefaults() RunConfig {
	d := DefaultRunConfig
	if c.Target > 0 {
		d.Target = c.Target
	}
	if c.FlushInterval > 0 {
		d.FlushInterval = c.FlushInterval
	}
	if c.CutoffMin > 0 {
		d.CutoffMin = c.CutoffMin
	}
	if c.CutoffMax > 0 {
		d.CutoffMax = c.CutoffMax
	}
	if c.BatchSize > 0 {
		d.BatchSize = c.BatchSize
	}
	if c.MaxEmptyBatches > 0 {
		d.MaxEmptyBatches = c.MaxEmptyBatches
	}
	if c.MaxRefills > 0 {
		d.MaxRefills = c.MaxRefills
	}
	if c.BackoffBase > 0 {
		d.BackoffBase = c.BackoffBase
	}
	if c.BackoffMax > 0 {
		d.BackoffMax = c.BackoffMax
	}
	return d
}

// SourceScript scripts one provider.
type SourceScript struct {
	// Name is the provider name used by the multiplexer.
	Name string `yaml:"name"`

	// Batches holds the game ids returned by each fetch, in call order.
	// Once the script runs out, fetches return nothing.
	Batches [][]string `yaml:"batches"`

	// Errors fails the fetch with the given (0-based) call index.
	Errors map[int]string `yaml:"errors,omitempty"`

	// IgnoreExclude returns batches without applying the exclusion filter.
	IgnoreExclude bool `yaml:"ignore_exclude,omitempty"`
}

// EvaluatorScript scripts the evaluator.
type EvaluatorScript struct {
	// Failures fails the evaluator call with the given (1-based) number.
	// Values are FailTimeout or FailError.
	Failures map[int]string `yaml:"failures,omitempty"`
}

// ExpectClause specifies how the run must end.
type ExpectClause struct {
	// State is the terminal controller state (for example "completed").
	State string `yaml:"state"`

	// ErrorCode is the run error code, empty when the run returns no error.
	ErrorCode string `yaml:"error_code,omitempty"`
}

// Assertion validates the trace or the store.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Event is an event label (trace_contains, trace_count).
	Event string `yaml:"event,omitempty"`

	// Events are event labels in expected order (trace_order).
	Events []string `yaml:"events,omitempty"`

	// Count is the exact number of matching events (trace_count).
	Count int `yaml:"count,omitempty"`

	// IDs are the expected stored games in write order (stored_ids).
	IDs []string `yaml:"ids,omitempty"`

	// Waits are the expected backoff durations (backoff).
	Waits []time.Duration `yaml:"waits,omitempty"`

	// Expect holds expected aggregate fields (final_state).
	Expect map[string]any `yaml:"expect,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML, rejecting unknown fields.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Sources) == 0 {
		return fmt.Errorf("sources list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	names := make(map[string]bool, len(s.Sources))
	for i, src := range s.Sources {
		if src.Name == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		if names[src.Name] {
			return fmt.Errorf("sources[%d]: duplicate name %q", i, src.Name)
		}
		names[src.Name] = true
	}

	for id, token := range s.Outcomes {
		if _, err := model.ParseOutcome(token); err != nil {
			return fmt.Errorf("outcomes[%s]: %w", id, err)
		}
	}

	for n, kind := range s.Evaluator.Failures {
		if n < 1 {
			return fmt.Errorf("evaluator.failures: call numbers start at 1, got %d", n)
		}
		if kind != FailTimeout && kind != FailError {
			return fmt.Errorf("evaluator.failures[%d]: unknown failure %q", n, kind)
		}
	}

	if !validState(s.Expect.State) {
		return fmt.Errorf("expect.state: unknown state %q", s.Expect.State)
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validState(name string) bool {
	for _, s := range []engine.State{engine.Completed, engine.Exhausted, engine.Cancelled, engine.Failed} {
		if s.String() == name {
			return true
		}
	}
	return false
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertStoredIDs, AssertBackoff:
		// An empty list asserts that nothing happened.
	case AssertFinalState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
