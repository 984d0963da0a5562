package harness

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", event)
		}
	}

	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, waits []time.Duration) []string {
	var errs []string
	for _, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertStoredIDs:
			err = assertStoredIDs(result.StoredIDs, a)
		case AssertBackoff:
			err = assertBackoff(waits, a)
		case AssertFinalState:
			err = assertFinalState(result.Aggregate, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

// assertTraceContains checks that an event with the label was recorded.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if event.Label() == assertion.Event {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("event %s", assertion.Event),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the labels appear in the specified order.
// Events don't need to be consecutive. Each label matches its first
// occurrence after the previous match.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	next := 0
	for _, want := range assertion.Events {
		found := false
		for next < len(trace) {
			event := trace[next]
			next++
			if event.Label() == want {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", assertion.Events),
				Actual:   fmt.Sprintf("%s missing or out of order", want),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that the label appears exactly Count times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Label() == assertion.Event {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Event),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertStoredIDs checks the run's stored games and their write order.
func assertStoredIDs(stored []string, assertion Assertion) error {
	want := assertion.IDs
	if want == nil {
		want = []string{}
	}
	if !reflect.DeepEqual(stored, want) {
		return &AssertionError{
			Type:     AssertStoredIDs,
			Expected: fmt.Sprintf("%v", want),
			Actual:   fmt.Sprintf("%v", stored),
		}
	}
	return nil
}

// assertBackoff checks the queue's backoff waits.
func assertBackoff(waits []time.Duration, assertion Assertion) error {
	if len(waits) == len(assertion.Waits) {
		same := true
		for i := range waits {
			if waits[i] != assertion.Waits[i] {
				same = false
				break
			}
		}
		if same {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertBackoff,
		Expected: fmt.Sprintf("%v", assertion.Waits),
		Actual:   fmt.Sprintf("%v", waits),
	}
}

// assertFinalState checks stored aggregate fields using subset semantics.
// Values compare by their printed form, so YAML integers match JSON numbers.
func assertFinalState(aggregate map[string]any, assertion Assertion) error {
	if aggregate == nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: "stored run aggregate",
			Actual:   "no aggregate stored",
		}
	}

	var mismatches []string
	for _, field := range sortedKeys(assertion.Expect) {
		want := assertion.Expect[field]
		got, ok := aggregate[field]
		if !ok {
			mismatches = append(mismatches, fmt.Sprintf("%s: field not found", field))
			continue
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			mismatches = append(mismatches, fmt.Sprintf("%s: expected %v, got %v", field, want, got))
		}
	}

	if len(mismatches) > 0 {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: formatFields(assertion.Expect),
			Actual:   strings.Join(mismatches, "; "),
		}
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatFields(m map[string]any) string {
	parts := make([]string, 0, len(m))
	for _, k := range sortedKeys(m) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m[k]))
	}
	return strings.Join(parts, ", ")
}
