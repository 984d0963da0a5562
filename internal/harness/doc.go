// Package harness runs scripted benchmark scenarios against the run
// controller.
//
// A scenario fixes everything a run depends on: the games each source
// returns per fetch, which games were recorded by earlier runs, which
// evaluator calls fail, and the run settings. The harness executes the real
// engine over an in-memory store with a recording sleeper, a fixed run id
// and a stepping clock, so the trace of a scenario is identical on every
// execution.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: skip_recorded
//	description: "Games recorded by earlier runs are never scored again"
//	config:
//	  target: 3
//	  flush_interval: 2
//	recorded: [g-2, g-4]
//	sources:
//	  - name: stub
//	    ignore_exclude: true
//	    batches:
//	      - [g-1, g-2, g-3, g-4, g-5]
//	evaluator:
//	  failures: {2: timeout}
//	expect:
//	  state: completed
//	assertions:
//	  - type: stored_ids
//	    ids: [g-1, g-3, g-5]
//	  - type: trace_order
//	    events: ["predicted:g-1", "write_attempt:g-1"]
//
// Games are fixture records carrying the Opera Game. Every game is a white
// win unless listed under outcomes (PGN result tokens) or malformed.
//
// # Trace
//
// The trace is the ordered list of observable side effects of a run:
//
//   - state: the controller entered a new state
//   - fetch: the queue asked the sources for records
//   - backoff: the queue slept before a fetch
//   - predicted: both predictors produced a result for a game
//   - failed: a game was blacklisted (detail is the error code)
//   - write_attempt: an attempt reached the store
//   - write_aggregate: the run aggregate reached the store
//
// Trace assertions match event labels: kind:game for events about one
// game (predicted:g-1), state:<name> for state changes (state:looping) and
// the bare kind otherwise (fetch).
//
// # Assertion Types
//
//   - trace_contains: an event with the label appears
//   - trace_order: the labels appear in this order, not necessarily adjacent
//   - trace_count: the label appears exactly count times
//   - stored_ids: the store holds exactly these games, in write order
//   - backoff: the queue slept exactly these durations
//   - final_state: aggregate fields match (subset match on the JSON names)
//
// Traces are compared against testdata/golden/<name>.golden with
// RunWithGolden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
