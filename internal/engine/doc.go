// Package engine implements the Run Controller, the top-level state machine
// of a benchmark run.
//
// A run moves through Initializing, FetchingFirstBatch and Looping, and ends
// in exactly one of Completed, Exhausted, Cancelled or Failed:
//
//   - Initializing loads every game id already in the result store into the
//     exclusion ledger and records the run's aggregate.
//   - FetchingFirstBatch performs one queue refill. A queue that is
//     exhausted before yielding anything ends the run immediately.
//   - Looping draws one record at a time, resolves its cutoff position, runs
//     both predictors, classifies the record in the ledger and buffers the
//     attempt, flushing every flush-interval successes.
//
// Every terminal state performs a final flush. An unrecovered panic performs
// one emergency flush and then continues to propagate.
//
// The loop is a single logical worker. Records are processed serially, in
// draw order, and attempts are stamped with a monotonic sequence from Clock.
// Cancellation is cooperative: Cancel (or cancelling the caller's context)
// stops new work from starting but never interrupts an in-flight evaluation.
package engine
