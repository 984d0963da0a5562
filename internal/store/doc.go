// Package store provides the SQLite-backed Result Store for benchmark runs.
//
// Two tables:
//   - prediction_attempts: one row per scored game, keyed by game_id
//   - benchmark_runs: one aggregate row per run, keyed by run_id
//
// # Write Rules
//
// Other runs and other processes may write to the same database, so every
// write is an upsert, never a blind insert:
//   - attempts use ON CONFLICT(game_id) DO NOTHING; the first write of a
//     game wins and re-flushing the same attempt is a no-op
//   - aggregates use ON CONFLICT(run_id) DO UPDATE guarded by
//     completed_count, so a stale aggregate never overwrites a newer one
//
// # Ordering
//
// Attempts are read back ORDER BY seq ASC, game_id ASC COLLATE BINARY: seq
// is the logical draw order within a run, never a wall-clock timestamp.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: attempts must reference an existing run
package store
