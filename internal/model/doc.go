// Package model provides the record, attempt, and aggregate types shared by
// every stage of the benchmark pipeline.
//
// This package contains type definitions and identity helpers only. Every
// other internal package imports model; model imports nothing internal.
//
// Key design constraints:
//   - GameRecord.ID is deterministic: the same historical game always yields
//     the same ID, across runs and across providers' re-deliveries
//   - PredictionAttempt is immutable once scored and stored once per GameID
//   - RunAggregate is mutated only by the run controller
//   - All JSON tags use snake_case
package model
