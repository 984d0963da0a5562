package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/chessbench/internal/queue"
)

// ErrorCode categorizes run-level errors.
type ErrorCode string

const (
	// ErrCodeQueueExhausted indicates the queue ran out of fresh records
	// before the target was reached.
	ErrCodeQueueExhausted ErrorCode = "QUEUE_EXHAUSTED"

	// ErrCodeFirstBatchEmpty indicates the queue was exhausted before the
	// first record was drawn.
	ErrCodeFirstBatchEmpty ErrorCode = "FIRST_BATCH_EMPTY"

	// ErrCodeQueueFailed indicates the queue stopped for a reason other than
	// exhaustion or cancellation.
	ErrCodeQueueFailed ErrorCode = "QUEUE_FAILED"

	// ErrCodeStoreUnavailable indicates the result store could not be read
	// or initialized at startup.
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
)

// ExhaustedError reports a run that stopped short of its target because the
// queue's retry budget ran out. Partial results have been flushed.
type ExhaustedError struct {
	// Code is ErrCodeQueueExhausted or ErrCodeFirstBatchEmpty.
	Code ErrorCode

	// RunID identifies the run.
	RunID string

	// Completed and Target are the prediction counts at exit.
	Completed int
	Target    int

	// Reason is the queue's exhaustion reason.
	Reason queue.ExhaustReason
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: %d of %d predictions completed (run=%s, reason=%s)",
		e.Code, e.Completed, e.Target, e.RunID, e.Reason)
}

// Unwrap makes errors.Is(err, queue.ErrExhausted) hold.
func (e *ExhaustedError) Unwrap() error {
	return queue.ErrExhausted
}

// RunError reports a run that failed outright.
type RunError struct {
	Code    ErrorCode
	RunID   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *RunError) Error() string {
	if e.RunID != "" {
		return fmt.Sprintf("%s: %s (run=%s): %v", e.Code, e.Message, e.RunID, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

// Unwrap returns the underlying error.
func (e *RunError) Unwrap() error {
	return e.Err
}

// IsExhausted returns true if err is an ExhaustedError of either code.
// Uses errors.As to handle wrapped errors.
func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}

// IsFirstBatchEmpty returns true if the run never drew a record.
func IsFirstBatchEmpty(err error) bool {
	var ee *ExhaustedError
	if errors.As(err, &ee) {
		return ee.Code == ErrCodeFirstBatchEmpty
	}
	return false
}

// IsStoreUnavailable returns true if the run could not start against its
// result store.
func IsStoreUnavailable(err error) bool {
	var re *RunError
	if errors.As(err, &re) {
		return re.Code == ErrCodeStoreUnavailable
	}
	return false
}
