package model

import (
	"errors"
	"fmt"
)

// RecordError is a per-record failure. The run loop converts every
// RecordError into a blacklist-and-continue action; none of them abort a run.
type RecordError struct {
	// Code identifies the error category.
	Code RecordErrorCode

	// GameID identifies the affected record.
	GameID string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// RecordErrorCode categorizes record errors.
type RecordErrorCode string

const (
	// ErrCodeMalformedRecord indicates unparseable, illegal or too-short move text,
	// or a record with no usable ground truth.
	ErrCodeMalformedRecord RecordErrorCode = "MALFORMED_RECORD"

	// ErrCodeEvaluatorTimeout indicates the evaluator lost the timeout race.
	ErrCodeEvaluatorTimeout RecordErrorCode = "EVALUATOR_TIMEOUT"

	// ErrCodeEvaluatorError indicates the evaluator returned an error or an
	// unusable result.
	ErrCodeEvaluatorError RecordErrorCode = "EVALUATOR_ERROR"
)

// Error implements the error interface.
func (e *RecordError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.GameID != "" {
		msg = fmt.Sprintf("%s (game=%s)", msg, e.GameID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RecordError) Unwrap() error {
	return e.Err
}

// NewMalformedRecordError creates a RecordError for bad move text.
func NewMalformedRecordError(gameID, message string, err error) *RecordError {
	return &RecordError{Code: ErrCodeMalformedRecord, GameID: gameID, Message: message, Err: err}
}

// NewEvaluatorTimeoutError creates a RecordError for an evaluator timeout.
func NewEvaluatorTimeoutError(gameID string, err error) *RecordError {
	return &RecordError{Code: ErrCodeEvaluatorTimeout, GameID: gameID, Message: "evaluator timed out", Err: err}
}

// NewEvaluatorError creates a RecordError for a failed evaluation.
func NewEvaluatorError(gameID, message string, err error) *RecordError {
	return &RecordError{Code: ErrCodeEvaluatorError, GameID: gameID, Message: message, Err: err}
}

// RecordErrorCodeOf returns the code of the RecordError wrapped by err, and
// false if err is not a RecordError.
func RecordErrorCodeOf(err error) (RecordErrorCode, bool) {
	var re *RecordError
	if errors.As(err, &re) {
		return re.Code, true
	}
	return "", false
}

// IsRecordError returns true if err is (or wraps) a RecordError.
func IsRecordError(err error) bool {
	_, ok := RecordErrorCodeOf(err)
	return ok
}

// IsMalformedRecord returns true if err is a malformed-record error.
func IsMalformedRecord(err error) bool {
	code, ok := RecordErrorCodeOf(err)
	return ok && code == ErrCodeMalformedRecord
}

// IsEvaluatorTimeout returns true if err is an evaluator timeout.
// Uses errors.As to handle wrapped errors.
func IsEvaluatorTimeout(err error) bool {
	code, ok := RecordErrorCodeOf(err)
	return ok && code == ErrCodeEvaluatorTimeout
}

// IsEvaluatorError returns true if err is an evaluator failure other than
// a timeout.
func IsEvaluatorError(err error) bool {
	code, ok := RecordErrorCodeOf(err)
	return ok && code == ErrCodeEvaluatorError
}
