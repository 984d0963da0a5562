package store

import (
	"fmt"
	"time"

	"github.com/roach88/chessbench/internal/model"
)

// Timestamps are stored as RFC 3339 text in UTC with nanoseconds, so
// lexical order matches chronological order.
const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func formatOutcome(o model.Outcome) string {
	return o.String()
}

func parseOutcome(s string) (model.Outcome, error) {
	var o model.Outcome
	if err := o.UnmarshalText([]byte(s)); err != nil {
		return model.OutcomeUnknown, fmt.Errorf("parse outcome: %w", err)
	}
	return o, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
