package model

import (
	"fmt"
	"strings"
)

// Outcome is the three-way result space both predictors are normalized to.
type Outcome int

const (
	// OutcomeUnknown means no result is available (aborted or ongoing game).
	OutcomeUnknown Outcome = iota
	// OutcomeWhiteWin is a first-player win.
	OutcomeWhiteWin
	// OutcomeBlackWin is a second-player win.
	OutcomeBlackWin
	// OutcomeDraw is a drawn game.
	OutcomeDraw
)

// String returns the storage form of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeWhiteWin:
		return "white"
	case OutcomeBlackWin:
		return "black"
	case OutcomeDraw:
		return "draw"
	default:
		return "unknown"
	}
}

// Known reports whether the outcome is one of the three scored results.
func (o Outcome) Known() bool {
	return o == OutcomeWhiteWin || o == OutcomeBlackWin || o == OutcomeDraw
}

// ParseOutcome accepts both PGN result tokens ("1-0", "0-1", "1/2-1/2", "*")
// and the storage names returned by String.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1-0", "white":
		return OutcomeWhiteWin, nil
	case "0-1", "black":
		return OutcomeBlackWin, nil
	case "1/2-1/2", "½-½", "draw":
		return OutcomeDraw, nil
	case "*", "", "unknown":
		return OutcomeUnknown, nil
	default:
		return OutcomeUnknown, fmt.Errorf("unknown outcome %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Outcome) UnmarshalText(text []byte) error {
	parsed, err := ParseOutcome(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}
