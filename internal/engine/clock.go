package engine

import "sync/atomic"

// Clock hands out the draw sequence stamped on prediction attempts.
//
// Seq values are strictly increasing within a run, so ordering attempts by
// seq reproduces the order their records left the queue regardless of wall
// clock resolution.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last sequence number handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
