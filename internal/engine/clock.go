package engine

import (
	"sync/atomic"
	"time"

	"github.com/roach88/xchange/internal/model"
)

// Clock is the monotonic logical clock for event ordering.
//
// Events are stamped with a strictly increasing seq from this clock, never
// with wall time. The engine rewinds the clock when a transition aborts, so
// committed seqs have no gaps.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock resuming from start, the last committed seq.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// Rewind resets the clock to mark, discarding seqs handed out by an aborted
// transition. Only valid while the caller holds the engine lock.
func (c *Clock) Rewind(mark int64) {
	c.seq.Store(mark)
}

// TimeSource supplies "now" for deadline checks.
type TimeSource interface {
	Now() model.Moment
}

// SystemTime reads the wall clock in Unix milliseconds.
type SystemTime struct{}

// Now implements TimeSource.
func (SystemTime) Now() model.Moment {
	return model.Moment(time.Now().UnixMilli())
}

// FixedTime always reports the same moment. Used by one-shot CLI calls with
// --now.
type FixedTime model.Moment

// Now implements TimeSource.
func (f FixedTime) Now() model.Moment {
	return model.Moment(f)
}
