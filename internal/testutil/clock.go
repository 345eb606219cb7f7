package testutil

import (
	"sync"

	"github.com/roach88/xchange/internal/model"
)

// ManualTime is a settable time source for deadline tests.
//
// Implements engine.TimeSource. Time never moves unless the test moves it,
// so boundary cases such as now == deadline are exact.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualTime struct {
	mu  sync.Mutex
	now model.Moment
}

// NewManualTime creates a time source reading start.
func NewManualTime(start model.Moment) *ManualTime {
	return &ManualTime{now: start}
}

// Now returns the current moment.
func (m *ManualTime) Now() model.Moment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves time to at. Moving backwards is allowed; engines only compare.
func (m *ManualTime) Set(at model.Moment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = at
}

// Advance moves time forward by d and returns the new moment.
func (m *ManualTime) Advance(d model.Duration) model.Moment {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += d
	return m.now
}
