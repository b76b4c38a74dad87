package clock

import (
	"sync"
	"time"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// System reads the process wall clock.
type System struct{}

// Now returns time.Now with the monotonic reading stripped, so that values
// survive a round-trip through the wire format unchanged.
func (System) Now() time.Time {
	return time.Now().Round(0)
}

// Manual is a settable clock for tests. Every call to Now advances the
// clock by Step, which keeps successive stamps strictly increasing.
// Thread-safe.
type Manual struct {
	mu   sync.Mutex
	now  time.Time
	Step time.Duration
}

// NewManual creates a manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start, Step: time.Millisecond}
}

// Now returns the current manual time and then advances it by Step.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.now
	m.now = m.now.Add(m.Step)
	return t
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

