// Package monoclock reads the system-wide monotonic clock.
//
// time.Time carries a monotonic reading, but it is only comparable inside
// the process that took it. Worker processes need to measure elapsed time
// against an instant captured by their parent, so instants here are raw
// CLOCK_MONOTONIC readings which every process on the host shares.
package monoclock

import (
	"sync"
	"time"
)

// Instant is a reading of the host monotonic clock in nanoseconds since an
// unspecified origin (boot on Linux).
type Instant int64

// Sub returns the duration i-j.
func (i Instant) Sub(j Instant) time.Duration {
	return time.Duration(i - j)
}

// Add returns the instant i+d.
func (i Instant) Add(d time.Duration) Instant {
	return i + Instant(d)
}

// Nanoseconds returns the raw reading.
func (i Instant) Nanoseconds() int64 {
	return int64(i)
}

// Clock is a source of monotonic instants.
type Clock interface {
	Now() Instant
}

// System reads the host monotonic clock.
type System struct{}

// Now returns the current host monotonic reading.
func (System) Now() Instant {
	return now()
}

// Now reads the host monotonic clock.
func Now() Instant {
	return now()
}

// Manual is a Clock that only moves when told to. It is safe for
// concurrent use.
type Manual struct {
	mu   sync.Mutex
	t    Instant
	step time.Duration
}

// NewManual returns a manual clock at instant t. Every call to Now
// advances the clock by step after reading it; a zero step freezes it.
func NewManual(t Instant, step time.Duration) *Manual {
	return &Manual{t: t, step: step}
}

// Now returns the current reading and applies the configured step.
func (m *Manual) Now() Instant {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.t
	m.t = m.t.Add(m.step)
	return t
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = m.t.Add(d)
}

// AdvanceTo moves the clock to t if t is later than the current reading.
func (m *Manual) AdvanceTo(t Instant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t > m.t {
		m.t = t
	}
}

// Peek returns the current reading without stepping.
func (m *Manual) Peek() Instant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t
}
