// Package clock provides the master clock abstraction for channel runtimes.
//
// Station time is the channel's own logical timeline, measured in seconds
// from a fixed baseline. Every timing-dependent component depends on the
// MasterClock interface and must behave identically regardless of which
// implementation is behind it.
package clock

import (
	"fmt"
	"sync"
	"time"
)

// MasterClock supplies station time for a channel runtime.
type MasterClock interface {
	// Now returns the current station time in seconds.
	Now() float64
	// CurrentTime returns the absolute station timestamp: the fixed
	// baseline plus Now().
	CurrentTime() time.Time
}

// RealClock is a monotonic wall-clock backed MasterClock. Station time
// advances as start + rate*elapsed, where elapsed is real monotonic time
// since construction.
type RealClock struct {
	baseline time.Time
	start    float64
	rate     float64
	mono     time.Time
}

// NewRealClock creates a real-time clock anchored at baseline, beginning at
// station second start, scaled by rate. A non-positive rate is rejected:
// time that does not advance, or runs backwards, is never valid.
func NewRealClock(baseline time.Time, start, rate float64) (*RealClock, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("clock rate must be positive, got %v", rate)
	}
	return &RealClock{
		baseline: baseline,
		start:    start,
		rate:     rate,
		mono:     time.Now(),
	}, nil
}

// Now returns the current station time in seconds. Monotonic by
// construction: time.Since never decreases and rate is positive.
func (c *RealClock) Now() float64 {
	return c.start + c.rate*time.Since(c.mono).Seconds()
}

// CurrentTime returns the absolute station timestamp.
func (c *RealClock) CurrentTime() time.Time {
	return c.baseline.Add(time.Duration(c.Now() * float64(time.Second)))
}

// Rate returns the configured rate scale.
func (c *RealClock) Rate() float64 {
	return c.rate
}

// SteppedClock is a MasterClock that advances only when told to. It exists
// to make the rest of the runtime deterministic under test: no sleeping, no
// flakiness, full control of tick timing.
type SteppedClock struct {
	mu       sync.Mutex
	baseline time.Time
	now      float64
}

// NewSteppedClock creates a stepped clock anchored at baseline, beginning at
// station second start.
func NewSteppedClock(baseline time.Time, start float64) *SteppedClock {
	return &SteppedClock{baseline: baseline, now: start}
}

// Advance moves station time forward by the given number of seconds.
// Negative values are rejected: time must not move backward.
func (c *SteppedClock) Advance(seconds float64) error {
	if seconds < 0 {
		return fmt.Errorf("cannot advance clock by negative duration %v", seconds)
	}
	c.mu.Lock()
	c.now += seconds
	c.mu.Unlock()
	return nil
}

// Now returns the current station time in seconds. Constant between calls
// to Advance.
func (c *SteppedClock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// CurrentTime returns the absolute station timestamp.
func (c *SteppedClock) CurrentTime() time.Time {
	return c.baseline.Add(time.Duration(c.Now() * float64(time.Second)))
}
