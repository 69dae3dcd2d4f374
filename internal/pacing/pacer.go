// Package pacing drives fixed-frequency tick work against a master clock.
package pacing

import (
	"fmt"
	"time"

	"github.com/aircast-dev/aircast/internal/clock"
)

// TickFunc is one unit of per-tick work. now is the station time at which
// the tick fires, dt the station seconds elapsed since the previous tick.
type TickFunc func(now, dt float64)

// SleepFunc pauses the caller for the given duration. Injectable so the
// controller is testable without real delays.
type SleepFunc func(d time.Duration)

// PaceController invokes registered tick work once per RunOnce call at a
// configured target frequency. It owns no business logic: producers and the
// metrics publisher receive their ticks exclusively through it.
//
// With a stepped clock the caller controls cadence (Advance then RunOnce)
// and no sleeping happens. With a real clock a sleep function may be
// supplied to pace RunOnce loops to the target interval.
type PaceController struct {
	clock    clock.MasterClock
	interval float64
	sleep    SleepFunc
	ticks    []TickFunc
	last     float64
}

// Option configures a PaceController.
type Option func(*PaceController)

// WithSleep supplies a sleep function used to pad RunOnce out to the target
// interval. Omit it when a stepped clock drives the cadence.
func WithSleep(fn SleepFunc) Option {
	return func(p *PaceController) {
		p.sleep = fn
	}
}

// NewPaceController creates a controller ticking at targetHz against the
// given clock. A non-positive frequency is rejected.
func NewPaceController(targetHz float64, c clock.MasterClock, opts ...Option) (*PaceController, error) {
	if targetHz <= 0 {
		return nil, fmt.Errorf("target frequency must be positive, got %v", targetHz)
	}
	p := &PaceController{
		clock:    c,
		interval: 1.0 / targetHz,
		last:     c.Now(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Register appends tick work. Funcs run in registration order on every
// RunOnce, which is how the producer-before-health-before-sample ordering
// is enforced by callers.
func (p *PaceController) Register(fn TickFunc) {
	p.ticks = append(p.ticks, fn)
}

// Interval returns the target tick interval in seconds.
func (p *PaceController) Interval() float64 {
	return p.interval
}

// RunOnce performs exactly one round of tick work appropriate to the time
// elapsed since the previous invocation, then optionally sleeps toward the
// next tick boundary.
func (p *PaceController) RunOnce() {
	now := p.clock.Now()
	dt := now - p.last
	if dt < 0 {
		dt = 0
	}
	p.last = now

	for _, fn := range p.ticks {
		fn(now, dt)
	}

	if p.sleep == nil {
		return
	}
	spent := p.clock.Now() - now
	if remaining := p.interval - spent; remaining > 0 {
		p.sleep(time.Duration(remaining * float64(time.Second)))
	}
}
