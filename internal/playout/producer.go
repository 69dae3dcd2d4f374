// Package playout turns ordered segment plans into live output streams.
package playout

import "fmt"

// Status is the producer lifecycle state.
type Status int

const (
	StatusStarting Status = iota
	StatusRunning
	StatusStopping
	StatusStopped
	// StatusFailed reports producer-internal failure (e.g. the encoder
	// process died). It is surfaced but not otherwise modeled.
	StatusFailed
)

// String returns the lowercase state name.
func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	case StatusStopped:
		return "stopped"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// FrameStats carries optional encoder frame counters. Zero when the
// underlying producer does not report them.
type FrameStats struct {
	Dropped int64
	Queued  int64
}

// Producer owns the lifecycle of turning a segment plan into a live output
// stream. Implementations are selected at construction; nothing downstream
// of this interface may branch on the concrete type.
type Producer interface {
	// Start begins producing output for the given ordered, non-overlapping
	// segment plan, anchored so that playback position at station time at
	// corresponds to the correct offset into the first applicable segment.
	// Fails on an empty or unordered plan, or if the streaming resource
	// cannot be launched.
	Start(segments []ContentSegment, at float64) error

	// OnPacedTick advances playback by dt station seconds and completes a
	// pending teardown once the drain window has elapsed. Never blocks.
	OnPacedTick(now, dt float64)

	// RequestTeardown moves the producer to StatusStopping immediately.
	// Resource release is deferred to a later tick; the call never blocks.
	RequestTeardown()

	// TeardownInProgress is true exactly while status is StatusStopping.
	TeardownInProgress() bool

	// StreamEndpoint is the opaque locator published by Start, stable for
	// the life of the producer.
	StreamEndpoint() string

	// Status returns the current lifecycle state.
	Status() Status

	// CurrentSegment returns the segment playback is inside, if any.
	CurrentSegment() (ContentSegment, bool)

	// Position returns elapsed seconds into the current segment.
	Position() float64

	// FrameStats returns optional encoder frame counters.
	FrameStats() FrameStats
}

// playhead tracks playback position across a segment plan. Positions are
// continuous playback seconds: crossing a boundary carries the remainder
// into the next segment.
type playhead struct {
	segments []ContentSegment
	index    int
	offset   float64
	loop     bool
	finished bool
}

// newPlayhead validates the plan and anchors playback at station time at.
// A station time before the plan anchors at the head of the first segment;
// a station time past the end of a non-looping plan is rejected.
func newPlayhead(segments []ContentSegment, at float64, loop bool) (*playhead, error) {
	if err := validatePlan(segments); err != nil {
		return nil, err
	}

	p := &playhead{segments: segments, loop: loop}
	last := segments[len(segments)-1]

	switch {
	case at < segments[0].Start:
		// Plan starts in the future; hold at the head.
	case at >= last.End:
		if !loop {
			return nil, fmt.Errorf("start time %v is past the end of the plan (%v)", at, last.End)
		}
		p.anchor(at - segments[0].Start)
	default:
		for i, seg := range segments {
			if at < seg.End {
				p.index = i
				if at > seg.Start {
					p.offset = at - seg.Start
				}
				break
			}
		}
	}
	return p, nil
}

// anchor positions the playhead elapsed playback seconds into the plan,
// wrapping over the total plan duration.
func (p *playhead) anchor(elapsed float64) {
	total := 0.0
	for _, seg := range p.segments {
		total += seg.Duration()
	}
	for elapsed >= total {
		elapsed -= total
	}
	for i, seg := range p.segments {
		if elapsed < seg.Duration() {
			p.index = i
			p.offset = elapsed
			return
		}
		elapsed -= seg.Duration()
	}
}

// advance moves playback forward by dt seconds, crossing segment boundaries
// as needed. Boundary crossings are routine, not lifecycle events.
func (p *playhead) advance(dt float64) {
	if p.finished || dt <= 0 {
		return
	}
	p.offset += dt
	for p.offset >= p.current().Duration() {
		p.offset -= p.current().Duration()
		if p.index+1 < len(p.segments) {
			p.index++
			continue
		}
		if p.loop {
			p.index = 0
			continue
		}
		p.index = len(p.segments) - 1
		p.offset = p.current().Duration()
		p.finished = true
		return
	}
}

func (p *playhead) current() ContentSegment {
	return p.segments[p.index]
}
