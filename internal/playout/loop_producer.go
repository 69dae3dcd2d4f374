package playout

import (
	"fmt"
	"sync"

	"github.com/aircast-dev/aircast/pkg/logger"
)

// LoopProducer plays a segment plan on an endless loop without an encoder
// process. It backs filler channels and deterministic tests, and honors the
// same lifecycle contract as the encoder-backed producer.
type LoopProducer struct {
	channelID    string
	drainSeconds float64
	logger       *logger.Logger

	mu        sync.Mutex
	status    Status
	head      *playhead
	drainLeft float64
}

// NewLoopProducer creates a looping producer for the given channel.
func NewLoopProducer(channelID string, drainSeconds float64, log *logger.Logger) *LoopProducer {
	return &LoopProducer{
		channelID:    channelID,
		drainSeconds: drainSeconds,
		logger:       log.Named("loop-producer").With(logger.String("channel_id", channelID)),
		status:       StatusStarting,
	}
}

// Start validates the plan and anchors looping playback at station time at.
func (p *LoopProducer) Start(segments []ContentSegment, at float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status != StatusStarting {
		return fmt.Errorf("producer already started (status %s)", p.status)
	}

	head, err := newPlayhead(segments, at, true)
	if err != nil {
		p.status = StatusFailed
		return fmt.Errorf("invalid playout plan: %w", err)
	}

	p.head = head
	p.status = StatusRunning
	p.logger.Info("Loop producer started", logger.Int("segments", len(segments)))
	return nil
}

// OnPacedTick advances looping playback, or completes a pending teardown
// once the drain window has elapsed.
func (p *LoopProducer) OnPacedTick(now, dt float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.status {
	case StatusRunning:
		p.head.advance(dt)
	case StatusStopping:
		p.drainLeft -= dt
		if p.drainLeft <= 0 {
			p.status = StatusStopped
			p.logger.Info("Loop producer stopped")
		}
	}
}

// RequestTeardown moves the producer to StatusStopping immediately.
func (p *LoopProducer) RequestTeardown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status != StatusStarting && p.status != StatusRunning {
		return
	}
	p.status = StatusStopping
	p.drainLeft = p.drainSeconds
}

// TeardownInProgress is true exactly while status is StatusStopping.
func (p *LoopProducer) TeardownInProgress() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status == StatusStopping
}

// StreamEndpoint returns the loop locator for the channel.
func (p *LoopProducer) StreamEndpoint() string {
	return "loop://" + p.channelID
}

// Status returns the current lifecycle state.
func (p *LoopProducer) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// CurrentSegment returns the segment playback is inside.
func (p *LoopProducer) CurrentSegment() (ContentSegment, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.head == nil || p.status == StatusStopped || p.status == StatusFailed {
		return ContentSegment{}, false
	}
	return p.head.current(), true
}

// Position returns elapsed seconds into the current segment.
func (p *LoopProducer) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.head == nil {
		return 0
	}
	return p.head.offset
}

// FrameStats always returns zeros; loop playback has no encoder.
func (p *LoopProducer) FrameStats() FrameStats {
	return FrameStats{}
}
