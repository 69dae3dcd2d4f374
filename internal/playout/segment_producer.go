package playout

import (
	"fmt"
	"os"
	"sync"
	"syscall"

	"github.com/aircast-dev/aircast/pkg/logger"
)

// SegmentProducerConfig configures an encoder-backed producer.
type SegmentProducerConfig struct {
	ChannelID  string
	BinaryPath string // encoder binary, e.g. "ffmpeg"
	OutputURL  string // published stream endpoint
	// DrainSeconds is the teardown drain window: station seconds between
	// RequestTeardown and resource release.
	DrainSeconds float64
}

// SegmentProducer streams an ordered segment plan through an external
// encoder process. Playback position is advanced by paced ticks; the
// process itself is the only genuinely concurrent resource it owns.
type SegmentProducer struct {
	cfg    SegmentProducerConfig
	runner Runner
	logger *logger.Logger

	mu        sync.Mutex
	status    Status
	head      *playhead
	proc      Process
	planFile  string
	drainLeft float64
}

// NewSegmentProducer creates an encoder-backed producer. It is created in
// StatusStarting and moves to StatusRunning when Start succeeds.
func NewSegmentProducer(cfg SegmentProducerConfig, runner Runner, log *logger.Logger) *SegmentProducer {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "ffmpeg"
	}
	return &SegmentProducer{
		cfg:    cfg,
		runner: runner,
		logger: log.Named("segment-producer").With(logger.String("channel_id", cfg.ChannelID)),
		status: StatusStarting,
	}
}

// Start validates the plan, anchors playback at station time at, launches
// the encoder process and publishes the stream endpoint. On failure the
// producer is left in StatusFailed and no resources are retained.
func (p *SegmentProducer) Start(segments []ContentSegment, at float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status != StatusStarting {
		return fmt.Errorf("producer already started (status %s)", p.status)
	}

	head, err := newPlayhead(segments, at, false)
	if err != nil {
		p.status = StatusFailed
		return fmt.Errorf("invalid playout plan: %w", err)
	}

	planFile, err := writeConcatPlan(segments)
	if err != nil {
		p.status = StatusFailed
		return fmt.Errorf("failed to write plan file: %w", err)
	}

	args := p.buildArgs(planFile, head)
	proc, err := p.runner.Start(p.cfg.BinaryPath, args)
	if err != nil {
		os.Remove(planFile)
		p.status = StatusFailed
		return fmt.Errorf("failed to launch encoder: %w", err)
	}

	p.head = head
	p.proc = proc
	p.planFile = planFile
	p.status = StatusRunning

	p.logger.Info("Producer started",
		logger.Int("segments", len(segments)),
		logger.Float64("at", at),
		logger.String("endpoint", p.cfg.OutputURL),
		logger.Int("pid", proc.PID()),
	)

	return nil
}

// buildArgs assembles the encoder invocation: realtime concat playback of
// the plan file, seeked to the anchored position, remuxed to the output URL.
func (p *SegmentProducer) buildArgs(planFile string, head *playhead) []string {
	args := []string{"-re", "-f", "concat", "-safe", "0"}

	// Input-level seek to the anchored playback position.
	elapsed := head.offset
	for i := 0; i < head.index; i++ {
		elapsed += head.segments[i].Duration()
	}
	if elapsed > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.2f", elapsed))
	}

	args = append(args,
		"-i", planFile,
		"-c", "copy",
		"-f", "mpegts",
		p.cfg.OutputURL,
		"-progress", "pipe:2",
	)
	return args
}

// writeConcatPlan writes the concat demuxer list for the plan segments.
func writeConcatPlan(segments []ContentSegment) (string, error) {
	f, err := os.CreateTemp("", "aircast-plan-*.txt")
	if err != nil {
		return "", err
	}
	for _, seg := range segments {
		if _, err := fmt.Fprintf(f, "file '%s'\n", seg.Source()); err != nil {
			f.Close()
			os.Remove(f.Name())
			return "", err
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// OnPacedTick advances playback while running and, once a teardown drain
// window has elapsed, completes StatusStopping -> StatusStopped and
// releases the process handle and plan file.
func (p *SegmentProducer) OnPacedTick(now, dt float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.status {
	case StatusRunning:
		select {
		case <-p.proc.Done():
			p.logger.Warn("Encoder process exited unexpectedly",
				logger.Int("pid", p.proc.PID()),
			)
			p.status = StatusFailed
			p.release()
			return
		default:
		}
		p.head.advance(dt)

	case StatusStopping:
		p.drainLeft -= dt
		if p.drainLeft > 0 {
			return
		}
		if p.proc != nil {
			select {
			case <-p.proc.Done():
			default:
				p.logger.Warn("Encoder still draining at end of drain window",
					logger.Int("pid", p.proc.PID()),
				)
			}
		}
		p.status = StatusStopped
		p.release()
		p.logger.Info("Producer stopped")
	}
}

// release drops the process handle and removes the plan file. Caller holds
// the lock.
func (p *SegmentProducer) release() {
	p.proc = nil
	if p.planFile != "" {
		os.Remove(p.planFile)
		p.planFile = ""
	}
}

// RequestTeardown moves the producer to StatusStopping and signals the
// encoder to drain. Resource release happens on a later tick; the call
// never blocks.
func (p *SegmentProducer) RequestTeardown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status != StatusStarting && p.status != StatusRunning {
		return
	}

	p.status = StatusStopping
	p.drainLeft = p.cfg.DrainSeconds
	if p.proc != nil {
		if err := p.proc.Signal(syscall.SIGTERM); err != nil {
			p.logger.Warn("Failed to signal encoder", logger.Error(err))
		}
	}
	p.logger.Info("Teardown requested",
		logger.Float64("drain_seconds", p.cfg.DrainSeconds),
	)
}

// TeardownInProgress is true exactly while status is StatusStopping.
func (p *SegmentProducer) TeardownInProgress() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status == StatusStopping
}

// StreamEndpoint returns the published stream locator.
func (p *SegmentProducer) StreamEndpoint() string {
	return p.cfg.OutputURL
}

// Status returns the current lifecycle state.
func (p *SegmentProducer) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// CurrentSegment returns the segment playback is inside.
func (p *SegmentProducer) CurrentSegment() (ContentSegment, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.head == nil || p.status == StatusStopped || p.status == StatusFailed {
		return ContentSegment{}, false
	}
	return p.head.current(), true
}

// Position returns elapsed seconds into the current segment.
func (p *SegmentProducer) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.head == nil {
		return 0
	}
	return p.head.offset
}

// FrameStats returns encoder frame counters from the progress stream.
func (p *SegmentProducer) FrameStats() FrameStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.proc == nil {
		return FrameStats{}
	}
	return p.proc.FrameStats()
}
