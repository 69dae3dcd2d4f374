package metrics

import (
	"fmt"
	"sync"

	"github.com/aircast-dev/aircast/internal/clock"
	"github.com/aircast-dev/aircast/pkg/logger"
)

// Sampler fills a caller-provided sample with the current channel view.
// Implemented by the channel manager.
type Sampler interface {
	PopulateMetricsSample(sample *ChannelMetricsSample)
}

// Publisher samples a channel at a target frequency, keeps the most recent
// sample, and judges staleness against a short aggregation window. It is
// driven by paced ticks; it never schedules its own work.
type Publisher struct {
	sampler  Sampler
	clock    clock.MasterClock
	interval float64
	window   float64
	logger   *logger.Logger

	mu       sync.Mutex
	started  bool
	latest   ChannelMetricsSample
	lastTime float64
}

// NewPublisher creates a publisher sampling at sampleHz with the given
// aggregation window in seconds. Non-positive frequency or window is
// rejected.
func NewPublisher(sampler Sampler, c clock.MasterClock, sampleHz, windowSeconds float64, log *logger.Logger) (*Publisher, error) {
	if sampleHz <= 0 {
		return nil, fmt.Errorf("sample frequency must be positive, got %v", sampleHz)
	}
	if windowSeconds <= 0 {
		return nil, fmt.Errorf("aggregation window must be positive, got %v", windowSeconds)
	}

	now := c.Now()
	return &Publisher{
		sampler:  sampler,
		clock:    c,
		interval: 1.0 / sampleHz,
		window:   windowSeconds,
		logger:   log.Named("metrics-publisher"),
		// Initial idle sample, queryable before the first publish.
		latest: ChannelMetricsSample{
			ChannelState:  "idle",
			ProducerState: "stopped",
			StationTime:   now,
		},
		lastTime: now,
	}, nil
}

// Start enables sampling on subsequent ticks.
func (p *Publisher) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = true
	p.lastTime = p.clock.Now()
}

// Stop disables sampling. The last sample remains queryable.
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = false
}

// OnPacedTick takes a new sample when elapsed station time has crossed a
// sample boundary since the previous one.
func (p *Publisher) OnPacedTick(now, dt float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started || now-p.lastTime < p.interval {
		return
	}

	sample := ChannelMetricsSample{StationTime: now}
	p.sampler.PopulateMetricsSample(&sample)
	p.latest = sample
	p.lastTime = now
}

// LatestSample returns the most recent snapshot, or the initial idle
// sample if none has been taken yet.
func (p *Publisher) LatestSample() ChannelMetricsSample {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest
}

// IsSampleFresh reports whether the latest sample is within the
// aggregation window of the current station time. Consumers use this to
// detect a stalled sampling loop instead of trusting an old snapshot.
func (p *Publisher) IsSampleFresh() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clock.Now()-p.latest.StationTime <= p.window
}
