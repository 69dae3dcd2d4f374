// Package station assembles and supervises the per-channel runtimes: one
// clock, pace controller, manager and metrics publisher per configured
// channel, plus a recorder that persists metrics samples.
package station

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aircast-dev/aircast/internal/channel"
	"github.com/aircast-dev/aircast/internal/clock"
	"github.com/aircast-dev/aircast/internal/config"
	"github.com/aircast-dev/aircast/internal/metrics"
	"github.com/aircast-dev/aircast/internal/pacing"
	"github.com/aircast-dev/aircast/internal/playout"
	"github.com/aircast-dev/aircast/internal/schedule"
	"github.com/aircast-dev/aircast/internal/storage/sqlite"
	"github.com/aircast-dev/aircast/pkg/logger"
)

// shutdownDrainGrace is added to a channel's drain window when ticking a
// producer to completion during station shutdown.
const shutdownDrainGrace = 1 * time.Second

// Runtime is one channel's assembled runtime.
type Runtime struct {
	clock     clock.MasterClock
	pacer     *pacing.PaceController
	manager   *channel.Manager
	publisher *metrics.Publisher
	drainSec  float64
}

// Manager returns the channel manager.
func (r *Runtime) Manager() *channel.Manager { return r.manager }

// Publisher returns the metrics publisher.
func (r *Runtime) Publisher() *metrics.Publisher { return r.publisher }

// Clock returns the channel's master clock.
func (r *Runtime) Clock() clock.MasterClock { return r.clock }

// Station owns all channel runtimes and the sample recorder.
type Station struct {
	cfg      *config.Config
	store    *sqlite.SampleStorage
	logger   *logger.Logger
	runtimes map[string]*Runtime
	order    []string

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New builds a station from configuration. Each channel gets its own
// rate-scaled clock anchored at baseline, a pace controller at the
// configured tick frequency, a manager wired to the resolver and director,
// and a started metrics publisher. store may be nil to disable sample
// persistence.
func New(
	cfg *config.Config,
	baseline time.Time,
	resolver schedule.Resolver,
	director schedule.Director,
	runner playout.Runner,
	store *sqlite.SampleStorage,
	log *logger.Logger,
) (*Station, error) {
	s := &Station{
		cfg:      cfg,
		store:    store,
		logger:   log.Named("station"),
		runtimes: make(map[string]*Runtime, len(cfg.Channels)),
	}

	for _, ch := range cfg.Channels {
		c, err := clock.NewRealClock(baseline, 0, ch.ClockRate)
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", ch.ID, err)
		}
		rt, err := buildRuntime(cfg, ch, c, resolver, director, runner, log,
			pacing.WithSleep(time.Sleep))
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", ch.ID, err)
		}
		s.runtimes[ch.ID] = rt
		s.order = append(s.order, ch.ID)
	}
	return s, nil
}

// buildRuntime assembles one channel runtime against the given clock. The
// tick registration order is what guarantees producer advance, then health
// check, then metrics sampling within a single paced tick.
func buildRuntime(
	cfg *config.Config,
	ch config.ChannelConfig,
	c clock.MasterClock,
	resolver schedule.Resolver,
	director schedule.Director,
	runner playout.Runner,
	log *logger.Logger,
	pacerOpts ...pacing.Option,
) (*Runtime, error) {
	pacer, err := pacing.NewPaceController(cfg.Pacing.TargetHz, c, pacerOpts...)
	if err != nil {
		return nil, err
	}

	factory := producerFactory(cfg, ch, runner, log)
	manager := channel.NewManager(channel.ManagerConfig{
		ChannelID:   ch.ID,
		Name:        ch.Name,
		Clock:       c,
		Resolver:    resolver,
		Director:    director,
		NewProducer: factory,
		Logger:      log,
	})

	publisher, err := metrics.NewPublisher(manager, c,
		cfg.Metrics.SampleHz, cfg.Metrics.AggregationWindowSec, log)
	if err != nil {
		return nil, err
	}
	manager.AttachMetricsPublisher(publisher)
	publisher.Start()

	pacer.Register(manager.OnPacedTick)
	pacer.Register(publisher.OnPacedTick)

	return &Runtime{
		clock:     c,
		pacer:     pacer,
		manager:   manager,
		publisher: publisher,
		drainSec:  cfg.Encoder.DrainSec,
	}, nil
}

// producerFactory selects the producer kind for a channel.
func producerFactory(cfg *config.Config, ch config.ChannelConfig, runner playout.Runner, log *logger.Logger) channel.ProducerFactory {
	if ch.Producer == "loop" {
		return func() playout.Producer {
			return playout.NewLoopProducer(ch.ID, cfg.Encoder.DrainSec, log)
		}
	}
	return func() playout.Producer {
		return playout.NewSegmentProducer(playout.SegmentProducerConfig{
			ChannelID:    ch.ID,
			BinaryPath:   cfg.Encoder.BinaryPath,
			OutputURL:    ch.OutputURL,
			DrainSeconds: cfg.Encoder.DrainSec,
		}, runner, log)
	}
}

// Runtime returns the runtime for a channel id.
func (s *Station) Runtime(channelID string) (*Runtime, bool) {
	rt, ok := s.runtimes[channelID]
	return rt, ok
}

// Runtimes returns all runtimes in configuration order.
func (s *Station) Runtimes() []*Runtime {
	out := make([]*Runtime, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.runtimes[id])
	}
	return out
}

// Start launches the tick loop of every channel runtime and, when a sample
// store is configured, the recorder.
func (s *Station) Start() {
	if s.started {
		return
	}
	s.started = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	for _, id := range s.order {
		rt := s.runtimes[id]
		s.wg.Add(1)
		go s.runLoop(ctx, id, rt)
	}

	if s.store != nil {
		s.wg.Add(1)
		go s.runRecorder(ctx)
	}

	s.logger.Info("Station started", logger.Int("channels", len(s.order)))
}

// Stop shuts the station down: producers are asked to tear down, each tick
// loop drains them to completion, and all goroutines are joined.
func (s *Station) Stop() {
	if !s.started {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.started = false
	s.logger.Info("Station stopped")
}

// runLoop drives one channel's pace controller until the context is
// cancelled, then drains any active producer before returning.
func (s *Station) runLoop(ctx context.Context, id string, rt *Runtime) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			s.drain(id, rt)
			return
		default:
			rt.pacer.RunOnce()
		}
	}
}

// drain requests teardown and keeps ticking until the producer is reclaimed
// or the drain window (plus grace) expires.
func (s *Station) drain(id string, rt *Runtime) {
	rt.manager.Shutdown()

	deadline := time.Now().
		Add(time.Duration(rt.drainSec * float64(time.Second))).
		Add(shutdownDrainGrace)
	for rt.manager.State() != channel.StateIdle {
		if time.Now().After(deadline) {
			s.logger.Warn("Producer did not drain before shutdown deadline",
				logger.String("channel_id", id))
			return
		}
		rt.pacer.RunOnce()
	}
}

// runRecorder periodically persists each channel's latest metrics sample.
// A sample is written once: repeats are skipped by station time, keeping
// storage I/O off the tick path entirely.
func (s *Station) runRecorder(ctx context.Context) {
	defer s.wg.Done()

	interval := time.Duration(s.cfg.Metrics.FlushIntervalSec * float64(time.Second))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastStored := make(map[string]float64, len(s.order))

	for {
		select {
		case <-ctx.Done():
			s.flushSamples(lastStored)
			return
		case <-ticker.C:
			s.flushSamples(lastStored)
		}
	}
}

// flushSamples writes any sample not yet persisted.
func (s *Station) flushSamples(lastStored map[string]float64) {
	for _, id := range s.order {
		sample := s.runtimes[id].publisher.LatestSample()
		if prev, ok := lastStored[id]; ok && sample.StationTime <= prev {
			continue
		}

		if _, err := s.store.StoreSample(&sqlite.SampleRecord{
			ChannelID:       id,
			ChannelState:    sample.ChannelState,
			ViewerCount:     sample.ViewerCount,
			ProducerState:   sample.ProducerState,
			SegmentID:       sample.SegmentID,
			SegmentPosition: sample.SegmentPosition,
			DroppedFrames:   sample.DroppedFrames,
			QueuedFrames:    sample.QueuedFrames,
			StationTime:     sample.StationTime,
			CreatedAt:       time.Now().UTC(),
		}); err != nil {
			s.logger.Error("Failed to persist sample",
				logger.String("channel_id", id),
				logger.Error(err))
			continue
		}
		lastStored[id] = sample.StationTime
	}
}
