// Package channel orchestrates a single channel's runtime: viewer
// sessions, the active producer, and the coarse operational state exposed
// to metrics and the API.
package channel

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aircast-dev/aircast/internal/clock"
	"github.com/aircast-dev/aircast/internal/metrics"
	"github.com/aircast-dev/aircast/internal/playout"
	"github.com/aircast-dev/aircast/internal/schedule"
	"github.com/aircast-dev/aircast/pkg/logger"
)

// ErrChannelDraining is returned for joins while the previous producer is
// still tearing down. Callers may retry once health checks have reclaimed
// it.
var ErrChannelDraining = errors.New("channel is draining a stopping producer")

// Channel states derived from the active producer reference.
const (
	StateIdle   = "idle"
	StateActive = "active"
)

// Session is one viewer's presence on a channel.
type Session struct {
	ViewerID string
	JoinedAt float64 // station time
}

// ProducerFactory builds a fresh, unstarted producer for the channel.
type ProducerFactory func() playout.Producer

// ManagerConfig wires a Manager's collaborators.
type ManagerConfig struct {
	ChannelID   string
	Name        string
	Clock       clock.MasterClock
	Resolver    schedule.Resolver
	Director    schedule.Director
	NewProducer ProducerFactory
	Logger      *logger.Logger
}

// Manager is the sole authority for a channel's viewer sessions, its
// active producer reference, and the channel state derived from it.
type Manager struct {
	channelID   string
	name        string
	clock       clock.MasterClock
	resolver    schedule.Resolver
	director    schedule.Director
	newProducer ProducerFactory
	logger      *logger.Logger

	mu        sync.Mutex
	sessions  map[string]Session
	producer  playout.Producer
	publisher *metrics.Publisher
}

// NewManager creates a channel manager. The channel starts idle.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		channelID:   cfg.ChannelID,
		name:        cfg.Name,
		clock:       cfg.Clock,
		resolver:    cfg.Resolver,
		director:    cfg.Director,
		newProducer: cfg.NewProducer,
		logger:      cfg.Logger.Named("channel-manager").With(logger.String("channel_id", cfg.ChannelID)),
		sessions:    make(map[string]Session),
	}
}

// ID returns the channel id.
func (m *Manager) ID() string { return m.channelID }

// Name returns the channel's display name.
func (m *Manager) Name() string { return m.name }

// ViewerJoin registers a viewer session and returns the stream endpoint.
// On an idle channel this resolves the playout plan and starts a producer
// first; a start failure propagates and leaves no half-registered producer
// and no session. Joins are rejected while a teardown is draining.
func (m *Manager) ViewerJoin(viewerID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.producer != nil && m.producer.TeardownInProgress() {
		return "", ErrChannelDraining
	}

	if m.producer == nil {
		at := m.clock.Now()
		plan, err := m.resolver.PlayoutPlanNow(m.channelID, at)
		if err != nil {
			return "", fmt.Errorf("failed to resolve playout plan: %w", err)
		}

		producer := m.newProducer()
		if err := producer.Start(plan, at); err != nil {
			return "", fmt.Errorf("failed to start producer: %w", err)
		}
		m.producer = producer

		m.logger.Info("Producer started on viewer join",
			logger.String("viewer_id", viewerID),
			logger.Float64("at", at),
			logger.String("endpoint", producer.StreamEndpoint()),
		)
	}

	m.sessions[viewerID] = Session{ViewerID: viewerID, JoinedAt: m.clock.Now()}
	m.logger.Debug("Viewer joined",
		logger.String("viewer_id", viewerID),
		logger.Int("viewer_count", len(m.sessions)),
	)
	return m.producer.StreamEndpoint(), nil
}

// ViewerLeave removes the viewer's session. Unknown viewer ids are a
// no-op. When the last session leaves while a producer is active, and the
// channel mode permits, producer teardown is requested: zero-viewer
// channels do not keep streaming resources alive indefinitely.
func (m *Manager) ViewerLeave(viewerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[viewerID]; !ok {
		return
	}
	delete(m.sessions, viewerID)
	m.logger.Debug("Viewer left",
		logger.String("viewer_id", viewerID),
		logger.Int("viewer_count", len(m.sessions)),
	)

	if len(m.sessions) > 0 || m.producer == nil || m.producer.TeardownInProgress() {
		return
	}

	if m.director.ChannelMode(m.channelID) == schedule.ModePinned {
		m.logger.Debug("Zero viewers but channel is pinned; producer stays up")
		return
	}

	m.logger.Info("Last viewer left, requesting producer teardown")
	m.producer.RequestTeardown()
}

// Shutdown requests teardown of the active producer regardless of viewer
// count or channel mode. Used on station shutdown; the drain still runs
// through subsequent ticks.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.producer == nil || m.producer.TeardownInProgress() {
		return
	}
	m.logger.Info("Shutdown requested, tearing down producer")
	m.producer.RequestTeardown()
}

// CheckHealth inspects the active producer and releases the reference once
// it has stopped. This is the only path by which a stopped producer is
// reclaimed. Routine absence of a producer is a no-op.
func (m *Manager) CheckHealth() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.producer == nil {
		return
	}

	switch m.producer.Status() {
	case playout.StatusStopped:
		m.producer = nil
		m.logger.Info("Stopped producer reclaimed, channel idle")
	case playout.StatusFailed:
		m.producer = nil
		m.logger.Warn("Failed producer reclaimed, channel idle")
	}
}

// OnPacedTick advances the active producer, then evaluates health. The
// producer-before-health ordering within one tick guarantees a sample
// taken later in the same tick sees reclaimed state, never a stale
// in-between.
func (m *Manager) OnPacedTick(now, dt float64) {
	m.mu.Lock()
	producer := m.producer
	m.mu.Unlock()

	if producer != nil {
		producer.OnPacedTick(now, dt)
	}
	m.CheckHealth()
}

// AttachMetricsPublisher registers the publisher queried by
// ChannelMetrics. The manager does not drive the publisher's cadence.
func (m *Manager) AttachMetricsPublisher(p *metrics.Publisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publisher = p
}

// ChannelMetrics returns the most recent sample from the attached
// publisher, or an on-demand snapshot when none is attached.
func (m *Manager) ChannelMetrics() metrics.ChannelMetricsSample {
	m.mu.Lock()
	publisher := m.publisher
	m.mu.Unlock()

	if publisher != nil {
		return publisher.LatestSample()
	}

	sample := metrics.ChannelMetricsSample{StationTime: m.clock.Now()}
	m.PopulateMetricsSample(&sample)
	return sample
}

// PopulateMetricsSample fills the caller-provided sample with the
// manager's current view. Pure read; manager state is not mutated.
func (m *Manager) PopulateMetricsSample(sample *metrics.ChannelMetricsSample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sample.ChannelID = m.channelID
	sample.ViewerCount = len(m.sessions)

	if m.producer == nil {
		sample.ChannelState = StateIdle
		sample.ProducerState = playout.StatusStopped.String()
		return
	}

	sample.ChannelState = StateActive
	sample.ProducerState = m.producer.Status().String()
	if seg, ok := m.producer.CurrentSegment(); ok {
		sample.SegmentID = seg.ID
		sample.SegmentPosition = m.producer.Position()
	}
	stats := m.producer.FrameStats()
	sample.DroppedFrames = stats.Dropped
	sample.QueuedFrames = stats.Queued
}

// State derives the coarse channel state: idle iff there is no active
// producer.
func (m *Manager) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.producer == nil {
		return StateIdle
	}
	return StateActive
}

// ProducerStatus mirrors the active producer's status, or "stopped" when
// there is none.
func (m *Manager) ProducerStatus() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.producer == nil {
		return playout.StatusStopped.String()
	}
	return m.producer.Status().String()
}

// StreamEndpoint returns the active producer's stream locator, empty when
// idle.
func (m *Manager) StreamEndpoint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.producer == nil {
		return ""
	}
	return m.producer.StreamEndpoint()
}

// ViewerCount returns the authoritative session count.
func (m *Manager) ViewerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
