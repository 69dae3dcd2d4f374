package channel

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aircast-dev/aircast/internal/clock"
	"github.com/aircast-dev/aircast/internal/metrics"
	"github.com/aircast-dev/aircast/internal/pacing"
	"github.com/aircast-dev/aircast/internal/playout"
	"github.com/aircast-dev/aircast/internal/schedule"
	"github.com/aircast-dev/aircast/pkg/logger"
)

var baseline = time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)

type stubResolver struct {
	plan  []playout.ContentSegment
	err   error
	calls int
}

func (r *stubResolver) PlayoutPlanNow(channelID string, at float64) ([]playout.ContentSegment, error) {
	r.calls++
	return r.plan, r.err
}

type stubDirector struct {
	mode string
}

func (d *stubDirector) ChannelMode(channelID string) string {
	if d.mode == "" {
		return schedule.ModeNormal
	}
	return d.mode
}

func twoSegmentPlan(t *testing.T) []playout.ContentSegment {
	t.Helper()
	a, err := playout.NewContentSegment("seg-a", 0, 5, playout.SegmentKindContent, nil)
	require.NoError(t, err)
	b, err := playout.NewContentSegment("seg-b", 5, 10, playout.SegmentKindContent, nil)
	require.NoError(t, err)
	return []playout.ContentSegment{a, b}
}

type managerFixture struct {
	clock    *clock.SteppedClock
	manager  *Manager
	resolver *stubResolver
	director *stubDirector
}

func newFixture(t *testing.T, start float64) *managerFixture {
	t.Helper()
	c := clock.NewSteppedClock(baseline, start)
	resolver := &stubResolver{plan: twoSegmentPlan(t)}
	director := &stubDirector{}
	m := NewManager(ManagerConfig{
		ChannelID: "ch-1",
		Name:      "Channel One",
		Clock:     c,
		Resolver:  resolver,
		Director:  director,
		NewProducer: func() playout.Producer {
			return playout.NewLoopProducer("ch-1", 1.0, logger.NewNop())
		},
		Logger: logger.NewNop(),
	})
	return &managerFixture{clock: c, manager: m, resolver: resolver, director: director}
}

// tick advances the stepped clock and delivers one paced tick to the
// manager, mirroring the station loop's ordering.
func (f *managerFixture) tick(t *testing.T, dt float64) {
	t.Helper()
	require.NoError(t, f.clock.Advance(dt))
	f.manager.OnPacedTick(f.clock.Now(), dt)
}

func TestViewerJoinStartsProducer(t *testing.T) {
	f := newFixture(t, 1)

	endpoint, err := f.manager.ViewerJoin("alice")
	require.NoError(t, err)

	assert.Equal(t, "loop://ch-1", endpoint)
	assert.Equal(t, StateActive, f.manager.State())
	assert.Equal(t, "running", f.manager.ProducerStatus())
	assert.Equal(t, 1, f.manager.ViewerCount())
	assert.Equal(t, 1, f.resolver.calls)
}

func TestSecondJoinReusesProducer(t *testing.T) {
	f := newFixture(t, 1)

	_, err := f.manager.ViewerJoin("alice")
	require.NoError(t, err)
	_, err = f.manager.ViewerJoin("bob")
	require.NoError(t, err)

	assert.Equal(t, 2, f.manager.ViewerCount())
	assert.Equal(t, 1, f.resolver.calls, "an active producer must be reused")
}

func TestViewerJoinResolverFailureLeavesChannelIdle(t *testing.T) {
	f := newFixture(t, 1)
	f.resolver.err = errors.New("schedule backend down")

	_, err := f.manager.ViewerJoin("alice")
	assert.Error(t, err)
	assert.Equal(t, StateIdle, f.manager.State())
	assert.Equal(t, "stopped", f.manager.ProducerStatus())
	assert.Equal(t, 0, f.manager.ViewerCount())
}

func TestViewerJoinProducerStartFailureLeavesChannelIdle(t *testing.T) {
	f := newFixture(t, 1)
	f.resolver.plan = nil // empty plan makes Start fail

	_, err := f.manager.ViewerJoin("alice")
	assert.Error(t, err)
	assert.Equal(t, StateIdle, f.manager.State())
	assert.Equal(t, 0, f.manager.ViewerCount())
}

func TestViewerLeaveUnknownViewerIsNoop(t *testing.T) {
	f := newFixture(t, 1)
	f.manager.ViewerLeave("ghost")
	assert.Equal(t, StateIdle, f.manager.State())
}

func TestLastViewerLeaveTearsDownProducer(t *testing.T) {
	f := newFixture(t, 1)

	_, err := f.manager.ViewerJoin("alice")
	require.NoError(t, err)

	f.manager.ViewerLeave("alice")
	assert.Equal(t, "stopping", f.manager.ProducerStatus())
	// The reference is only released by health checks on later ticks.
	assert.Equal(t, StateActive, f.manager.State())

	// Drain window is 1s of ticks.
	f.tick(t, 0.5)
	assert.Equal(t, "stopping", f.manager.ProducerStatus())
	f.tick(t, 0.5)

	assert.Equal(t, StateIdle, f.manager.State())
	assert.Equal(t, "stopped", f.manager.ProducerStatus())
}

func TestLeaveWithRemainingViewersKeepsProducer(t *testing.T) {
	f := newFixture(t, 1)

	_, err := f.manager.ViewerJoin("alice")
	require.NoError(t, err)
	_, err = f.manager.ViewerJoin("bob")
	require.NoError(t, err)

	f.manager.ViewerLeave("alice")
	assert.Equal(t, "running", f.manager.ProducerStatus())
	assert.Equal(t, 1, f.manager.ViewerCount())
}

func TestPinnedModeSuppressesTeardownOnZeroViewers(t *testing.T) {
	f := newFixture(t, 1)
	f.director.mode = schedule.ModePinned

	_, err := f.manager.ViewerJoin("alice")
	require.NoError(t, err)
	f.manager.ViewerLeave("alice")

	assert.Equal(t, "running", f.manager.ProducerStatus())
	assert.Equal(t, StateActive, f.manager.State())
}

func TestJoinWhileDrainingIsRejected(t *testing.T) {
	f := newFixture(t, 1)

	_, err := f.manager.ViewerJoin("alice")
	require.NoError(t, err)
	f.manager.ViewerLeave("alice")

	_, err = f.manager.ViewerJoin("bob")
	assert.ErrorIs(t, err, ErrChannelDraining)

	// After the drain completes, joins start a fresh producer.
	f.tick(t, 1.0)
	require.Equal(t, StateIdle, f.manager.State())

	endpoint, err := f.manager.ViewerJoin("bob")
	require.NoError(t, err)
	assert.Equal(t, "loop://ch-1", endpoint)
	assert.Equal(t, 2, f.resolver.calls)
}

func TestPopulateMetricsSampleReflectsRunningChannel(t *testing.T) {
	f := newFixture(t, 1)

	_, err := f.manager.ViewerJoin("alice")
	require.NoError(t, err)
	f.tick(t, 0.5)

	sample := metrics.ChannelMetricsSample{StationTime: f.clock.Now()}
	f.manager.PopulateMetricsSample(&sample)

	assert.Equal(t, "ch-1", sample.ChannelID)
	assert.Equal(t, StateActive, sample.ChannelState)
	assert.Equal(t, 1, sample.ViewerCount)
	assert.Equal(t, "running", sample.ProducerState)
	assert.Equal(t, "seg-a", sample.SegmentID)
	assert.InDelta(t, 1.5, sample.SegmentPosition, 1e-9)
}

func TestPopulateMetricsSampleIdleChannel(t *testing.T) {
	f := newFixture(t, 1)

	sample := metrics.ChannelMetricsSample{}
	f.manager.PopulateMetricsSample(&sample)

	assert.Equal(t, StateIdle, sample.ChannelState)
	assert.Equal(t, "stopped", sample.ProducerState)
	assert.Empty(t, sample.SegmentID)
}

func TestSegmentBoundaryCrossingVisibleInSamples(t *testing.T) {
	f := newFixture(t, 1) // 1s into seg-a

	_, err := f.manager.ViewerJoin("alice")
	require.NoError(t, err)

	// 4s of ticks reaches the seg-a/seg-b boundary; status never leaves
	// running.
	for i := 0; i < 4; i++ {
		f.tick(t, 1.0)
		assert.Equal(t, "running", f.manager.ProducerStatus())
	}

	sample := metrics.ChannelMetricsSample{}
	f.manager.PopulateMetricsSample(&sample)
	assert.Equal(t, "seg-b", sample.SegmentID)
}

// A sample taken in the same tick the producer reaches stopped must see
// the reclaimed state, never the stale in-between.
func TestSampleAfterReclaimTickSeesIdleState(t *testing.T) {
	f := newFixture(t, 1)

	p, err := pacing.NewPaceController(10, f.clock)
	require.NoError(t, err)
	publisher, err := metrics.NewPublisher(f.manager, f.clock, 10, 5, logger.NewNop())
	require.NoError(t, err)
	f.manager.AttachMetricsPublisher(publisher)
	publisher.Start()

	p.Register(f.manager.OnPacedTick)
	p.Register(publisher.OnPacedTick)

	_, err = f.manager.ViewerJoin("alice")
	require.NoError(t, err)
	f.manager.ViewerLeave("alice")

	// Drain window 1s; advance past it in one tick.
	require.NoError(t, f.clock.Advance(1.5))
	p.RunOnce()

	sample := f.manager.ChannelMetrics()
	assert.Equal(t, StateIdle, sample.ChannelState)
	assert.Equal(t, "stopped", sample.ProducerState)
}

// End-to-end: stepped clock at a fixed baseline, two 5s segments, playback
// anchored 1s in, paced in 0.1s increments for 0.5s total.
func TestChannelRuntimeEndToEnd(t *testing.T) {
	f := newFixture(t, 1)

	p, err := pacing.NewPaceController(10, f.clock)
	require.NoError(t, err)
	publisher, err := metrics.NewPublisher(f.manager, f.clock, 10, 5, logger.NewNop())
	require.NoError(t, err)
	f.manager.AttachMetricsPublisher(publisher)
	publisher.Start()

	p.Register(f.manager.OnPacedTick)
	p.Register(publisher.OnPacedTick)

	_, err = f.manager.ViewerJoin("alice")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, f.clock.Advance(0.1))
		p.RunOnce()
	}

	sample := f.manager.ChannelMetrics()
	assert.Equal(t, 1, sample.ViewerCount)
	assert.Equal(t, StateActive, sample.ChannelState)
	assert.Equal(t, "seg-a", sample.SegmentID)
	assert.Greater(t, sample.SegmentPosition, 0.0)
	assert.True(t, publisher.IsSampleFresh())
}
