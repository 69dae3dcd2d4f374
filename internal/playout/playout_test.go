package playout

import (
	"errors"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aircast-dev/aircast/pkg/logger"
)

type fakeProcess struct {
	done    chan struct{}
	signals []os.Signal
	stats   FrameStats
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{done: make(chan struct{})}
}

func (p *fakeProcess) Signal(sig os.Signal) error {
	p.signals = append(p.signals, sig)
	return nil
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }
func (p *fakeProcess) PID() int              { return 4242 }
func (p *fakeProcess) FrameStats() FrameStats {
	return p.stats
}

type fakeRunner struct {
	proc     *fakeProcess
	startErr error
	lastName string
	lastArgs []string
}

func (r *fakeRunner) Start(name string, args []string) (Process, error) {
	r.lastName = name
	r.lastArgs = args
	if r.startErr != nil {
		return nil, r.startErr
	}
	return r.proc, nil
}

func mustSegment(t *testing.T, id string, start, end float64) ContentSegment {
	t.Helper()
	seg, err := NewContentSegment(id, start, end, SegmentKindContent, map[string]string{"source": "/media/" + id + ".ts"})
	require.NoError(t, err)
	return seg
}

func twoSegmentPlan(t *testing.T) []ContentSegment {
	return []ContentSegment{
		mustSegment(t, "ep-001", 100, 105),
		mustSegment(t, "ep-002", 105, 110),
	}
}

func newTestProducer(runner Runner) *SegmentProducer {
	return NewSegmentProducer(SegmentProducerConfig{
		ChannelID:    "ch-1",
		BinaryPath:   "ffmpeg",
		OutputURL:    "udp://239.0.0.1:5000",
		DrainSeconds: 2.0,
	}, runner, logger.NewNop())
}

func TestNewContentSegmentRejectsInvertedTimes(t *testing.T) {
	_, err := NewContentSegment("bad", 10, 10, SegmentKindContent, nil)
	assert.Error(t, err)

	_, err = NewContentSegment("bad", 10, 5, SegmentKindContent, nil)
	assert.Error(t, err)
}

func TestSegmentProducerStartPublishesEndpoint(t *testing.T) {
	runner := &fakeRunner{proc: newFakeProcess()}
	p := newTestProducer(runner)

	require.NoError(t, p.Start(twoSegmentPlan(t), 100))

	assert.Equal(t, StatusRunning, p.Status())
	assert.Equal(t, "udp://239.0.0.1:5000", p.StreamEndpoint())
	assert.Equal(t, "ffmpeg", runner.lastName)
	assert.Contains(t, runner.lastArgs, "udp://239.0.0.1:5000")

	seg, ok := p.CurrentSegment()
	require.True(t, ok)
	assert.Equal(t, "ep-001", seg.ID)
	assert.Equal(t, 0.0, p.Position())
}

func TestSegmentProducerStartRejectsEmptyPlan(t *testing.T) {
	runner := &fakeRunner{proc: newFakeProcess()}
	p := newTestProducer(runner)

	err := p.Start(nil, 100)
	assert.Error(t, err)
	assert.Equal(t, StatusFailed, p.Status())
	assert.Empty(t, runner.lastName, "encoder must not launch for an invalid plan")
}

func TestSegmentProducerStartRejectsUnorderedPlan(t *testing.T) {
	runner := &fakeRunner{proc: newFakeProcess()}
	p := newTestProducer(runner)

	plan := []ContentSegment{
		mustSegment(t, "b", 105, 110),
		mustSegment(t, "a", 100, 105),
	}
	err := p.Start(plan, 100)
	assert.Error(t, err)
	assert.Equal(t, StatusFailed, p.Status())
}

func TestSegmentProducerStartSurfacesLaunchFailure(t *testing.T) {
	runner := &fakeRunner{startErr: errors.New("no such binary")}
	p := newTestProducer(runner)

	err := p.Start(twoSegmentPlan(t), 100)
	assert.Error(t, err)
	assert.Equal(t, StatusFailed, p.Status())
}

func TestSegmentProducerAnchorsMidSegment(t *testing.T) {
	runner := &fakeRunner{proc: newFakeProcess()}
	p := newTestProducer(runner)

	require.NoError(t, p.Start(twoSegmentPlan(t), 101))

	seg, ok := p.CurrentSegment()
	require.True(t, ok)
	assert.Equal(t, "ep-001", seg.ID)
	assert.InDelta(t, 1.0, p.Position(), 1e-9)
	assert.Contains(t, runner.lastArgs, "-ss")
}

func TestSegmentProducerBoundaryCrossingIsNotALifecycleEvent(t *testing.T) {
	runner := &fakeRunner{proc: newFakeProcess()}
	p := newTestProducer(runner)
	require.NoError(t, p.Start(twoSegmentPlan(t), 100))

	for i := 0; i < 6; i++ {
		p.OnPacedTick(100+float64(i+1), 1.0)
		assert.Equal(t, StatusRunning, p.Status())
	}

	seg, ok := p.CurrentSegment()
	require.True(t, ok)
	assert.Equal(t, "ep-002", seg.ID)
	assert.InDelta(t, 1.0, p.Position(), 1e-9)
}

func TestSegmentProducerTeardownIsTwoPhase(t *testing.T) {
	proc := newFakeProcess()
	runner := &fakeRunner{proc: proc}
	p := newTestProducer(runner)
	require.NoError(t, p.Start(twoSegmentPlan(t), 100))

	planFile := runner.lastArgs[6] // after "-i"
	_, err := os.Stat(planFile)
	require.NoError(t, err)

	p.RequestTeardown()
	assert.True(t, p.TeardownInProgress())
	assert.Equal(t, StatusStopping, p.Status())
	require.Len(t, proc.signals, 1)
	assert.Equal(t, syscall.SIGTERM, proc.signals[0])

	// Drain window is 2s; one second in we are still stopping.
	p.OnPacedTick(101, 1.0)
	assert.Equal(t, StatusStopping, p.Status())

	close(proc.done)
	p.OnPacedTick(102, 1.0)
	assert.Equal(t, StatusStopped, p.Status())
	assert.False(t, p.TeardownInProgress())

	_, err = os.Stat(planFile)
	assert.True(t, os.IsNotExist(err), "plan file must be removed on release")
}

func TestSegmentProducerReportsProcessDeath(t *testing.T) {
	proc := newFakeProcess()
	runner := &fakeRunner{proc: proc}
	p := newTestProducer(runner)
	require.NoError(t, p.Start(twoSegmentPlan(t), 100))

	close(proc.done)
	p.OnPacedTick(101, 1.0)
	assert.Equal(t, StatusFailed, p.Status())
}

func TestLoopProducerWrapsAround(t *testing.T) {
	p := NewLoopProducer("ch-loop", 1.0, logger.NewNop())
	require.NoError(t, p.Start(twoSegmentPlan(t), 100))

	// 10s plan; 11s of ticks lands 1s into the first segment again.
	for i := 0; i < 11; i++ {
		p.OnPacedTick(100+float64(i+1), 1.0)
	}

	seg, ok := p.CurrentSegment()
	require.True(t, ok)
	assert.Equal(t, "ep-001", seg.ID)
	assert.InDelta(t, 1.0, p.Position(), 1e-9)
	assert.Equal(t, StatusRunning, p.Status())
}

func TestLoopProducerAnchorsPastPlanEnd(t *testing.T) {
	p := NewLoopProducer("ch-loop", 1.0, logger.NewNop())
	// 10s rotation starting at 100; station time 123 is 23s elapsed,
	// i.e. 3s into the first segment of the third pass.
	require.NoError(t, p.Start(twoSegmentPlan(t), 123))

	seg, ok := p.CurrentSegment()
	require.True(t, ok)
	assert.Equal(t, "ep-001", seg.ID)
	assert.InDelta(t, 3.0, p.Position(), 1e-9)
}

func TestLoopProducerTeardownDrains(t *testing.T) {
	p := NewLoopProducer("ch-loop", 1.5, logger.NewNop())
	require.NoError(t, p.Start(twoSegmentPlan(t), 100))

	p.RequestTeardown()
	assert.True(t, p.TeardownInProgress())

	p.OnPacedTick(101, 1.0)
	assert.Equal(t, StatusStopping, p.Status())
	p.OnPacedTick(102, 1.0)
	assert.Equal(t, StatusStopped, p.Status())
}

func TestSegmentProducerRejectsStartPastPlanEnd(t *testing.T) {
	runner := &fakeRunner{proc: newFakeProcess()}
	p := newTestProducer(runner)

	err := p.Start(twoSegmentPlan(t), 200)
	assert.Error(t, err)
}
