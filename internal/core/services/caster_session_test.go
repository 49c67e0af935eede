package services

import (
	"fmt"
	"sync"
	"testing"

	"lancast/internal/core/domain"
	"lancast/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type casterHarness struct {
	session   *CasterSession
	pipeline  *mockCasterPipeline
	listeners *listenerFactory
	events    *eventRecorder
	metrics   *countingMetrics
	onFrame   ports.FrameHandler
	frames    [][]byte
}

func newCasterHarness(t *testing.T) *casterHarness {
	t.Helper()
	h := &casterHarness{
		pipeline:  newMockCasterPipeline(),
		listeners: &listenerFactory{},
		events:    &eventRecorder{},
		metrics:   &countingMetrics{},
	}
	opts := CasterOptions{
		NewListener: h.listeners.New,
		NewPipeline: func(onFrame ports.FrameHandler) (ports.CasterPipeline, error) {
			h.onFrame = onFrame
			return h.pipeline, nil
		},
		Screen: domain.ScreenSize{Width: 1920, Height: 1080},
	}
	h.session = NewCasterSession(opts, SessionDeps{
		Events:  h.events,
		Metrics: h.metrics,
		Logger:  zaptest.NewLogger(t).Sugar(),
		OnFrame: func(buf []byte) { h.frames = append(h.frames, buf) },
	})
	return h
}

func (h *casterHarness) start(t *testing.T) *fakeListener {
	t.Helper()
	h.pipeline.On("Start").Return(nil)
	require.NoError(t, h.session.Start())
	require.Equal(t, domain.StateCasting, h.session.State())
	l := h.listeners.last()
	require.NotNil(t, l)
	return l
}

func TestCasterSession_StartAndStop(t *testing.T) {
	h := newCasterHarness(t)
	l := h.start(t)

	snap := h.session.Snapshot()
	assert.Equal(t, domain.RoleCaster, snap.Role)
	assert.True(t, snap.Connected)
	assert.False(t, snap.StartedAt.IsZero())

	require.NoError(t, h.session.Stop())
	assert.Equal(t, domain.StateIdle, h.session.State())
	assert.Equal(t, int32(1), l.closes.Load())
	h.pipeline.AssertCalled(t, "Stop")
	assert.False(t, h.session.Snapshot().Connected)
	assert.Equal(t, 2, h.events.count(domain.EventStateChanged))
}

func TestCasterSession_StartWhileCastingIsNoop(t *testing.T) {
	h := newCasterHarness(t)
	h.start(t)

	require.NoError(t, h.session.Start())
	assert.Len(t, h.listeners.created, 1)
	h.pipeline.AssertNumberOfCalls(t, "Start", 1)
}

func TestCasterSession_ViewersTrackConnects(t *testing.T) {
	tests := []struct {
		connects    int
		disconnects int
	}{
		{connects: 1, disconnects: 0},
		{connects: 3, disconnects: 1},
		{connects: 5, disconnects: 5},
		{connects: 8, disconnects: 3},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_connects_%d_disconnects", tt.connects, tt.disconnects), func(t *testing.T) {
			h := newCasterHarness(t)
			l := h.start(t)

			for i := 0; i < tt.connects; i++ {
				l.connect(fmt.Sprintf("192.168.1.%d", 10+i))
			}
			for i := 0; i < tt.disconnects; i++ {
				l.disconnect(fmt.Sprintf("192.168.1.%d", 10+i))
			}

			assert.Len(t, h.session.Viewers(), tt.connects-tt.disconnects)
			h.pipeline.AssertNumberOfCalls(t, "AddTarget", tt.connects)
			h.pipeline.AssertNumberOfCalls(t, "RemoveTarget", tt.disconnects)
			assert.Equal(t, int32(tt.connects), h.metrics.joined.Load())
			assert.Equal(t, int32(tt.disconnects), h.metrics.left.Load())
		})
	}
}

func TestCasterSession_ViewersAreSorted(t *testing.T) {
	h := newCasterHarness(t)
	l := h.start(t)

	l.connect("10.0.0.9")
	l.connect("10.0.0.1")
	l.connect("10.0.0.5")

	assert.Equal(t,
		[]domain.PeerAddress{"10.0.0.1", "10.0.0.5", "10.0.0.9"},
		h.session.Viewers())
}

func TestCasterSession_DuplicateDisconnectIsIgnored(t *testing.T) {
	h := newCasterHarness(t)
	l := h.start(t)

	l.connect("192.168.1.20")
	l.disconnect("192.168.1.20")
	l.disconnect("192.168.1.20")
	l.disconnect("192.168.1.99")

	assert.Empty(t, h.session.Viewers())
	h.pipeline.AssertNumberOfCalls(t, "RemoveTarget", 1)
	assert.Equal(t, 1, h.events.count(domain.EventViewerLeft))
}

func TestCasterSession_SameAddressTwice(t *testing.T) {
	h := newCasterHarness(t)
	l := h.start(t)

	l.connect("192.168.1.20")
	l.connect("192.168.1.20")
	assert.Len(t, h.session.Viewers(), 1)
	h.pipeline.AssertNumberOfCalls(t, "AddTarget", 1)

	// one of the two connections drops; the machine is still watching
	l.disconnect("192.168.1.20")
	assert.Len(t, h.session.Viewers(), 1)
	h.pipeline.AssertNotCalled(t, "RemoveTarget", domain.PeerAddress("192.168.1.20"))

	l.disconnect("192.168.1.20")
	assert.Empty(t, h.session.Viewers())
	h.pipeline.AssertCalled(t, "RemoveTarget", domain.PeerAddress("192.168.1.20"))
}

func TestCasterSession_StopDropsViewersAndIgnoresLateCallbacks(t *testing.T) {
	h := newCasterHarness(t)
	l := h.start(t)

	l.connect("192.168.1.20")
	l.connect("192.168.1.21")
	require.NoError(t, h.session.Stop())

	assert.Empty(t, h.session.Viewers())
	assert.Equal(t, int32(2), h.metrics.left.Load())

	// callbacks delivered after Stop belong to a dead listener
	l.connect("192.168.1.22")
	l.disconnect("192.168.1.20")
	assert.Empty(t, h.session.Viewers())
	h.pipeline.AssertNumberOfCalls(t, "AddTarget", 2)
}

func TestCasterSession_StopIsIdempotent(t *testing.T) {
	h := newCasterHarness(t)

	require.NoError(t, h.session.Stop())
	assert.Equal(t, domain.StateIdle, h.session.State())

	l := h.start(t)
	require.NoError(t, h.session.Stop())
	require.NoError(t, h.session.Stop())
	assert.Equal(t, int32(1), l.closes.Load())
	h.pipeline.AssertNumberOfCalls(t, "Stop", 1)
	assert.Equal(t, 2, h.events.count(domain.EventStateChanged))
}

func TestCasterSession_PauseResume(t *testing.T) {
	h := newCasterHarness(t)

	assert.ErrorIs(t, h.session.Pause(), domain.ErrNotCasting)
	assert.ErrorIs(t, h.session.Resume(), domain.ErrNotCasting)

	l := h.start(t)
	l.connect("192.168.1.20")
	h.pipeline.On("Pause").Return(nil)

	require.NoError(t, h.session.Pause())
	assert.True(t, h.session.Paused())
	assert.Equal(t, domain.StateCasting, h.session.State())
	assert.Len(t, h.session.Viewers(), 1)

	// pausing twice does not touch the pipeline again
	require.NoError(t, h.session.Pause())
	h.pipeline.AssertNumberOfCalls(t, "Pause", 1)

	// viewers may still join while paused
	l.connect("192.168.1.21")
	assert.Len(t, h.session.Viewers(), 2)

	require.NoError(t, h.session.Resume())
	assert.False(t, h.session.Paused())
	h.pipeline.AssertNumberOfCalls(t, "Start", 2)

	require.NoError(t, h.session.Resume())
	h.pipeline.AssertNumberOfCalls(t, "Start", 2)
}

func TestCasterSession_PauseFailureStopsSession(t *testing.T) {
	h := newCasterHarness(t)
	l := h.start(t)
	l.connect("192.168.1.20")
	h.pipeline.On("Pause").Return(errBoom)

	err := h.session.Pause()
	require.Error(t, err)
	assert.True(t, domain.IsPipelineError(err))
	assert.ErrorIs(t, err, errBoom)

	assert.Equal(t, domain.StateIdle, h.session.State())
	assert.Empty(t, h.session.Viewers())
	assert.Equal(t, int32(1), l.closes.Load())
	assert.Equal(t, 1, h.events.count(domain.EventPipelineFailed))
	assert.Equal(t, int32(1), h.metrics.failures.Load())
}

func TestCasterSession_ResumeFailureStopsSession(t *testing.T) {
	h := newCasterHarness(t)
	h.pipeline.On("Start").Return(nil).Once()
	require.NoError(t, h.session.Start())
	l := h.listeners.last()
	l.connect("192.168.1.20")

	h.pipeline.On("Pause").Return(nil)
	require.NoError(t, h.session.Pause())

	h.pipeline.On("Start").Return(errBoom)
	err := h.session.Resume()
	require.Error(t, err)
	assert.True(t, domain.IsPipelineError(err))
	assert.ErrorIs(t, err, errBoom)

	assert.Equal(t, domain.StateIdle, h.session.State())
	assert.False(t, h.session.Paused())
	assert.Empty(t, h.session.Viewers())
	assert.Equal(t, int32(1), l.closes.Load())
	h.pipeline.AssertCalled(t, "Stop")
	assert.Equal(t, 1, h.events.count(domain.EventPipelineFailed))
	assert.Equal(t, int32(1), h.metrics.failures.Load())
}

func TestCasterSession_BindFailure(t *testing.T) {
	h := newCasterHarness(t)
	h.listeners.err = errBoom

	err := h.session.Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBind)
	assert.Equal(t, domain.StateIdle, h.session.State())
	h.pipeline.AssertCalled(t, "Stop")
	h.pipeline.AssertNotCalled(t, "Start")
}

func TestCasterSession_PipelineStartFailure(t *testing.T) {
	h := newCasterHarness(t)
	h.pipeline.On("Start").Return(errBoom)

	err := h.session.Start()
	require.Error(t, err)
	assert.True(t, domain.IsPipelineError(err))
	assert.Equal(t, domain.StateIdle, h.session.State())
	assert.Equal(t, int32(1), h.listeners.last().closes.Load())
	assert.False(t, h.session.Snapshot().Connected)
}

func TestCasterSession_PipelineCreateFailure(t *testing.T) {
	h := newCasterHarness(t)
	h.session.opts.NewPipeline = func(ports.FrameHandler) (ports.CasterPipeline, error) {
		return nil, errBoom
	}

	err := h.session.Start()
	require.Error(t, err)
	assert.True(t, domain.IsPipelineError(err))
	assert.Empty(t, h.listeners.created)
}

func TestCasterSession_CaptureRegion(t *testing.T) {
	h := newCasterHarness(t)

	region := &domain.CaptureRegion{StartX: 100, StartY: 50, EndX: 900, EndY: 650}
	require.NoError(t, h.session.SetCaptureRegion(region))
	assert.Equal(t, region, h.session.Snapshot().Region)

	// cached while idle and applied when the pipeline is built
	h.pipeline.AssertNotCalled(t, "SetCaptureRegion", mock.Anything)
	h.start(t)
	h.pipeline.AssertCalled(t, "SetCaptureRegion", region)

	// forwarded immediately while casting
	next := &domain.CaptureRegion{StartX: 0, StartY: 0, EndX: 640, EndY: 480}
	require.NoError(t, h.session.SetCaptureRegion(next))
	h.pipeline.AssertCalled(t, "SetCaptureRegion", next)

	// nil restores the full screen
	h.pipeline.AssertNotCalled(t, "SetCaptureRegion", (*domain.CaptureRegion)(nil))
	require.NoError(t, h.session.SetCaptureRegion(nil))
	assert.Nil(t, h.session.Snapshot().Region)
	h.pipeline.AssertCalled(t, "SetCaptureRegion", (*domain.CaptureRegion)(nil))
}

func TestCasterSession_StartWithoutRegionCapturesFullScreen(t *testing.T) {
	h := newCasterHarness(t)
	h.start(t)

	h.pipeline.AssertCalled(t, "SetCaptureRegion", (*domain.CaptureRegion)(nil))
	h.pipeline.AssertCalled(t, "SetSource", domain.SourceLive)

	l := h.listeners.last()
	l.connect("192.168.1.20")

	region := &domain.CaptureRegion{StartX: 0, StartY: 0, EndX: 800, EndY: 600}
	require.NoError(t, h.session.SetCaptureRegion(region))
	h.pipeline.AssertCalled(t, "SetCaptureRegion", region)
	assert.Equal(t, []domain.PeerAddress{"192.168.1.20"}, h.session.Viewers())
}

func TestCasterSession_RegionChangedWhileStarting(t *testing.T) {
	h := newCasterHarness(t)
	region := &domain.CaptureRegion{StartX: 0, StartY: 0, EndX: 800, EndY: 600}

	build := h.session.opts.NewPipeline
	h.session.opts.NewPipeline = func(onFrame ports.FrameHandler) (ports.CasterPipeline, error) {
		require.NoError(t, h.session.SetCaptureRegion(region))
		require.NoError(t, h.session.SetScreenSource(domain.SourceBlank))
		return build(onFrame)
	}
	h.start(t)

	assert.Equal(t, region, h.session.Snapshot().Region)
	h.pipeline.AssertCalled(t, "SetCaptureRegion", region)
	h.pipeline.AssertNotCalled(t, "SetCaptureRegion", (*domain.CaptureRegion)(nil))
	h.pipeline.AssertCalled(t, "SetSource", domain.SourceBlank)
}

func TestCasterSession_InvalidCaptureRegion(t *testing.T) {
	h := newCasterHarness(t)
	h.start(t)

	invalid := []*domain.CaptureRegion{
		{StartX: 500, StartY: 0, EndX: 100, EndY: 100},
		{StartX: 0, StartY: 0, EndX: 0, EndY: 100},
		{StartX: 0, StartY: 0, EndX: 4000, EndY: 100},
		{StartX: -1, StartY: 0, EndX: 100, EndY: 100},
	}
	for _, r := range invalid {
		assert.ErrorIs(t, h.session.SetCaptureRegion(r), domain.ErrInvalidRegion, "%+v", *r)
	}
	h.pipeline.AssertNotCalled(t, "SetCaptureRegion", mock.MatchedBy(func(r *domain.CaptureRegion) bool {
		return r != nil
	}))
}

func TestCasterSession_ScreenSource(t *testing.T) {
	h := newCasterHarness(t)

	require.NoError(t, h.session.SetScreenSource(domain.SourceBlank))
	assert.Equal(t, domain.SourceBlank, h.session.Snapshot().Source)

	h.start(t)
	h.pipeline.AssertCalled(t, "SetSource", domain.SourceBlank)

	require.NoError(t, h.session.SetScreenSource(domain.SourceLive))
	h.pipeline.AssertCalled(t, "SetSource", domain.SourceLive)

	assert.ErrorIs(t, h.session.SetScreenSource("webcam"), domain.ErrInvalidSource)
}

func TestCasterSession_FramesReachObserver(t *testing.T) {
	h := newCasterHarness(t)
	h.start(t)

	h.onFrame([]byte{0xff, 0xd8})
	require.Len(t, h.frames, 1)
	assert.Equal(t, int32(1), h.metrics.frames.Load())
}

func TestCasterSession_ConcurrentCallbacks(t *testing.T) {
	h := newCasterHarness(t)
	l := h.start(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			addr := fmt.Sprintf("10.1.0.%d", i)
			l.connect(addr)
			if i%2 == 0 {
				l.disconnect(addr)
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, h.session.Viewers(), 10)
	require.NoError(t, h.session.Stop())
	assert.Equal(t, h.metrics.joined.Load(), h.metrics.left.Load())
}
