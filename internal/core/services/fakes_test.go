package services

import (
	"errors"
	"sync"
	"sync/atomic"

	"lancast/internal/core/domain"
	"lancast/internal/core/ports"

	"github.com/stretchr/testify/mock"
)

var errBoom = errors.New("boom")

type mockCasterPipeline struct {
	mock.Mock
}

func newMockCasterPipeline() *mockCasterPipeline {
	p := &mockCasterPipeline{}
	p.On("SetCaptureRegion", mock.Anything).Maybe()
	p.On("SetSource", mock.Anything).Maybe()
	p.On("AddTarget", mock.Anything).Maybe()
	p.On("RemoveTarget", mock.Anything).Maybe()
	p.On("Stop").Maybe()
	return p
}

func (m *mockCasterPipeline) Start() error { return m.Called().Error(0) }
func (m *mockCasterPipeline) Pause() error { return m.Called().Error(0) }
func (m *mockCasterPipeline) SetCaptureRegion(r *domain.CaptureRegion) {
	m.Called(r)
}
func (m *mockCasterPipeline) SetSource(src domain.ScreenSource)    { m.Called(src) }
func (m *mockCasterPipeline) AddTarget(addr domain.PeerAddress)    { m.Called(addr) }
func (m *mockCasterPipeline) RemoveTarget(addr domain.PeerAddress) { m.Called(addr) }
func (m *mockCasterPipeline) Stop()                                { m.Called() }

type mockReceiverPipeline struct {
	mock.Mock
}

func (m *mockReceiverPipeline) Start() error { return m.Called().Error(0) }
func (m *mockReceiverPipeline) Stop()        { m.Called() }

// fakeListener captures the session's callbacks so tests can play the
// network's part.
type fakeListener struct {
	onConnect    ports.PeerHandler
	onDisconnect ports.PeerHandler
	closes       atomic.Int32
}

func (f *fakeListener) Close() error {
	f.closes.Add(1)
	return nil
}

func (f *fakeListener) connect(addr string)    { f.onConnect(domain.PeerAddress(addr)) }
func (f *fakeListener) disconnect(addr string) { f.onDisconnect(domain.PeerAddress(addr)) }

type listenerFactory struct {
	mu      sync.Mutex
	err     error
	created []*fakeListener
}

func (lf *listenerFactory) New(onConnect, onDisconnect ports.PeerHandler) (ports.SignalListener, error) {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	if lf.err != nil {
		return nil, lf.err
	}
	l := &fakeListener{onConnect: onConnect, onDisconnect: onDisconnect}
	lf.created = append(lf.created, l)
	return l, nil
}

func (lf *listenerFactory) last() *fakeListener {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	if len(lf.created) == 0 {
		return nil
	}
	return lf.created[len(lf.created)-1]
}

type fakeDialer struct {
	addr         domain.PeerAddress
	onDisconnect func()
	connected    atomic.Bool
	closes       atomic.Int32
}

func (f *fakeDialer) IsConnected() bool { return f.connected.Load() }

func (f *fakeDialer) Close() error {
	f.closes.Add(1)
	f.connected.Store(false)
	return nil
}

// drop simulates the caster going away.
func (f *fakeDialer) drop() {
	f.connected.Store(false)
	f.onDisconnect()
}

type dialerFactory struct {
	mu sync.Mutex
	// deadOnArrival dials successfully but the caster is already gone.
	deadOnArrival bool
	err           error
	calls         int
	created       []*fakeDialer
}

func (df *dialerFactory) Dial(addr domain.PeerAddress, onDisconnect func()) (ports.SignalDialer, error) {
	df.mu.Lock()
	defer df.mu.Unlock()
	df.calls++
	if df.err != nil {
		return nil, df.err
	}
	d := &fakeDialer{addr: addr, onDisconnect: onDisconnect}
	d.connected.Store(!df.deadOnArrival)
	df.created = append(df.created, d)
	return d, nil
}

func (df *dialerFactory) last() *fakeDialer {
	df.mu.Lock()
	defer df.mu.Unlock()
	if len(df.created) == 0 {
		return nil
	}
	return df.created[len(df.created)-1]
}

type eventRecorder struct {
	mu     sync.Mutex
	events []domain.SessionEvent
}

func (r *eventRecorder) Publish(ev domain.SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) count(typ domain.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

type countingMetrics struct {
	joined   atomic.Int32
	left     atomic.Int32
	failures atomic.Int32
	frames   atomic.Int32
}

func (m *countingMetrics) ViewerJoined()                                 { m.joined.Add(1) }
func (m *countingMetrics) ViewerLeft()                                   { m.left.Add(1) }
func (m *countingMetrics) StateChanged(domain.Role, domain.SessionState) {}
func (m *countingMetrics) PipelineFailed(domain.Role, string)            { m.failures.Add(1) }
func (m *countingMetrics) FrameDelivered(domain.Role, int)               { m.frames.Add(1) }
