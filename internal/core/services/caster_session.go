package services

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"lancast/internal/core/domain"
	"lancast/internal/core/ports"

	"go.uber.org/zap"
)

type CasterOptions struct {
	NewListener ports.ListenerFactory
	NewPipeline ports.CasterPipelineFactory
	// Screen bounds capture regions. Zero disables the upper-bound check.
	Screen domain.ScreenSize
}

// CasterSession broadcasts the screen to every receiver connected to its
// signaling listener.
//
// opMu serializes user commands. applyMu orders region and source updates
// reaching the pipeline. mu guards bookkeeping and is never held across a
// call into the listener or the pipeline, so signaling callbacks (which only
// take mu) cannot deadlock against a concurrent Stop.
type CasterSession struct {
	id   domain.SessionID
	opts CasterOptions
	deps SessionDeps
	log  *zap.SugaredLogger

	opMu    sync.Mutex
	applyMu sync.Mutex

	mu        sync.Mutex
	state     domain.SessionState
	paused    bool
	epoch     uint64
	viewers   map[domain.PeerAddress]int
	region    *domain.CaptureRegion
	source    domain.ScreenSource
	listener  ports.SignalListener
	pipeline  ports.CasterPipeline
	startedAt time.Time
}

func NewCasterSession(opts CasterOptions, deps SessionDeps) *CasterSession {
	deps = deps.withDefaults()
	id := newSessionID()
	return &CasterSession{
		id:      id,
		opts:    opts,
		deps:    deps,
		log:     deps.Logger.With("session_id", id, "role", domain.RoleCaster),
		state:   domain.StateIdle,
		viewers: make(map[domain.PeerAddress]int),
		source:  domain.SourceLive,
	}
}

func (s *CasterSession) session() {}

func (s *CasterSession) ID() domain.SessionID { return s.id }

func (s *CasterSession) Role() domain.Role { return domain.RoleCaster }

func (s *CasterSession) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *CasterSession) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Viewers returns the connected receiver addresses in sorted order.
func (s *CasterSession) Viewers() []domain.PeerAddress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedAddresses(s.viewers)
}

func (s *CasterSession) Snapshot() domain.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.SessionSnapshot{
		ID:        s.id,
		Role:      domain.RoleCaster,
		State:     s.state,
		Paused:    s.paused,
		Connected: s.listener != nil,
		Viewers:   sortedAddresses(s.viewers),
		Region:    cloneRegion(s.region),
		Source:    s.source,
		StartedAt: s.startedAt,
	}
}

// Start opens the signaling listener and starts the pipeline. On any failure
// the session stays Idle with nothing left open. Starting a casting session
// is a no-op.
func (s *CasterSession) Start() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state == domain.StateCasting {
		s.mu.Unlock()
		return nil
	}
	s.epoch++
	epoch := s.epoch
	s.mu.Unlock()

	pipeline, err := s.opts.NewPipeline(s.deliverFrame)
	if err != nil {
		s.deps.Metrics.PipelineFailed(domain.RoleCaster, "create")
		return domain.NewPipelineError("create", err)
	}

	// region and source are read once the pipeline is visible, so an update
	// racing with Start is either seen here or forwarded by its caller
	s.applyMu.Lock()
	s.mu.Lock()
	s.pipeline = pipeline
	region := cloneRegion(s.region)
	source := s.source
	s.mu.Unlock()
	pipeline.SetCaptureRegion(region)
	pipeline.SetSource(source)
	s.applyMu.Unlock()

	listener, err := s.opts.NewListener(
		func(addr domain.PeerAddress) { s.handleConnect(epoch, addr) },
		func(addr domain.PeerAddress) { s.handleDisconnect(epoch, addr) },
	)
	if err != nil {
		s.rollback(pipeline)
		if !errors.Is(err, domain.ErrBind) {
			err = fmt.Errorf("%w: %v", domain.ErrBind, err)
		}
		s.log.Warnw("signaling listener failed", "error", err)
		return err
	}

	if err := pipeline.Start(); err != nil {
		if cerr := listener.Close(); cerr != nil {
			s.log.Warnw("error closing listener", "error", cerr)
		}
		s.rollback(pipeline)
		s.deps.Metrics.PipelineFailed(domain.RoleCaster, "start")
		s.log.Warnw("pipeline failed to start", "error", err)
		return domain.NewPipelineError("start", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.state = domain.StateCasting
	s.paused = false
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.stateChanged(domain.StateCasting)
	s.log.Infow("casting started", "region", region, "source", source)
	return nil
}

func (s *CasterSession) rollback(pipeline ports.CasterPipeline) {
	s.mu.Lock()
	s.epoch++
	s.pipeline = nil
	dropped := len(s.viewers)
	s.viewers = make(map[domain.PeerAddress]int)
	s.mu.Unlock()

	for i := 0; i < dropped; i++ {
		s.deps.Metrics.ViewerLeft()
	}
	pipeline.Stop()
}

// Pause stops the outgoing stream without dropping viewers.
func (s *CasterSession) Pause() error {
	return s.setPaused(true)
}

func (s *CasterSession) Resume() error {
	return s.setPaused(false)
}

func (s *CasterSession) setPaused(paused bool) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state != domain.StateCasting {
		s.mu.Unlock()
		return domain.ErrNotCasting
	}
	if s.paused == paused {
		s.mu.Unlock()
		return nil
	}
	pipeline := s.pipeline
	s.mu.Unlock()

	op := "start"
	call := pipeline.Start
	if paused {
		op = "pause"
		call = pipeline.Pause
	}

	if err := call(); err != nil {
		// a pipeline that failed a control command is not resumed
		s.deps.Metrics.PipelineFailed(domain.RoleCaster, op)
		s.log.Errorw("pipeline command failed, stopping session", "op", op, "error", err)
		perr := domain.NewPipelineError(op, err)
		s.teardown(perr)
		return perr
	}

	s.mu.Lock()
	s.paused = paused
	s.mu.Unlock()

	s.log.Infow("casting paused state changed", "paused", paused)
	return nil
}

// SetCaptureRegion selects the broadcast rectangle; nil restores the full
// screen. It is forwarded immediately while a pipeline exists and cached for
// the next Start otherwise.
func (s *CasterSession) SetCaptureRegion(region *domain.CaptureRegion) error {
	if region != nil {
		if err := region.Validate(s.opts.Screen); err != nil {
			return err
		}
	}

	s.applyMu.Lock()
	s.mu.Lock()
	s.region = cloneRegion(region)
	pipeline := s.pipeline
	s.mu.Unlock()

	if pipeline != nil {
		pipeline.SetCaptureRegion(cloneRegion(region))
	}
	s.applyMu.Unlock()
	s.log.Debugw("capture region updated", "region", region, "live", pipeline != nil)
	return nil
}

// SetScreenSource switches between the live feed and a blank placeholder.
func (s *CasterSession) SetScreenSource(src domain.ScreenSource) error {
	if _, err := domain.ParseScreenSource(string(src)); err != nil {
		return err
	}

	s.applyMu.Lock()
	s.mu.Lock()
	s.source = src
	pipeline := s.pipeline
	s.mu.Unlock()

	if pipeline != nil {
		pipeline.SetSource(src)
	}
	s.applyMu.Unlock()
	s.log.Infow("screen source changed", "source", src)
	return nil
}

// Stop tears down the pipeline and the listener. When it returns no callback
// of this session will fire again. Safe to call from any state.
func (s *CasterSession) Stop() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.teardown(nil)
	return nil
}

func (s *CasterSession) teardown(cause error) {
	s.mu.Lock()
	listener, pipeline := s.listener, s.pipeline
	s.listener, s.pipeline = nil, nil
	prev := s.state
	s.state = domain.StateIdle
	s.paused = false
	s.epoch++
	dropped := len(s.viewers)
	s.viewers = make(map[domain.PeerAddress]int)
	s.mu.Unlock()

	if listener != nil {
		if err := listener.Close(); err != nil {
			s.log.Warnw("error closing listener", "error", err)
		}
	}
	if pipeline != nil {
		pipeline.Stop()
	}

	for i := 0; i < dropped; i++ {
		s.deps.Metrics.ViewerLeft()
	}

	if cause != nil {
		ev := newEvent(s.id, domain.RoleCaster, domain.EventPipelineFailed)
		ev.Error = cause.Error()
		s.deps.Events.Publish(ev)
	}
	if prev != domain.StateIdle {
		s.stateChanged(domain.StateIdle)
		s.log.Infow("casting stopped", "viewers_dropped", dropped)
	}
}

func (s *CasterSession) handleConnect(epoch uint64, addr domain.PeerAddress) {
	s.mu.Lock()
	if epoch != s.epoch || s.pipeline == nil {
		s.mu.Unlock()
		return
	}
	s.viewers[addr]++
	first := s.viewers[addr] == 1
	pipeline := s.pipeline
	count := len(s.viewers)
	s.mu.Unlock()

	if !first {
		s.log.Debugw("additional connection from viewer", "peer", addr)
		return
	}
	pipeline.AddTarget(addr)

	s.deps.Metrics.ViewerJoined()
	ev := newEvent(s.id, domain.RoleCaster, domain.EventViewerJoined)
	ev.Peer = addr
	s.deps.Events.Publish(ev)
	s.log.Infow("viewer connected", "peer", addr, "viewers", count)
}

func (s *CasterSession) handleDisconnect(epoch uint64, addr domain.PeerAddress) {
	s.mu.Lock()
	if epoch != s.epoch || s.viewers[addr] == 0 {
		s.mu.Unlock()
		return
	}
	s.viewers[addr]--
	last := s.viewers[addr] == 0
	if last {
		delete(s.viewers, addr)
	}
	pipeline := s.pipeline
	count := len(s.viewers)
	s.mu.Unlock()

	if !last {
		return
	}
	if pipeline != nil {
		pipeline.RemoveTarget(addr)
	}

	s.deps.Metrics.ViewerLeft()
	ev := newEvent(s.id, domain.RoleCaster, domain.EventViewerLeft)
	ev.Peer = addr
	s.deps.Events.Publish(ev)
	s.log.Infow("viewer disconnected", "peer", addr, "viewers", count)
}

func (s *CasterSession) deliverFrame(buf []byte) {
	s.deps.Metrics.FrameDelivered(domain.RoleCaster, len(buf))
	if s.deps.OnFrame != nil {
		s.deps.OnFrame(buf)
	}
}

func (s *CasterSession) stateChanged(state domain.SessionState) {
	s.deps.Metrics.StateChanged(domain.RoleCaster, state)
	ev := newEvent(s.id, domain.RoleCaster, domain.EventStateChanged)
	ev.State = state
	s.deps.Events.Publish(ev)
}
