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

type ReceiverOptions struct {
	Dial        ports.DialerFactory
	NewPipeline ports.ReceiverPipelineFactory
}

// ReceiverSession plays (and optionally records) the stream of a single
// caster. Losing the caster's signaling connection ends the session.
type ReceiverSession struct {
	id      domain.SessionID
	address string
	record  bool
	opts    ReceiverOptions
	deps    SessionDeps
	log     *zap.SugaredLogger

	opMu sync.Mutex

	mu        sync.Mutex
	state     domain.SessionState
	epoch     uint64
	caster    domain.PeerAddress
	dialer    ports.SignalDialer
	pipeline  ports.ReceiverPipeline
	startedAt time.Time
}

// NewReceiverSession binds the session to a caster address and recording
// mode for its whole lifetime. The address is validated by Start.
func NewReceiverSession(address string, record bool, opts ReceiverOptions, deps SessionDeps) *ReceiverSession {
	deps = deps.withDefaults()
	id := newSessionID()
	return &ReceiverSession{
		id:      id,
		address: address,
		record:  record,
		opts:    opts,
		deps:    deps,
		log:     deps.Logger.With("session_id", id, "role", domain.RoleReceiver),
		state:   domain.StateIdle,
	}
}

func (r *ReceiverSession) session() {}

func (r *ReceiverSession) ID() domain.SessionID { return r.id }

func (r *ReceiverSession) Role() domain.Role { return domain.RoleReceiver }

func (r *ReceiverSession) Address() string { return r.address }

func (r *ReceiverSession) Recording() bool { return r.record }

func (r *ReceiverSession) State() domain.SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// IsConnected reports whether the signaling connection to the caster is alive.
func (r *ReceiverSession) IsConnected() bool {
	r.mu.Lock()
	dialer := r.dialer
	r.mu.Unlock()
	return dialer != nil && dialer.IsConnected()
}

func (r *ReceiverSession) Snapshot() domain.SessionSnapshot {
	connected := r.IsConnected()

	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.SessionSnapshot{
		ID:        r.id,
		Role:      domain.RoleReceiver,
		State:     r.state,
		Connected: connected,
		Caster:    r.caster,
		Recording: r.record,
		StartedAt: r.startedAt,
	}
}

// Start dials the caster and starts the receiving pipeline. A malformed
// address fails before any socket is opened. On failure the session stays
// Idle with nothing left open.
func (r *ReceiverSession) Start() error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	addr, err := domain.ParsePeerAddress(r.address)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.state == domain.StateReceiving {
		r.mu.Unlock()
		return nil
	}
	r.epoch++
	epoch := r.epoch
	stale := r.dialer
	r.dialer = nil
	r.mu.Unlock()

	// left behind by an earlier caster drop
	if stale != nil {
		r.closeDialer(stale)
	}

	dialer, err := r.opts.Dial(addr, func() { r.handleDisconnect(epoch) })
	if err != nil {
		if !errors.Is(err, domain.ErrConnectRefused) {
			err = fmt.Errorf("%w: %v", domain.ErrConnectRefused, err)
		}
		r.log.Warnw("could not reach caster", "caster", addr, "error", err)
		return err
	}

	pipeline, err := r.opts.NewPipeline(ports.ReceiverPipelineOptions{Caster: addr, Record: r.record}, r.deliverFrame)
	if err != nil {
		r.closeDialer(dialer)
		r.deps.Metrics.PipelineFailed(domain.RoleReceiver, "create")
		return domain.NewPipelineError("create", err)
	}
	if err := pipeline.Start(); err != nil {
		pipeline.Stop()
		r.closeDialer(dialer)
		r.deps.Metrics.PipelineFailed(domain.RoleReceiver, "start")
		r.log.Warnw("pipeline failed to start", "error", err)
		return domain.NewPipelineError("start", err)
	}

	r.mu.Lock()
	r.dialer = dialer
	r.pipeline = pipeline
	r.caster = addr
	r.state = domain.StateReceiving
	r.startedAt = time.Now()
	lost := !dialer.IsConnected()
	r.mu.Unlock()

	r.stateChanged(domain.StateReceiving)
	r.log.Infow("receiving started", "caster", addr, "record", r.record)

	// the caster may have dropped before the session was marked Receiving
	if lost {
		r.handleDisconnect(epoch)
	}
	return nil
}

// Stop drains the pipeline and closes the signaling connection. It has the
// same effect as losing the caster and is safe to call from any state.
func (r *ReceiverSession) Stop() error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	dialer, pipeline := r.dialer, r.pipeline
	r.dialer, r.pipeline = nil, nil
	prev := r.state
	r.state = domain.StateIdle
	r.epoch++
	r.mu.Unlock()

	if pipeline != nil {
		pipeline.Stop()
	}
	if dialer != nil {
		r.closeDialer(dialer)
	}
	if prev != domain.StateIdle {
		r.stateChanged(domain.StateIdle)
		r.log.Infow("receiving stopped")
	}
	return nil
}

// handleDisconnect runs on the dialer's worker. The dialer itself is kept:
// its worker exits once this returns, and Stop or the next Start closes it.
func (r *ReceiverSession) handleDisconnect(epoch uint64) {
	r.mu.Lock()
	if epoch != r.epoch || r.state != domain.StateReceiving {
		r.mu.Unlock()
		return
	}
	pipeline := r.pipeline
	r.pipeline = nil
	r.state = domain.StateIdle
	caster := r.caster
	r.mu.Unlock()

	if pipeline != nil {
		pipeline.Stop()
	}

	ev := newEvent(r.id, domain.RoleReceiver, domain.EventCasterLost)
	ev.Peer = caster
	r.deps.Events.Publish(ev)
	r.stateChanged(domain.StateIdle)
	r.log.Infow("caster disconnected", "caster", caster)
}

func (r *ReceiverSession) closeDialer(d ports.SignalDialer) {
	if err := d.Close(); err != nil {
		r.log.Warnw("error closing signaling dialer", "error", err)
	}
}

func (r *ReceiverSession) deliverFrame(buf []byte) {
	r.deps.Metrics.FrameDelivered(domain.RoleReceiver, len(buf))
	if r.deps.OnFrame != nil {
		r.deps.OnFrame(buf)
	}
}

func (r *ReceiverSession) stateChanged(state domain.SessionState) {
	r.deps.Metrics.StateChanged(domain.RoleReceiver, state)
	ev := newEvent(r.id, domain.RoleReceiver, domain.EventStateChanged)
	ev.State = state
	r.deps.Events.Publish(ev)
}
