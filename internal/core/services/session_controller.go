package services

import (
	"context"
	"sync"

	"lancast/internal/core/domain"
	"lancast/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Session is implemented only by *CasterSession and *ReceiverSession.
type Session interface {
	ID() domain.SessionID
	Role() domain.Role
	State() domain.SessionState
	Start() error
	Stop() error
	Snapshot() domain.SessionSnapshot

	session()
}

var (
	_ Session = (*CasterSession)(nil)
	_ Session = (*ReceiverSession)(nil)
)

// SessionController owns at most one streaming session and is the only entry
// point for the presentation layer. Role changes are rejected while the held
// session is active; Stop and Close are always accepted.
//
// opMu serializes commands and may be held across a connect attempt. mu only
// guards the current pointer, so readers never wait on a command.
type SessionController struct {
	caster   CasterOptions
	receiver ReceiverOptions
	deps     SessionDeps
	log      *zap.SugaredLogger

	opMu sync.Mutex

	mu      sync.Mutex
	current Session
}

func NewSessionController(caster CasterOptions, receiver ReceiverOptions, deps SessionDeps) *SessionController {
	deps = deps.withDefaults()
	return &SessionController{
		caster:   caster,
		receiver: receiver,
		deps:     deps,
		log:      deps.Logger,
	}
}

// EnsureCaster makes the controller hold a caster session, replacing an idle
// receiver session if needed. An existing caster session is returned as is.
func (c *SessionController) EnsureCaster(ctx context.Context) (*CasterSession, error) {
	ctx, span := tracing.StartSpan(ctx, "controller.ensure_caster")
	defer span.End()

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if cs, ok := c.held().(*CasterSession); ok {
		return cs, nil
	}
	if err := c.replaceable(); err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	c.drop()
	cs := NewCasterSession(c.caster, c.deps)
	c.hold(cs)
	tracing.AddSpanAttributes(ctx, tracing.SessionIDKey.String(string(cs.ID())))
	c.log.Infow("caster session configured", "session_id", cs.ID())
	return cs, nil
}

// EnsureReceiver makes the controller hold a receiver session for address.
// An idle receiver session with different parameters is replaced, since the
// recording mode is fixed for a session's lifetime.
func (c *SessionController) EnsureReceiver(ctx context.Context, address string, record bool) (*ReceiverSession, error) {
	ctx, span := tracing.StartSpan(ctx, "controller.ensure_receiver")
	defer span.End()

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if rs, ok := c.held().(*ReceiverSession); ok && rs.Address() == address && rs.Recording() == record {
		return rs, nil
	}
	if err := c.replaceable(); err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	c.drop()
	rs := NewReceiverSession(address, record, c.receiver, c.deps)
	c.hold(rs)
	tracing.AddSpanAttributes(ctx,
		tracing.SessionIDKey.String(string(rs.ID())),
		tracing.PeerKey.String(address),
	)
	c.log.Infow("receiver session configured", "session_id", rs.ID(), "caster", address, "record", record)
	return rs, nil
}

func (c *SessionController) Start(ctx context.Context) error {
	return c.forward(ctx, "controller.start", func(s Session) error { return s.Start() })
}

// Stop stops the held session, if any. It never fails for lack of a session.
func (c *SessionController) Stop(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "controller.stop")
	defer span.End()

	c.opMu.Lock()
	defer c.opMu.Unlock()

	current := c.held()
	if current == nil {
		return nil
	}
	return current.Stop()
}

func (c *SessionController) Pause(ctx context.Context) error {
	return c.forwardCaster(ctx, "controller.pause", (*CasterSession).Pause)
}

func (c *SessionController) Resume(ctx context.Context) error {
	return c.forwardCaster(ctx, "controller.resume", (*CasterSession).Resume)
}

func (c *SessionController) SetCaptureRegion(ctx context.Context, region *domain.CaptureRegion) error {
	return c.forwardCaster(ctx, "controller.set_capture_region", func(cs *CasterSession) error {
		return cs.SetCaptureRegion(region)
	})
}

func (c *SessionController) SetScreenSource(ctx context.Context, src domain.ScreenSource) error {
	return c.forwardCaster(ctx, "controller.set_screen_source", func(cs *CasterSession) error {
		return cs.SetScreenSource(src)
	})
}

// Snapshot describes the held session; with none configured it reports an
// idle state without a role.
func (c *SessionController) Snapshot() domain.SessionSnapshot {
	current := c.held()
	if current == nil {
		return domain.SessionSnapshot{State: domain.StateIdle}
	}
	return current.Snapshot()
}

func (c *SessionController) State() domain.SessionState {
	return c.Snapshot().State
}

// IsConnected reports signaling liveness: the caster's listener is bound or
// the receiver's connection to its caster is up.
func (c *SessionController) IsConnected() bool {
	return c.Snapshot().Connected
}

func (c *SessionController) Caster() (*CasterSession, bool) {
	cs, ok := c.held().(*CasterSession)
	return cs, ok
}

func (c *SessionController) Receiver() (*ReceiverSession, bool) {
	rs, ok := c.held().(*ReceiverSession)
	return rs, ok
}

// Close stops and forgets the held session.
func (c *SessionController) Close(ctx context.Context) error {
	_, span := tracing.StartSpan(ctx, "controller.close")
	defer span.End()

	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.drop()
	return nil
}

func (c *SessionController) forward(ctx context.Context, name string, fn func(Session) error) error {
	ctx, span := tracing.StartSpan(ctx, name)
	defer span.End()

	c.opMu.Lock()
	defer c.opMu.Unlock()

	current := c.held()
	if current == nil {
		tracing.RecordError(ctx, domain.ErrNoSessionConfigured)
		return domain.ErrNoSessionConfigured
	}
	span.SetAttributes(
		attribute.String("session.role", string(current.Role())),
		tracing.SessionIDKey.String(string(current.ID())),
	)
	if err := fn(current); err != nil {
		tracing.RecordError(ctx, err)
		return err
	}
	return nil
}

func (c *SessionController) forwardCaster(ctx context.Context, name string, fn func(*CasterSession) error) error {
	return c.forward(ctx, name, func(s Session) error {
		switch sess := s.(type) {
		case *CasterSession:
			return fn(sess)
		default:
			return domain.ErrWrongRole
		}
	})
}

func (c *SessionController) held() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *SessionController) hold(s Session) {
	c.mu.Lock()
	c.current = s
	c.mu.Unlock()
}

// replaceable and drop must be called with opMu held.
func (c *SessionController) replaceable() error {
	if current := c.held(); current != nil && current.State() != domain.StateIdle {
		return domain.ErrSessionActive
	}
	return nil
}

func (c *SessionController) drop() {
	current := c.held()
	if current == nil {
		return
	}
	if err := current.Stop(); err != nil {
		c.log.Warnw("error stopping previous session", "session_id", current.ID(), "error", err)
	}
	c.hold(nil)
}
