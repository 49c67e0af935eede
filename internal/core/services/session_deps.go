package services

import (
	"sort"
	"time"

	"lancast/internal/core/domain"
	"lancast/internal/core/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionDeps are the collaborators shared by both session variants.
type SessionDeps struct {
	Events  ports.EventPublisher
	Metrics ports.SessionMetrics
	Logger  *zap.SugaredLogger
	// OnFrame receives every still image the pipeline emits (caster preview or
	// decoded receiver frames).
	OnFrame ports.FrameHandler
}

func (d SessionDeps) withDefaults() SessionDeps {
	if d.Events == nil {
		d.Events = NopEventPublisher{}
	}
	if d.Metrics == nil {
		d.Metrics = NopSessionMetrics{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop().Sugar()
	}
	return d
}

type NopEventPublisher struct{}

func (NopEventPublisher) Publish(domain.SessionEvent) {}

type NopSessionMetrics struct{}

func (NopSessionMetrics) ViewerJoined()                                 {}
func (NopSessionMetrics) ViewerLeft()                                   {}
func (NopSessionMetrics) StateChanged(domain.Role, domain.SessionState) {}
func (NopSessionMetrics) PipelineFailed(domain.Role, string)            {}
func (NopSessionMetrics) FrameDelivered(domain.Role, int)               {}

func newSessionID() domain.SessionID {
	return domain.SessionID(uuid.NewString())
}

func newEvent(id domain.SessionID, role domain.Role, typ domain.EventType) domain.SessionEvent {
	return domain.SessionEvent{
		Type:      typ,
		SessionID: id,
		Role:      role,
		Timestamp: time.Now(),
	}
}

func cloneRegion(r *domain.CaptureRegion) *domain.CaptureRegion {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

func sortedAddresses(set map[domain.PeerAddress]int) []domain.PeerAddress {
	out := make([]domain.PeerAddress, 0, len(set))
	for addr := range set {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
