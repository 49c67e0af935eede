package preview

import (
	"lancast/internal/core/domain"
	"lancast/internal/core/ports"
)

var _ ports.EventPublisher = (*IdleReset)(nil)

// IdleReset clears the slot whenever the session it observes returns to Idle,
// so readers stop seeing the last frame of a finished stream. Events are
// passed on to next unchanged.
type IdleReset struct {
	slot *Slot
	next ports.EventPublisher
}

func NewIdleReset(slot *Slot, next ports.EventPublisher) *IdleReset {
	return &IdleReset{slot: slot, next: next}
}

func (r *IdleReset) Publish(ev domain.SessionEvent) {
	switch {
	case ev.Type == domain.EventCasterLost:
		r.slot.Reset()
	case ev.Type == domain.EventStateChanged && ev.State == domain.StateIdle:
		r.slot.Reset()
	}
	if r.next != nil {
		r.next.Publish(ev)
	}
}
