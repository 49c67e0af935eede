package ports

import "lancast/internal/core/domain"

// EventPublisher observes session lifecycle events. Implementations must not
// block the caller.
type EventPublisher interface {
	Publish(event domain.SessionEvent)
}

// SessionMetrics records session activity.
type SessionMetrics interface {
	ViewerJoined()
	ViewerLeft()
	StateChanged(role domain.Role, state domain.SessionState)
	PipelineFailed(role domain.Role, op string)
	FrameDelivered(role domain.Role, size int)
}
