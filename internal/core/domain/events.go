package domain

import "time"

type EventType string

const (
	EventViewerJoined   EventType = "viewer.joined"
	EventViewerLeft     EventType = "viewer.left"
	EventStateChanged   EventType = "session.state_changed"
	EventCasterLost     EventType = "session.caster_lost"
	EventPipelineFailed EventType = "session.pipeline_failed"
)

// SessionEvent is emitted by streaming sessions for observers outside the core.
type SessionEvent struct {
	Type      EventType    `json:"type"`
	SessionID SessionID    `json:"session_id"`
	Role      Role         `json:"role"`
	Peer      PeerAddress  `json:"peer,omitempty"`
	State     SessionState `json:"state,omitempty"`
	Error     string       `json:"error,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}
