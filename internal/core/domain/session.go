package domain

import "time"

type SessionID string

// Role is the side of a streaming session this process plays.
type Role string

const (
	RoleCaster   Role = "caster"
	RoleReceiver Role = "receiver"
)

type SessionState string

const (
	StateIdle      SessionState = "idle"
	StateCasting   SessionState = "casting"
	StateReceiving SessionState = "receiving"
)

// ScreenSource selects the visual feed pushed into a caster pipeline.
type ScreenSource string

const (
	SourceLive  ScreenSource = "live"
	SourceBlank ScreenSource = "blank"
)

func ParseScreenSource(s string) (ScreenSource, error) {
	switch ScreenSource(s) {
	case SourceLive, SourceBlank:
		return ScreenSource(s), nil
	default:
		return "", ErrInvalidSource
	}
}

// SessionSnapshot is a point-in-time view of a session for the presentation layer.
type SessionSnapshot struct {
	ID        SessionID      `json:"id,omitempty"`
	Role      Role           `json:"role,omitempty"`
	State     SessionState   `json:"state"`
	Paused    bool           `json:"paused"`
	Connected bool           `json:"connected"`
	Viewers   []PeerAddress  `json:"viewers,omitempty"`
	Region    *CaptureRegion `json:"region,omitempty"`
	Source    ScreenSource   `json:"source,omitempty"`
	Caster    PeerAddress    `json:"caster,omitempty"`
	Recording bool           `json:"recording"`
	StartedAt time.Time      `json:"started_at,omitempty"`
}
