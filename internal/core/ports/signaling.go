package ports

import "lancast/internal/core/domain"

// SignalListener is the caster side of the signaling channel.
type SignalListener interface {
	Close() error
}

// SignalDialer is the receiver side of the signaling channel.
type SignalDialer interface {
	IsConnected() bool
	Close() error
}

type PeerHandler func(addr domain.PeerAddress)

// ListenerFactory binds the control port. onConnect and onDisconnect run on
// the listener's worker goroutine.
type ListenerFactory func(onConnect, onDisconnect PeerHandler) (SignalListener, error)

// DialerFactory blocks until the caster accepts or refuses the connection.
type DialerFactory func(addr domain.PeerAddress, onDisconnect func()) (SignalDialer, error)
