package signal

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"lancast/internal/core/domain"
	"lancast/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  256,
	WriteBufferSize: 256,
}

type peerEvent struct {
	addr      domain.PeerAddress
	connected bool
}

// Listener accepts receiver control connections on the signaling port and
// reports each peer's arrival and departure. All callbacks run on a single
// dispatch goroutine in the order the network events occurred for that peer.
// Callbacks must not call Close.
type Listener struct {
	opts Options
	log  *zap.SugaredLogger

	ln  net.Listener
	srv *http.Server

	onConnect    ports.PeerHandler
	onDisconnect ports.PeerHandler

	events       chan peerEvent
	dispatchDone chan struct{}

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
	connWG sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// Listen binds the control port and starts accepting peers.
func Listen(opts Options, onConnect, onDisconnect ports.PeerHandler) (*Listener, error) {
	addr := net.JoinHostPort(opts.BindHost, strconv.Itoa(opts.Port))
	ln, err := net.Listen("tcp4", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrBind, addr, err)
	}

	l := &Listener{
		opts:         opts,
		log:          opts.logger().With("component", "signal_listener"),
		ln:           ln,
		onConnect:    onConnect,
		onDisconnect: onDisconnect,
		events:       make(chan peerEvent, 16),
		dispatchDone: make(chan struct{}),
		conns:        make(map[*websocket.Conn]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(controlPath, l.handleControl)
	l.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: opts.DialTimeout,
	}

	go l.dispatch()
	go func() {
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.log.Errorw("signaling server stopped", "error", err)
		}
	}()

	l.log.Infow("signaling listener bound", "address", ln.Addr().String())
	return l, nil
}

// NewListenerFactory adapts Listen to the session's listener port.
func NewListenerFactory(opts Options) ports.ListenerFactory {
	return func(onConnect, onDisconnect ports.PeerHandler) (ports.SignalListener, error) {
		l, err := Listen(opts, onConnect, onDisconnect)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
}

// Port returns the bound TCP port.
func (l *Listener) Port() int {
	return l.ln.Addr().(*net.TCPAddr).Port
}

func (l *Listener) PeerCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

func (l *Listener) handleControl(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.log.Warnw("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		conn.Close()
		return
	}
	peer, err := domain.PeerAddressFromIP(tcpAddr.IP)
	if err != nil {
		l.log.Warnw("rejecting non-IPv4 peer", "remote", tcpAddr.String())
		conn.Close()
		return
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		conn.Close()
		return
	}
	l.conns[conn] = struct{}{}
	l.connWG.Add(1)
	l.mu.Unlock()
	defer l.connWG.Done()

	l.events <- peerEvent{addr: peer, connected: true}

	stopPing := keepalive(conn, l.opts)
	err = drain(conn)
	stopPing()
	conn.Close()

	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		l.log.Debugw("peer connection lost", "peer", peer, "error", err)
	}

	l.mu.Lock()
	delete(l.conns, conn)
	l.mu.Unlock()

	l.events <- peerEvent{addr: peer, connected: false}
}

func (l *Listener) dispatch() {
	defer close(l.dispatchDone)
	for ev := range l.events {
		if ev.connected {
			if l.onConnect != nil {
				l.onConnect(ev.addr)
			}
			continue
		}
		if l.onDisconnect != nil {
			l.onDisconnect(ev.addr)
		}
	}
}

// Close stops accepting, drops every peer (reporting each as disconnected)
// and waits for the dispatch goroutine. No callback runs after Close returns.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		conns := make([]*websocket.Conn, 0, len(l.conns))
		for c := range l.conns {
			conns = append(conns, c)
		}
		l.mu.Unlock()

		l.closeErr = l.srv.Close()

		deadline := time.Now().Add(l.opts.WriteTimeout)
		for _, c := range conns {
			_ = c.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "caster stopped"), deadline)
			c.Close()
		}

		l.connWG.Wait()
		close(l.events)
		<-l.dispatchDone
		l.log.Infow("signaling listener closed", "peers_dropped", len(conns))
	})
	return l.closeErr
}
