package signal

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"lancast/internal/core/domain"
	"lancast/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Dialer holds a receiver's control connection to one caster. The
// onDisconnect callback fires at most once, from the connection's worker,
// when the caster goes away. It does not fire for a local Close, and it must
// not call Close itself.
type Dialer struct {
	opts Options
	log  *zap.SugaredLogger
	addr domain.PeerAddress
	conn *websocket.Conn

	onDisconnect func()

	connected atomic.Bool
	closing   atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the caster's signaling port. The connection is live when
// Dial returns without error.
func Dial(ctx context.Context, addr domain.PeerAddress, opts Options, onDisconnect func()) (*Dialer, error) {
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(addr.String(), strconv.Itoa(opts.Port)),
		Path:   controlPath,
	}

	wd := websocket.Dialer{
		HandshakeTimeout: opts.DialTimeout,
		NetDialContext:   (&net.Dialer{Timeout: opts.DialTimeout}).DialContext,
		ReadBufferSize:   256,
		WriteBufferSize:  256,
	}
	conn, resp, err := wd.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrConnectRefused, u.Host, err)
	}

	d := &Dialer{
		opts:         opts,
		log:          opts.logger().With("component", "signal_dialer", "caster", addr),
		addr:         addr,
		conn:         conn,
		onDisconnect: onDisconnect,
		done:         make(chan struct{}),
	}
	d.connected.Store(true)
	go d.run()

	d.log.Infow("connected to caster")
	return d, nil
}

// NewDialerFactory adapts Dial to the session's dialer port.
func NewDialerFactory(opts Options) ports.DialerFactory {
	return func(addr domain.PeerAddress, onDisconnect func()) (ports.SignalDialer, error) {
		d, err := Dial(context.Background(), addr, opts, onDisconnect)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
}

func (d *Dialer) run() {
	defer close(d.done)

	stopPing := keepalive(d.conn, d.opts)
	err := drain(d.conn)
	stopPing()

	d.connected.Store(false)
	d.conn.Close()

	if d.closing.Load() {
		return
	}
	d.log.Infow("caster connection lost", "error", err)
	if d.onDisconnect != nil {
		d.onDisconnect()
	}
}

func (d *Dialer) IsConnected() bool {
	return d.connected.Load()
}

// Close shuts the connection and waits for the worker to exit. Repeated calls
// are no-ops.
func (d *Dialer) Close() error {
	d.closeOnce.Do(func() {
		d.closing.Store(true)
		_ = d.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "receiver stopped"),
			time.Now().Add(d.opts.WriteTimeout))
		d.conn.Close()
	})
	<-d.done
	return nil
}
