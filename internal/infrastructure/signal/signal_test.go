package signal

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"lancast/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type peerLog struct {
	mu     sync.Mutex
	events []string
}

func (p *peerLog) connect(addr domain.PeerAddress)    { p.add("+" + addr.String()) }
func (p *peerLog) disconnect(addr domain.PeerAddress) { p.add("-" + addr.String()) }

func (p *peerLog) add(ev string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *peerLog) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.BindHost = "127.0.0.1"
	opts.Port = 0
	opts.DialTimeout = time.Second
	opts.PingInterval = 50 * time.Millisecond
	opts.PongTimeout = 500 * time.Millisecond
	opts.WriteTimeout = 200 * time.Millisecond
	return opts
}

func startListener(t *testing.T) (*Listener, *peerLog, Options) {
	t.Helper()
	log := &peerLog{}
	opts := testOptions()
	l, err := Listen(opts, log.connect, log.disconnect)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	opts.Port = l.Port()
	return l, log, opts
}

const loopback = domain.PeerAddress("127.0.0.1")

func TestListener_ConnectAndDisconnect(t *testing.T) {
	l, log, opts := startListener(t)

	d, err := Dial(context.Background(), loopback, opts, nil)
	require.NoError(t, err)
	assert.True(t, d.IsConnected())

	require.Eventually(t, func() bool { return len(log.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"+127.0.0.1"}, log.snapshot())
	assert.Equal(t, 1, l.PeerCount())

	require.NoError(t, d.Close())
	assert.False(t, d.IsConnected())

	require.Eventually(t, func() bool { return len(log.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"+127.0.0.1", "-127.0.0.1"}, log.snapshot())
}

func TestListener_CloseReportsEveryPeer(t *testing.T) {
	l, log, opts := startListener(t)

	var dialers []*Dialer
	for i := 0; i < 3; i++ {
		d, err := Dial(context.Background(), loopback, opts, nil)
		require.NoError(t, err)
		dialers = append(dialers, d)
	}
	require.Eventually(t, func() bool { return l.PeerCount() == 3 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, l.Close())
	// no callback may run after Close returns
	events := log.snapshot()
	assert.Len(t, events, 6)

	connects, disconnects := 0, 0
	for _, ev := range events {
		if ev[0] == '+' {
			connects++
		} else {
			disconnects++
		}
	}
	assert.Equal(t, 3, connects)
	assert.Equal(t, 3, disconnects)

	for _, d := range dialers {
		d.Close()
	}
	assert.Equal(t, events, log.snapshot())
}

func TestListener_CloseIsIdempotent(t *testing.T) {
	l, _, _ := startListener(t)
	assert.NoError(t, l.Close())
	assert.NoError(t, l.Close())
}

func TestListen_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	opts := testOptions()
	opts.Port = ln.Addr().(*net.TCPAddr).Port

	_, err = Listen(opts, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrBind))
}

func TestDial_Refused(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	opts := testOptions()
	opts.Port = ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	_, err = Dial(context.Background(), loopback, opts, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConnectRefused)
}

func TestDialer_CallbackOnCasterLoss(t *testing.T) {
	l, _, opts := startListener(t)

	lost := make(chan struct{}, 2)
	d, err := Dial(context.Background(), loopback, opts, func() { lost <- struct{}{} })
	require.NoError(t, err)
	defer d.Close()

	require.Eventually(t, func() bool { return l.PeerCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, l.Close())

	select {
	case <-lost:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect callback not invoked")
	}
	assert.False(t, d.IsConnected())

	// exactly once
	select {
	case <-lost:
		t.Fatal("disconnect callback invoked twice")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDialer_NoCallbackOnLocalClose(t *testing.T) {
	_, _, opts := startListener(t)

	called := make(chan struct{}, 1)
	d, err := Dial(context.Background(), loopback, opts, func() { called <- struct{}{} })
	require.NoError(t, err)

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	select {
	case <-called:
		t.Fatal("callback fired for a local close")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFactories(t *testing.T) {
	log := &peerLog{}
	opts := testOptions()

	listener, err := NewListenerFactory(opts)(log.connect, log.disconnect)
	require.NoError(t, err)
	defer listener.Close()

	opts.Port = listener.(*Listener).Port()
	dialer, err := NewDialerFactory(opts)(loopback, func() {})
	require.NoError(t, err)
	assert.True(t, dialer.IsConnected())
	require.NoError(t, dialer.Close())
}

func TestAdvertiseAddress(t *testing.T) {
	addr, err := AdvertiseAddress("192.168.1.10")
	require.NoError(t, err)
	assert.Equal(t, domain.PeerAddress("192.168.1.10"), addr)

	_, err = AdvertiseAddress("caster.local")
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)
}

func TestFirstLANAddress(t *testing.T) {
	cidr := func(s string) net.Addr {
		ip, ipnet, err := net.ParseCIDR(s)
		require.NoError(t, err)
		ipnet.IP = ip
		return ipnet
	}

	addr, err := firstLANAddress(func() ([]net.Addr, error) {
		return []net.Addr{
			cidr("127.0.0.1/8"),
			cidr("fe80::1/64"),
			cidr("169.254.3.4/16"),
			cidr("192.168.1.42/24"),
			cidr("10.0.0.5/8"),
		}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PeerAddress("192.168.1.42"), addr)

	_, err = firstLANAddress(func() ([]net.Addr, error) {
		return []net.Addr{cidr("127.0.0.1/8")}, nil
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)

	_, err = firstLANAddress(func() ([]net.Addr, error) { return nil, errors.New("no netlink") })
	assert.Error(t, err)
}
