package signal

import (
	"time"

	"lancast/pkg/config"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// controlPath is the only route served on the control port.
const controlPath = "/lancast"

type Options struct {
	Port         int
	BindHost     string
	DialTimeout  time.Duration
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       *zap.SugaredLogger
}

func DefaultOptions() Options {
	return Options{
		Port:         9000,
		BindHost:     "0.0.0.0",
		DialTimeout:  5 * time.Second,
		PingInterval: 2 * time.Second,
		PongTimeout:  6 * time.Second,
		WriteTimeout: 2 * time.Second,
	}
}

func OptionsFromConfig(cfg *config.Config, logger *zap.SugaredLogger) Options {
	return Options{
		Port:         cfg.Signal.Port,
		BindHost:     cfg.Signal.BindHost,
		DialTimeout:  cfg.Signal.DialTimeout,
		PingInterval: cfg.Signal.PingInterval,
		PongTimeout:  cfg.Signal.PongTimeout,
		WriteTimeout: cfg.Signal.WriteTimeout,
		Logger:       logger,
	}
}

func (o Options) logger() *zap.SugaredLogger {
	if o.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return o.Logger
}

// keepalive arms the read deadline and answers pings. Both ends ping, so a
// peer that vanishes without closing its socket is noticed within PongTimeout.
// The returned function stops the ping ticker.
func keepalive(conn *websocket.Conn, opts Options) (stop func()) {
	extend := func() {
		_ = conn.SetReadDeadline(time.Now().Add(opts.PongTimeout))
	}
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})
	conn.SetPingHandler(func(data string) error {
		extend()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(opts.WriteTimeout))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(opts.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(opts.WriteTimeout)); err != nil {
					// the read loop notices the broken connection
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

// drain reads until the connection fails. Peers exchange no payload, so any
// data frame is discarded.
func drain(conn *websocket.Conn) error {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return err
		}
	}
}
