package media

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"lancast/internal/core/domain"
	"lancast/internal/core/ports"

	"github.com/pion/rtp"
	"go.uber.org/zap"
)

const maxDatagram = 65535

var _ ports.ReceiverPipeline = (*ReceiverPipeline)(nil)

// ReceiverPipeline listens for one caster's RTP stream, reassembles stills and
// hands them to the frame handler. With recording enabled every still is also
// appended to a Motion-JPEG file.
type ReceiverPipeline struct {
	opts    Options
	log     *zap.SugaredLogger
	caster  net.IP
	record  bool
	onFrame ports.FrameHandler

	mu      sync.Mutex
	conn    *net.UDPConn
	rec     *recording
	started bool
	closed  bool
	done    chan struct{}

	frames  int
	dropped int
}

func NewReceiverPipeline(opts Options, po ports.ReceiverPipelineOptions, onFrame ports.FrameHandler) (*ReceiverPipeline, error) {
	ip := net.ParseIP(po.Caster.String())
	if ip == nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidAddress, po.Caster)
	}
	return &ReceiverPipeline{
		opts:    opts,
		log:     opts.logger().With("component", "receiver_pipeline", "caster", po.Caster),
		caster:  ip,
		record:  po.Record,
		onFrame: onFrame,
	}, nil
}

func NewReceiverFactory(opts Options) ports.ReceiverPipelineFactory {
	return func(po ports.ReceiverPipelineOptions, onFrame ports.FrameHandler) (ports.ReceiverPipeline, error) {
		p, err := NewReceiverPipeline(opts, po, onFrame)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// Start binds the media port and, if recording, opens the output file.
func (p *ReceiverPipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPipelineClosed
	}
	if p.started {
		return nil
	}

	addr := net.JoinHostPort(p.opts.BindHost, strconv.Itoa(p.opts.Port))
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return fmt.Errorf("bind media port %s: %w", addr, err)
	}

	if p.record {
		rec, err := newRecording(p.opts.RecordingDir, time.Now())
		if err != nil {
			conn.Close()
			return err
		}
		p.rec = rec
		p.log.Infow("recording stream", "path", rec.path)
	}

	p.conn = conn
	p.started = true
	p.done = make(chan struct{})
	go p.run(conn, p.done)

	p.log.Infow("receiving stream", "address", conn.LocalAddr().String())
	return nil
}

// Port returns the bound UDP port, or zero before Start.
func (p *ReceiverPipeline) Port() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return 0
	}
	return p.conn.LocalAddr().(*net.UDPAddr).Port
}

// RecordingPath is empty when the stream is not being recorded.
func (p *ReceiverPipeline) RecordingPath() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rec == nil {
		return ""
	}
	return p.rec.path
}

// Stop closes the socket, waits for the reader and flushes the recording.
func (p *ReceiverPipeline) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	conn, done, rec := p.conn, p.done, p.rec
	p.mu.Unlock()

	if conn == nil {
		return
	}
	conn.Close()
	<-done

	if rec != nil {
		if err := rec.Close(); err != nil {
			p.log.Errorw("failed to finalize recording", "path", rec.path, "error", err)
		} else {
			p.log.Infow("recording saved", "path", rec.path, "frames", rec.Frames())
		}
	}
	p.log.Infow("pipeline stopped", "frames", p.frames, "dropped", p.dropped)
}

func (p *ReceiverPipeline) run(conn *net.UDPConn, done chan<- struct{}) {
	defer close(done)

	buf := datagramPool.Get()
	defer datagramPool.Put(buf)

	var (
		assembler frameAssembler
		pkt       rtp.Packet
	)

	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				p.log.Warnw("media read failed", "error", err)
			}
			return
		}
		if !from.IP.Equal(p.caster) {
			continue
		}
		raw := buf[:n]

		if isRTCP(raw) {
			if hasGoodbye(raw) {
				p.log.Infow("caster ended the stream")
				p.flush()
			}
			continue
		}

		if err := pkt.Unmarshal(raw); err != nil {
			p.dropped++
			continue
		}
		frame, ok := assembler.push(&pkt)
		if !ok {
			if pkt.Marker {
				p.dropped++
			}
			continue
		}

		p.frames++
		if p.rec != nil {
			if err := p.rec.Write(frame); err != nil {
				p.log.Errorw("recording write failed", "error", err)
			}
		}
		if p.onFrame != nil {
			p.onFrame(frame)
		}
	}
}

func (p *ReceiverPipeline) flush() {
	if p.rec == nil {
		return
	}
	if err := p.rec.Flush(); err != nil {
		p.log.Warnw("recording flush failed", "error", err)
	}
}
