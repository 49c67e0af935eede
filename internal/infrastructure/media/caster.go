package media

import (
	"errors"
	"image"
	"math/rand"
	"net"
	"sync"
	"time"

	"lancast/internal/core/domain"
	"lancast/internal/core/ports"

	"go.uber.org/zap"
)

var ErrPipelineClosed = errors.New("pipeline closed")

var _ ports.CasterPipeline = (*CasterPipeline)(nil)

// CasterPipeline grabs the screen at a fixed rate, encodes each still as a
// JPEG and sends it as RTP over UDP to every target. The same still, scaled
// down, goes to the local preview handler.
type CasterPipeline struct {
	opts    Options
	log     *zap.SugaredLogger
	live    FrameSource
	blank   FrameSource
	onFrame ports.FrameHandler
	ssrc    uint32

	mu      sync.Mutex
	conn    *net.UDPConn
	targets map[domain.PeerAddress]*net.UDPAddr
	region  *domain.CaptureRegion
	source  domain.ScreenSource
	running bool
	closed  bool
	stop    chan struct{}
	done    chan struct{}

	captureErrs int
}

func NewCasterPipeline(opts Options, onFrame ports.FrameHandler) (*CasterPipeline, error) {
	live := opts.Live
	if live == nil {
		display, err := NewDisplaySource(opts.Display)
		if err != nil {
			return nil, err
		}
		live = display
	}

	return &CasterPipeline{
		opts:    opts,
		log:     opts.logger().With("component", "caster_pipeline"),
		live:    live,
		blank:   NewBlankSource(live.Bounds()),
		onFrame: onFrame,
		ssrc:    rand.Uint32(),
		targets: make(map[domain.PeerAddress]*net.UDPAddr),
		source:  domain.SourceLive,
	}, nil
}

// NewCasterFactory binds pipeline options for the caster session.
func NewCasterFactory(opts Options) ports.CasterPipelineFactory {
	return func(onFrame ports.FrameHandler) (ports.CasterPipeline, error) {
		p, err := NewCasterPipeline(opts, onFrame)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// Start begins (or resumes) capturing.
func (p *CasterPipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPipelineClosed
	}
	if p.running {
		return nil
	}
	if p.conn == nil {
		conn, err := net.ListenUDP("udp4", nil)
		if err != nil {
			return err
		}
		p.conn = conn
	}

	p.running = true
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.run(p.stop, p.done)

	p.log.Infow("capture started", "fps", p.opts.FPS, "targets", len(p.targets))
	return nil
}

// Pause halts capture. Targets are kept and the socket stays open.
func (p *CasterPipeline) Pause() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPipelineClosed
	}
	stop, done := p.halt()
	p.mu.Unlock()

	if stop != nil {
		<-done
		p.log.Infow("capture paused")
	}
	return nil
}

// halt signals the capture loop to exit. Callers hold mu and wait on done
// after releasing it.
func (p *CasterPipeline) halt() (chan struct{}, chan struct{}) {
	if !p.running {
		return nil, nil
	}
	p.running = false
	stop, done := p.stop, p.done
	close(stop)
	return stop, done
}

func (p *CasterPipeline) SetCaptureRegion(region *domain.CaptureRegion) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if region == nil {
		p.region = nil
		return
	}
	r := *region
	p.region = &r
}

func (p *CasterPipeline) SetSource(src domain.ScreenSource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.source = src
}

func (p *CasterPipeline) AddTarget(addr domain.PeerAddress) {
	ip := net.ParseIP(addr.String())
	if ip == nil {
		p.log.Warnw("ignoring malformed target", "peer", addr)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.targets[addr] = &net.UDPAddr{IP: ip, Port: p.opts.Port}
	p.log.Debugw("target added", "peer", addr, "targets", len(p.targets))
}

// RemoveTarget stops sending to addr and tells it the stream ended.
func (p *CasterPipeline) RemoveTarget(addr domain.PeerAddress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	target, ok := p.targets[addr]
	if !ok {
		return
	}
	delete(p.targets, addr)
	if p.conn != nil {
		p.sendLocked(goodbye(p.ssrc, "target removed"), target)
	}
	p.log.Debugw("target removed", "peer", addr, "targets", len(p.targets))
}

// Bounds reports the capture surface of the live source.
func (p *CasterPipeline) Bounds() image.Rectangle {
	return p.live.Bounds()
}

// Targets returns the current fan-out set.
func (p *CasterPipeline) Targets() []domain.PeerAddress {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.PeerAddress, 0, len(p.targets))
	for addr := range p.targets {
		out = append(out, addr)
	}
	return out
}

// Stop halts capture, says goodbye to every target and releases the socket.
func (p *CasterPipeline) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	_, done := p.halt()
	p.mu.Unlock()

	if done != nil {
		<-done
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return
	}
	bye := goodbye(p.ssrc, "stream ended")
	for _, target := range p.targets {
		p.sendLocked(bye, target)
	}
	if err := p.conn.Close(); err != nil {
		p.log.Warnw("error closing media socket", "error", err)
	}
	p.conn = nil
	p.log.Infow("pipeline stopped", "targets", len(p.targets))
}

func (p *CasterPipeline) sendLocked(raw []byte, target *net.UDPAddr) {
	if len(raw) == 0 {
		return
	}
	if _, err := p.conn.WriteToUDP(raw, target); err != nil {
		p.log.Debugw("udp send failed", "target", target.String(), "error", err)
	}
}

func (p *CasterPipeline) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	packetizer := newPacketizer(p.opts.MTU, p.ssrc)
	samples := uint32(clockRate / max(p.opts.FPS, 1))

	ticker := time.NewTicker(p.opts.frameInterval())
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		frame, preview, ok := p.grab()
		if !ok {
			continue
		}

		if p.onFrame != nil {
			p.onFrame(preview)
		}

		packets := packetizer.Packetize(frame, samples)

		p.mu.Lock()
		if p.conn != nil && len(p.targets) > 0 {
			for _, pkt := range packets {
				raw, err := pkt.Marshal()
				if err != nil {
					continue
				}
				for _, target := range p.targets {
					p.sendLocked(raw, target)
				}
			}
		}
		p.mu.Unlock()
	}
}

// grab captures and encodes one still for the wire and for the preview.
func (p *CasterPipeline) grab() (frame, preview []byte, ok bool) {
	p.mu.Lock()
	src := p.live
	if p.source == domain.SourceBlank {
		src = p.blank
	}
	rect := captureRect(src.Bounds(), p.region)
	p.mu.Unlock()

	img, err := src.Capture(rect)
	if err != nil {
		p.captureFailed(err)
		return nil, nil, false
	}

	frame, err = encodeJPEG(img, p.opts.JPEGQuality)
	if err != nil {
		p.captureFailed(err)
		return nil, nil, false
	}

	preview = frame
	if p.opts.PreviewWidth > 0 && img.Bounds().Dx() > p.opts.PreviewWidth {
		small := scaleToWidth(img, p.opts.PreviewWidth)
		if enc, err := encodeJPEG(small, p.opts.JPEGQuality); err == nil {
			preview = enc
		}
	}
	return frame, preview, true
}

// captureFailed logs the first failure of a run and every hundredth after.
func (p *CasterPipeline) captureFailed(err error) {
	p.captureErrs++
	if p.captureErrs%100 == 1 {
		p.log.Warnw("frame capture failed", "error", err, "failures", p.captureErrs)
	}
}
