package media

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"sync"
	"testing"
	"time"

	"lancast/internal/core/domain"
	"lancast/internal/core/ports"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// gradientSource paints a horizontal gradient so frames are not trivially
// compressible.
type gradientSource struct {
	bounds image.Rectangle
}

func (g gradientSource) Bounds() image.Rectangle { return g.bounds }

func (g gradientSource) Capture(rect image.Rectangle) (image.Image, error) {
	img := image.NewRGBA(image.Rectangle{Max: rect.Size()})
	for y := 0; y < rect.Dy(); y++ {
		for x := 0; x < rect.Dx(); x++ {
			img.Set(x, y, color.RGBA{R: uint8(x + rect.Min.X), G: uint8(y + rect.Min.Y), B: 128, A: 255})
		}
	}
	return img, nil
}

type frameSink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *frameSink) handle(buf []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, bytes.Clone(buf))
}

func (s *frameSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *frameSink) last() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

func testOptions(t *testing.T) Options {
	opts := DefaultOptions()
	opts.BindHost = "127.0.0.1"
	opts.Port = 0
	opts.FPS = 50
	opts.MTU = 600
	opts.PreviewWidth = 160
	opts.RecordingDir = t.TempDir()
	opts.Logger = zaptest.NewLogger(t).Sugar()
	opts.Live = gradientSource{bounds: image.Rect(0, 0, 320, 240)}
	return opts
}

func TestStillPayloader(t *testing.T) {
	chunks := stillPayloader{}.Payload(4, []byte("0123456789"))
	assert.Equal(t, [][]byte{[]byte("0123"), []byte("4567"), []byte("89")}, chunks)
	assert.Nil(t, stillPayloader{}.Payload(4, nil))
}

func packetize(t *testing.T, frame []byte) []*rtp.Packet {
	t.Helper()
	pz := newPacketizer(600, 1234)
	packets := pz.Packetize(frame, clockRate/30)
	require.Greater(t, len(packets), 1)
	return packets
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img, err := gradientSource{bounds: image.Rect(0, 0, 200, 100)}.Capture(image.Rect(0, 0, 200, 100))
	require.NoError(t, err)
	frame, err := encodeJPEG(img, 90)
	require.NoError(t, err)
	require.True(t, isJPEG(frame))
	return frame
}

func TestFrameAssembler(t *testing.T) {
	frame := testJPEG(t)

	t.Run("complete frame", func(t *testing.T) {
		var a frameAssembler
		var got []byte
		for _, p := range packetize(t, frame) {
			if f, ok := a.push(p); ok {
				got = f
			}
		}
		assert.Equal(t, frame, got)
	})

	t.Run("lost fragment discards frame", func(t *testing.T) {
		var a frameAssembler
		packets := packetize(t, frame)
		for i, p := range packets {
			if i == 1 {
				continue
			}
			_, ok := a.push(p)
			assert.False(t, ok)
		}
	})

	t.Run("lost first fragment discards frame", func(t *testing.T) {
		var a frameAssembler
		for _, p := range packetize(t, frame)[1:] {
			_, ok := a.push(p)
			assert.False(t, ok)
		}
	})

	t.Run("recovers on next frame", func(t *testing.T) {
		var a frameAssembler
		pz := newPacketizer(600, 1)
		first := pz.Packetize(frame, clockRate/30)
		second := pz.Packetize(frame, clockRate/30)

		for _, p := range first[:len(first)-1] {
			a.push(p)
		}
		var got []byte
		for _, p := range second {
			if f, ok := a.push(p); ok {
				got = f
			}
		}
		assert.Equal(t, frame, got)
	})
}

func TestRTCPDemux(t *testing.T) {
	bye := goodbye(42, "stream ended")
	require.NotEmpty(t, bye)
	assert.True(t, isRTCP(bye))
	assert.True(t, hasGoodbye(bye))

	for _, p := range packetize(t, testJPEG(t)) {
		raw, err := p.Marshal()
		require.NoError(t, err)
		assert.False(t, isRTCP(raw))
	}
}

func TestCaptureRect(t *testing.T) {
	bounds := image.Rect(0, 0, 1920, 1080)

	assert.Equal(t, bounds, captureRect(bounds, nil))
	assert.Equal(t, image.Rect(100, 50, 900, 650),
		captureRect(bounds, &domain.CaptureRegion{StartX: 100, StartY: 50, EndX: 900, EndY: 650}))
	assert.Equal(t, image.Rect(1800, 0, 1920, 100),
		captureRect(bounds, &domain.CaptureRegion{StartX: 1800, StartY: 0, EndX: 2500, EndY: 100}))
	assert.Equal(t, bounds,
		captureRect(bounds, &domain.CaptureRegion{StartX: 3000, StartY: 3000, EndX: 4000, EndY: 4000}))
}

func TestScaleToWidth(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1280, 720))

	scaled := scaleToWidth(img, 640)
	assert.Equal(t, image.Rect(0, 0, 640, 360), scaled.Bounds())

	assert.Same(t, img, scaleToWidth(img, 2000))
	assert.Same(t, img, scaleToWidth(img, 0))
}

func TestBlankSourceIsWhite(t *testing.T) {
	src := NewBlankSource(image.Rect(0, 0, 64, 48))
	img, err := src.Capture(image.Rect(10, 10, 30, 20))
	require.NoError(t, err)

	assert.Equal(t, image.Rect(0, 0, 20, 10), img.Bounds())
	r, g, b, _ := img.At(5, 5).RGBA()
	assert.Equal(t, []uint32{0xffff, 0xffff, 0xffff}, []uint32{r, g, b})
}

func TestRecordingName(t *testing.T) {
	ts := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	assert.Equal(t, "stream20240309_140507.mjpeg", recordingName(ts))
}

func startReceiver(t *testing.T, opts Options, record bool, sink *frameSink) *ReceiverPipeline {
	t.Helper()
	rp, err := NewReceiverPipeline(opts, ports.ReceiverPipelineOptions{Caster: "127.0.0.1", Record: record}, sink.handle)
	require.NoError(t, err)
	require.NoError(t, rp.Start())
	t.Cleanup(rp.Stop)
	return rp
}

func TestCasterToReceiver(t *testing.T) {
	opts := testOptions(t)

	received := &frameSink{}
	rp := startReceiver(t, opts, true, received)

	opts.Port = rp.Port()
	preview := &frameSink{}
	cp, err := NewCasterPipeline(opts, preview.handle)
	require.NoError(t, err)
	cp.AddTarget("127.0.0.1")
	require.NoError(t, cp.Start())

	require.Eventually(t, func() bool { return received.count() >= 3 }, 5*time.Second, 20*time.Millisecond)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(received.last()))
	require.NoError(t, err)
	assert.Equal(t, 320, cfg.Width)
	assert.Equal(t, 240, cfg.Height)

	cfg, err = jpeg.DecodeConfig(bytes.NewReader(preview.last()))
	require.NoError(t, err)
	assert.Equal(t, 160, cfg.Width)

	cp.Stop()
	path := rp.RecordingPath()
	rp.Stop()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, isJPEG(data))
	assert.GreaterOrEqual(t, len(data), len(received.last()))
}

func TestCasterRegionChangesFrameSize(t *testing.T) {
	opts := testOptions(t)

	received := &frameSink{}
	rp := startReceiver(t, opts, false, received)
	assert.Empty(t, rp.RecordingPath())

	opts.Port = rp.Port()
	cp, err := NewCasterPipeline(opts, nil)
	require.NoError(t, err)
	defer cp.Stop()

	cp.SetCaptureRegion(&domain.CaptureRegion{StartX: 10, StartY: 20, EndX: 110, EndY: 70})
	cp.AddTarget("127.0.0.1")
	require.NoError(t, cp.Start())

	require.Eventually(t, func() bool {
		f := received.last()
		if f == nil {
			return false
		}
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(f))
		return err == nil && cfg.Width == 100 && cfg.Height == 50
	}, 5*time.Second, 20*time.Millisecond)
}

func TestCasterPauseStopsFrames(t *testing.T) {
	opts := testOptions(t)
	preview := &frameSink{}
	cp, err := NewCasterPipeline(opts, preview.handle)
	require.NoError(t, err)
	defer cp.Stop()

	require.NoError(t, cp.Start())
	require.Eventually(t, func() bool { return preview.count() > 0 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, cp.Pause())
	n := preview.count()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, n, preview.count())

	require.NoError(t, cp.Start())
	require.Eventually(t, func() bool { return preview.count() > n }, 5*time.Second, 10*time.Millisecond)
}

func TestCasterBlankSource(t *testing.T) {
	opts := testOptions(t)
	preview := &frameSink{}
	cp, err := NewCasterPipeline(opts, preview.handle)
	require.NoError(t, err)
	defer cp.Stop()

	cp.SetSource(domain.SourceBlank)
	require.NoError(t, cp.Start())
	require.Eventually(t, func() bool { return preview.count() > 0 }, 5*time.Second, 10*time.Millisecond)

	img, err := jpeg.Decode(bytes.NewReader(preview.last()))
	require.NoError(t, err)
	r, g, b, _ := img.At(img.Bounds().Dx()/2, img.Bounds().Dy()/2).RGBA()
	assert.Greater(t, r, uint32(0xf000))
	assert.Greater(t, g, uint32(0xf000))
	assert.Greater(t, b, uint32(0xf000))
}

func TestCasterTargets(t *testing.T) {
	cp, err := NewCasterPipeline(testOptions(t), nil)
	require.NoError(t, err)
	defer cp.Stop()

	cp.AddTarget("10.0.0.1")
	cp.AddTarget("10.0.0.2")
	cp.AddTarget("not-an-ip")
	assert.ElementsMatch(t, []domain.PeerAddress{"10.0.0.1", "10.0.0.2"}, cp.Targets())

	cp.RemoveTarget("10.0.0.1")
	cp.RemoveTarget("10.0.0.9")
	assert.Equal(t, []domain.PeerAddress{"10.0.0.2"}, cp.Targets())
}

func TestPipelinesStopIsIdempotent(t *testing.T) {
	opts := testOptions(t)

	cp, err := NewCasterPipeline(opts, nil)
	require.NoError(t, err)
	cp.Stop()
	cp.Stop()
	assert.ErrorIs(t, cp.Start(), ErrPipelineClosed)
	assert.ErrorIs(t, cp.Pause(), ErrPipelineClosed)

	rp, err := NewReceiverPipeline(opts, ports.ReceiverPipelineOptions{Caster: "127.0.0.1"}, nil)
	require.NoError(t, err)
	require.NoError(t, rp.Start())
	rp.Stop()
	rp.Stop()
	assert.ErrorIs(t, rp.Start(), ErrPipelineClosed)
}

func TestFactories(t *testing.T) {
	opts := testOptions(t)

	cp, err := NewCasterFactory(opts)(nil)
	require.NoError(t, err)
	cp.Stop()

	rp, err := NewReceiverFactory(opts)(ports.ReceiverPipelineOptions{Caster: "127.0.0.1"}, nil)
	require.NoError(t, err)
	rp.Stop()

	_, err = NewReceiverFactory(opts)(ports.ReceiverPipelineOptions{Caster: "nope"}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)
}
