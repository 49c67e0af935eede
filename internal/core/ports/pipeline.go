package ports

import "lancast/internal/core/domain"

// FrameHandler receives one encoded still image per call. It runs on a
// pipeline goroutine and must copy buf if it keeps it.
type FrameHandler func(buf []byte)

// CasterPipeline captures, encodes and fans the screen out to targets.
type CasterPipeline interface {
	Start() error
	Pause() error
	SetCaptureRegion(region *domain.CaptureRegion)
	SetSource(src domain.ScreenSource)
	AddTarget(addr domain.PeerAddress)
	RemoveTarget(addr domain.PeerAddress)
	// Stop drains and releases the pipeline. No FrameHandler call happens
	// after Stop returns. Safe to call more than once.
	Stop()
}

// ReceiverPipeline receives, decodes and optionally records a caster's stream.
type ReceiverPipeline interface {
	Start() error
	Stop()
}

type ReceiverPipelineOptions struct {
	Caster domain.PeerAddress
	Record bool
}

type CasterPipelineFactory func(onFrame FrameHandler) (CasterPipeline, error)

type ReceiverPipelineFactory func(opts ReceiverPipelineOptions, onFrame FrameHandler) (ReceiverPipeline, error)
