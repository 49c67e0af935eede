package media

import (
	"time"

	"lancast/pkg/config"

	"go.uber.org/zap"
)

type Options struct {
	// Port is the UDP port receivers listen on for the stream.
	Port         int
	BindHost     string
	FPS          int
	JPEGQuality  int
	MTU          int
	Display      int
	PreviewWidth int
	RecordingDir string
	Logger       *zap.SugaredLogger

	// Live overrides the display capture source.
	Live FrameSource
}

func DefaultOptions() Options {
	return Options{
		Port:         9001,
		BindHost:     "0.0.0.0",
		FPS:          30,
		JPEGQuality:  75,
		MTU:          1200,
		PreviewWidth: 640,
		RecordingDir: ".",
	}
}

func OptionsFromConfig(cfg *config.Config, logger *zap.SugaredLogger) Options {
	return Options{
		Port:         cfg.Media.Port,
		BindHost:     cfg.Signal.BindHost,
		FPS:          cfg.Media.FPS,
		JPEGQuality:  cfg.Media.JPEGQuality,
		MTU:          cfg.Media.MTU,
		Display:      cfg.Media.Display,
		PreviewWidth: cfg.Media.PreviewWidth,
		RecordingDir: cfg.Media.RecordingDir,
		Logger:       logger,
	}
}

func (o Options) logger() *zap.SugaredLogger {
	if o.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return o.Logger
}

func (o Options) frameInterval() time.Duration {
	if o.FPS <= 0 {
		return time.Second / 30
	}
	return time.Second / time.Duration(o.FPS)
}
