package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"lancast/internal/core/domain"
	"lancast/internal/core/services"
	"lancast/internal/infrastructure/media"
	signaling "lancast/internal/infrastructure/signal"
	"lancast/pkg/config"
	"lancast/pkg/logger"
	"lancast/pkg/retry"
	"lancast/pkg/validation"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var errCasterLost = errors.New("caster connection lost")

type options struct {
	role       string
	address    string
	record     bool
	region     string
	source     string
	configPath string
}

func main() {
	var opts options
	pflag.StringVar(&opts.role, "role", "", "session role: caster or receiver")
	pflag.StringVar(&opts.address, "address", "", "caster IPv4 address (receiver only)")
	pflag.BoolVar(&opts.record, "record", false, "record the received stream to a file (receiver only)")
	pflag.StringVar(&opts.region, "region", "", "capture region as x0,y0,x1,y1 (caster only, default full screen)")
	pflag.StringVar(&opts.source, "source", string(domain.SourceLive), "screen source: live or blank (caster only)")
	pflag.StringVar(&opts.configPath, "config", "configs/config.yaml", "path to config.yaml")
	pflag.Parse()
	opts.address = strings.TrimSpace(opts.address)

	if err := opts.validate(); err != nil {
		fmt.Fprintln(os.Stderr, "lancast:", err)
		pflag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "lancast:", err)
		os.Exit(1)
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lost := make(chan struct{}, 1)
	controller := services.NewSessionController(
		services.CasterOptions{
			NewListener: signaling.NewListenerFactory(signaling.OptionsFromConfig(cfg, log)),
			NewPipeline: media.NewCasterFactory(media.OptionsFromConfig(cfg, log)),
			Screen:      media.ScreenSize(cfg.Media.Display),
		},
		services.ReceiverOptions{
			Dial:        signaling.NewDialerFactory(signaling.OptionsFromConfig(cfg, log)),
			NewPipeline: media.NewReceiverFactory(media.OptionsFromConfig(cfg, log)),
		},
		services.SessionDeps{
			Events: eventLog{log: log, lost: lost},
			Logger: log,
		},
	)
	defer controller.Close(context.Background())

	switch domain.Role(opts.role) {
	case domain.RoleCaster:
		err = runCaster(ctx, controller, opts, log)
	case domain.RoleReceiver:
		err = runReceiver(ctx, controller, cfg, opts, lost, log)
	}
	if stopErr := controller.Stop(context.Background()); stopErr != nil {
		log.Warnw("error stopping session", "error", stopErr)
	}
	if err != nil {
		log.Errorw("session ended with error", "role", opts.role, "error", err)
		zapLogger.Sync()
		os.Exit(1)
	}
	log.Infow("session ended", "role", opts.role)
}

func (o options) validate() error {
	switch domain.Role(o.role) {
	case domain.RoleCaster:
		if _, err := domain.ParseScreenSource(o.source); err != nil {
			return fmt.Errorf("--source: %w", err)
		}
		if _, err := parseRegion(o.region); err != nil {
			return fmt.Errorf("--region: %w", err)
		}
	case domain.RoleReceiver:
		if err := validation.ValidateCasterAddress(o.address); err != nil {
			return fmt.Errorf("--address: %w", err)
		}
	default:
		return fmt.Errorf("--role must be %q or %q", domain.RoleCaster, domain.RoleReceiver)
	}
	return nil
}

// parseRegion reads "x0,y0,x1,y1"; empty means full screen.
func parseRegion(s string) (*domain.CaptureRegion, error) {
	if s == "" {
		return nil, nil
	}
	var r domain.CaptureRegion
	if _, err := fmt.Sscanf(s, "%d,%d,%d,%d", &r.StartX, &r.StartY, &r.EndX, &r.EndY); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", domain.ErrInvalidRegion, s, err)
	}
	if err := r.Validate(domain.ScreenSize{}); err != nil {
		return nil, err
	}
	return &r, nil
}

func runCaster(ctx context.Context, controller *services.SessionController, opts options, log *zap.SugaredLogger) error {
	if _, err := controller.EnsureCaster(ctx); err != nil {
		return err
	}
	region, _ := parseRegion(opts.region)
	if err := controller.SetCaptureRegion(ctx, region); err != nil {
		return err
	}
	if err := controller.SetScreenSource(ctx, domain.ScreenSource(opts.source)); err != nil {
		return err
	}
	if err := controller.Start(ctx); err != nil {
		return err
	}

	log.Infow("casting, press Ctrl+C to stop")
	<-ctx.Done()
	return nil
}

func runReceiver(
	ctx context.Context,
	controller *services.SessionController,
	cfg *config.Config,
	opts options,
	lost <-chan struct{},
	log *zap.SugaredLogger,
) error {
	if _, err := controller.EnsureReceiver(ctx, opts.address, opts.record); err != nil {
		return err
	}

	policy := retry.Config{
		Enabled:      cfg.Reconnect.Enabled,
		MaxAttempts:  cfg.Reconnect.MaxAttempts,
		InitialDelay: cfg.Reconnect.InitialDelay,
		MaxDelay:     cfg.Reconnect.MaxDelay,
		Multiplier:   2.0,
		Jitter:       true,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			log.Warnw("caster unreachable, retrying", "attempt", attempt, "delay", delay, "error", err)
		},
	}
	connect := func(ctx context.Context) error {
		err := controller.Start(ctx)
		if err != nil && !errors.Is(err, domain.ErrConnectRefused) {
			return retry.Permanent(err)
		}
		return err
	}

	if err := retry.Retry(ctx, policy, connect); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	log.Infow("receiving, press Ctrl+C to stop", "caster", opts.address, "record", opts.record)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-lost:
			if !cfg.Reconnect.Enabled {
				return errCasterLost
			}
			log.Infow("caster lost, reconnecting", "caster", opts.address)
			if err := retry.Retry(ctx, policy, connect); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// eventLog logs session events and signals caster loss to the receive loop.
type eventLog struct {
	log  *zap.SugaredLogger
	lost chan<- struct{}
}

func (e eventLog) Publish(ev domain.SessionEvent) {
	e.log.Debugw("session event", "type", ev.Type, "session_id", ev.SessionID, "peer", ev.Peer, "state", ev.State)
	if ev.Type != domain.EventCasterLost {
		return
	}
	select {
	case e.lost <- struct{}{}:
	default:
	}
}
