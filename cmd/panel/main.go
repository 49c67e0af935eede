package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"lancast/internal/core/domain"
	"lancast/internal/core/ports"
	"lancast/internal/core/services"
	httphandlers "lancast/internal/handlers/http"
	"lancast/internal/infrastructure/distributed"
	"lancast/internal/infrastructure/media"
	"lancast/internal/infrastructure/middleware"
	"lancast/internal/infrastructure/monitoring"
	"lancast/internal/infrastructure/preview"
	signaling "lancast/internal/infrastructure/signal"
	"lancast/pkg/config"
	"lancast/pkg/logger"
	"lancast/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var configPaths = []string{
	"configs/config.yaml",
	"./configs/config.yaml",
	"/etc/lancast/config.yaml",
	"config.yaml",
}

func main() {
	startTime := time.Now()

	configPath := pflag.String("config", "", "path to config.yaml (default: search the usual locations)")
	pflag.Parse()

	cfg, path, err := loadConfig(*configPath)
	if err != nil {
		// the real logger is built from cfg
		zap.NewExample().Sugar().Fatalw("failed to load config", "error", err)
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()
	log.Infow("configuration loaded", "path", path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "lancast-panel",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: tracing.DefaultConfig().Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	// Monitoring
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := monitoring.NewPrometheusCollector(registry)

	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddDirectoryCheck("recording_dir", cfg.Media.RecordingDir)

	instanceID := instanceName()
	log = log.With("instance_id", instanceID)

	// Optional LAN-wide event bus and caster discovery
	var (
		events    ports.EventPublisher = services.NopEventPublisher{}
		casters   httphandlers.CasterLister
		bus       *distributed.EventBus
		directory *distributed.CasterDirectory
		closers   []func()
		workers   sync.WaitGroup
	)
	if cfg.Redis.Enabled {
		client, err := distributed.NewRedisClient(ctx, cfg, log)
		if err != nil {
			log.Fatalw("failed to connect to redis", "error", err)
		}
		closers = append(closers, func() { client.Close() })
		healthChecker.AddRedisCheck(client, time.Second)

		busCfg := distributed.DefaultEventBusConfig()
		busCfg.Channel = cfg.Redis.Channel
		bus = distributed.NewEventBus(client, instanceID, busCfg, log)
		bus.OnPublishFailed(collector.EventPublishFailed)
		events = bus

		directory = distributed.NewCasterDirectory(client, instanceID, cfg.Redis.AnnounceTTL, log)
		casters = distributed.NewCachedDirectory(directory, time.Second)
	}

	frames := preview.NewSlot()

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
			Events:  preview.NewIdleReset(frames, events),
			Metrics: collector,
			Logger:  log,
			OnFrame: frames.Publish,
		},
	)

	if bus != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			err := bus.Subscribe(ctx, func(env distributed.Envelope) {
				log.Infow("remote session event",
					"from", env.InstanceID,
					"type", env.Event.Type,
					"role", env.Event.Role,
					"peer", env.Event.Peer,
				)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warnw("event subscription ended", "error", err)
			}
		}()
	}

	if directory != nil {
		advertise, err := signaling.AdvertiseAddress(cfg.Signal.AdvertiseAddress)
		if err != nil {
			log.Warnw("caster discovery disabled, no advertise address", "error", err)
		} else {
			log.Infow("advertising casts", "address", advertise)
			workers.Add(1)
			go func() {
				defer workers.Done()
				directory.Run(ctx, cfg.Redis.AnnounceInterval, announcement(controller, advertise))
			}()
		}
	}

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.RequestLoggerMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.NewHTTPRateLimitMiddleware(cfg),
		middleware.ErrorHandlerMiddleware(log),
	)

	httphandlers.NewSessionHandler(controller, casters, log).SetupRoutes(router)
	httphandlers.NewFrameHandler(frames, httphandlers.FrameHandlerConfig{
		PingInterval: cfg.Signal.PingInterval,
		WriteTimeout: cfg.Signal.WriteTimeout,
	}, log).SetupRoutes(router)
	httphandlers.NewHealthHandler(healthChecker, controller, startTime).SetupRoutes(router)

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Panel.Address,
		Handler:      router,
		ReadTimeout:  cfg.Panel.ReadTimeout,
		WriteTimeout: cfg.Panel.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting control panel", "address", cfg.Panel.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("control panel failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Panel.ShutdownTimeout)
	defer shutdownCancel()

	// frame websockets are hijacked and not tracked by Shutdown
	frames.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}

	if err := controller.Close(shutdownCtx); err != nil {
		log.Errorw("error closing session", "error", err)
	}

	// stops the subscription and withdraws the directory entry
	cancel()
	workers.Wait()
	if bus != nil {
		bus.Close()
	}
	for _, closeFn := range closers {
		closeFn()
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warnw("error flushing traces", "error", err)
	}

	log.Info("control panel stopped")
}

func loadConfig(explicit string) (*config.Config, string, error) {
	if explicit != "" {
		cfg, err := config.Load(explicit)
		return cfg, explicit, err
	}
	for _, path := range configPaths {
		if _, err := os.Stat(path); err == nil {
			cfg, err := config.Load(path)
			return cfg, path, err
		}
	}
	// no file anywhere: defaults plus env overrides
	cfg, err := config.Load("")
	return cfg, "defaults", err
}

// announcement describes the held session for discovery while it is casting.
func announcement(controller *services.SessionController, advertise domain.PeerAddress) func() (distributed.Announcement, bool) {
	return func() (distributed.Announcement, bool) {
		snap := controller.Snapshot()
		if snap.Role != domain.RoleCaster || snap.State != domain.StateCasting {
			return distributed.Announcement{}, false
		}
		return distributed.Announcement{
			Address:   advertise,
			SessionID: snap.ID,
			Viewers:   len(snap.Viewers),
			Paused:    snap.Paused,
			Source:    snap.Source,
			StartedAt: snap.StartedAt,
		}, true
	}
}

func instanceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "lancast"
	}
	return host + "-" + uuid.NewString()[:8]
}
