package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"lancast/pkg/validation"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Panel struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"panel"`

	Signal struct {
		Port     int    `yaml:"port"`
		BindHost string `yaml:"bind_host"`
		// AdvertiseAddress is the IPv4 address receivers should dial. Empty
		// picks the first non-loopback interface address.
		AdvertiseAddress string        `yaml:"advertise_address"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		PingInterval     time.Duration `yaml:"ping_interval"`
		PongTimeout      time.Duration `yaml:"pong_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
	} `yaml:"signal"`

	Media struct {
		Port         int    `yaml:"port"`
		FPS          int    `yaml:"fps"`
		JPEGQuality  int    `yaml:"jpeg_quality"`
		MTU          int    `yaml:"mtu"`
		Display      int    `yaml:"display"`
		PreviewWidth int    `yaml:"preview_width"`
		RecordingDir string `yaml:"recording_dir"`
	} `yaml:"media"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
		Channel  string `yaml:"channel"`
		// Casters announce themselves under a TTL key refreshed every
		// AnnounceInterval so receivers can discover them.
		AnnounceInterval time.Duration `yaml:"announce_interval"`
		AnnounceTTL      time.Duration `yaml:"announce_ttl"`
	} `yaml:"redis"`

	Tracing struct {
		Enabled    bool    `yaml:"enabled"`
		JaegerURL  string  `yaml:"jaeger_url"`
		SampleRate float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limiting"`

	Reconnect struct {
		Enabled      bool          `yaml:"enabled"`
		MaxAttempts  int           `yaml:"max_attempts"`
		InitialDelay time.Duration `yaml:"initial_delay"`
		MaxDelay     time.Duration `yaml:"max_delay"`
	} `yaml:"reconnect"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Panel.Address == "" {
		return fmt.Errorf("panel.address must not be empty")
	}
	if c.Panel.ReadTimeout <= 0 || c.Panel.WriteTimeout <= 0 {
		return fmt.Errorf("panel.read_timeout and panel.write_timeout must be > 0")
	}
	if c.Panel.ShutdownTimeout <= 0 {
		return fmt.Errorf("panel.shutdown_timeout must be > 0")
	}

	if err := validation.ValidatePort("signal.port", c.Signal.Port); err != nil {
		return err
	}
	if c.Signal.DialTimeout <= 0 {
		return fmt.Errorf("signal.dial_timeout must be > 0")
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be greater than signal.ping_interval")
	}
	if c.Signal.WriteTimeout <= 0 {
		return fmt.Errorf("signal.write_timeout must be > 0")
	}

	if err := validation.ValidatePort("media.port", c.Media.Port); err != nil {
		return err
	}
	if c.Media.Port == c.Signal.Port {
		return fmt.Errorf("media.port must differ from signal.port")
	}
	if c.Media.FPS <= 0 || c.Media.FPS > 120 {
		return fmt.Errorf("media.fps must be in 1..120")
	}
	if c.Media.JPEGQuality < 1 || c.Media.JPEGQuality > 100 {
		return fmt.Errorf("media.jpeg_quality must be in 1..100")
	}
	if c.Media.MTU < 256 || c.Media.MTU > 65000 {
		return fmt.Errorf("media.mtu must be in 256..65000")
	}
	if c.Media.Display < 0 {
		return fmt.Errorf("media.display must be >= 0")
	}
	if c.Media.PreviewWidth < 0 {
		return fmt.Errorf("media.preview_width must be >= 0")
	}
	if c.Media.RecordingDir == "" {
		return fmt.Errorf("media.recording_dir must not be empty")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if err := validation.ValidateAdvertiseAddress(c.Signal.AdvertiseAddress); err != nil {
		return fmt.Errorf("signal.advertise_address: %w", err)
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
		if c.Redis.Channel == "" {
			return fmt.Errorf("redis.channel must not be empty when redis.enabled=true")
		}
		if c.Redis.AnnounceInterval <= 0 || c.Redis.AnnounceTTL <= c.Redis.AnnounceInterval {
			return fmt.Errorf("redis.announce_ttl must be greater than redis.announce_interval")
		}
	}

	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in 0..1")
		}
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
	}

	if c.Reconnect.Enabled {
		if c.Reconnect.MaxAttempts <= 0 {
			return fmt.Errorf("reconnect.max_attempts must be > 0 when reconnect is enabled")
		}
		if c.Reconnect.InitialDelay <= 0 || c.Reconnect.MaxDelay < c.Reconnect.InitialDelay {
			return fmt.Errorf("reconnect delays must satisfy 0 < initial_delay <= max_delay")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
// A missing file yields the defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Panel.Address = ":8080"
	cfg.Panel.ReadTimeout = 15 * time.Second
	cfg.Panel.WriteTimeout = 15 * time.Second
	cfg.Panel.ShutdownTimeout = 10 * time.Second

	cfg.Signal.Port = 9000
	cfg.Signal.BindHost = "0.0.0.0"
	cfg.Signal.DialTimeout = 5 * time.Second
	cfg.Signal.PingInterval = 2 * time.Second
	cfg.Signal.PongTimeout = 6 * time.Second
	cfg.Signal.WriteTimeout = 2 * time.Second

	cfg.Media.Port = 9001
	cfg.Media.FPS = 30
	cfg.Media.JPEGQuality = 75
	cfg.Media.MTU = 1200
	cfg.Media.Display = 0
	cfg.Media.PreviewWidth = 640
	cfg.Media.RecordingDir = "."

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.PoolSize = 10
	cfg.Redis.Channel = "lancast:events"
	cfg.Redis.AnnounceInterval = 5 * time.Second
	cfg.Redis.AnnounceTTL = 15 * time.Second

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.RequestsPerSecond = 20
	cfg.RateLimiting.Burst = 40

	cfg.Reconnect.Enabled = false
	cfg.Reconnect.MaxAttempts = 5
	cfg.Reconnect.InitialDelay = 500 * time.Millisecond
	cfg.Reconnect.MaxDelay = 10 * time.Second

	return cfg
}

func (c *Config) applyEnvOverrides() error {
	if addr := os.Getenv("LANCAST_PANEL_ADDRESS"); addr != "" {
		c.Panel.Address = addr
	}
	if level := os.Getenv("LANCAST_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if dir := os.Getenv("LANCAST_RECORDING_DIR"); dir != "" {
		c.Media.RecordingDir = dir
	}
	if addr := os.Getenv("LANCAST_REDIS_ADDRESS"); addr != "" {
		c.Redis.Enabled = true
		c.Redis.Address = addr
	}
	for env, dst := range map[string]*int{
		"LANCAST_SIGNAL_PORT": &c.Signal.Port,
		"LANCAST_MEDIA_PORT":  &c.Media.Port,
	} {
		if v := os.Getenv(env); v != "" {
			port, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", env, err)
			}
			*dst = port
		}
	}
	return nil
}
