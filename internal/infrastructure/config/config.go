package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App          AppConfig
	Log          LogConfig
	HTTP         HTTPConfig
	Simulation   SimulationConfig
	LaunchDarkly LaunchDarklyConfig
	Metrics      MetricsConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout            time.Duration
	WriteTimeout           time.Duration
	IdleTimeout            time.Duration
	MaxHeaderBytes         int
	MaxBodySize            int64
	ProxyRateLimitRequests int
	ProxyRateLimitWindow   time.Duration
	CORSAllowOrigins       []string
	CORSAllowMethods       []string
	CORSAllowHeaders       []string
	TrustedProxies         []string
}

// SimulationConfig holds the knobs of the per-session traffic loop
type SimulationConfig struct {
	BatchSize        int           // emission iterations per active-rollout batch
	WaitInterval     time.Duration // pause between rollout checks while inactive
	StatsInterval    time.Duration // minimum gap between stats average refreshes
	StatusPushStride int           // push status to subscribers every Nth event
	MaxLogs          int           // per-session log buffer cap
	DedupWindow      time.Duration // identical log suppression window
}

// LaunchDarklyConfig holds flag-management API and SDK client settings
type LaunchDarklyConfig struct {
	APIBaseURL         string
	RequestTimeout     time.Duration
	DefaultEnvironment string
	InitWait           time.Duration // SDK client startup wait
	EventCapacity      int           // SDK event buffer size
	EventFlushInterval time.Duration // SDK event flush interval
}

// MetricsConfig holds Prometheus exposition settings
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with RG_ prefix (e.g., RG_APP_PORT)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/releaseguard")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("RG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:            v.GetDuration("http.read_timeout"),
			WriteTimeout:           v.GetDuration("http.write_timeout"),
			IdleTimeout:            v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:         v.GetInt("http.max_header_bytes"),
			MaxBodySize:            v.GetInt64("http.max_body_size"),
			ProxyRateLimitRequests: v.GetInt("http.proxy_rate_limit_requests"),
			ProxyRateLimitWindow:   v.GetDuration("http.proxy_rate_limit_window"),
			CORSAllowOrigins:       v.GetStringSlice("http.cors_allow_origins"),
			CORSAllowMethods:       v.GetStringSlice("http.cors_allow_methods"),
			CORSAllowHeaders:       v.GetStringSlice("http.cors_allow_headers"),
			TrustedProxies:         v.GetStringSlice("http.trusted_proxies"),
		},
		Simulation: SimulationConfig{
			BatchSize:        v.GetInt("simulation.batch_size"),
			WaitInterval:     v.GetDuration("simulation.wait_interval"),
			StatsInterval:    v.GetDuration("simulation.stats_interval"),
			StatusPushStride: v.GetInt("simulation.status_push_stride"),
			MaxLogs:          v.GetInt("simulation.max_logs"),
			DedupWindow:      v.GetDuration("simulation.dedup_window"),
		},
		LaunchDarkly: LaunchDarklyConfig{
			APIBaseURL:         v.GetString("launchdarkly.api_base_url"),
			RequestTimeout:     v.GetDuration("launchdarkly.request_timeout"),
			DefaultEnvironment: v.GetString("launchdarkly.default_environment"),
			InitWait:           v.GetDuration("launchdarkly.init_wait"),
			EventCapacity:      v.GetInt("launchdarkly.event_capacity"),
			EventFlushInterval: v.GetDuration("launchdarkly.event_flush_interval"),
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("metrics.enabled"),
			Path:    v.GetString("metrics.path"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "releaseguard-backend"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8000"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	// WriteTimeout stays 0 unless configured: SSE streams must be able to
	// outlive any fixed response deadline.
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20 // 1MB
	}
	if cfg.HTTP.ProxyRateLimitRequests == 0 {
		cfg.HTTP.ProxyRateLimitRequests = 60
	}
	if cfg.HTTP.ProxyRateLimitWindow == 0 {
		cfg.HTTP.ProxyRateLimitWindow = time.Minute
	}
	if len(cfg.HTTP.CORSAllowMethods) == 0 {
		cfg.HTTP.CORSAllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	}
	if len(cfg.HTTP.CORSAllowHeaders) == 0 {
		cfg.HTTP.CORSAllowHeaders = []string{"Content-Type", "Authorization", "X-Request-ID", "X-Session-ID"}
	}
	if cfg.Simulation.BatchSize == 0 {
		cfg.Simulation.BatchSize = 100
	}
	if cfg.Simulation.WaitInterval == 0 {
		cfg.Simulation.WaitInterval = 5 * time.Second
	}
	if cfg.Simulation.StatsInterval == 0 {
		cfg.Simulation.StatsInterval = 5 * time.Second
	}
	if cfg.Simulation.StatusPushStride == 0 {
		cfg.Simulation.StatusPushStride = 10
	}
	if cfg.Simulation.MaxLogs == 0 {
		cfg.Simulation.MaxLogs = 1000
	}
	if cfg.Simulation.DedupWindow == 0 {
		cfg.Simulation.DedupWindow = time.Second
	}
	if cfg.LaunchDarkly.APIBaseURL == "" {
		cfg.LaunchDarkly.APIBaseURL = "https://app.launchdarkly.com/api/v2"
	}
	if cfg.LaunchDarkly.RequestTimeout == 0 {
		cfg.LaunchDarkly.RequestTimeout = 10 * time.Second
	}
	if cfg.LaunchDarkly.DefaultEnvironment == "" {
		cfg.LaunchDarkly.DefaultEnvironment = "production"
	}
	if cfg.LaunchDarkly.InitWait == 0 {
		cfg.LaunchDarkly.InitWait = 5 * time.Second
	}
	if cfg.LaunchDarkly.EventCapacity == 0 {
		cfg.LaunchDarkly.EventCapacity = 1000
	}
	if cfg.LaunchDarkly.EventFlushInterval == 0 {
		cfg.LaunchDarkly.EventFlushInterval = 2 * time.Second
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Simulation.BatchSize < 1 {
		return fmt.Errorf("simulation.batch_size must be positive")
	}
	if c.Simulation.StatusPushStride < 1 {
		return fmt.Errorf("simulation.status_push_stride must be positive")
	}
	if c.Simulation.MaxLogs < 1 {
		return fmt.Errorf("simulation.max_logs must be positive")
	}
	if c.HTTP.ProxyRateLimitRequests < 1 {
		return fmt.Errorf("http.proxy_rate_limit_requests must be positive")
	}
	if _, err := url.Parse(c.LaunchDarkly.APIBaseURL); err != nil {
		return fmt.Errorf("launchdarkly.api_base_url is not a valid URL: %w", err)
	}

	// Production-specific validations
	if c.App.Env == "production" {
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
		if c.Log.Format == "console" {
			return fmt.Errorf("log.format should be 'json' in production")
		}
	}

	return nil
}
