// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Session  SessionConfig  `mapstructure:"session"`
	Sources  SourcesConfig  `mapstructure:"sources"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int      `mapstructure:"port"`
	CORSOrigins            []string `mapstructure:"cors_origins"`
	ShutdownTimeoutSeconds int      `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig governs fetching and pacing.
type CrawlerConfig struct {
	UserAgent            string   `mapstructure:"user_agent"`
	RespectRobots        bool     `mapstructure:"respect_robots"`
	FetchMode            string   `mapstructure:"fetch_mode"`
	FetchTimeoutSeconds  int      `mapstructure:"fetch_timeout_seconds"`
	RateLimitRPS         float64  `mapstructure:"rate_limit_rps"`
	RateLimitBurst       int      `mapstructure:"rate_limit_burst"`
	BatchSize            int      `mapstructure:"batch_size"`
	PagePauseMs          int      `mapstructure:"page_pause_ms"`
	ProductPauseMs       int      `mapstructure:"product_pause_ms"`
	BatchPauseSeconds    int      `mapstructure:"batch_pause_seconds"`
	CategoryPauseSeconds int      `mapstructure:"category_pause_seconds"`
	MaxRetries           int      `mapstructure:"max_retries"`
	BlockedHosts         []string `mapstructure:"blocked_hosts"`
}

// Fetch modes.
const (
	FetchModeHTTP     = "http"
	FetchModeHeadless = "headless"
	FetchModeAuto     = "auto"
)

// HeadlessConfig configures the chromedp renderer.
type HeadlessConfig struct {
	MaxParallel        int `mapstructure:"max_parallel"`
	NavTimeoutSeconds  int `mapstructure:"nav_timeout_seconds"`
	PromotionThreshold int `mapstructure:"promotion_threshold"`
}

// SessionConfig shapes the time-boxed crawl session.
type SessionConfig struct {
	WindowMinutes         int `mapstructure:"window_minutes"`
	IntervalMinutes       int `mapstructure:"interval_minutes"`
	OffsetMinutes         int `mapstructure:"offset_minutes"`
	KickoffStaggerMinutes int `mapstructure:"kickoff_stagger_minutes"`
}

// SourcesConfig selects the crawled sources.
type SourcesConfig struct {
	Enabled []string `mapstructure:"enabled"`
}

// StorageConfig selects the catalog store.
type StorageConfig struct {
	Driver     string `mapstructure:"driver"`
	DSN        string `mapstructure:"dsn"`
	SQLitePath string `mapstructure:"sqlite_path"`
	MaxConns   int32  `mapstructure:"max_conns"`
	Migrate    bool   `mapstructure:"migrate"`
}

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// ArchiveConfig controls raw page archiving.
type ArchiveConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Driver    string `mapstructure:"driver"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	BaseDir   string `mapstructure:"base_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// NotifyConfig holds run-notification publishing settings.
type NotifyConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Driver    string `mapstructure:"driver"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// TracingConfig controls OpenTelemetry span export.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 30)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("crawler.user_agent", "ProductScraper/1.0")
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.fetch_mode", FetchModeAuto)
	v.SetDefault("crawler.fetch_timeout_seconds", 60)
	v.SetDefault("crawler.rate_limit_rps", 1.0)
	v.SetDefault("crawler.rate_limit_burst", 1)
	v.SetDefault("crawler.batch_size", 5)
	v.SetDefault("crawler.page_pause_ms", 3000)
	v.SetDefault("crawler.product_pause_ms", 3000)
	v.SetDefault("crawler.batch_pause_seconds", 60)
	v.SetDefault("crawler.category_pause_seconds", 10)
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 60)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("session.window_minutes", 60)
	v.SetDefault("session.interval_minutes", 10)
	v.SetDefault("session.offset_minutes", 5)
	v.SetDefault("session.kickoff_stagger_minutes", 5)
	v.SetDefault("sources.enabled", []string{string(catalog.SourceCapterra), string(catalog.SourceSoftwareAdvice)})
	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.sqlite_path", "catalog.db")
	v.SetDefault("storage.migrate", true)
	v.SetDefault("archive.driver", "local")
	v.SetDefault("archive.base_dir", "archive")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("notify.driver", "pubsub")
	v.SetDefault("notify.topic", "catalog-crawl-runs")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Crawler.FetchMode {
	case FetchModeHTTP, FetchModeHeadless, FetchModeAuto:
	default:
		return fmt.Errorf("crawler.fetch_mode must be http, headless or auto, got %q", c.Crawler.FetchMode)
	}
	if c.Crawler.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.fetch_timeout_seconds must be > 0")
	}
	if c.Crawler.BatchSize <= 0 {
		return fmt.Errorf("crawler.batch_size must be > 0")
	}
	if c.Crawler.MaxRetries < 0 {
		return fmt.Errorf("crawler.max_retries must be >= 0")
	}
	if c.Crawler.RateLimitRPS < 0 {
		return fmt.Errorf("crawler.rate_limit_rps must be >= 0")
	}
	if c.Crawler.FetchMode != FetchModeHTTP && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless rendering is used")
	}
	if c.Session.WindowMinutes <= 0 {
		return fmt.Errorf("session.window_minutes must be > 0")
	}
	if c.Session.IntervalMinutes <= 0 {
		return fmt.Errorf("session.interval_minutes must be > 0")
	}
	if c.Session.OffsetMinutes < 0 || c.Session.KickoffStaggerMinutes < 0 {
		return fmt.Errorf("session offsets must be >= 0")
	}
	if len(c.Sources.Enabled) == 0 {
		return fmt.Errorf("sources.enabled must list at least one source")
	}
	if _, err := c.SourceIDs(); err != nil {
		return fmt.Errorf("sources.enabled: %w", err)
	}
	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn must be set for the postgres driver")
		}
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path must be set for the sqlite driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Archive.Enabled {
		switch c.Archive.Driver {
		case "gcs":
			if c.Archive.GCSBucket == "" {
				return fmt.Errorf("archive.gcs_bucket must be set for the gcs archive")
			}
		case "local":
			if c.Archive.BaseDir == "" {
				return fmt.Errorf("archive.base_dir must be set for the local archive")
			}
		case "memory":
		default:
			return fmt.Errorf("unknown archive.driver %q", c.Archive.Driver)
		}
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}
	if c.Notify.Enabled {
		switch c.Notify.Driver {
		case "pubsub":
			if c.Notify.ProjectID == "" || c.Notify.Topic == "" {
				return fmt.Errorf("notify.project_id and notify.topic must be set for pubsub")
			}
		case "memory":
		default:
			return fmt.Errorf("unknown notify.driver %q", c.Notify.Driver)
		}
	}
	return nil
}

// SourceIDs parses the enabled source list, dropping repeats.
func (c Config) SourceIDs() ([]catalog.SourceID, error) {
	out := make([]catalog.SourceID, 0, len(c.Sources.Enabled))
	seen := make(map[catalog.SourceID]struct{}, len(c.Sources.Enabled))
	for _, raw := range c.Sources.Enabled {
		id, err := catalog.ParseSourceID(raw)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// FetchTimeout returns the per-page network budget.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Crawler.FetchTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful HTTP shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
