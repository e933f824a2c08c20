// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Auth      AuthConfig                `mapstructure:"auth"`
	Search    SearchConfig              `mapstructure:"search"`
	Cache     CacheConfig               `mapstructure:"cache"`
	Database  DatabaseConfig            `mapstructure:"database"`
	Archive   ArchiveConfig             `mapstructure:"archive"`
	PubSub    PubSubConfig              `mapstructure:"pubsub"`
	Stream    StreamConfig              `mapstructure:"stream"`
	Logging   LoggingConfig             `mapstructure:"logging"`
	Platforms map[string]PlatformConfig `mapstructure:"platforms"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SearchConfig governs fan-out behavior shared by all jobs.
type SearchConfig struct {
	// MaxConcurrent caps simultaneously in-flight platform fetches per job.
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// RequestTimeoutSeconds is the default per-attempt timeout.
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
	UserAgent             string `mapstructure:"user_agent"`
}

// CacheConfig selects and configures the aggregate cache.
type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend    string `mapstructure:"backend"`
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

// DatabaseConfig selects and configures the durable aggregate store.
type DatabaseConfig struct {
	// Backend is "memory" or "postgres".
	Backend  string `mapstructure:"backend"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// ArchiveConfig selects where aggregate snapshots are written.
type ArchiveConfig struct {
	// Backend is "memory", "local" or "gcs".
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	BaseDir   string `mapstructure:"base_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// StreamConfig tunes the per-job event broadcaster.
type StreamConfig struct {
	SubscriberBuffer int `mapstructure:"subscriber_buffer"`
	RetainedTail     int `mapstructure:"retained_tail"`
	RetentionSeconds int `mapstructure:"retention_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// PlatformConfig describes one price source.
type PlatformConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Mode selects the fetcher implementation: "static", "colly" or
	// "headless".
	Mode      string `mapstructure:"mode"`
	SearchURL string `mapstructure:"search_url"`
	// DelaySeconds is the minimum pause between retry attempts.
	DelaySeconds int `mapstructure:"delay_seconds"`
	MaxRetries   int `mapstructure:"max_retries"`
	// TimeoutSeconds overrides search.request_timeout_seconds per platform.
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// MaxParallel caps browser tabs for headless platforms.
	MaxParallel int `mapstructure:"max_parallel"`
	// BasePrice and QuoteCount shape the static fetcher's fixtures.
	BasePrice  float64         `mapstructure:"base_price"`
	QuoteCount int             `mapstructure:"quote_count"`
	Selectors  SelectorsConfig `mapstructure:"selectors"`
}

// SelectorsConfig maps listing markup for the colly and headless fetchers.
type SelectorsConfig struct {
	Listing string `mapstructure:"listing"`
	Price   string `mapstructure:"price"`
	Name    string `mapstructure:"name"`
	URL     string `mapstructure:"url"`
	Rating  string `mapstructure:"rating"`
	Reviews string `mapstructure:"reviews"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ACCOMO")
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
	if len(cfg.Platforms) == 0 {
		cfg.Platforms = defaultPlatforms()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("search.max_concurrent", 5)
	v.SetDefault("search.request_timeout_seconds", 30)
	v.SetDefault("search.user_agent", "accomopricer/0.1")
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.ttl_seconds", 3600)
	v.SetDefault("database.backend", "memory")
	v.SetDefault("database.table", "aggregates")
	v.SetDefault("archive.backend", "memory")
	v.SetDefault("archive.prefix", "aggregates")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.topic_name", "price-jobs-completed")
	v.SetDefault("stream.subscriber_buffer", 64)
	v.SetDefault("stream.retained_tail", 256)
	v.SetDefault("stream.retention_seconds", 300)
	v.SetDefault("logging.development", true)
}

// defaultPlatforms mirrors the built-in platform table: every major platform
// enabled in static mode so a fresh checkout serves searches without any
// scraping setup.
func defaultPlatforms() map[string]PlatformConfig {
	table := map[string]struct {
		delay int
		base  float64
	}{
		"airbnb":      {delay: 2, base: 140},
		"booking":     {delay: 3, base: 155},
		"expedia":     {delay: 2, base: 150},
		"hotels":      {delay: 2, base: 145},
		"tripadvisor": {delay: 3, base: 160},
		"vrbo":        {delay: 2, base: 170},
	}
	out := make(map[string]PlatformConfig, len(table))
	for name, p := range table {
		out[name] = PlatformConfig{
			Enabled:      true,
			Mode:         "static",
			DelaySeconds: p.delay,
			MaxRetries:   3,
			BasePrice:    p.base,
			QuoteCount:   3,
		}
	}
	return out
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Search.MaxConcurrent <= 0 {
		return fmt.Errorf("search.max_concurrent must be > 0")
	}
	if c.Search.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("search.request_timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.Addr == "" {
			return fmt.Errorf("cache.addr must be set for the redis backend")
		}
	default:
		return fmt.Errorf("cache.backend must be memory or redis")
	}
	switch c.Database.Backend {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("database.backend must be memory or postgres")
	}
	switch c.Archive.Backend {
	case "memory":
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set for the local backend")
		}
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend must be memory, local or gcs")
	}
	if c.PubSub.Enabled && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub is enabled")
	}
	for name, p := range c.Platforms {
		if err := p.validate(name, c.Search.RequestTimeoutSeconds); err != nil {
			return err
		}
	}
	return nil
}

func (p PlatformConfig) validate(name string, defaultTimeout int) error {
	if !p.Enabled {
		return nil
	}
	switch p.Mode {
	case "static":
	case "colly", "headless":
		if p.SearchURL == "" {
			return fmt.Errorf("platforms.%s.search_url is required for mode %s", name, p.Mode)
		}
		if p.Selectors.Listing == "" || p.Selectors.Price == "" {
			return fmt.Errorf("platforms.%s.selectors needs listing and price for mode %s", name, p.Mode)
		}
	default:
		return fmt.Errorf("platforms.%s.mode must be static, colly or headless", name)
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("platforms.%s.max_retries must be >= 0", name)
	}
	if p.TimeoutSeconds < 0 || (p.TimeoutSeconds == 0 && defaultTimeout <= 0) {
		return fmt.Errorf("platforms.%s.timeout_seconds must be > 0", name)
	}
	return nil
}

// EnabledPlatforms returns the enabled platform names, sorted.
func (c Config) EnabledPlatforms() []string {
	names := make([]string, 0, len(c.Platforms))
	for name, p := range c.Platforms {
		if p.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// CacheTTL returns the configured aggregate cache lifetime.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// RequestTimeout returns the HTTP handler timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// AttemptTimeout resolves a platform's per-attempt timeout against the
// search-wide default.
func (c Config) AttemptTimeout(p PlatformConfig) time.Duration {
	if p.TimeoutSeconds > 0 {
		return time.Duration(p.TimeoutSeconds) * time.Second
	}
	return time.Duration(c.Search.RequestTimeoutSeconds) * time.Second
}
