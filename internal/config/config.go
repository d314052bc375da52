package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/common"
)

// Cache backends for eligibility results.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Config is built once at startup and passed to every component that needs it.
type Config struct {
	Alerting    AlertingConfig
	Logging     LoggingConfig
	Server      ServerConfig
	Database    DatabaseConfig
	Provider    ProviderConfig
	Eligibility EligibilityConfig
	Pricing     PricingConfig
	Sweep       SweepConfig
	Pipeline    PipelineConfig
}

// DatabaseConfig locates the SQLite ledger.
type DatabaseConfig struct {
	Path string
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string
}

// PipelineConfig sizes the background reconciliation workers.
type PipelineConfig struct {
	Workers        int
	QueueSize      int
	ProcessTimeout time.Duration
}

// SweepConfig controls the periodic retry sweep.
type SweepConfig struct {
	Interval   time.Duration
	MinAge     time.Duration
	BatchSize  int
	AlertAfter int
	Backfill   bool
}

// RedisConfig addresses a shared cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// EligibilityConfig configures the launch-data adapter and its cache.
type EligibilityConfig struct {
	BaseURL        string
	CacheBackend   string
	Redis          RedisConfig
	Timeout        time.Duration
	CacheTTL       time.Duration
	StaleRetention time.Duration
}

// PricingConfig configures valuation and price polling.
type PricingConfig struct {
	SourceURL     string
	Tokens        []string
	MaxStaleness  time.Duration
	PollInterval  time.Duration
	TokenDecimals int32
}

// ProviderConfig configures the flow provider client.
type ProviderConfig struct {
	Endpoint          string
	Timeout           time.Duration
	RequestsPerMinute int
}

// KafkaConfig addresses the alert topic.
type KafkaConfig struct {
	Topic   string
	Brokers []string
}

// AlertingConfig lists operational alert sinks.
type AlertingConfig struct {
	Kafka KafkaConfig
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level  string
	Format string
}

// Defaults seeds v with the values used when nothing else is configured.
func Defaults(v *viper.Viper) {
	v.SetDefault("database.path", filepath.Join(DataDir(), "flowd.db"))
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.queue_size", 1024)
	v.SetDefault("pipeline.process_timeout", 30*time.Second)

	v.SetDefault("sweep.interval", time.Minute)
	v.SetDefault("sweep.min_age", 30*time.Second)
	v.SetDefault("sweep.batch_size", 200)
	v.SetDefault("sweep.alert_after", 5)
	v.SetDefault("sweep.backfill", false)

	v.SetDefault("eligibility.timeout", 10*time.Second)
	v.SetDefault("eligibility.cache_ttl", 5*time.Minute)
	v.SetDefault("eligibility.stale_retention", time.Hour)
	v.SetDefault("eligibility.cache_backend", CacheBackendMemory)
	v.SetDefault("eligibility.redis.addr", "localhost:6379")
	v.SetDefault("eligibility.redis.db", 0)

	v.SetDefault("pricing.max_staleness", time.Hour)
	v.SetDefault("pricing.token_decimals", 18)
	v.SetDefault("pricing.poll_interval", 5*time.Minute)

	v.SetDefault("provider.timeout", 15*time.Second)
	v.SetDefault("provider.requests_per_minute", 120)

	v.SetDefault("alerting.kafka.topic", "flowd.alerts")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Load builds a validated Config from v. Defaults are applied first so
// callers only need to set what differs.
func Load(v *viper.Viper) (*Config, error) {
	Defaults(v)

	cfg := &Config{
		Database: DatabaseConfig{
			Path: ExpandPath(v.GetString("database.path")),
		},
		Server: ServerConfig{
			Addr: v.GetString("server.addr"),
		},
		Pipeline: PipelineConfig{
			Workers:        v.GetInt("pipeline.workers"),
			QueueSize:      v.GetInt("pipeline.queue_size"),
			ProcessTimeout: v.GetDuration("pipeline.process_timeout"),
		},
		Sweep: SweepConfig{
			Interval:   v.GetDuration("sweep.interval"),
			MinAge:     v.GetDuration("sweep.min_age"),
			BatchSize:  v.GetInt("sweep.batch_size"),
			AlertAfter: v.GetInt("sweep.alert_after"),
			Backfill:   v.GetBool("sweep.backfill"),
		},
		Eligibility: EligibilityConfig{
			BaseURL:        v.GetString("eligibility.base_url"),
			Timeout:        v.GetDuration("eligibility.timeout"),
			CacheTTL:       v.GetDuration("eligibility.cache_ttl"),
			StaleRetention: v.GetDuration("eligibility.stale_retention"),
			CacheBackend:   strings.ToLower(v.GetString("eligibility.cache_backend")),
			Redis: RedisConfig{
				Addr:     v.GetString("eligibility.redis.addr"),
				Password: v.GetString("eligibility.redis.password"),
				DB:       v.GetInt("eligibility.redis.db"),
			},
		},
		Pricing: PricingConfig{
			SourceURL:     v.GetString("pricing.source_url"),
			Tokens:        v.GetStringSlice("pricing.tokens"),
			MaxStaleness:  v.GetDuration("pricing.max_staleness"),
			PollInterval:  v.GetDuration("pricing.poll_interval"),
			TokenDecimals: v.GetInt32("pricing.token_decimals"),
		},
		Provider: ProviderConfig{
			Endpoint:          v.GetString("provider.endpoint"),
			Timeout:           v.GetDuration("provider.timeout"),
			RequestsPerMinute: v.GetInt("provider.requests_per_minute"),
		},
		Alerting: AlertingConfig{
			Kafka: KafkaConfig{
				Brokers: v.GetStringSlice("alerting.kafka.brokers"),
				Topic:   v.GetString("alerting.kafka.topic"),
			},
		},
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	checks := []struct {
		ok    bool
		field string
	}{
		{c.Database.Path != "", "database.path must be set"},
		{c.Pipeline.Workers > 0, "pipeline.workers must be positive"},
		{c.Pipeline.QueueSize > 0, "pipeline.queue_size must be positive"},
		{c.Pipeline.ProcessTimeout > 0, "pipeline.process_timeout must be positive"},
		{c.Sweep.Interval > 0, "sweep.interval must be positive"},
		{c.Sweep.MinAge >= 0, "sweep.min_age cannot be negative"},
		{c.Sweep.BatchSize > 0, "sweep.batch_size must be positive"},
		{c.Sweep.AlertAfter > 0, "sweep.alert_after must be positive"},
		{c.Eligibility.Timeout > 0, "eligibility.timeout must be positive"},
		{c.Eligibility.CacheTTL >= 0, "eligibility.cache_ttl cannot be negative"},
		{c.Eligibility.StaleRetention >= 0, "eligibility.stale_retention cannot be negative"},
		{c.Eligibility.CacheBackend == CacheBackendMemory || c.Eligibility.CacheBackend == CacheBackendRedis,
			fmt.Sprintf("eligibility.cache_backend %q is not memory or redis", c.Eligibility.CacheBackend)},
		{c.Eligibility.CacheBackend != CacheBackendRedis || c.Eligibility.Redis.Addr != "", "eligibility.redis.addr must be set for the redis backend"},
		{c.Pricing.MaxStaleness > 0, "pricing.max_staleness must be positive"},
		{c.Pricing.TokenDecimals >= 0, "pricing.token_decimals cannot be negative"},
		{c.Pricing.PollInterval > 0, "pricing.poll_interval must be positive"},
		{c.Provider.Timeout > 0, "provider.timeout must be positive"},
		{c.Provider.RequestsPerMinute > 0, "provider.requests_per_minute must be positive"},
	}
	for _, check := range checks {
		if !check.ok {
			return fmt.Errorf("%w: %s", common.ErrInvalidConfig, check.field)
		}
	}
	if _, err := common.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("%w: logging.format %q is not console or json", common.ErrInvalidConfig, c.Logging.Format)
	}
	return nil
}
