package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/viper"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/config"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/eligibility"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/matcher"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/pricing"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/provider"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/reconcile"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/storage"
)

// loadConfig builds the explicit runtime configuration from viper.
func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}

// initStorage opens the ledger and brings its schema up to date.
func initStorage(ctx context.Context, cfg *config.Config) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// newCache picks the configured eligibility cache backend.
func newCache(ctx context.Context, cfg config.EligibilityConfig) (eligibility.Cache, error) {
	if cfg.CacheBackend != config.CacheBackendRedis {
		return eligibility.NewMemoryCache(cfg.StaleRetention), nil
	}

	cache := eligibility.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.StaleRetention)
	if err := cache.Ping(ctx); err != nil {
		_ = cache.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
	}
	return cache, nil
}

// newProvider builds the flow provider client, or nil when none is configured.
func newProvider(cfg config.ProviderConfig) (*provider.Client, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}
	return provider.NewClient(provider.Config{
		Endpoint:          cfg.Endpoint,
		Timeout:           cfg.Timeout,
		RequestsPerMinute: cfg.RequestsPerMinute,
	})
}

// newAlerter always logs, and also publishes to kafka when brokers are configured.
func newAlerter(cfg config.AlertingConfig) (reconcile.Alerter, []io.Closer) {
	alerters := reconcile.MultiAlerter{reconcile.NewLogAlerter()}
	var closers []io.Closer
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaAlerter := reconcile.NewKafkaAlerter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		alerters = append(alerters, kafkaAlerter)
		closers = append(closers, kafkaAlerter)
		slog.Info("Publishing alerts to kafka", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}
	return alerters, closers
}

// reconciler bundles the components that drive events forward.
type reconciler struct {
	cache    eligibility.Cache
	pricing  *pricing.Service
	pipeline *reconcile.Pipeline
}

func newReconciler(ctx context.Context, cfg *config.Config, store *storage.SQLiteStorage) (*reconciler, error) {
	adapter, err := eligibility.NewHTTPAdapter(cfg.Eligibility.BaseURL, cfg.Eligibility.Timeout)
	if err != nil {
		return nil, err
	}
	cache, err := newCache(ctx, cfg.Eligibility)
	if err != nil {
		return nil, err
	}

	verifier := eligibility.NewVerifier(adapter, cache, eligibility.Config{
		TTL:     cfg.Eligibility.CacheTTL,
		Timeout: cfg.Eligibility.Timeout,
	})
	prices := pricing.NewService(store, pricing.Config{
		MaxStaleness:  cfg.Pricing.MaxStaleness,
		TokenDecimals: cfg.Pricing.TokenDecimals,
	})
	pipeline := reconcile.NewPipeline(store, matcher.New(store), prices, verifier, reconcile.Config{
		Workers:        cfg.Pipeline.Workers,
		QueueSize:      cfg.Pipeline.QueueSize,
		ProcessTimeout: cfg.Pipeline.ProcessTimeout,
	})

	return &reconciler{cache: cache, pricing: prices, pipeline: pipeline}, nil
}

func sweepConfig(cfg *config.Config) reconcile.SweepConfig {
	return reconcile.SweepConfig{
		Interval:    cfg.Sweep.Interval,
		MinAge:      cfg.Sweep.MinAge,
		BatchSize:   cfg.Sweep.BatchSize,
		AlertAfter:  cfg.Sweep.AlertAfter,
		Concurrency: cfg.Pipeline.Workers,
		Backfill:    cfg.Sweep.Backfill,
	}
}
