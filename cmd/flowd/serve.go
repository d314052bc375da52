package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/api"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/common"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/config"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/ingest"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/pricing"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/provider"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/reconcile"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/storage"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server, reconciliation workers and sweep",
		Long: `Start the long-running daemon: the provider webhook and REST API, the
reconciliation worker pool, the periodic sweep and, when a price source is
configured, the price poller. SIGINT or SIGTERM shuts everything down.`,
		RunE: runServe,
	}

	cmd.Flags().String("addr", ":8080", "HTTP listen address")
	cmd.Flags().Bool("backfill", false, "Query the provider for flows behind pending intents during each sweep")

	_ = viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("sweep.backfill", cmd.Flags().Lookup("backfill"))

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	return a.run(ctx)
}

// app owns every long-lived component of the daemon. Construction and
// teardown are explicit; nothing is registered globally.
type app struct {
	cfg     *config.Config
	store   *storage.SQLiteStorage
	flows   *provider.Client
	recon   *reconciler
	sweeper *reconcile.Sweeper
	poller  *pricing.Poller
	server  *http.Server
	closers []io.Closer
}

func newApp(ctx context.Context, cfg *config.Config) (a *app, err error) {
	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if a.store, err = initStorage(ctx, cfg); err != nil {
		return nil, err
	}
	if a.recon, err = newReconciler(ctx, cfg, a.store); err != nil {
		return nil, err
	}
	if a.flows, err = newProvider(cfg.Provider); err != nil {
		return nil, err
	}
	if cfg.Sweep.Backfill && a.flows == nil {
		return nil, fmt.Errorf("%w: sweep.backfill needs provider.endpoint", common.ErrMissingConfig)
	}

	ingester := ingest.New(a.store, a.recon.pipeline)

	alerter, closers := newAlerter(cfg.Alerting)
	a.closers = append(a.closers, closers...)

	a.sweeper = reconcile.NewSweeper(a.store, a.recon.pipeline, alerter, sweepConfig(cfg))
	if a.flows != nil {
		a.sweeper.WithBackfill(a.flows, ingester)
	}

	if cfg.Pricing.SourceURL != "" && len(cfg.Pricing.Tokens) > 0 {
		source, err := pricing.NewHTTPSource(cfg.Pricing.SourceURL, cfg.Provider.Timeout)
		if err != nil {
			return nil, err
		}
		a.poller = pricing.NewPoller(source, a.recon.pricing, cfg.Pricing.Tokens, cfg.Pricing.PollInterval)
	}

	server := api.NewServer(a.store, ingester)
	server.EnableMetrics()
	a.server = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

func (a *app) run(ctx context.Context) error {
	a.recon.pipeline.Start(ctx)
	defer a.recon.pipeline.Stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("HTTP server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		slog.Info("Shutting down HTTP server")
		return a.server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return a.sweeper.Run(gctx)
	})

	if a.poller != nil {
		g.Go(func() error {
			return a.poller.Run(gctx)
		})
	}

	return g.Wait()
}

func (a *app) close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			slog.Warn("Failed to close component", "error", err)
		}
	}
	if a.flows != nil {
		_ = a.flows.Close()
	}
	if a.recon != nil {
		_ = a.recon.cache.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Warn("Failed to close database", "error", err)
		}
	}
}
