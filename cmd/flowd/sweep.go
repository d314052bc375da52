package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/cli"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/common"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/ingest"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/reconcile"
)

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one reconciliation sweep and exit",
		Long: `Revisit every event that has not been finalized and drive it forward.
Running it repeatedly is safe: finalized events are skipped and matched
events are never re-matched.`,
		RunE: runSweep,
	}
	cmd.Flags().Bool("backfill", false, "Also query the provider for flows behind pending intents")
	return cmd
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if backfill, _ := cmd.Flags().GetBool("backfill"); backfill {
		cfg.Sweep.Backfill = true
	}
	// A manual pass looks at everything, however recently touched.
	cfg.Sweep.MinAge = 0

	ctx := cmd.Context()
	store, err := initStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	recon, err := newReconciler(ctx, cfg, store)
	if err != nil {
		return err
	}
	defer func() { _ = recon.cache.Close() }()

	alerter, closers := newAlerter(cfg.Alerting)
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	sweeper := reconcile.NewSweeper(store, recon.pipeline, alerter, sweepConfig(cfg))
	if cfg.Sweep.Backfill {
		flows, err := newProvider(cfg.Provider)
		if err != nil {
			return err
		}
		if flows == nil {
			return common.NewUserError("Set provider.endpoint to backfill from the flow provider", common.ErrMissingConfig)
		}
		defer func() { _ = flows.Close() }()
		sweeper.WithBackfill(flows, ingest.New(store, nil))
	}

	report, err := sweeper.RunOnce(ctx)
	if err != nil {
		return err
	}

	slog.Info(cli.FormatSuccess(fmt.Sprintf("Swept %d events", report.Scanned)),
		"failed", report.Failed,
		"alerts", report.Alerts,
		"backfilled", report.Backfilled)
	fmt.Fprintln(cmd.OutOrStdout(), cli.RenderStateTable(report.States))
	return nil
}
