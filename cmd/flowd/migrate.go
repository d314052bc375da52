package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/cli"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/storage"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the ledger schema to the latest version.

This command ensures the local database has all the tables, indexes and
constraints the reconciliation engine relies on.`,
		RunE: runMigrate,
	}

	cmd.Flags().Bool("status", false, "Show current migration status without applying changes")

	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	status, _ := cmd.Flags().GetBool("status")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	ctx := cmd.Context()
	current, err := store.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	if status {
		slog.Info(cli.FormatTitle("Database Migration Status"))
		slog.Info("Database", "path", cfg.Database.Path)
		slog.Info("Schema", "current", current, "latest", storage.ExpectedSchemaVersion)
		if current < storage.ExpectedSchemaVersion {
			slog.Warn(cli.FormatWarning("Migrations pending; run `flowd migrate`"))
		}
		return nil
	}

	slog.Info("Running database migrations", "database", cfg.Database.Path, "from", current)
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info(cli.FormatSuccess("Database migrations completed"), "version", storage.ExpectedSchemaVersion)
	return nil
}
