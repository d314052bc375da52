package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

func execAll(tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Flow event ledger and donation intents",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS flow_events (
					id TEXT PRIMARY KEY,
					flow_operator TEXT NOT NULL,
					flow_rate TEXT NOT NULL,
					transaction_hash TEXT NOT NULL,
					receiver TEXT NOT NULL,
					sender TEXT NOT NULL,
					token TEXT NOT NULL,
					timestamp INTEGER NOT NULL,
					state TEXT NOT NULL DEFAULT 'ingested',
					intent_id TEXT,
					confidence TEXT NOT NULL DEFAULT 'NONE',
					valuation_usd TEXT,
					price_sample_at INTEGER,
					attempts INTEGER NOT NULL DEFAULT 0,
					last_error TEXT,
					ingested_at INTEGER NOT NULL,
					updated_at INTEGER NOT NULL
				)`,
				`CREATE INDEX idx_flow_events_state ON flow_events(state, updated_at)`,
				`CREATE INDEX idx_flow_events_stream ON flow_events(receiver, sender, flow_rate)`,
				`CREATE UNIQUE INDEX idx_flow_events_intent ON flow_events(intent_id) WHERE intent_id IS NOT NULL`,

				`CREATE TABLE IF NOT EXISTS donation_intents (
					id TEXT PRIMARY KEY,
					sender TEXT NOT NULL,
					receiver TEXT NOT NULL,
					expected_flow_rate TEXT NOT NULL,
					transaction_hash TEXT,
					gated BOOLEAN NOT NULL DEFAULT 0,
					created_at INTEGER NOT NULL,
					matched BOOLEAN NOT NULL DEFAULT 0,
					matched_event_id TEXT UNIQUE,
					matched_at INTEGER
				)`,
				`CREATE INDEX idx_donation_intents_stream ON donation_intents(sender, receiver, expected_flow_rate, matched)`,
				`CREATE INDEX idx_donation_intents_pending ON donation_intents(matched, created_at)`,
			})
		},
	},
	{
		Version:     2,
		Description: "Token price history",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS price_history (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					token TEXT NOT NULL,
					token_address TEXT NOT NULL,
					price TEXT NOT NULL,
					price_usd TEXT,
					market_cap TEXT,
					timestamp INTEGER NOT NULL,
					UNIQUE (token_address, timestamp)
				)`,
			})
		},
	},
	{
		Version:     3,
		Description: "Token holders and vesting schedules",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS token_holders (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					project_name TEXT NOT NULL,
					address TEXT NOT NULL,
					tag TEXT,
					UNIQUE (project_name, address)
				)`,
				`CREATE INDEX idx_token_holders_address ON token_holders(address)`,

				`CREATE TABLE IF NOT EXISTS vesting_schedules (
					name TEXT PRIMARY KEY,
					start_at INTEGER NOT NULL,
					cliff_at INTEGER NOT NULL,
					end_at INTEGER NOT NULL,
					CHECK (start_at <= cliff_at AND cliff_at <= end_at)
				)`,
			})
		},
	},
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}

// SchemaVersion reports the database's current schema version.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}
