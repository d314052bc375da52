package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate_ReachesExpectedVersion(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	version, err := store.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, ExpectedSchemaVersion, version)

	// Running again is a no-op.
	require.NoError(t, store.Migrate(ctx))
}

func TestMigrate_CreatesIndexes(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	for _, index := range []string{
		"idx_flow_events_state",
		"idx_flow_events_stream",
		"idx_flow_events_intent",
		"idx_donation_intents_stream",
		"idx_donation_intents_pending",
		"idx_token_holders_address",
	} {
		var count int
		err := store.db.QueryRow(`
			SELECT COUNT(*) FROM sqlite_master
			WHERE type='index' AND name=?
		`, index).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "index %s was not created", index)
	}
}

func TestMigrate_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	store, err := NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(ctx))
	_, _, err = store.InsertFlowEvent(ctx, testEvent("evt-1", 1000))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	require.NoError(t, reopened.Migrate(ctx))

	event, err := reopened.GetFlowEvent(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, "evt-1", event.ID)
}
