// Package testutil provides test fixtures for the reconciliation ledger.
// It offers a migrated throwaway database and helpers that seed it with
// events, intents and prices.
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/model"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/storage"
)

// Addresses used across fixtures.
const (
	Sender   = "0x1111111111111111111111111111111111111111"
	Receiver = "0x2222222222222222222222222222222222222222"
	Token    = "0x3333333333333333333333333333333333333333"
)

// TestDB represents a test database with associated test utilities.
type TestDB struct {
	Storage *storage.SQLiteStorage
	t       *testing.T
}

// SetupTestDB creates a migrated SQLite database in the test's temp dir.
// It automatically handles cleanup.
//
// Example:
//
//	db := testutil.SetupTestDB(t)
//	db.MustCreateIntent("intent-1", 950)
//	event := db.MustInsertEvent("evt-1", 1000)
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return &TestDB{Storage: store, t: t}
}

// Event builds an ingested event on the fixture stream at unix second ts.
func Event(id string, ts int64) *model.FlowEvent {
	return &model.FlowEvent{
		ID:              id,
		FlowOperator:    Sender,
		FlowRate:        decimal.NewFromInt(1000),
		TransactionHash: TxHash(ts),
		Receiver:        Receiver,
		Sender:          Sender,
		Token:           Token,
		Timestamp:       time.Unix(ts, 0).UTC(),
		State:           model.StateIngested,
		Confidence:      model.ConfidenceNone,
	}
}

// TxHash returns a well-formed transaction hash derived from n.
func TxHash(n int64) string {
	const digits = "0123456789abcdef"
	hash := []byte("0x0000000000000000000000000000000000000000000000000000000000000000")
	for i := len(hash) - 1; n > 0 && i > 1; i-- {
		hash[i] = digits[n%16]
		n /= 16
	}
	return string(hash)
}

// MustInsertEvent stores Event(id, ts).
func (db *TestDB) MustInsertEvent(id string, ts int64) *model.FlowEvent {
	db.t.Helper()
	stored, _, err := db.Storage.InsertFlowEvent(context.Background(), Event(id, ts))
	if err != nil {
		db.t.Fatalf("failed to seed event %s: %v", id, err)
	}
	return stored
}

// MustCreateIntent stores an unmatched intent on the fixture stream created at unix second createdAt.
func (db *TestDB) MustCreateIntent(id string, createdAt int64) *model.DonationIntent {
	db.t.Helper()
	intent := &model.DonationIntent{
		ID:               id,
		Sender:           Sender,
		Receiver:         Receiver,
		ExpectedFlowRate: decimal.NewFromInt(1000),
		CreatedAt:        time.Unix(createdAt, 0).UTC(),
	}
	if err := db.Storage.CreateIntent(context.Background(), intent); err != nil {
		db.t.Fatalf("failed to seed intent %s: %v", id, err)
	}
	return intent
}

// MustAddPrice stores a USD price for the fixture token at unix second ts.
func (db *TestDB) MustAddPrice(ts int64, usd string) {
	db.t.Helper()
	price := decimal.RequireFromString(usd)
	_, _, err := db.Storage.UpsertPriceSample(context.Background(), &model.PriceSample{
		Token:        "ABC",
		TokenAddress: Token,
		Price:        price,
		PriceUSD:     &price,
		Timestamp:    time.Unix(ts, 0).UTC(),
	})
	if err != nil {
		db.t.Fatalf("failed to seed price at %d: %v", ts, err)
	}
}

// MustGetEvent reloads an event or fails the test.
func (db *TestDB) MustGetEvent(id string) *model.FlowEvent {
	db.t.Helper()
	event, err := db.Storage.GetFlowEvent(context.Background(), id)
	if err != nil {
		db.t.Fatalf("failed to load event %s: %v", id, err)
	}
	return event
}
