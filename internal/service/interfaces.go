// Package service defines the contracts shared by the reconciliation components.
package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/model"
)

// Storage is the reconciliation ledger. Every mutation is atomic per key;
// callers compose these primitives and never write state around them.
type Storage interface {
	// Flow events
	InsertFlowEvent(ctx context.Context, event *model.FlowEvent) (stored *model.FlowEvent, created bool, err error)
	GetFlowEvent(ctx context.Context, id string) (*model.FlowEvent, error)
	ListEventsByState(ctx context.Context, filter EventFilter) ([]model.FlowEvent, error)
	CountEventsByState(ctx context.Context) (map[model.EventState]int, error)
	MarkUnmatched(ctx context.Context, eventID string) error
	MarkValuated(ctx context.Context, eventID string, valuation Valuation) error
	MarkFinalized(ctx context.Context, eventID string) error
	RecordFailure(ctx context.Context, eventID string, reason string) (attempts int, err error)

	// Donation intents
	CreateIntent(ctx context.Context, intent *model.DonationIntent) error
	GetIntent(ctx context.Context, id string) (*model.DonationIntent, error)
	LinkIntentTransaction(ctx context.Context, intentID, txHash string) error
	FindIntentCandidates(ctx context.Context, query model.IntentQuery) ([]model.DonationIntent, error)
	ListPendingIntents(ctx context.Context, createdBefore time.Time, limit int) ([]model.DonationIntent, error)
	ClaimIntent(ctx context.Context, claim IntentClaim) error

	// Price history
	UpsertPriceSample(ctx context.Context, sample *model.PriceSample) (stored *model.PriceSample, inserted bool, err error)
	LatestPriceSampleAt(ctx context.Context, tokenAddress string, at time.Time) (*model.PriceSample, error)

	// Reference data
	UpsertTokenHolder(ctx context.Context, holder *model.TokenHolder) error
	GetTokenHolders(ctx context.Context, address string) ([]model.TokenHolder, error)
	SaveVestingSchedule(ctx context.Context, schedule *model.VestingSchedule) error
	GetVestingSchedule(ctx context.Context, name string) (*model.VestingSchedule, error)
	ListVestingSchedules(ctx context.Context) ([]model.VestingSchedule, error)

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// EventFilter selects events for the reconciliation sweep.
type EventFilter struct {
	UpdatedBefore *time.Time
	States        []model.EventState
	Limit         int
}

// IntentClaim atomically marks an intent matched and moves its event to matched.
type IntentClaim struct {
	At         time.Time
	IntentID   string
	EventID    string
	Confidence model.Confidence
}

// Valuation is the USD attribution recorded for a matched event.
type Valuation struct {
	SampleAt     time.Time
	USDPerSecond decimal.Decimal
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
