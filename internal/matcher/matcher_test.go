package matcher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/common"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/model"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/service"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/testutil"
)

func TestMatch_FuzzyPicksLatestQualifyingIntent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	// Addresses exactly as the provider scenario names them.
	for _, createdAt := range []int64{900, 950} {
		require.NoError(t, db.Storage.CreateIntent(ctx, &model.DonationIntent{
			ID:               fmt.Sprintf("intent-%d", createdAt),
			Sender:           "0xb",
			Receiver:         "0xa",
			ExpectedFlowRate: decimal.NewFromInt(100),
			CreatedAt:        time.Unix(createdAt, 0),
		}))
	}
	event, _, err := db.Storage.InsertFlowEvent(ctx, &model.FlowEvent{
		ID:              "evt-1",
		FlowOperator:    "0xb",
		FlowRate:        decimal.RequireFromString("100"),
		TransactionHash: "0xt1",
		Receiver:        "0xa",
		Sender:          "0xb",
		Token:           "0xc",
		Timestamp:       time.Unix(1000, 0),
	})
	require.NoError(t, err)

	result, err := New(db.Storage).Match(ctx, event)
	require.NoError(t, err)

	require.True(t, result.Matched())
	assert.Equal(t, "intent-950", result.Intent.ID)
	assert.Equal(t, model.ConfidenceFuzzy, result.Confidence)
	assert.False(t, result.Conflict)

	stored := db.MustGetEvent("evt-1")
	assert.Equal(t, model.StateMatched, stored.State)
	assert.Equal(t, "intent-950", stored.IntentID)

	older, err := db.Storage.GetIntent(ctx, "intent-900")
	require.NoError(t, err)
	assert.False(t, older.Matched)
}

func TestMatch_ExactTierWinsOverNewerFuzzyCandidate(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	event := db.MustInsertEvent("evt-1", 1000)
	db.MustCreateIntent("intent-linked", 500)
	db.MustCreateIntent("intent-recent", 990)
	require.NoError(t, db.Storage.LinkIntentTransaction(ctx, "intent-linked", event.TransactionHash))

	result, err := New(db.Storage).Match(ctx, event)
	require.NoError(t, err)

	assert.Equal(t, model.ConfidenceExact, result.Confidence)
	assert.Equal(t, "intent-linked", result.Intent.ID)

	intent, err := db.Storage.GetIntent(ctx, "intent-linked")
	require.NoError(t, err)
	assert.True(t, intent.Matched)
	assert.Equal(t, "evt-1", intent.MatchedEventID)
}

func TestMatch_Tiers(t *testing.T) {
	tests := []struct {
		setup          func(*testutil.TestDB)
		name           string
		wantIntent     string
		wantConfidence model.Confidence
		wantState      model.EventState
	}{
		{
			name:           "intent created after the flow does not qualify",
			setup:          func(db *testutil.TestDB) { db.MustCreateIntent("intent-late", 1001) },
			wantConfidence: model.ConfidenceNone,
			wantState:      model.StateUnmatched,
		},
		{
			name:           "intent created at the flow instant qualifies",
			setup:          func(db *testutil.TestDB) { db.MustCreateIntent("intent-same", 1000) },
			wantIntent:     "intent-same",
			wantConfidence: model.ConfidenceFuzzy,
			wantState:      model.StateMatched,
		},
		{
			name: "equal creation times prefer the later insert",
			setup: func(db *testutil.TestDB) {
				db.MustCreateIntent("intent-first", 950)
				db.MustCreateIntent("intent-second", 950)
			},
			wantIntent:     "intent-second",
			wantConfidence: model.ConfidenceFuzzy,
			wantState:      model.StateMatched,
		},
		{
			name: "intent linked to another transaction is skipped",
			setup: func(db *testutil.TestDB) {
				db.MustCreateIntent("intent-other-tx", 990)
				require.NoError(t, db.Storage.LinkIntentTransaction(context.Background(), "intent-other-tx", testutil.TxHash(77)))
				db.MustCreateIntent("intent-free", 900)
			},
			wantIntent:     "intent-free",
			wantConfidence: model.ConfidenceFuzzy,
			wantState:      model.StateMatched,
		},
		{
			name: "only intent linked to another transaction leaves the flow unmatched",
			setup: func(db *testutil.TestDB) {
				db.MustCreateIntent("intent-other-tx", 990)
				require.NoError(t, db.Storage.LinkIntentTransaction(context.Background(), "intent-other-tx", testutil.TxHash(77)))
			},
			wantConfidence: model.ConfidenceNone,
			wantState:      model.StateUnmatched,
		},
		{
			name:           "no intents",
			setup:          func(*testutil.TestDB) {},
			wantConfidence: model.ConfidenceNone,
			wantState:      model.StateUnmatched,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testutil.SetupTestDB(t)
			event := db.MustInsertEvent("evt-1", 1000)
			tt.setup(db)

			result, err := New(db.Storage).Match(context.Background(), event)
			require.NoError(t, err)

			assert.Equal(t, tt.wantConfidence, result.Confidence)
			if tt.wantIntent == "" {
				assert.Nil(t, result.Intent)
			} else {
				require.NotNil(t, result.Intent)
				assert.Equal(t, tt.wantIntent, result.Intent.ID)
			}
			assert.Equal(t, tt.wantState, db.MustGetEvent("evt-1").State)
		})
	}
}

func TestMatch_UnmatchedEventMatchesLateIntent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	m := New(db.Storage)

	event := db.MustInsertEvent("evt-1", 1000)
	result, err := m.Match(ctx, event)
	require.NoError(t, err)
	assert.False(t, result.Matched())

	// The pledge shows up late but was created before the flow started.
	db.MustCreateIntent("intent-1", 800)
	result, err = m.Match(ctx, db.MustGetEvent("evt-1"))
	require.NoError(t, err)
	assert.Equal(t, "intent-1", result.Intent.ID)
}

func TestMatch_AlreadyMatchedIsNotRematched(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	m := New(db.Storage)

	event := db.MustInsertEvent("evt-1", 1000)
	db.MustCreateIntent("intent-1", 900)
	_, err := m.Match(ctx, event)
	require.NoError(t, err)

	db.MustCreateIntent("intent-2", 999)
	result, err := m.Match(ctx, db.MustGetEvent("evt-1"))
	require.NoError(t, err)
	assert.Equal(t, "intent-1", result.Intent.ID)

	intent2, err := db.Storage.GetIntent(ctx, "intent-2")
	require.NoError(t, err)
	assert.False(t, intent2.Matched)

	// A stale in-memory copy still in the ingested state reports the stored attribution.
	result, err = m.Match(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, "intent-1", result.Intent.ID)
}

func TestMatch_ConcurrentEventsNeverDoubleMatch(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	m := New(db.Storage)

	db.MustCreateIntent("intent-1", 900)
	first := db.MustInsertEvent("evt-1", 1000)
	second := db.MustInsertEvent("evt-2", 1001)

	var (
		wg      sync.WaitGroup
		results [2]Result
		errs    [2]error
	)
	for i, event := range []*model.FlowEvent{first, second} {
		wg.Add(1)
		go func(i int, event *model.FlowEvent) {
			defer wg.Done()
			results[i], errs[i] = m.Match(ctx, event)
		}(i, event)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	matched := 0
	for _, r := range results {
		if r.Matched() {
			matched++
		}
	}
	assert.Equal(t, 1, matched)

	counts, err := db.Storage.CountEventsByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.StateMatched])
	assert.Equal(t, 1, counts[model.StateUnmatched])
}

// racingStore loses the first claim as if another matcher took the intent.
type racingStore struct {
	service.Storage
	stolen bool
}

func (s *racingStore) ClaimIntent(ctx context.Context, claim service.IntentClaim) error {
	if !s.stolen {
		s.stolen = true
		if err := s.Storage.ClaimIntent(ctx, service.IntentClaim{
			IntentID:   claim.IntentID,
			EventID:    "evt-rival",
			Confidence: claim.Confidence,
		}); err != nil {
			return err
		}
		return fmt.Errorf("%w: intent %s already matched", common.ErrConstraintViolation, claim.IntentID)
	}
	return s.Storage.ClaimIntent(ctx, claim)
}

func TestMatch_LostClaimFallsBackToNextCandidate(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.MustInsertEvent("evt-rival", 999)
	event := db.MustInsertEvent("evt-1", 1000)
	db.MustCreateIntent("intent-old", 900)
	db.MustCreateIntent("intent-new", 950)

	store := &racingStore{Storage: db.Storage}
	result, err := New(store).Match(context.Background(), event)
	require.NoError(t, err)

	assert.True(t, result.Conflict)
	assert.Equal(t, "intent-old", result.Intent.ID)
	assert.Equal(t, "intent-new", db.MustGetEvent("evt-rival").IntentID)
}

func TestMatch_ClaimAttemptsAreBounded(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.MustInsertEvent("evt-rival", 999)
	event := db.MustInsertEvent("evt-1", 1000)
	db.MustCreateIntent("intent-old", 900)
	db.MustCreateIntent("intent-new", 950)

	store := &racingStore{Storage: db.Storage}
	result, err := New(store, WithMaxClaimAttempts(1)).Match(context.Background(), event)
	require.NoError(t, err)

	assert.False(t, result.Matched())
	assert.True(t, result.Conflict)
	assert.Equal(t, model.StateUnmatched, db.MustGetEvent("evt-1").State)
}
