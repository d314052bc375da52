package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/common"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/model"
)

func priceSample(ts int64, usd string) *model.PriceSample {
	sample := &model.PriceSample{
		Token:        "ABC",
		TokenAddress: testToken,
		Price:        decimal.RequireFromString("0.5"),
		Timestamp:    time.Unix(ts, 0).UTC(),
	}
	if usd != "" {
		v := decimal.RequireFromString(usd)
		sample.PriceUSD = &v
	}
	return sample
}

func TestSQLiteStorage_UpsertPriceSampleKeepsExisting(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	stored, inserted, err := store.UpsertPriceSample(ctx, priceSample(900, "1.25"))
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.True(t, stored.PriceUSD.Equal(decimal.RequireFromString("1.25")))

	stored, inserted, err = store.UpsertPriceSample(ctx, priceSample(900, "9.99"))
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.True(t, stored.PriceUSD.Equal(decimal.RequireFromString("1.25")), "existing sample must win")
}

func TestSQLiteStorage_LatestPriceSampleAt(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	for _, sample := range []*model.PriceSample{
		priceSample(800, "1.00"),
		priceSample(900, "1.25"),
		priceSample(950, ""),
		priceSample(1100, "2.00"),
	} {
		_, _, err := store.UpsertPriceSample(ctx, sample)
		require.NoError(t, err)
	}

	tests := []struct {
		name    string
		at      int64
		wantTS  int64
		wantErr error
	}{
		{name: "skips samples without usd price", at: 1000, wantTS: 900},
		{name: "inclusive at exact timestamp", at: 800, wantTS: 800},
		{name: "later sample once time passes", at: 1100, wantTS: 1100},
		{name: "nothing before first sample", at: 799, wantErr: common.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sample, err := store.LatestPriceSampleAt(ctx, testToken, time.Unix(tt.at, 0))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTS, sample.Timestamp.Unix())
		})
	}
}

func TestSQLiteStorage_UpsertPriceSampleValidation(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	_, _, err := store.UpsertPriceSample(ctx, nil)
	assert.ErrorIs(t, err, ErrNilParameter)

	negative := priceSample(900, "-1")
	_, _, err = store.UpsertPriceSample(ctx, negative)
	assert.ErrorIs(t, err, ErrInvalidPriceSample)

	missing := priceSample(900, "1")
	missing.TokenAddress = ""
	_, _, err = store.UpsertPriceSample(ctx, missing)
	assert.ErrorIs(t, err, ErrInvalidPriceSample)
}
