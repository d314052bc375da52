package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/common"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/model"
)

const priceColumns = `token, token_address, price, price_usd, market_cap, timestamp`

// UpsertPriceSample inserts the sample unless one already exists for
// (token address, timestamp). The stored sample is returned either way and
// is never overwritten.
func (s *SQLiteStorage) UpsertPriceSample(ctx context.Context, sample *model.PriceSample) (*model.PriceSample, bool, error) {
	if err := validateContext(ctx); err != nil {
		return nil, false, err
	}
	if err := validatePriceSample(sample); err != nil {
		return nil, false, err
	}

	var (
		stored   *model.PriceSample
		inserted bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := s.getPriceSampleTx(ctx, tx, sample.TokenAddress, sample.Timestamp)
		if err == nil {
			stored = existing
			return nil
		}
		if !errors.Is(err, common.ErrNotFound) {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO price_history (token, token_address, price, price_usd, market_cap, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(token_address, timestamp) DO NOTHING
		`,
			sample.Token,
			sample.TokenAddress,
			sample.Price.String(),
			decimalArg(sample.PriceUSD),
			decimalArg(sample.MarketCap),
			unixOf(sample.Timestamp),
		)
		if err != nil {
			return fmt.Errorf("failed to insert price sample %s: %w", sample.Key(), err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		inserted = affected == 1

		stored, err = s.getPriceSampleTx(ctx, tx, sample.TokenAddress, sample.Timestamp)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return stored, inserted, nil
}

func (s *SQLiteStorage) getPriceSampleTx(ctx context.Context, q queryable, tokenAddress string, at time.Time) (*model.PriceSample, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+priceColumns+` FROM price_history
		WHERE token_address = ? AND timestamp = ?
	`, tokenAddress, unixOf(at))
	sample, err := scanPriceSample(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("price sample %s@%d: %w", tokenAddress, unixOf(at), common.ErrNotFound)
	}
	return sample, err
}

// LatestPriceSampleAt returns the USD-priced sample with the greatest
// timestamp not after at. Later samples are never considered.
func (s *SQLiteStorage) LatestPriceSampleAt(ctx context.Context, tokenAddress string, at time.Time) (*model.PriceSample, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(tokenAddress, "tokenAddress"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+priceColumns+` FROM price_history
		WHERE token_address = ? AND timestamp <= ? AND price_usd IS NOT NULL
		ORDER BY timestamp DESC
		LIMIT 1
	`, tokenAddress, unixOf(at))
	sample, err := scanPriceSample(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("price for %s at %s: %w", tokenAddress, at.UTC().Format(time.RFC3339), common.ErrNotFound)
	}
	return sample, err
}

func scanPriceSample(row rowScanner) (*model.PriceSample, error) {
	var (
		sample    model.PriceSample
		price     string
		priceUSD  sql.NullString
		marketCap sql.NullString
		timestamp int64
	)
	if err := row.Scan(&sample.Token, &sample.TokenAddress, &price, &priceUSD, &marketCap, &timestamp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan price sample: %w", err)
	}

	parsed, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("%w: price %q", common.ErrDatabaseCorrupted, price)
	}
	sample.Price = parsed
	sample.Timestamp = timeOf(timestamp)
	if sample.PriceUSD, err = nullDecimal(priceUSD); err != nil {
		return nil, err
	}
	if sample.MarketCap, err = nullDecimal(marketCap); err != nil {
		return nil, err
	}
	return &sample, nil
}
