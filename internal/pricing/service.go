// Package pricing values flows in USD from the stored price history and keeps
// that history fed from a price source.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/common"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/metrics"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/model"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/service"
)

// PriceStore is the slice of the ledger the valuation service needs.
type PriceStore interface {
	UpsertPriceSample(ctx context.Context, sample *model.PriceSample) (*model.PriceSample, bool, error)
	LatestPriceSampleAt(ctx context.Context, tokenAddress string, at time.Time) (*model.PriceSample, error)
}

// Valuation is the price applied to a flow at a given instant.
type Valuation struct {
	SampleAt  time.Time
	PriceUSD  decimal.Decimal
	SampleAge time.Duration
}

// Config configures valuation.
type Config struct {
	MaxStaleness  time.Duration
	TokenDecimals int32
}

// Service implements valuation over the price history.
type Service struct {
	store        PriceStore
	locks        *keyedMutex
	logger       *slog.Logger
	maxStaleness time.Duration
	decimals     int32
}

// NewService creates a valuation service.
func NewService(store PriceStore, cfg Config) *Service {
	return &Service{
		store:        store,
		locks:        newKeyedMutex(),
		logger:       slog.Default().With("component", "pricing"),
		maxStaleness: cfg.MaxStaleness,
		decimals:     cfg.TokenDecimals,
	}
}

// Valuate returns the USD price of tokenAddress at the instant at, using
// only samples taken at or before it. A missing sample, or one older than
// the staleness bound, yields ErrNoPriceData.
func (s *Service) Valuate(ctx context.Context, tokenAddress string, at time.Time) (Valuation, error) {
	token := model.NormalizeAddress(tokenAddress)

	sample, err := s.store.LatestPriceSampleAt(ctx, token, at)
	if errors.Is(err, common.ErrNotFound) {
		metrics.Valuations.WithLabelValues("no_price_data").Inc()
		return Valuation{}, fmt.Errorf("%w: %s at %s", common.ErrNoPriceData, token, at.UTC().Format(time.RFC3339))
	}
	if err != nil {
		metrics.Valuations.WithLabelValues("error").Inc()
		return Valuation{}, fmt.Errorf("failed to look up price for %s: %w", token, err)
	}

	age := at.Sub(sample.Timestamp)
	if s.maxStaleness > 0 && age > s.maxStaleness {
		metrics.Valuations.WithLabelValues("no_price_data").Inc()
		s.logger.Debug("Latest price sample is stale",
			"token", token,
			"sample_at", sample.Timestamp,
			"age", age)
		return Valuation{}, fmt.Errorf("%w: newest sample for %s is %s old", common.ErrNoPriceData, token, age)
	}

	metrics.Valuations.WithLabelValues("ok").Inc()
	metrics.PriceSampleAge.Observe(age.Seconds())
	return Valuation{
		PriceUSD:  *sample.PriceUSD,
		SampleAt:  sample.Timestamp,
		SampleAge: age,
	}, nil
}

// ValuateFlow prices an event's stream at the event's timestamp.
func (s *Service) ValuateFlow(ctx context.Context, event *model.FlowEvent) (service.Valuation, error) {
	v, err := s.Valuate(ctx, event.Token, event.Timestamp)
	if err != nil {
		return service.Valuation{}, err
	}
	return service.Valuation{
		SampleAt:     v.SampleAt,
		USDPerSecond: AttributeFlow(event.FlowRate, v.PriceUSD, s.decimals),
	}, nil
}

// UpsertPriceSample stores sample unless its (token, timestamp) slot is
// taken, in which case the existing sample is returned unchanged. Writers of
// the same slot are serialized in process.
func (s *Service) UpsertPriceSample(ctx context.Context, sample *model.PriceSample) (*model.PriceSample, bool, error) {
	if sample == nil {
		return nil, false, fmt.Errorf("price sample is required")
	}
	normalized := *sample
	normalized.TokenAddress = model.NormalizeAddress(sample.TokenAddress)
	normalized.Timestamp = sample.Timestamp.UTC().Truncate(time.Second)

	unlock := s.locks.lock(normalized.Key())
	defer unlock()

	stored, inserted, err := s.store.UpsertPriceSample(ctx, &normalized)
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		s.logger.Debug("Price sample already recorded", "key", normalized.Key())
	}
	return stored, inserted, nil
}

// AttributeFlow converts a flow rate in the token's smallest unit per second
// into USD per second.
func AttributeFlow(flowRate, priceUSD decimal.Decimal, decimals int32) decimal.Decimal {
	return flowRate.Shift(-decimals).Mul(priceUSD)
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	locks map[string]*refMutex
	mu    sync.Mutex
}

type refMutex struct {
	refs int
	mu   sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.mu.Lock()
	return func() {
		m.mu.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
