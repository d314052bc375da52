package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/common"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/metrics"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/model"
)

// PriceSource reports the current price of a token.
type PriceSource interface {
	CurrentPrice(ctx context.Context, tokenAddress string) (*model.PriceSample, error)
}

// HTTPSource reads prices from a JSON endpoint at
// {baseURL}/tokens/{address}/price.
type HTTPSource struct {
	client  *http.Client
	baseURL string
}

// NewHTTPSource creates a price source with an explicit request timeout.
func NewHTTPSource(baseURL string, timeout time.Duration) (*HTTPSource, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: pricing source url", common.ErrMissingConfig)
	}
	return &HTTPSource{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

type priceQuote struct {
	PriceUSD  *decimal.Decimal `json:"priceUSD"`
	MarketCap *decimal.Decimal `json:"marketCap"`
	Token     string           `json:"token"`
	Price     decimal.Decimal  `json:"price"`
	Timestamp int64            `json:"timestamp"`
}

// CurrentPrice implements PriceSource.
func (h *HTTPSource) CurrentPrice(ctx context.Context, tokenAddress string) (sample *model.PriceSample, err error) {
	defer func() { metrics.ObserveUpstream("price_source", err) }()

	endpoint := h.baseURL + "/tokens/" + url.PathEscape(model.NormalizeAddress(tokenAddress)) + "/price"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build price request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: price source: %w", common.ErrUpstreamUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: price source returned %s", common.ErrUpstreamUnavailable, resp.Status)
	}

	var quote priceQuote
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return nil, fmt.Errorf("%w: failed to decode price quote: %w", common.ErrUpstreamUnavailable, err)
	}

	return &model.PriceSample{
		Token:        quote.Token,
		TokenAddress: model.NormalizeAddress(tokenAddress),
		Price:        quote.Price,
		PriceUSD:     quote.PriceUSD,
		MarketCap:    quote.MarketCap,
		Timestamp:    time.Unix(quote.Timestamp, 0).UTC(),
	}, nil
}

var _ PriceSource = (*HTTPSource)(nil)

// Poller samples a fixed set of tokens on an interval.
type Poller struct {
	source   PriceSource
	service  *Service
	logger   *slog.Logger
	tokens   []string
	interval time.Duration
}

// NewPoller creates a poller for tokens.
func NewPoller(source PriceSource, svc *Service, tokens []string, interval time.Duration) *Poller {
	return &Poller{
		source:   source,
		service:  svc,
		logger:   slog.Default().With("component", "price-poller"),
		tokens:   tokens,
		interval: interval,
	}
}

// Run polls until ctx is canceled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce samples every token once and returns how many new samples were
// stored. Failures are logged per token and do not stop the pass.
func (p *Poller) PollOnce(ctx context.Context) int {
	stored := 0
	for _, token := range p.tokens {
		sample, err := p.source.CurrentPrice(ctx, token)
		if err != nil {
			p.logger.Warn("Failed to fetch price", "token", token, "error", err)
			continue
		}
		_, inserted, err := p.service.UpsertPriceSample(ctx, sample)
		if err != nil {
			p.logger.Error("Failed to store price sample", "token", token, "error", err)
			continue
		}
		if inserted {
			stored++
		}
	}
	p.logger.Debug("Price poll complete", "tokens", len(p.tokens), "stored", stored)
	return stored
}
