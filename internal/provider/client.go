package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/common"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/metrics"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/model"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/service"
)

const flowEventFields = `id flowOperator flowRate transactionHash receiver sender token timestamp`

const flowByTxHashQuery = `query FlowByTxHash($receiver: String!, $sender: String!, $flowRate: BigInt!, $transactionHash: Bytes!) {
  flowUpdatedEvents(
    where: {receiver: $receiver, sender: $sender, flowRate: $flowRate, transactionHash: $transactionHash}
    first: 1
  ) { ` + flowEventFields + ` }
}`

const flowByRateQuery = `query FlowByRate($receiver: String!, $sender: String!, $flowRate: BigInt!, $timestampGt: BigInt!) {
  flowUpdatedEvents(
    where: {receiver: $receiver, sender: $sender, flowRate: $flowRate, timestamp_gt: $timestampGt}
    orderBy: timestamp
    orderDirection: asc
    first: 1
  ) { ` + flowEventFields + ` }
}`

const accountBalanceQuery = `query AccountBalance($id: ID!) {
  account(id: $id) {
    accountTokenSnapshots {
      balanceUntilUpdatedAt
      totalNetFlowRate
      updatedAtTimestamp
      token { id }
    }
  }
}`

// Config holds provider client configuration.
type Config struct {
	Endpoint          string
	Timeout           time.Duration
	RequestsPerMinute int
	Retry             service.RetryOptions
}

// Client is a GraphQL subgraph client implementing FlowProvider.
type Client struct {
	httpClient *http.Client
	limiter    *rateLimiter
	logger     *slog.Logger
	retryOpts  service.RetryOptions
	endpoint   string
}

// NewClient creates a provider client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: provider endpoint", common.ErrMissingConfig)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Multiplier:   2,
		}
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    newRateLimiter(cfg.RequestsPerMinute),
		logger:     slog.Default().With("component", "provider"),
		retryOpts:  cfg.Retry,
		endpoint:   cfg.Endpoint,
	}, nil
}

// Close releases the client's background resources.
func (c *Client) Close() error {
	c.limiter.close()
	return nil
}

// GetFlowByTxHash implements FlowProvider.
func (c *Client) GetFlowByTxHash(ctx context.Context, q FlowQuery) (*model.RawFlowEvent, error) {
	var data struct {
		FlowUpdatedEvents []model.RawFlowEvent `json:"flowUpdatedEvents"`
	}
	err := c.query(ctx, flowByTxHashQuery, map[string]any{
		"receiver":        strings.ToLower(q.Receiver),
		"sender":          strings.ToLower(q.Sender),
		"flowRate":        q.FlowRate,
		"transactionHash": strings.ToLower(q.TransactionHash),
	}, &data)
	if err != nil {
		return nil, err
	}
	return first(data.FlowUpdatedEvents), nil
}

// GetFlowByReceiverSenderFlowRate implements FlowProvider. It returns the
// earliest matching event strictly after timestampGT.
func (c *Client) GetFlowByReceiverSenderFlowRate(ctx context.Context, q FlowQuery, timestampGT time.Time) (*model.RawFlowEvent, error) {
	var data struct {
		FlowUpdatedEvents []model.RawFlowEvent `json:"flowUpdatedEvents"`
	}
	err := c.query(ctx, flowByRateQuery, map[string]any{
		"receiver":    strings.ToLower(q.Receiver),
		"sender":      strings.ToLower(q.Sender),
		"flowRate":    q.FlowRate,
		"timestampGt": strconv.FormatInt(timestampGT.Unix(), 10),
	}, &data)
	if err != nil {
		return nil, err
	}
	return first(data.FlowUpdatedEvents), nil
}

// AccountBalance implements FlowProvider.
func (c *Client) AccountBalance(ctx context.Context, accountID string) ([]model.TokenBalance, error) {
	var data struct {
		Account *struct {
			Snapshots []struct {
				Balance          string `json:"balanceUntilUpdatedAt"`
				TotalNetFlowRate string `json:"totalNetFlowRate"`
				UpdatedAt        string `json:"updatedAtTimestamp"`
				Token            struct {
					ID string `json:"id"`
				} `json:"token"`
			} `json:"accountTokenSnapshots"`
		} `json:"account"`
	}
	account := strings.ToLower(accountID)
	if err := c.query(ctx, accountBalanceQuery, map[string]any{"id": account}, &data); err != nil {
		return nil, err
	}
	if data.Account == nil {
		return nil, nil
	}

	balances := make([]model.TokenBalance, 0, len(data.Account.Snapshots))
	for _, snap := range data.Account.Snapshots {
		balance, err := decimal.NewFromString(snap.Balance)
		if err != nil {
			return nil, fmt.Errorf("%w: balance %q: %w", common.ErrUpstreamUnavailable, snap.Balance, err)
		}
		netFlow, err := decimal.NewFromString(snap.TotalNetFlowRate)
		if err != nil {
			return nil, fmt.Errorf("%w: net flow rate %q: %w", common.ErrUpstreamUnavailable, snap.TotalNetFlowRate, err)
		}
		updatedAt, err := model.ParseUnixTimestamp(snap.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", common.ErrUpstreamUnavailable, err)
		}
		balances = append(balances, model.TokenBalance{
			Account:          account,
			Token:            snap.Token.ID,
			Balance:          balance,
			TotalNetFlowRate: netFlow,
			UpdatedAt:        updatedAt,
		})
	}
	return balances, nil
}

func first(events []model.RawFlowEvent) *model.RawFlowEvent {
	if len(events) == 0 {
		return nil
	}
	return &events[0]
}

type graphQLRequest struct {
	Variables map[string]any `json:"variables"`
	Query     string         `json:"query"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *Client) query(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("failed to encode provider query: %w", err)
	}

	var resp graphQLResponse
	err = common.WithRetry(ctx, func() error {
		if err := c.limiter.wait(ctx); err != nil {
			return common.Permanent(err)
		}
		resp, err = c.post(ctx, body)
		return err
	}, c.retryOpts)
	metrics.ObserveUpstream("provider", err)
	if err != nil {
		return err
	}

	if len(resp.Errors) > 0 {
		messages := make([]string, len(resp.Errors))
		for i, e := range resp.Errors {
			messages[i] = e.Message
		}
		return fmt.Errorf("%w: provider query failed: %s", common.ErrUpstreamUnavailable, strings.Join(messages, "; "))
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("%w: provider returned unexpected data: %w", common.ErrUpstreamUnavailable, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, body []byte) (graphQLResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return graphQLResponse{}, common.Permanent(fmt.Errorf("failed to build provider request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return graphQLResponse{}, common.Permanent(err)
		}
		return graphQLResponse{}, fmt.Errorf("%w: %w", common.ErrUpstreamUnavailable, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	switch {
	case httpResp.StatusCode == http.StatusTooManyRequests:
		after := retryAfter(httpResp.Header.Get("Retry-After"))
		c.logger.Warn("Provider rate limited the client", "retry_after", after)
		return graphQLResponse{}, common.RetryAfter(
			fmt.Errorf("%w: %w: provider returned %s", common.ErrUpstreamUnavailable, common.ErrRateLimit, httpResp.Status), after)
	case httpResp.StatusCode >= http.StatusInternalServerError:
		return graphQLResponse{}, fmt.Errorf("%w: provider returned %s", common.ErrUpstreamUnavailable, httpResp.Status)
	case httpResp.StatusCode != http.StatusOK:
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return graphQLResponse{}, common.Permanent(fmt.Errorf("%w: provider returned %s: %s",
			common.ErrUpstreamUnavailable, httpResp.Status, strings.TrimSpace(string(snippet))))
	}

	var resp graphQLResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return graphQLResponse{}, fmt.Errorf("%w: failed to decode provider response: %w", common.ErrUpstreamUnavailable, err)
	}
	return resp, nil
}

var _ FlowProvider = (*Client)(nil)

// retryAfter reads a Retry-After header given in seconds. Dates and junk yield zero.
func retryAfter(header string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
