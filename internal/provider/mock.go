package provider

import (
	"context"
	"sync"
	"time"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/model"
)

// MockClient is a mock implementation of FlowProvider for testing.
type MockClient struct {
	GetFlowByTxHashFn func(ctx context.Context, q FlowQuery) (*model.RawFlowEvent, error)
	GetFlowByRateFn   func(ctx context.Context, q FlowQuery, timestampGT time.Time) (*model.RawFlowEvent, error)
	AccountBalanceFn  func(ctx context.Context, accountID string) ([]model.TokenBalance, error)
	TxHashCalls       []FlowQuery
	RateCalls         []FlowQuery
	mu                sync.Mutex
}

// GetFlowByTxHash implements FlowProvider.
func (m *MockClient) GetFlowByTxHash(ctx context.Context, q FlowQuery) (*model.RawFlowEvent, error) {
	m.mu.Lock()
	m.TxHashCalls = append(m.TxHashCalls, q)
	m.mu.Unlock()

	if m.GetFlowByTxHashFn != nil {
		return m.GetFlowByTxHashFn(ctx, q)
	}
	return nil, nil
}

// GetFlowByReceiverSenderFlowRate implements FlowProvider.
func (m *MockClient) GetFlowByReceiverSenderFlowRate(ctx context.Context, q FlowQuery, timestampGT time.Time) (*model.RawFlowEvent, error) {
	m.mu.Lock()
	m.RateCalls = append(m.RateCalls, q)
	m.mu.Unlock()

	if m.GetFlowByRateFn != nil {
		return m.GetFlowByRateFn(ctx, q, timestampGT)
	}
	return nil, nil
}

// AccountBalance implements FlowProvider.
func (m *MockClient) AccountBalance(ctx context.Context, accountID string) ([]model.TokenBalance, error) {
	if m.AccountBalanceFn != nil {
		return m.AccountBalanceFn(ctx, accountID)
	}
	return nil, nil
}

// CallCount returns the number of flow lookups made so far.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.TxHashCalls) + len(m.RateCalls)
}

var _ FlowProvider = (*MockClient)(nil)
