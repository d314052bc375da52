package eligibility

import (
	"context"
	"sync"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/model"
)

// MockAdapter is a LaunchDataAdapter for tests.
type MockAdapter struct {
	// Functions that can be set by tests to control behavior
	GetProjectAbcLaunchDataFn func(ctx context.Context, projectAddress string) (*model.AbcLaunchData, error)
	OwnsNFTFn                 func(ctx context.Context, nftContractAddress, userAddress string) (bool, error)

	// Call tracking
	LaunchDataCalls []string
	OwnsNFTCalls    []OwnsNFTCall
	mu              sync.Mutex
}

// OwnsNFTCall records the parameters of an OwnsNFT call.
type OwnsNFTCall struct {
	Contract string
	User     string
}

// NewMockAdapter creates a new mock adapter.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{}
}

// GetProjectAbcLaunchData implements LaunchDataAdapter.
func (m *MockAdapter) GetProjectAbcLaunchData(ctx context.Context, projectAddress string) (*model.AbcLaunchData, error) {
	m.mu.Lock()
	m.LaunchDataCalls = append(m.LaunchDataCalls, projectAddress)
	m.mu.Unlock()

	if m.GetProjectAbcLaunchDataFn != nil {
		return m.GetProjectAbcLaunchDataFn(ctx, projectAddress)
	}

	// Default behavior: no launch data
	return nil, nil
}

// OwnsNFT implements LaunchDataAdapter.
func (m *MockAdapter) OwnsNFT(ctx context.Context, nftContractAddress, userAddress string) (bool, error) {
	m.mu.Lock()
	m.OwnsNFTCalls = append(m.OwnsNFTCalls, OwnsNFTCall{Contract: nftContractAddress, User: userAddress})
	m.mu.Unlock()

	if m.OwnsNFTFn != nil {
		return m.OwnsNFTFn(ctx, nftContractAddress, userAddress)
	}
	return false, nil
}

// LaunchDataCallCount returns how often launch data was requested.
func (m *MockAdapter) LaunchDataCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.LaunchDataCalls)
}

// Ensure MockAdapter implements LaunchDataAdapter.
var _ LaunchDataAdapter = (*MockAdapter)(nil)
