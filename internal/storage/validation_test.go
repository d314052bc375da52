package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/model"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/service"
)

func TestValidateContext(t *testing.T) {
	tests := []struct {
		ctx     context.Context
		name    string
		wantErr bool
	}{
		{
			name:    "valid context",
			ctx:     context.Background(),
			wantErr: false,
		},
		{
			name:    "nil context",
			ctx:     nil,
			wantErr: true,
		},
		{
			name: "canceled context still valid",
			ctx: func() context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			}(),
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateContext(tt.ctx)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateContext() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateString(t *testing.T) {
	assert.NoError(t, validateString("test", "param"))
	assert.ErrorIs(t, validateString("", "param"), ErrEmptyString)
	assert.ErrorIs(t, validateString("   \t", "param"), ErrEmptyString)
}

func TestValidateFlowEvent(t *testing.T) {
	tests := []struct {
		mutate  func(*model.FlowEvent)
		wantErr error
		name    string
	}{
		{name: "valid", mutate: func(*model.FlowEvent) {}},
		{name: "missing id", mutate: func(e *model.FlowEvent) { e.ID = "" }, wantErr: ErrInvalidFlowEvent},
		{name: "missing sender", mutate: func(e *model.FlowEvent) { e.Sender = " " }, wantErr: ErrInvalidFlowEvent},
		{name: "zero timestamp", mutate: func(e *model.FlowEvent) { e.Timestamp = time.Time{} }, wantErr: ErrInvalidFlowEvent},
		{name: "negative rate", mutate: func(e *model.FlowEvent) { e.FlowRate = decimal.NewFromInt(-1) }, wantErr: ErrInvalidFlowEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := testEvent("evt-1", 1000)
			tt.mutate(event)
			err := validateFlowEvent(event)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.ErrorIs(t, validateFlowEvent(nil), ErrNilParameter)
}

func TestValidateFilter(t *testing.T) {
	assert.NoError(t, validateFilter(service.EventFilter{States: model.PendingStates()}))
	assert.ErrorIs(t, validateFilter(service.EventFilter{}), ErrInvalidFilter)
	assert.ErrorIs(t, validateFilter(service.EventFilter{States: []model.EventState{"bogus"}}), ErrInvalidFilter)
	assert.ErrorIs(t, validateFilter(service.EventFilter{States: model.PendingStates(), Limit: -1}), ErrInvalidFilter)
}

func TestStorageRejectsNilContext(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	//nolint:staticcheck // nil context is the case under test
	_, err := store.GetFlowEvent(nil, "evt-1")
	assert.ErrorIs(t, err, ErrNilContext)
}
