// Package storage provides the SQLite reconciliation ledger.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/model"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/service"
)

// Validation errors.
var (
	ErrNilContext         = errors.New("context cannot be nil")
	ErrEmptyString        = errors.New("string parameter cannot be empty")
	ErrNilParameter       = errors.New("parameter cannot be nil")
	ErrInvalidFlowEvent   = errors.New("invalid flow event")
	ErrInvalidIntent      = errors.New("invalid donation intent")
	ErrInvalidPriceSample = errors.New("invalid price sample")
	ErrInvalidFilter      = errors.New("invalid event filter")
)

func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateFlowEvent(event *model.FlowEvent) error {
	if event == nil {
		return fmt.Errorf("%w: flow event", ErrNilParameter)
	}
	fields := map[string]string{
		"id":               event.ID,
		"flow operator":    event.FlowOperator,
		"transaction hash": event.TransactionHash,
		"receiver":         event.Receiver,
		"sender":           event.Sender,
		"token":            event.Token,
	}
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%w: missing %s", ErrInvalidFlowEvent, name)
		}
	}
	if event.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidFlowEvent)
	}
	if event.FlowRate.IsNegative() {
		return fmt.Errorf("%w: negative flow rate", ErrInvalidFlowEvent)
	}
	return nil
}

func validateIntent(intent *model.DonationIntent) error {
	if intent == nil {
		return fmt.Errorf("%w: donation intent", ErrNilParameter)
	}
	if strings.TrimSpace(intent.Sender) == "" {
		return fmt.Errorf("%w: missing sender", ErrInvalidIntent)
	}
	if strings.TrimSpace(intent.Receiver) == "" {
		return fmt.Errorf("%w: missing receiver", ErrInvalidIntent)
	}
	if intent.ExpectedFlowRate.IsNegative() {
		return fmt.Errorf("%w: negative expected flow rate", ErrInvalidIntent)
	}
	return nil
}

func validatePriceSample(sample *model.PriceSample) error {
	if sample == nil {
		return fmt.Errorf("%w: price sample", ErrNilParameter)
	}
	if strings.TrimSpace(sample.TokenAddress) == "" {
		return fmt.Errorf("%w: missing token address", ErrInvalidPriceSample)
	}
	if sample.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidPriceSample)
	}
	if sample.Price.IsNegative() || (sample.PriceUSD != nil && sample.PriceUSD.IsNegative()) {
		return fmt.Errorf("%w: negative price", ErrInvalidPriceSample)
	}
	return nil
}

func validateFilter(filter service.EventFilter) error {
	if len(filter.States) == 0 {
		return fmt.Errorf("%w: no states", ErrInvalidFilter)
	}
	for _, state := range filter.States {
		if !state.Valid() {
			return fmt.Errorf("%w: unknown state %q", ErrInvalidFilter, state)
		}
	}
	if filter.Limit < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidFilter)
	}
	return nil
}
