package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	txHashPattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
	decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)
	integerPattern = regexp.MustCompile(`^[0-9]+$`)
)

// ValidationError names the field that made a payload unacceptable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// IsAddress reports whether s is a 0x-prefixed 20-byte hex address.
func IsAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// IsTransactionHash reports whether s is a 0x-prefixed 32-byte hex hash.
func IsTransactionHash(s string) bool {
	return txHashPattern.MatchString(s)
}

// NormalizeAddress lower-cases an address so comparisons are case-insensitive.
func NormalizeAddress(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ParseFlowRate parses a non-negative decimal string.
func ParseFlowRate(s string) (decimal.Decimal, error) {
	if !decimalPattern.MatchString(s) {
		return decimal.Zero, &ValidationError{Field: "flowRate", Reason: fmt.Sprintf("%q is not a non-negative decimal", s)}
	}
	rate, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &ValidationError{Field: "flowRate", Reason: err.Error()}
	}
	return rate, nil
}

// ParseUnixTimestamp parses unix seconds carried as a string.
func ParseUnixTimestamp(s string) (time.Time, error) {
	if !integerPattern.MatchString(s) {
		return time.Time{}, &ValidationError{Field: "timestamp", Reason: fmt.Sprintf("%q is not unix seconds", s)}
	}
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "timestamp", Reason: err.Error()}
	}
	return time.Unix(secs, 0).UTC(), nil
}

// Normalize validates the wire payload and converts it into a FlowEvent in
// the ingested state.
func (r RawFlowEvent) Normalize() (*FlowEvent, error) {
	required := []struct {
		name  string
		value string
	}{
		{"id", r.ID},
		{"flowOperator", r.FlowOperator},
		{"flowRate", r.FlowRate},
		{"transactionHash", r.TransactionHash},
		{"receiver", r.Receiver},
		{"sender", r.Sender},
		{"token", r.Token},
		{"timestamp", r.Timestamp},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return nil, &ValidationError{Field: f.name, Reason: "required"}
		}
	}

	addresses := map[string]string{
		"flowOperator": r.FlowOperator,
		"receiver":     r.Receiver,
		"sender":       r.Sender,
		"token":        r.Token,
	}
	for _, name := range []string{"flowOperator", "receiver", "sender", "token"} {
		if !IsAddress(strings.TrimSpace(addresses[name])) {
			return nil, &ValidationError{Field: name, Reason: fmt.Sprintf("%q is not an address", addresses[name])}
		}
	}

	if !txHashPattern.MatchString(strings.TrimSpace(r.TransactionHash)) {
		return nil, &ValidationError{Field: "transactionHash", Reason: fmt.Sprintf("%q is not a transaction hash", r.TransactionHash)}
	}

	rate, err := ParseFlowRate(strings.TrimSpace(r.FlowRate))
	if err != nil {
		return nil, err
	}

	ts, err := ParseUnixTimestamp(strings.TrimSpace(r.Timestamp))
	if err != nil {
		return nil, err
	}

	return &FlowEvent{
		ID:              strings.TrimSpace(r.ID),
		FlowOperator:    NormalizeAddress(r.FlowOperator),
		FlowRate:        rate,
		TransactionHash: NormalizeAddress(r.TransactionHash),
		Receiver:        NormalizeAddress(r.Receiver),
		Sender:          NormalizeAddress(r.Sender),
		Token:           NormalizeAddress(r.Token),
		Timestamp:       ts,
		State:           StateIngested,
		Confidence:      ConfidenceNone,
	}, nil
}
