// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Reconciliation errors.
var (
	// ErrMalformedEvent rejects a provider event before it is stored.
	ErrMalformedEvent = errors.New("malformed flow event")
	// ErrDuplicateEvent marks a re-delivered id whose payload differs from the stored copy.
	// It is reported, never a failure.
	ErrDuplicateEvent = errors.New("duplicate flow event")
	// ErrNoMatch means no donation intent qualified for an event that was already unmatched.
	ErrNoMatch = errors.New("no matching donation intent")
	// ErrUpstreamUnavailable wraps failures of the launch adapter, flow provider or price source.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrNoPriceData means no usable price sample exists at or before the requested instant.
	ErrNoPriceData = errors.New("no price data")
	// ErrConstraintViolation means a uniqueness or compare-and-swap race was lost.
	ErrConstraintViolation = errors.New("constraint violation")
	// ErrInvalidTransition means an event is not in a state that allows the requested step.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Database errors.
var (
	ErrNotFound          = errors.New("not found")
	ErrDatabaseCorrupted = errors.New("database corrupted")
)

// Configuration errors.
var (
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrUpstreamUnavailable) ||
		errors.Is(err, ErrConstraintViolation) ||
		errors.Is(err, context.DeadlineExceeded)
}
