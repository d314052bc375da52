package common

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/service"
)

var (
	// ErrRateLimit means an upstream asked us to slow down.
	ErrRateLimit = errors.New("rate limit exceeded")
	// ErrMaxRetries means every attempt allowed by the retry options failed.
	ErrMaxRetries = errors.New("max retries exceeded")
)

// RetryableError overrides the default retry decision for Err. A non-zero
// After is the wait the upstream asked for before the next attempt.
type RetryableError struct {
	Err       error
	After     time.Duration
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return &RetryableError{Err: err}
}

// RetryAfter marks err as retryable no sooner than after.
func RetryAfter(err error, after time.Duration) error {
	return &RetryableError{Err: err, After: after, Retryable: true}
}

// backoff yields the wait before each retry: exponential from the initial
// delay, capped at max.
type backoff struct {
	next       time.Duration
	max        time.Duration
	multiplier float64
}

func newBackoff(opts service.RetryOptions) *backoff {
	b := &backoff{next: opts.InitialDelay, max: opts.MaxDelay, multiplier: opts.Multiplier}
	if b.next <= 0 {
		b.next = 100 * time.Millisecond
	}
	if b.max <= 0 {
		b.max = 30 * time.Second
	}
	if b.multiplier <= 0 {
		b.multiplier = 2
	}
	return b
}

// wait returns how long to sleep after err. An upstream hint wins over the
// schedule; a rate limit without a hint waits the longest allowed.
func (b *backoff) wait(err error) time.Duration {
	d := b.next
	b.next = min(time.Duration(float64(b.next)*b.multiplier), b.max)

	var hinted *RetryableError
	switch {
	case errors.As(err, &hinted) && hinted.After > 0:
		d = hinted.After
	case errors.Is(err, ErrRateLimit):
		d = b.max
	}
	return min(d, b.max)
}

// WithRetry runs op until it succeeds, returns a Permanent error, the
// attempts run out, or ctx ends.
func WithRetry(ctx context.Context, op func() error, opts service.RetryOptions) error {
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	b := newBackoff(opts)

	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}

		var marked *RetryableError
		if errors.As(err, &marked) && !marked.Retryable {
			return err
		}
		if attempt >= attempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrMaxRetries, attempts, err)
		}

		delay := b.wait(err)
		slog.Debug("Retrying upstream call",
			"attempt", attempt,
			"of", attempts,
			"delay", delay,
			"error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
