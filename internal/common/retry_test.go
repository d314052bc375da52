package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/service"
)

func fastRetry(attempts int) service.RetryOptions {
	return service.RetryOptions{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestWithRetry(t *testing.T) {
	errBoom := errors.New("boom")

	tests := []struct {
		name      string
		failFirst int
		failWith  error
		attempts  int
		wantCalls int
		wantErr   error
	}{
		{name: "succeeds first time", failFirst: 0, attempts: 3, wantCalls: 1},
		{name: "succeeds after transient failures", failFirst: 2, failWith: errBoom, attempts: 3, wantCalls: 3},
		{name: "gives up after max attempts", failFirst: 10, failWith: errBoom, attempts: 3, wantCalls: 3, wantErr: ErrMaxRetries},
		{name: "stops on permanent error", failFirst: 10, failWith: Permanent(errBoom), attempts: 5, wantCalls: 1, wantErr: errBoom},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := WithRetry(context.Background(), func() error {
				calls++
				if calls <= tt.failFirst {
					return tt.failWith
				}
				return nil
			}, fastRetry(tt.attempts))

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestWithRetry_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opts := fastRetry(5)
	opts.InitialDelay = time.Second
	err := WithRetry(ctx, func() error { return errors.New("fail") }, opts)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoffWait(t *testing.T) {
	errBoom := errors.New("boom")

	b := newBackoff(service.RetryOptions{InitialDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 2})
	assert.Equal(t, time.Second, b.wait(errBoom))
	assert.Equal(t, 2*time.Second, b.wait(errBoom))
	assert.Equal(t, 3*time.Second, b.wait(RetryAfter(errBoom, 3*time.Second)), "upstream hint wins")
	assert.Equal(t, 10*time.Second, b.wait(ErrRateLimit), "rate limit without a hint waits longest")
	assert.Equal(t, 10*time.Second, b.wait(RetryAfter(ErrRateLimit, time.Minute)), "hints are capped")
	assert.Equal(t, 10*time.Second, b.wait(errBoom), "schedule is capped")
}

func TestWithRetry_HonorsRetryAfter(t *testing.T) {
	calls := 0
	start := time.Now()
	err := WithRetry(context.Background(), func() error {
		calls++
		if calls == 1 {
			return RetryAfter(ErrRateLimit, 2*time.Millisecond)
		}
		return nil
	}, fastRetry(3))

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.GreaterOrEqual(t, time.Since(start), 2*time.Millisecond)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrRateLimit))
	assert.True(t, IsRetryable(ErrUpstreamUnavailable))
	assert.True(t, IsRetryable(ErrConstraintViolation))
	assert.True(t, IsRetryable(&RetryableError{Err: errors.New("x"), Retryable: true}))
	assert.False(t, IsRetryable(Permanent(ErrUpstreamUnavailable)))
	assert.False(t, IsRetryable(ErrMalformedEvent))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", level.String())

	_, err = ParseLevel("loud")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestUserError(t *testing.T) {
	err := NewUserError("could not open ledger", ErrNotFound)
	assert.Equal(t, "could not open ledger: not found", err.Error())
	assert.ErrorIs(t, err, ErrNotFound)
}
