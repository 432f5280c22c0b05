package synckit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/listsync/errors"
	"github.com/c0deZ3R0/listsync/logging"
)

func testRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestExponentialBackoff_NextDelay(t *testing.T) {
	eb := newBackoff(RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, 100 * time.Millisecond},
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{60, time.Second},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.want, eb.nextDelay(tt.attempt))
		})
	}
}

func TestRetryConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultRetryConfig().Validate())

	bad := []RetryConfig{
		{MaxAttempts: 0, InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 2},
		{MaxAttempts: 1, InitialDelay: -time.Second, MaxDelay: time.Second, Multiplier: 2},
		{MaxAttempts: 1, InitialDelay: time.Second, MaxDelay: time.Millisecond, Multiplier: 2},
		{MaxAttempts: 1, InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 0.5},
	}
	for i, cfg := range bad {
		assert.Error(t, cfg.Validate(), "config %d", i)
	}
}

func TestWithRetry_Success(t *testing.T) {
	n, err := withRetry(context.Background(), testRetryConfig(), logging.Discard().Logger, func() error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWithRetry_RetryableError(t *testing.T) {
	attempts := 0
	n, err := withRetry(context.Background(), testRetryConfig(), logging.Discard().Logger, func() error {
		attempts++
		if attempts < 2 {
			return errors.NewRetryable(errors.OpFetch, fmt.Errorf("temporary error"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 2, n)
}

func TestWithRetry_NonRetryableError(t *testing.T) {
	attempts := 0
	_, err := withRetry(context.Background(), testRetryConfig(), logging.Discard().Logger, func() error {
		attempts++
		return errors.NewValidationError(errors.OpFetch, fmt.Errorf("permanent error"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestWithRetry_MaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	n, err := withRetry(context.Background(), testRetryConfig(), logging.Discard().Logger, func() error {
		attempts++
		return errors.NewRetryable(errors.OpFetch, fmt.Errorf("still down"))
	})
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, n)
}

func TestWithRetry_ContextCancellation(t *testing.T) {
	cfg := testRetryConfig()
	cfg.InitialDelay = time.Second
	cfg.MaxDelay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := withRetry(ctx, cfg, logging.Discard().Logger, func() error {
		return errors.NewRetryable(errors.OpFetch, fmt.Errorf("temporary error"))
	})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindCancelled))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestWithRetry_NilConfigRunsOnce(t *testing.T) {
	attempts := 0
	_, err := withRetry(context.Background(), nil, logging.Discard().Logger, func() error {
		attempts++
		return errors.NewRetryable(errors.OpFetch, fmt.Errorf("temporary error"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}
