package synckit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c0deZ3R0/listsync/errors"
)

// RetryConfig configures retries of transient remote failures within one
// run. Only errors reported as retryable are retried.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, the first one included
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts" toml:"max_attempts"`

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay" toml:"initial_delay"`

	// MaxDelay caps the delay between retries
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay" toml:"max_delay"`

	// Multiplier is the factor by which the delay increases
	Multiplier float64 `json:"multiplier" yaml:"multiplier" toml:"multiplier"`
}

// DefaultRetryConfig doubles a one second delay up to five attempts.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
	}
}

// Validate reports configuration mistakes.
func (c RetryConfig) Validate() error {
	switch {
	case c.MaxAttempts < 1:
		return fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts)
	case c.InitialDelay < 0:
		return fmt.Errorf("initial delay must not be negative")
	case c.MaxDelay < c.InitialDelay:
		return fmt.Errorf("max delay %s is below initial delay %s", c.MaxDelay, c.InitialDelay)
	case c.Multiplier < 1:
		return fmt.Errorf("multiplier must be at least 1, got %g", c.Multiplier)
	}
	return nil
}

type exponentialBackoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
}

func newBackoff(c RetryConfig) *exponentialBackoff {
	return &exponentialBackoff{
		initialDelay: c.InitialDelay,
		maxDelay:     c.MaxDelay,
		multiplier:   c.Multiplier,
	}
}

// nextDelay returns the wait before retry number attempt, counted from 0.
func (eb *exponentialBackoff) nextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(eb.initialDelay)
	for i := 0; i < attempt; i++ {
		delay *= eb.multiplier
		if delay >= float64(eb.maxDelay) {
			return eb.maxDelay
		}
	}

	result := time.Duration(delay)
	if result > eb.maxDelay {
		result = eb.maxDelay
	}
	return result
}

// withRetry runs operation until it succeeds, fails with a non-retryable
// error, or the attempts run out. It returns the number of attempts made.
// Waiting between attempts honours ctx.
func withRetry(ctx context.Context, cfg *RetryConfig, logger *slog.Logger, operation func() error) (int, error) {
	if cfg == nil {
		return 1, operation()
	}

	eb := newBackoff(*cfg)
	attempts := 1
	err := operation()
	for err != nil && errors.IsRetryable(err) && attempts < cfg.MaxAttempts {
		delay := eb.nextDelay(attempts - 1)
		logger.Warn("retrying after transient failure",
			slog.Int("attempt", attempts+1),
			slog.Duration("delay", delay),
			slog.Any("error", err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempts, errors.NewCancelled(errors.OpSync, ctx.Err())
		case <-timer.C:
		}

		attempts++
		err = operation()
	}

	if err != nil && errors.IsRetryable(err) {
		logger.Error("retry attempts exhausted",
			slog.Int("attempts", attempts),
			slog.Any("error", err))
	}
	return attempts, err
}
