package synckit

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/c0deZ3R0/listsync/errors"
	"github.com/c0deZ3R0/listsync/reconcile"
)

// Options holds the settings shared by the Orchestrator and the Importer.
type Options struct {
	// Strategy resolves conflicts. Nil selects LastWriteWins for sync runs
	// and UserChoice for imports.
	Strategy reconcile.Strategy

	// PollInterval is the period of the background poll started by Start.
	PollInterval time.Duration

	// Timeout bounds the pre-commit phase of one run. Zero disables it.
	Timeout time.Duration

	// Retry configures retries of transient remote failures. Nil disables
	// retrying.
	Retry *RetryConfig

	Logger    *slog.Logger
	Metrics   MetricsCollector
	Observers []Observer
}

// DefaultOptions returns the defaults applied before any Option.
func DefaultOptions() Options {
	retry := DefaultRetryConfig()
	return Options{
		PollInterval: time.Minute,
		Timeout:      30 * time.Second,
		Retry:        &retry,
		Metrics:      &NoOpMetricsCollector{},
	}
}

// Option is a functional option for the Orchestrator and the Importer.
type Option func(*Options) error

func buildOptions(opts []Option) (Options, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return o, &errors.SyncError{
				Op:        errors.OpConfig,
				Component: component,
				Kind:      errors.KindInvalid,
				Err:       err,
			}
		}
	}
	if o.Metrics == nil {
		o.Metrics = &NoOpMetricsCollector{}
	}
	return o, nil
}

// WithStrategy sets the conflict resolution strategy.
func WithStrategy(s reconcile.Strategy) Option {
	return func(o *Options) error {
		if s == nil {
			return fmt.Errorf("strategy must not be nil")
		}
		o.Strategy = s
		return nil
	}
}

// WithStrategyName selects a strategy by its configuration name.
func WithStrategyName(name string) Option {
	return func(o *Options) error {
		s, err := reconcile.StrategyByName(name)
		if err != nil {
			return err
		}
		o.Strategy = s
		return nil
	}
}

// WithPollInterval sets the background poll period.
func WithPollInterval(d time.Duration) Option {
	return func(o *Options) error {
		if d <= 0 {
			return fmt.Errorf("poll interval must be positive, got %s", d)
		}
		o.PollInterval = d
		return nil
	}
}

// WithTimeout bounds the pre-commit phase of a run.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) error {
		if d < 0 {
			return fmt.Errorf("timeout must not be negative")
		}
		o.Timeout = d
		return nil
	}
}

// WithRetry sets the retry policy for transient remote failures.
func WithRetry(cfg RetryConfig) Option {
	return func(o *Options) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		o.Retry = &cfg
		return nil
	}
}

// WithoutRetry surfaces the first remote failure.
func WithoutRetry() Option {
	return func(o *Options) error {
		o.Retry = nil
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) error {
		o.Logger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(o *Options) error {
		o.Metrics = m
		return nil
	}
}

// WithObserver registers an observer. It may be given more than once.
func WithObserver(obs Observer) Option {
	return func(o *Options) error {
		if obs == nil {
			return fmt.Errorf("observer must not be nil")
		}
		o.Observers = append(o.Observers, obs)
		return nil
	}
}
