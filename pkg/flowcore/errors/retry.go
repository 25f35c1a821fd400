package errors

import (
	"math"
	"time"

	"github.com/randalmurphal/flowcore/pkg/flowcore/module"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	MaxAttempts int

	// InitialBackoff is the starting backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied to backoff after each attempt.
	BackoffFactor float64

	// Jitter is the random jitter factor (0.0-1.0).
	Jitter float64

	// RetryableFunc optionally overrides the default retryability check.
	RetryableFunc func(error) bool
}

// DefaultRetry is the standard retry configuration.
var DefaultRetry = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// AggressiveRetry retries more times with shorter backoff.
var AggressiveRetry = RetryConfig{
	MaxAttempts:    5,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     10 * time.Second,
	BackoffFactor:  1.5,
	Jitter:         0.2,
}

// NoRetry disables retries.
var NoRetry = RetryConfig{
	MaxAttempts: 1,
}

// Policy converts the configuration into a module.RetryPolicy. Only
// transient errors are retried unless RetryableFunc says otherwise.
func (cfg RetryConfig) Policy() module.RetryPolicy {
	retryable := cfg.RetryableFunc
	if retryable == nil {
		retryable = IsRetryable
	}
	attempts := max(cfg.MaxAttempts, 1)

	wait := module.WaitNone()
	if cfg.InitialBackoff > 0 {
		factor := cfg.BackoffFactor
		if factor < 1 {
			factor = 1
		}
		maxWait := cfg.MaxBackoff
		if maxWait <= 0 {
			maxWait = math.MaxInt64
		}
		wait = module.WaitExponential(cfg.InitialBackoff, maxWait, factor, cfg.Jitter)
	}

	return module.NewRetryPolicy(
		module.RetryIf(retryable),
		module.WithStop(module.StopAfterAttempt(attempts)),
		module.WithWait(wait),
	)
}

// RetryOption configures retry behavior.
type RetryOption func(*RetryConfig)

// WithMaxAttempts sets the maximum number of attempts.
func WithMaxAttempts(n int) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.MaxAttempts = n
	}
}

// WithInitialBackoff sets the initial backoff duration.
func WithInitialBackoff(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.InitialBackoff = d
	}
}

// WithMaxBackoff sets the maximum backoff duration.
func WithMaxBackoff(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.MaxBackoff = d
	}
}

// WithBackoffFactor sets the backoff multiplier.
func WithBackoffFactor(f float64) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.BackoffFactor = f
	}
}

// WithJitter sets the jitter factor.
func WithJitter(j float64) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.Jitter = j
	}
}

// WithRetryableFunc sets a custom retryability check.
func WithRetryableFunc(fn func(error) bool) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.RetryableFunc = fn
	}
}

// NewRetryConfig creates a retry configuration with the given options.
func NewRetryConfig(opts ...RetryOption) RetryConfig {
	cfg := DefaultRetry
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Retry wraps m so that transient failures are retried per cfg.
func Retry[In, Out any](m module.Module[In, Out], cfg RetryConfig) module.Module[In, Out] {
	return m.WithRetryPolicy(cfg.Policy())
}

// WithFallbacks wraps m so that errors IsFallback accepts are handed to
// fallbacks in order.
func WithFallbacks[In, Out any](m module.Module[In, Out], fallbacks ...module.Module[In, Out]) module.Module[In, Out] {
	return m.WithFallbacks(fallbacks, module.FallbackOn(IsFallback))
}
