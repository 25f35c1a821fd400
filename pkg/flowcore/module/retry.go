package module

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// RetryState describes the attempt in progress. Wrapped Modules can read it
// from their keyword configuration under KeyRetryState.
type RetryState struct {
	// Attempt is the 1-based attempt number.
	Attempt int
	// Start is when the first attempt began.
	Start time.Time
	// Elapsed is the time spent since Start when the last attempt failed.
	Elapsed time.Duration
	// Err is the error of the last failed attempt, nil on the first attempt.
	Err error
}

// StopFunc reports whether to give up after the attempt described by s.
type StopFunc func(s RetryState) bool

// WaitFunc returns how long to sleep before the next attempt.
type WaitFunc func(s RetryState) time.Duration

// RetryPolicy controls how WithRetry re-invokes a failing Module.
type RetryPolicy struct {
	// Retryable decides which errors are retried. Nil retries every error
	// except context cancellation.
	Retryable func(error) bool
	// Stop decides when to give up. Nil stops after 3 attempts.
	Stop StopFunc
	// Wait decides the pause between attempts. Nil retries immediately.
	Wait WaitFunc
	// After runs after every failed attempt.
	After func(s RetryState)
}

// RetryOption configures a RetryPolicy.
type RetryOption func(*RetryPolicy)

// RetryIf sets the predicate selecting retryable errors.
func RetryIf(fn func(error) bool) RetryOption {
	return func(p *RetryPolicy) {
		p.Retryable = fn
	}
}

// RetryOn retries only errors matching one of targets via errors.Is.
func RetryOn(targets ...error) RetryOption {
	return RetryIf(func(err error) bool {
		for _, t := range targets {
			if errors.Is(err, t) {
				return true
			}
		}
		return false
	})
}

// WithStop sets the stop condition.
func WithStop(stop StopFunc) RetryOption {
	return func(p *RetryPolicy) {
		p.Stop = stop
	}
}

// WithWait sets the wait strategy.
func WithWait(wait WaitFunc) RetryOption {
	return func(p *RetryPolicy) {
		p.Wait = wait
	}
}

// WithAfter sets the hook run after every failed attempt.
func WithAfter(fn func(RetryState)) RetryOption {
	return func(p *RetryPolicy) {
		p.After = fn
	}
}

// NewRetryPolicy creates a policy from options on top of the defaults.
func NewRetryPolicy(opts ...RetryOption) RetryPolicy {
	p := RetryPolicy{
		Stop: StopAfterAttempt(3),
		Wait: WaitExponential(100*time.Millisecond, 10*time.Second, 2.0, 0.1),
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// StopAfterAttempt gives up once n attempts have been made.
func StopAfterAttempt(n int) StopFunc {
	return func(s RetryState) bool {
		return s.Attempt >= n
	}
}

// StopAfterDelay gives up once d has elapsed since the first attempt.
func StopAfterDelay(d time.Duration) StopFunc {
	return func(s RetryState) bool {
		return s.Elapsed >= d
	}
}

// StopAny gives up when any of conditions does.
func StopAny(conditions ...StopFunc) StopFunc {
	return func(s RetryState) bool {
		for _, c := range conditions {
			if c(s) {
				return true
			}
		}
		return false
	}
}

// WaitNone retries immediately.
func WaitNone() WaitFunc {
	return func(RetryState) time.Duration {
		return 0
	}
}

// WaitFixed waits d between attempts.
func WaitFixed(d time.Duration) WaitFunc {
	return func(RetryState) time.Duration {
		return d
	}
}

// WaitExponential waits initial, then multiplies by factor each attempt up
// to maxWait. jitter (0.0-1.0) randomizes each wait by up to that fraction.
func WaitExponential(initial, maxWait time.Duration, factor, jitter float64) WaitFunc {
	return func(s RetryState) time.Duration {
		backoff := float64(initial)
		for i := 1; i < s.Attempt; i++ {
			backoff *= factor
			if backoff >= float64(maxWait) {
				backoff = float64(maxWait)
				break
			}
		}
		return calculateBackoff(time.Duration(backoff), jitter)
	}
}

// calculateBackoff returns the backoff duration with jitter applied.
func calculateBackoff(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return base
	}

	// base +/- (base * jitter * random)
	jitterAmount := float64(base) * jitter * (rand.Float64()*2 - 1)
	return time.Duration(float64(base) + jitterAmount)
}

func (p *RetryPolicy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// next records a failed attempt and decides whether to try again, sleeping
// for the wait interval when it does. It returns false when the caller
// should give up and report err.
func (p *RetryPolicy) next(ctx context.Context, s *RetryState, err error) bool {
	s.Err = err
	s.Elapsed = time.Since(s.Start)
	if p.After != nil {
		p.After(*s)
	}
	if !p.retryable(err) {
		return false
	}
	stop := p.Stop
	if stop == nil {
		stop = StopAfterAttempt(3)
	}
	if stop(*s) {
		return false
	}

	var wait time.Duration
	if p.Wait != nil {
		wait = p.Wait(*s)
	}
	if wait <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
