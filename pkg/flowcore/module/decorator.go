package module

import (
	"context"
	"iter"
	"maps"
	"reflect"
	"time"

	"golang.org/x/time/rate"

	"github.com/randalmurphal/flowcore/pkg/flowcore/effect"
)

// decorator is the single record behind Bind, WithTypes, WithRetry,
// WithFallbacks and WithRateLimit. Decorating an already decorated Module
// updates a copy of its record instead of nesting wrappers.
type decorator[In, Out any] struct {
	bound      Module[In, Out]
	kwargs     Kwargs
	inType     reflect.Type
	outType    reflect.Type
	retry      *RetryPolicy
	fallbacks  []Module[In, Out]
	fallbackOn func(error) bool
	limiter    *rate.Limiter
}

func (d *decorator[In, Out]) clone() *decorator[In, Out] {
	c := *d
	c.kwargs = maps.Clone(d.kwargs)
	c.fallbacks = append([]Module[In, Out](nil), d.fallbacks...)
	return &c
}

// decorate returns a copy of m whose decorator record has been updated by apply.
func (m Module[In, Out]) decorate(apply func(d *decorator[In, Out])) Module[In, Out] {
	var d *decorator[In, Out]
	if m.deco != nil {
		d = m.deco.clone()
	} else {
		d = &decorator[In, Out]{bound: m}
	}
	apply(d)

	out := m
	out.deco = d
	out.run = d.run
	if d.inType != nil {
		out.inType = d.inType
	}
	if d.outType != nil {
		out.outType = d.outType
	}
	return out
}

// Bind returns a Module with kw partially applied. Keys given at invocation
// override bound ones; a later Bind overrides an earlier one.
func (m Module[In, Out]) Bind(kw Kwargs) Module[In, Out] {
	return m.decorate(func(d *decorator[In, Out]) {
		d.kwargs = Merge(d.kwargs, kw)
	})
}

// WithTypes overrides the declared input and output types. A nil type keeps
// the current one. Schemas follow the overridden types.
func (m Module[In, Out]) WithTypes(in, out reflect.Type) Module[In, Out] {
	return m.decorate(func(d *decorator[In, Out]) {
		if in != nil {
			d.inType = in
		}
		if out != nil {
			d.outType = out
		}
	})
}

// WithRetry wraps the Module in a retry policy built from opts. Every driver
// retries; a streaming driver retries only until its first element has been
// produced.
func (m Module[In, Out]) WithRetry(opts ...RetryOption) Module[In, Out] {
	p := NewRetryPolicy(opts...)
	return m.WithRetryPolicy(p)
}

// WithRetryPolicy wraps the Module in p.
func (m Module[In, Out]) WithRetryPolicy(p RetryPolicy) Module[In, Out] {
	return m.decorate(func(d *decorator[In, Out]) {
		d.retry = &p
	})
}

// FallbackOption configures WithFallbacks.
type FallbackOption func(*fallbackConfig)

type fallbackConfig struct {
	on func(error) bool
}

// FallbackOn limits fallbacks to errors matching fn. Other errors are
// returned immediately.
func FallbackOn(fn func(error) bool) FallbackOption {
	return func(c *fallbackConfig) {
		c.on = fn
	}
}

// WithFallbacks returns a Module that tries fallbacks in order, with the
// original input, when the Module fails. The first success wins; if all
// fail the first error is returned.
func (m Module[In, Out]) WithFallbacks(fallbacks []Module[In, Out], opts ...FallbackOption) Module[In, Out] {
	var cfg fallbackConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return m.decorate(func(d *decorator[In, Out]) {
		d.fallbacks = append(d.fallbacks, fallbacks...)
		if cfg.on != nil {
			d.fallbackOn = cfg.on
		}
	})
}

// WithRateLimit returns a Module that waits on l before each attempt.
func (m Module[In, Out]) WithRateLimit(l *rate.Limiter) Module[In, Out] {
	return m.decorate(func(d *decorator[In, Out]) {
		d.limiter = l
	})
}

// attempt builds the effect for one try of the bound Module.
type attempt[Out any] func(kw Kwargs) effect.Effect[Out]

func (d *decorator[In, Out]) run(in In, kw Kwargs) effect.Effect[Out] {
	kw = Merge(d.kwargs, kw)
	kind := d.bound.kind
	if kind == effect.KindPure {
		kind = effect.KindSync
	}

	primary := attempt[Out](func(k Kwargs) effect.Effect[Out] {
		return d.bound.run(in, k)
	})
	if d.limiter != nil {
		primary = limited(kind, d.limiter, primary)
	}
	if d.retry != nil {
		primary = retried(kind, d.retry, primary)
	}
	if len(d.fallbacks) == 0 {
		return primary(kw)
	}

	candidates := []attempt[Out]{primary}
	for _, fb := range d.fallbacks {
		candidates = append(candidates, func(k Kwargs) effect.Effect[Out] {
			return fb.run(in, k)
		})
	}
	return withFallbacks(kind, candidates, d.fallbackOn, kw)
}

func limited[Out any](kind effect.Kind, l *rate.Limiter, next attempt[Out]) attempt[Out] {
	return func(kw Kwargs) effect.Effect[Out] {
		return effect.FromDrivers(kind, effect.Drivers[Out]{
			Sync: func(ctx context.Context) (Out, error) {
				if err := l.Wait(ctx); err != nil {
					var zero Out
					return zero, err
				}
				return next(kw).Invoke(ctx)
			},
			Iter: func(ctx context.Context) iter.Seq2[Out, error] {
				return func(yield func(Out, error) bool) {
					if err := l.Wait(ctx); err != nil {
						var zero Out
						yield(zero, err)
						return
					}
					for v, err := range next(kw).Iter(ctx) {
						if !yield(v, err) || err != nil {
							return
						}
					}
				}
			},
		})
	}
}

func retried[Out any](kind effect.Kind, p *RetryPolicy, next attempt[Out]) attempt[Out] {
	withState := func(kw Kwargs, s RetryState) effect.Effect[Out] {
		return next(Merge(kw, Kwargs{KeyRetryState: s}))
	}

	return func(kw Kwargs) effect.Effect[Out] {
		return effect.FromDrivers(kind, effect.Drivers[Out]{
			Sync: func(ctx context.Context) (Out, error) {
				s := RetryState{Start: time.Now()}
				for {
					s.Attempt++
					v, err := withState(kw, s).Invoke(ctx)
					if err == nil {
						return v, nil
					}
					if !p.next(ctx, &s, err) {
						return v, err
					}
				}
			},
			Iter: func(ctx context.Context) iter.Seq2[Out, error] {
				return func(yield func(Out, error) bool) {
					s := RetryState{Start: time.Now()}
					for {
						s.Attempt++
						yielded := false
						var failure error
						for v, err := range withState(kw, s).Iter(ctx) {
							if err != nil {
								failure = err
								break
							}
							yielded = true
							if !yield(v, nil) {
								return
							}
						}
						if failure == nil {
							return
						}
						if yielded || !p.next(ctx, &s, failure) {
							var zero Out
							yield(zero, failure)
							return
						}
					}
				}
			},
		})
	}
}

func withFallbacks[Out any](kind effect.Kind, candidates []attempt[Out], on func(error) bool, kw Kwargs) effect.Effect[Out] {
	matches := func(err error) bool {
		return on == nil || on(err)
	}

	return effect.FromDrivers(kind, effect.Drivers[Out]{
		Sync: func(ctx context.Context) (Out, error) {
			var first error
			for _, c := range candidates {
				v, err := c(kw).Invoke(ctx)
				if err == nil {
					return v, nil
				}
				if first == nil {
					first = err
				}
				if !matches(err) {
					return v, err
				}
			}
			var zero Out
			return zero, first
		},
		Iter: func(ctx context.Context) iter.Seq2[Out, error] {
			return func(yield func(Out, error) bool) {
				var first error
				for _, c := range candidates {
					yielded := false
					var failure error
					for v, err := range c(kw).Iter(ctx) {
						if err != nil {
							failure = err
							break
						}
						yielded = true
						if !yield(v, nil) {
							return
						}
					}
					if failure == nil {
						return
					}
					if first == nil {
						first = failure
					}
					if yielded || !matches(failure) {
						var zero Out
						yield(zero, failure)
						return
					}
				}
				var zero Out
				yield(zero, first)
			}
		},
	})
}
