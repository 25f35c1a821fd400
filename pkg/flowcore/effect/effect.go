// Package effect provides deferred computations that can be driven
// synchronously, asynchronously, or as a stream of values.
//
// An Effect does nothing until one of its drivers runs it. Every Effect has
// exactly one native driver; the other three are derived:
//
//   - sync to async: Invoke runs on a new goroutine and resolves a Future
//   - async to sync: the Future is awaited on the calling goroutine
//   - non-stream to stream: a single element, the Invoke result
//   - stream to single value: elements are folded with Add when they
//     support addition, otherwise the last (default) or first element wins
//
// The caller's context.Context is handed to every goroutine a driver starts,
// so cancellation, loggers and trace spans carried by the context survive
// sync/async crossings.
package effect

import (
	"context"
	"iter"
)

// Kind identifies the native driver of an Effect.
type Kind int

const (
	// KindPure is an already-realized value.
	KindPure Kind = iota
	// KindSync is a blocking function returning one value.
	KindSync
	// KindAsync is a function returning a Future.
	KindAsync
	// KindIter is a function returning a lazy sequence.
	KindIter
	// KindStream is a function returning a channel of results.
	KindStream
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindPure:
		return "pure"
	case KindSync:
		return "sync"
	case KindAsync:
		return "async"
	case KindIter:
		return "iter"
	case KindStream:
		return "stream"
	default:
		return "unknown"
	}
}

// IsStream reports whether the kind natively produces several elements.
func (k Kind) IsStream() bool {
	return k == KindIter || k == KindStream
}

// Collect selects the element kept when a stream that does not support
// addition is reduced to a single value.
type Collect int

const (
	// CollectLast keeps the last element.
	CollectLast Collect = iota
	// CollectFirst keeps the first element.
	CollectFirst
)

// Result is one element delivered over a channel.
type Result[T any] struct {
	Value T
	Err   error
}

// Effect is a deferred computation producing values of type T.
// The zero value is a pure Effect holding the zero T.
type Effect[T any] struct {
	kind    Kind
	value   T
	sync    func(context.Context) (T, error)
	async   func(context.Context) *Future[T]
	iter    func(context.Context) iter.Seq2[T, error]
	stream  func(context.Context) <-chan Result[T]
	collect Collect
}

// Option configures an Effect at construction.
type Option func(*options)

type options struct {
	collect Collect
}

// WithCollect selects how a non-addable stream reduces to one value.
func WithCollect(c Collect) Option {
	return func(o *options) {
		o.collect = c
	}
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Pure returns an Effect that yields v.
func Pure[T any](v T) Effect[T] {
	return Effect[T]{kind: KindPure, value: v}
}

// Fail returns an Effect that fails with err on every driver.
func Fail[T any](err error) Effect[T] {
	return Sync(func(context.Context) (T, error) {
		var zero T
		return zero, err
	})
}

// Sync returns an Effect whose native driver is the blocking function fn.
func Sync[T any](fn func(ctx context.Context) (T, error)) Effect[T] {
	return Effect[T]{kind: KindSync, sync: fn}
}

// Async returns an Effect whose native driver starts work and returns a Future.
func Async[T any](fn func(ctx context.Context) *Future[T]) Effect[T] {
	return Effect[T]{kind: KindAsync, async: fn}
}

// FromIter returns an Effect whose native driver is a lazy sequence.
func FromIter[T any](fn func(ctx context.Context) iter.Seq2[T, error], opts ...Option) Effect[T] {
	o := buildOptions(opts)
	return Effect[T]{kind: KindIter, iter: fn, collect: o.collect}
}

// FromStream returns an Effect whose native driver is a channel of results.
// The producer must close the channel when done and stop sending once ctx
// is cancelled.
func FromStream[T any](fn func(ctx context.Context) <-chan Result[T], opts ...Option) Effect[T] {
	o := buildOptions(opts)
	return Effect[T]{kind: KindStream, stream: fn, collect: o.collect}
}

// Drivers lists native implementations for FromDrivers. Unset drivers are
// derived from the set ones using the usual conversion rules.
type Drivers[T any] struct {
	Sync   func(context.Context) (T, error)
	Async  func(context.Context) *Future[T]
	Iter   func(context.Context) iter.Seq2[T, error]
	Stream func(context.Context) <-chan Result[T]
}

// FromDrivers returns an Effect with several native drivers, reporting kind
// as its primary one. Wrappers such as retry use it to keep both the single
// value and the streaming path native.
func FromDrivers[T any](kind Kind, d Drivers[T], opts ...Option) Effect[T] {
	o := buildOptions(opts)
	return Effect[T]{
		kind:    kind,
		sync:    d.Sync,
		async:   d.Async,
		iter:    d.Iter,
		stream:  d.Stream,
		collect: o.collect,
	}
}

// Kind returns the native driver kind.
func (e Effect[T]) Kind() Kind {
	return e.kind
}

// Invoke runs the Effect and returns a single value.
func (e Effect[T]) Invoke(ctx context.Context) (T, error) {
	switch {
	case e.kind == KindPure:
		return e.value, nil
	case e.sync != nil:
		return e.sync(ctx)
	case e.async != nil:
		return e.async(ctx).Await(ctx)
	default:
		return Reduce(e.Iter(ctx), e.collect)
	}
}

// InvokeAsync starts the Effect and returns a Future for its single value.
func (e Effect[T]) InvokeAsync(ctx context.Context) *Future[T] {
	if e.async != nil {
		return e.async(ctx)
	}
	return Go(ctx, e.Invoke)
}

// Iter runs the Effect as a lazy sequence. Non-stream effects yield exactly
// one element. Breaking out of the loop cancels any producer goroutine.
func (e Effect[T]) Iter(ctx context.Context) iter.Seq2[T, error] {
	switch {
	case e.iter != nil:
		return e.iter(ctx)
	case e.stream != nil:
		return func(yield func(T, error) bool) {
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			for r := range e.stream(ctx) {
				if !yield(r.Value, r.Err) || r.Err != nil {
					return
				}
			}
		}
	default:
		return func(yield func(T, error) bool) {
			yield(e.Invoke(ctx))
		}
	}
}

// Stream runs the Effect on a goroutine and delivers elements on the
// returned channel, which is closed when the Effect finishes. An error is
// delivered as the final element.
func (e Effect[T]) Stream(ctx context.Context) <-chan Result[T] {
	if e.stream != nil {
		return e.stream(ctx)
	}
	out := make(chan Result[T])
	go func() {
		defer close(out)
		if e.iter == nil {
			v, err := e.InvokeAsync(ctx).Await(ctx)
			send(ctx, out, Result[T]{Value: v, Err: err})
			return
		}
		for v, err := range e.iter(ctx) {
			if !send(ctx, out, Result[T]{Value: v, Err: err}) || err != nil {
				return
			}
		}
	}()
	return out
}

// send delivers r unless ctx is cancelled first.
func send[T any](ctx context.Context, out chan<- Result[T], r Result[T]) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

// Reduce collects a sequence into a single value. Adjacent elements are
// combined with Add when possible; otherwise c decides which one is kept.
// An empty sequence yields the zero value.
func Reduce[T any](seq iter.Seq2[T, error], c Collect) (T, error) {
	var acc T
	have := false
	for v, err := range seq {
		if err != nil {
			var zero T
			return zero, err
		}
		if !have {
			acc, have = v, true
			continue
		}
		if sum, ok := Add(acc, v); ok {
			acc = sum
		} else if c == CollectLast {
			acc = v
		}
	}
	return acc, nil
}
