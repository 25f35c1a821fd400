package effect

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// Future is the pending result of an asynchronously driven Effect.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// NewFuture returns an unresolved Future and the function that resolves it.
// Only the first call to resolve has an effect.
func NewFuture[T any]() (*Future[T], func(T, error)) {
	f := &Future[T]{done: make(chan struct{})}
	var once sync.Once
	return f, func(v T, err error) {
		once.Do(func() {
			f.value, f.err = v, err
			close(f.done)
		})
	}
}

// Resolved returns a Future that is already complete.
func Resolved[T any](v T, err error) *Future[T] {
	f, resolve := NewFuture[T]()
	resolve(v, err)
	return f
}

// Go runs fn on a new goroutine and returns its Future. A panic in fn is
// recovered and reported as an error.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	f, resolve := NewFuture[T]()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				resolve(zero, fmt.Errorf("effect panicked: %v\n%s", r, debug.Stack()))
			}
		}()
		resolve(fn(ctx))
	}()
	return f
}

// Done is closed once the Future is resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the Future resolves or ctx is cancelled.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
