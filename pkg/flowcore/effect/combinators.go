package effect

import (
	"context"
	"iter"
)

// Map returns an Effect that applies f to every element e produces.
// The native driver of e is preserved.
func Map[T, U any](e Effect[T], f func(T) (U, error)) Effect[U] {
	out := Effect[U]{kind: e.kind, collect: e.collect}

	if e.kind == KindPure {
		v := e.value
		out.kind = KindSync
		out.sync = func(context.Context) (U, error) {
			return f(v)
		}
		return out
	}

	if e.sync != nil {
		out.sync = func(ctx context.Context) (U, error) {
			v, err := e.sync(ctx)
			if err != nil {
				var zero U
				return zero, err
			}
			return f(v)
		}
	}
	if e.async != nil {
		out.async = func(ctx context.Context) *Future[U] {
			pending := e.async(ctx)
			return Go(ctx, func(ctx context.Context) (U, error) {
				v, err := pending.Await(ctx)
				if err != nil {
					var zero U
					return zero, err
				}
				return f(v)
			})
		}
	}
	if e.iter != nil {
		out.iter = func(ctx context.Context) iter.Seq2[U, error] {
			return mapSeq(e.iter(ctx), f)
		}
	}
	if e.stream != nil {
		out.stream = func(ctx context.Context) <-chan Result[U] {
			in := e.stream(ctx)
			mapped := make(chan Result[U])
			go func() {
				defer close(mapped)
				for r := range in {
					var u Result[U]
					if r.Err != nil {
						u.Err = r.Err
					} else {
						u.Value, u.Err = f(r.Value)
					}
					if !send(ctx, mapped, u) || u.Err != nil {
						return
					}
				}
			}()
			return mapped
		}
	}
	return out
}

func mapSeq[T, U any](seq iter.Seq2[T, error], f func(T) (U, error)) iter.Seq2[U, error] {
	return func(yield func(U, error) bool) {
		for v, err := range seq {
			if err != nil {
				var zero U
				yield(zero, err)
				return
			}
			u, err := f(v)
			if !yield(u, err) || err != nil {
				return
			}
		}
	}
}

// FlatMap returns an Effect that replaces every element x produced by e
// with the elements of f(x). Sequential pipelines are built from FlatMap:
// when e is not a stream, Invoke hands e's single value to f and invokes
// the result directly, and Iter streams whatever f returns.
func FlatMap[T, U any](e Effect[T], f func(T) Effect[U]) Effect[U] {
	out := Effect[U]{kind: KindSync, collect: e.collect}
	if e.kind.IsStream() {
		out.kind = KindIter
	} else {
		out.sync = func(ctx context.Context) (U, error) {
			v, err := e.Invoke(ctx)
			if err != nil {
				var zero U
				return zero, err
			}
			return f(v).Invoke(ctx)
		}
	}

	out.iter = func(ctx context.Context) iter.Seq2[U, error] {
		return func(yield func(U, error) bool) {
			for v, err := range e.Iter(ctx) {
				if err != nil {
					var zero U
					yield(zero, err)
					return
				}
				for u, err := range f(v).Iter(ctx) {
					if !yield(u, err) || err != nil {
						return
					}
				}
			}
		}
	}
	return out
}
