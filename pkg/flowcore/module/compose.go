package module

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"

	"github.com/randalmurphal/flowcore/pkg/flowcore/effect"
)

// Pipe returns a Module feeding the output of first into second. Both stages
// receive the same keyword configuration. When second streams, the pipe
// streams second's elements; when first streams, second runs once per
// element of first.
func Pipe[A, B, C any](first Module[A, B], second Module[B, C]) Module[A, C] {
	kind := effect.KindSync
	if second.kind.IsStream() || first.kind.IsStream() {
		kind = effect.KindIter
	}
	m := New(first.name+"|"+second.name, kind, func(in A, kw Kwargs) effect.Effect[C] {
		return effect.FlatMap(first.run(in, kw), func(b B) effect.Effect[C] {
			return second.run(b, kw)
		})
	})
	m.inType, m.outType = first.inType, second.outType
	return m
}

// Pipe3 chains three Modules.
func Pipe3[A, B, C, D any](first Module[A, B], second Module[B, C], third Module[C, D]) Module[A, D] {
	return Pipe(Pipe(first, second), third)
}

// MapIn returns a Module that transforms its input with f before running m.
func MapIn[A, B, C any](m Module[B, C], f func(A) (B, error)) Module[A, C] {
	out := New(m.name, m.kind, func(in A, kw Kwargs) effect.Effect[C] {
		return effect.FlatMap(effect.Sync(func(context.Context) (B, error) {
			return f(in)
		}), func(b B) effect.Effect[C] {
			return m.run(b, kw)
		})
	})
	out.description, out.metadata = m.description, m.metadata
	return out
}

// MapOut returns a Module that transforms every element m produces with f.
func MapOut[A, B, C any](m Module[A, B], f func(B) (C, error)) Module[A, C] {
	out := New(m.name, m.kind, func(in A, kw Kwargs) effect.Effect[C] {
		return effect.Map(m.run(in, kw), f)
	})
	out.description, out.metadata = m.description, m.metadata
	out.inType = m.inType
	return out
}

// Map attaches a pre-transformer and a post-transformer to m.
func Map[A, B, C, D any](m Module[B, C], pre func(A) (B, error), post func(C) (D, error)) Module[A, D] {
	return MapOut(MapIn(m, pre), post)
}

// Each returns a Module that runs m on every element of a slice
// concurrently, preserving order. maxWorkers bounds concurrency when
// positive.
func Each[In, Out any](m Module[In, Out], maxWorkers int) Module[[]In, []Out] {
	return New(m.name+"[]", effect.KindSync, func(in []In, kw Kwargs) effect.Effect[[]Out] {
		effects := make(map[string]effect.Effect[Out], len(in))
		for i, v := range in {
			effects[strconv.Itoa(i)] = m.run(v, kw)
		}
		return effect.Map(effect.Parallel(effects, effect.WithMaxWorkers(maxWorkers)), func(res map[string]Out) ([]Out, error) {
			out := make([]Out, len(in))
			for i := range out {
				out[i] = res[strconv.Itoa(i)]
			}
			return out, nil
		})
	})
}

// Parallel returns a Module that runs every branch on the same input
// concurrently and yields a map of branch outputs. Streamed, it emits a
// running snapshot each time a branch produces an element.
func Parallel[In, Out any](name string, branches map[string]Module[In, Out], opts ...effect.ParallelOption) Module[In, map[string]Out] {
	return New(name, effect.KindSync, func(in In, kw Kwargs) effect.Effect[map[string]Out] {
		effects := make(map[string]effect.Effect[Out], len(branches))
		for key, b := range branches {
			effects[key] = b.run(in, kw)
		}
		return effect.Parallel(effects, opts...)
	})
}

// Erase converts m into a Module over untyped values. Inputs that are not
// already an In are coerced through their JSON form; outputs are boxed.
func Erase[In, Out any](m Module[In, Out]) Module[any, any] {
	out := New(m.name, m.kind, func(in any, kw Kwargs) effect.Effect[any] {
		typed, err := Coerce[In](in)
		if err != nil {
			return effect.Fail[any](fmt.Errorf("module %s: %w", m.name, err))
		}
		return effect.Map(m.run(typed, kw), func(o Out) (any, error) {
			return o, nil
		})
	})
	out.description, out.metadata = m.description, m.metadata
	out.inType, out.outType = m.inType, m.outType
	return out
}

// Coerce converts v to T. Values that already are a T pass through; nil
// becomes the zero T; anything else round-trips through JSON.
func Coerce[T any](v any) (T, error) {
	var zero T
	if v == nil {
		return zero, nil
	}
	if typed, ok := v.(T); ok {
		return typed, nil
	}

	var raw []byte
	switch val := v.(type) {
	case json.RawMessage:
		raw = val
	case []byte:
		raw = val
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return zero, fmt.Errorf("coerce %T to %v: %w", v, reflect.TypeFor[T](), err)
		}
		raw = b
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("coerce %T to %v: %w", v, reflect.TypeFor[T](), err)
	}
	return out, nil
}
