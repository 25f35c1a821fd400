// Package module provides the uniform unit of work for flowcore.
//
// A Module[In, Out] is a named, typed value that builds an effect.Effect[Out]
// from an input and keyword configuration. Modules come in four variants,
// one per native driver:
//
//	upper := module.Func("upper", func(ctx context.Context, s string) (string, error) {
//	    return strings.ToUpper(s), nil
//	})
//
//	tokens := module.Stream("tokens", func(ctx context.Context, s string, kw module.Kwargs) iter.Seq2[string, error] {
//	    return func(yield func(string, error) bool) {
//	        for _, f := range strings.Fields(s) {
//	            if !yield(f+" ", nil) {
//	                return
//	            }
//	        }
//	    }
//	})
//
//	pipeline := module.Pipe(upper, tokens)
//	out, err := pipeline.Invoke(ctx, "hello world") // "HELLO WORLD "
//
// Every Module can be driven four ways (Invoke, InvokeAsync, Iter, Stream)
// regardless of its variant; the conversions follow package effect.
//
// Modules are immutable. Bind, WithTypes, WithRetry, WithFallbacks and
// WithRateLimit return new Modules that share one flat decorator record.
package module

import (
	"context"
	"iter"
	"reflect"

	"github.com/randalmurphal/flowcore/pkg/flowcore/effect"
)

// Module is a composable, typed unit of work.
type Module[In, Out any] struct {
	name        string
	description string
	kind        effect.Kind
	inType      reflect.Type
	outType     reflect.Type
	metadata    map[string]any
	run         func(in In, kw Kwargs) effect.Effect[Out]
	deco        *decorator[In, Out]
}

// Option configures a Module at construction.
type Option func(*moduleOptions)

type moduleOptions struct {
	description string
	metadata    map[string]any
	collect     effect.Collect
}

// WithDescription sets the human-readable description exposed to tools.
func WithDescription(desc string) Option {
	return func(o *moduleOptions) {
		o.description = desc
	}
}

// WithMetadata attaches free-form metadata exposed to tools.
func WithMetadata(md map[string]any) Option {
	return func(o *moduleOptions) {
		o.metadata = md
	}
}

// WithCollect selects how a streaming Module reduces to one value when its
// elements do not support addition.
func WithCollect(c effect.Collect) Option {
	return func(o *moduleOptions) {
		o.collect = c
	}
}

// New creates a Module from an effect builder. kind names the native driver
// of the effects build returns.
func New[In, Out any](name string, kind effect.Kind, build func(in In, kw Kwargs) effect.Effect[Out], opts ...Option) Module[In, Out] {
	var o moduleOptions
	for _, opt := range opts {
		opt(&o)
	}
	if name == "" {
		name = kind.String()
	}
	return Module[In, Out]{
		name:        name,
		description: o.description,
		kind:        kind,
		inType:      reflect.TypeFor[In](),
		outType:     reflect.TypeFor[Out](),
		metadata:    o.metadata,
		run:         build,
	}
}

func collectOption(opts []Option) effect.Collect {
	var o moduleOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o.collect
}

// Sync creates a Module whose native driver is a blocking function.
func Sync[In, Out any](name string, fn func(ctx context.Context, in In, kw Kwargs) (Out, error), opts ...Option) Module[In, Out] {
	return New(name, effect.KindSync, func(in In, kw Kwargs) effect.Effect[Out] {
		return effect.Sync(func(ctx context.Context) (Out, error) {
			return fn(ctx, in, kw)
		})
	}, opts...)
}

// Async creates a Module whose native driver returns a Future.
func Async[In, Out any](name string, fn func(ctx context.Context, in In, kw Kwargs) *effect.Future[Out], opts ...Option) Module[In, Out] {
	return New(name, effect.KindAsync, func(in In, kw Kwargs) effect.Effect[Out] {
		return effect.Async(func(ctx context.Context) *effect.Future[Out] {
			return fn(ctx, in, kw)
		})
	}, opts...)
}

// Stream creates a Module whose native driver is a lazy sequence.
func Stream[In, Out any](name string, fn func(ctx context.Context, in In, kw Kwargs) iter.Seq2[Out, error], opts ...Option) Module[In, Out] {
	collect := collectOption(opts)
	return New(name, effect.KindIter, func(in In, kw Kwargs) effect.Effect[Out] {
		return effect.FromIter(func(ctx context.Context) iter.Seq2[Out, error] {
			return fn(ctx, in, kw)
		}, effect.WithCollect(collect))
	}, opts...)
}

// AsyncStream creates a Module whose native driver delivers results over a
// channel. fn must close the channel when done and stop once ctx is cancelled.
func AsyncStream[In, Out any](name string, fn func(ctx context.Context, in In, kw Kwargs) <-chan effect.Result[Out], opts ...Option) Module[In, Out] {
	collect := collectOption(opts)
	return New(name, effect.KindStream, func(in In, kw Kwargs) effect.Effect[Out] {
		return effect.FromStream(func(ctx context.Context) <-chan effect.Result[Out] {
			return fn(ctx, in, kw)
		}, effect.WithCollect(collect))
	}, opts...)
}

// Func creates a Sync Module from a function that ignores keyword configuration.
func Func[In, Out any](name string, fn func(ctx context.Context, in In) (Out, error), opts ...Option) Module[In, Out] {
	return Sync(name, func(ctx context.Context, in In, _ Kwargs) (Out, error) {
		return fn(ctx, in)
	}, opts...)
}

// Const creates a Module that ignores its input and returns v.
func Const[In, Out any](name string, v Out) Module[In, Out] {
	return New(name, effect.KindPure, func(In, Kwargs) effect.Effect[Out] {
		return effect.Pure(v)
	})
}

// Passthrough creates a Module that returns its input unchanged.
func Passthrough[T any](name string) Module[T, T] {
	return New(name, effect.KindPure, func(in T, _ Kwargs) effect.Effect[T] {
		return effect.Pure(in)
	})
}

// Name returns the Module name.
func (m Module[In, Out]) Name() string {
	return m.name
}

// Description returns the Module description.
func (m Module[In, Out]) Description() string {
	return m.description
}

// Kind returns the native driver kind.
func (m Module[In, Out]) Kind() effect.Kind {
	return m.kind
}

// Metadata returns the metadata attached at construction.
func (m Module[In, Out]) Metadata() map[string]any {
	return m.metadata
}

// InputType returns the declared input type.
func (m Module[In, Out]) InputType() reflect.Type {
	return m.inType
}

// OutputType returns the declared output type.
func (m Module[In, Out]) OutputType() reflect.Type {
	return m.outType
}

// InputSchema describes acceptable inputs.
func (m Module[In, Out]) InputSchema() *Schema {
	return SchemaOf(m.inType)
}

// OutputSchema describes produced outputs.
func (m Module[In, Out]) OutputSchema() *Schema {
	return SchemaOf(m.outType)
}

// IsZero reports whether m was never constructed.
func (m Module[In, Out]) IsZero() bool {
	return m.run == nil
}

// Effect builds the deferred computation for in. Keyword sets are merged
// left to right, so later values win.
func (m Module[In, Out]) Effect(in In, kw ...Kwargs) effect.Effect[Out] {
	return m.run(in, Merge(kw...))
}

// Invoke runs the Module and returns a single value.
func (m Module[In, Out]) Invoke(ctx context.Context, in In, kw ...Kwargs) (Out, error) {
	return m.Effect(in, kw...).Invoke(ctx)
}

// InvokeAsync starts the Module and returns a Future for its value.
func (m Module[In, Out]) InvokeAsync(ctx context.Context, in In, kw ...Kwargs) *effect.Future[Out] {
	return m.Effect(in, kw...).InvokeAsync(ctx)
}

// Iter runs the Module as a lazy sequence.
func (m Module[In, Out]) Iter(ctx context.Context, in In, kw ...Kwargs) iter.Seq2[Out, error] {
	return m.Effect(in, kw...).Iter(ctx)
}

// Stream runs the Module on a goroutine, delivering elements on a channel.
func (m Module[In, Out]) Stream(ctx context.Context, in In, kw ...Kwargs) <-chan effect.Result[Out] {
	return m.Effect(in, kw...).Stream(ctx)
}

// String returns the Module name.
func (m Module[In, Out]) String() string {
	return m.name
}
