package flowcore

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/randalmurphal/flowcore/pkg/flowcore/module"
)

var errBoom = errors.New("boom")

// intNode is a node applying f to an int input.
func intNode(name string, f func(int) int) module.Module[any, any] {
	return Func(name, func(_ context.Context, x int) (int, error) {
		return f(x), nil
	})
}

// constNode is a node ignoring its input and returning v.
func constNode(name string, v any) module.Module[any, any] {
	return module.Const[any, any](name, v)
}

// passthrough returns its input unchanged.
func passthrough(name string) module.Module[any, any] {
	return module.Passthrough[any](name)
}

// stateNode is a state flow node computing an update from the state.
func stateNode(name string, f func(s map[string]any) map[string]any) module.Module[any, any] {
	return Func(name, func(_ context.Context, s map[string]any) (map[string]any, error) {
		return f(s), nil
	})
}

// countingNode wraps m and counts its invocations.
func countingNode(m module.Module[any, any], calls *atomic.Int32) module.Module[any, any] {
	return module.Func(m.Name(), func(ctx context.Context, in any) (any, error) {
		calls.Add(1)
		return m.Invoke(ctx, in)
	})
}

// flakyNode fails failures times before returning v.
func flakyNode(name string, failures int32, v any) (module.Module[any, any], *atomic.Int32) {
	calls := &atomic.Int32{}
	return module.Func(name, func(context.Context, any) (any, error) {
		if calls.Add(1) <= failures {
			return nil, errBoom
		}
		return v, nil
	}), calls
}

// linear builds START -> inc -> double -> END.
func linear() *Flow {
	return NewFlow().
		AddNode("inc", intNode("inc", func(x int) int { return x + 1 })).
		AddNode("double", intNode("double", func(x int) int { return x * 2 })).
		AddEdge(START, "inc").
		AddEdge("inc", "double").
		AddEdge("double", END)
}
