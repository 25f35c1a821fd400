package flowcore

import (
	"context"
	"slices"

	flowerrors "github.com/randalmurphal/flowcore/pkg/flowcore/errors"
	"github.com/randalmurphal/flowcore/pkg/flowcore/module"
)

// START is the virtual source node. Edges from START pick the nodes that
// run on the flow input.
const START = "__start__"

// END is the terminal node identifier.
// Use this as an edge target to indicate the flow should terminate.
const END = "__end__"

// node is a Module added to a Flow, with its options applied.
type node struct {
	bound module.Module[any, any]
	tags  []string
}

// NodeOption configures a node added with AddNode.
type NodeOption func(*node)

// WithNodeRetry retries the node's Module per cfg.
//
// Example:
//
//	flow.AddNode("fetch", fetch, flowcore.WithNodeRetry(
//	    errors.NewRetryConfig(errors.WithMaxAttempts(5)),
//	))
func WithNodeRetry(cfg flowerrors.RetryConfig) NodeOption {
	return func(n *node) {
		n.bound = flowerrors.Retry(n.bound, cfg)
	}
}

// WithNodeFallbacks tries fallbacks in order when the node's Module fails.
func WithNodeFallbacks(fallbacks ...module.Module[any, any]) NodeOption {
	return func(n *node) {
		n.bound = flowerrors.WithFallbacks(n.bound, fallbacks...)
	}
}

// WithNodeTags labels the node. Tags are visible on the compiled
// pregel.Node.
func WithNodeTags(tags ...string) NodeOption {
	return func(n *node) {
		n.tags = append(n.tags, tags...)
	}
}

// Func wraps fn as a node Module. Inputs are coerced to In the same way
// module.Erase does.
//
// Example:
//
//	flow.AddNode("inc", flowcore.Func("inc", func(_ context.Context, x int) (int, error) {
//	    return x + 1, nil
//	}))
func Func[In, Out any](name string, fn func(ctx context.Context, in In) (Out, error)) module.Module[any, any] {
	return module.Erase(module.Func(name, fn))
}

// Router wraps fn as a branch path returning a destination key.
func Router[In any](name string, fn func(ctx context.Context, in In) (string, error)) module.Module[any, any] {
	return module.Erase(module.Func(name, fn))
}

func cloneNode(n *node) *node {
	return &node{bound: n.bound, tags: slices.Clone(n.tags)}
}
