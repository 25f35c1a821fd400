package flowcore

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/randalmurphal/flowcore/pkg/flowcore/channels"
	"github.com/randalmurphal/flowcore/pkg/flowcore/module"
	"github.com/randalmurphal/flowcore/pkg/flowcore/pregel"
)

// branch is a conditional edge: path picks the destinations at runtime.
type branch struct {
	name string
	path module.Module[any, any]
	ends map[string]string
	then string
}

// BranchOption configures a branch added with AddBranch.
type BranchOption func(*branch)

// WithBranchName names the branch. The default is the path Module's name.
// Names must be unique per source node.
func WithBranchName(name string) BranchOption {
	return func(b *branch) {
		b.name = name
	}
}

// WithThen runs node once every destination the branch picked has run.
// The branch must declare its ends, and Send packets may only target them.
func WithThen(node string) BranchOption {
	return func(b *branch) {
		b.then = node
	}
}

// targets returns the nodes the branch may route to, sorted, and false
// when ends are not declared and any node may be picked.
func (b *branch) targets() ([]string, bool) {
	if b.ends == nil {
		return nil, false
	}
	set := map[string]struct{}{}
	for _, dest := range b.ends {
		set[dest] = struct{}{}
	}
	return slices.Sorted(maps.Keys(set)), true
}

// channel names the hidden channel carrying the branch to dest.
func (b *branch) channel(source, dest string) string {
	return "branch:" + source + ":" + b.name + ":" + dest
}

// thenChannel names the barrier gating the then node.
func (b *branch) thenChannel(source string) string {
	return "branch:" + source + ":" + b.name + "::then"
}

func (b *branch) hasThen() bool {
	return b.then != "" && b.then != END
}

// resolve turns a path result into destination nodes and Send packets.
func (b *branch) resolve(result any, known func(string) bool) ([]string, []pregel.Send, error) {
	var (
		dests []string
		sends []pregel.Send
	)
	add := func(item any) error {
		switch v := item.(type) {
		case string:
			dest := v
			if b.ends != nil {
				mapped, ok := b.ends[v]
				if !ok {
					return fmt.Errorf("%w: %q is not one of the declared ends", ErrInvalidBranchResult, v)
				}
				dest = mapped
			}
			if dest == "" || (dest != END && !known(dest)) {
				return fmt.Errorf("%w: %q", ErrInvalidBranchResult, dest)
			}
			if !slices.Contains(dests, dest) {
				dests = append(dests, dest)
			}
		case pregel.Send:
			if err := b.checkSend(v, known); err != nil {
				return err
			}
			sends = append(sends, v)
		case *pregel.Send:
			if v == nil {
				return fmt.Errorf("%w: invalid send", ErrInvalidBranchResult)
			}
			if err := b.checkSend(*v, known); err != nil {
				return err
			}
			sends = append(sends, *v)
		default:
			return fmt.Errorf("%w: unsupported result type %T", ErrInvalidBranchResult, item)
		}
		return nil
	}

	var items []any
	switch v := result.(type) {
	case []string:
		for _, s := range v {
			items = append(items, s)
		}
	case []pregel.Send:
		for _, s := range v {
			items = append(items, s)
		}
	case []any:
		items = v
	default:
		items = []any{result}
	}
	if len(items) == 0 {
		return nil, nil, fmt.Errorf("%w: no destination", ErrInvalidBranchResult)
	}
	for _, item := range items {
		if err := add(item); err != nil {
			return nil, nil, err
		}
	}
	return dests, sends, nil
}

// checkSend validates the target of a Send packet. With a then node, only
// the declared ends report to its barrier, so other targets are rejected.
func (b *branch) checkSend(s pregel.Send, known func(string) bool) error {
	if !known(s.Node) {
		return fmt.Errorf("%w: send to %q", ErrInvalidBranchResult, s.Node)
	}
	if b.hasThen() {
		if dests, _ := b.targets(); !slices.Contains(dests, s.Node) {
			return fmt.Errorf("%w: send to %q, which is not one of the declared ends of a branch with then %q",
				ErrInvalidBranchResult, s.Node, b.then)
		}
	}
	return nil
}

// branchInput computes what the path sees for a task output.
type branchInput func(ctx context.Context, value any, kw module.Kwargs) (any, error)

// branchRoute returns the write carrying the branch to dest, false for none.
type branchRoute func(dest string, value any) (pregel.Write, bool)

// writer returns the Writer evaluating the branch after source runs.
func (b *branch) writer(source string, known func(string) bool, input branchInput, route branchRoute) pregel.Writer {
	return pregel.WriterFunc(func(ctx context.Context, value any, kw module.Kwargs) error {
		send, ok := pregel.SendFrom(kw)
		if !ok {
			return fmt.Errorf("%w: branch %s evaluated outside of a task", pregel.ErrConfiguration, b.name)
		}
		in, err := input(ctx, value, kw)
		if err != nil {
			return &BranchError{Source: source, Branch: b.name, Err: err}
		}
		result, err := b.path.Invoke(ctx, in, kw)
		if err != nil {
			return &BranchError{Source: source, Branch: b.name, Err: err}
		}
		dests, sends, err := b.resolve(result, known)
		if err != nil {
			return &BranchError{Source: source, Branch: b.name, Result: result, Err: err}
		}

		var (
			writes []pregel.Write
			wait   []string
		)
		for _, dest := range dests {
			if w, ok := route(dest, value); ok {
				writes = append(writes, w)
			}
			if dest != END {
				wait = append(wait, dest)
			}
		}
		for _, s := range sends {
			writes = append(writes, pregel.Write{Channel: pregel.Tasks, Value: s})
			if !slices.Contains(wait, s.Node) {
				wait = append(wait, s.Node)
			}
		}
		if b.hasThen() && len(wait) > 0 {
			writes = append(writes, pregel.Write{
				Channel: b.thenChannel(source),
				Value:   channels.WaitForNames{Names: wait},
			})
		}
		if len(writes) == 0 {
			return nil
		}
		return send(writes...)
	})
}
