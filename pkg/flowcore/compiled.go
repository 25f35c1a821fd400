package flowcore

import (
	"slices"

	"github.com/randalmurphal/flowcore/pkg/flowcore/pregel"
)

// CompiledFlow is an immutable, executable flow.
// It is created by calling Compile() on a Flow builder.
//
// CompiledFlow is thread-safe and can be used concurrently for multiple
// runs. It embeds the *pregel.Pregel the flow compiles to, so Invoke,
// Stream, their async variants, Module and the state API (GetState,
// GetStateHistory, UpdateState) are available directly.
//
// Use the introspection methods (NodeNames, Successors, etc.) to examine
// the flow structure for debugging or visualization.
type CompiledFlow struct {
	*pregel.Pregel

	flow *Flow
}

// Builder returns a copy of the builder the flow was compiled from.
func (cf *CompiledFlow) Builder() *Flow {
	return cf.flow.snapshot()
}

// IsStateFlow reports whether the flow shares a state schema.
func (cf *CompiledFlow) IsStateFlow() bool {
	return cf.flow.schema != nil
}

// NodeNames returns the user node names, sorted. Hidden plumbing nodes
// are left out.
func (cf *CompiledFlow) NodeNames() []string {
	return cf.flow.sortedNodes()
}

// HasNode checks if a node exists in the flow.
func (cf *CompiledFlow) HasNode(name string) bool {
	_, exists := cf.flow.nodes[name]
	return exists
}

// Successors returns the targets of name's plain edges and joins, sorted.
// Branch destinations are runtime-determined and not included.
func (cf *CompiledFlow) Successors(name string) []string {
	if name == END {
		return nil
	}
	var out []string
	for _, e := range cf.flow.edges {
		if e.from == name && !slices.Contains(out, e.to) {
			out = append(out, e.to)
		}
	}
	for _, j := range cf.flow.joins {
		if slices.Contains(j.sources, name) && !slices.Contains(out, j.target) {
			out = append(out, j.target)
		}
	}
	slices.Sort(out)
	return out
}

// Predecessors returns the sources of plain edges and joins into name,
// sorted.
func (cf *CompiledFlow) Predecessors(name string) []string {
	var out []string
	for _, e := range cf.flow.edges {
		if e.to == name && !slices.Contains(out, e.from) {
			out = append(out, e.from)
		}
	}
	for _, j := range cf.flow.joins {
		if j.target != name {
			continue
		}
		for _, src := range j.sources {
			if !slices.Contains(out, src) {
				out = append(out, src)
			}
		}
	}
	slices.Sort(out)
	return out
}

// IsConditional returns true if the node has a branch.
func (cf *CompiledFlow) IsConditional(name string) bool {
	return len(cf.flow.branches[name]) > 0
}
