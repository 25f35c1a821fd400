package flowcore

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/randalmurphal/flowcore/pkg/flowcore/module"
)

// Flow is a mutable builder for creating execution flows.
// Use NewFlow or NewStateFlow to create one, then chain AddNode, AddEdge
// and AddBranch calls to define the workflow.
//
// Flow is NOT thread-safe during building. Use a single goroutine
// to construct the flow, then call Compile() to create an immutable
// CompiledFlow that can be safely shared.
//
// Example:
//
//	flow := flowcore.NewFlow().
//	    AddNode("fetch", fetch).
//	    AddNode("process", process).
//	    AddEdge(flowcore.START, "fetch").
//	    AddEdge("fetch", "process").
//	    AddEdge("process", flowcore.END)
//
//	compiled, err := flow.Compile()
type Flow struct {
	mu       sync.RWMutex
	nodes    map[string]*node
	edges    []edge
	joins    []join
	branches map[string][]*branch
	schema   *Schema
}

type edge struct {
	from, to string
}

type join struct {
	sources []string
	target  string
}

// NewFlow creates a flow whose nodes pass values along their edges: a
// node's input is the output of the node that triggered it, and the flow
// returns the value written to END.
func NewFlow() *Flow {
	return &Flow{
		nodes:    make(map[string]*node),
		branches: make(map[string][]*branch),
	}
}

// AddNode adds a named node to the flow.
// Returns the flow for method chaining.
//
// Panics if:
//   - name is empty
//   - name is START or END
//   - name contains whitespace or ':'
//   - m is the zero Module
//   - name already exists in the flow
func (f *Flow) AddNode(name string, m module.Module[any, any], opts ...NodeOption) *Flow {
	if name == "" {
		panic("flowcore: node name cannot be empty")
	}
	if name == START || name == END {
		panic(fmt.Sprintf("flowcore: node name cannot be reserved word %q", name))
	}
	if strings.ContainsAny(name, " \t\n\r:") {
		panic("flowcore: node name cannot contain whitespace or ':'")
	}
	if m.IsZero() {
		panic("flowcore: node module cannot be empty")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.nodes[name]; exists {
		panic(fmt.Sprintf("flowcore: duplicate node name: %s", name))
	}
	if f.schema != nil && f.schema.has(name) {
		panic(fmt.Sprintf("flowcore: node name %s collides with a state field", name))
	}

	n := &node{bound: m}
	for _, opt := range opts {
		opt(n)
	}
	f.nodes[name] = n
	return f
}

// AddEdge adds an unconditional edge from one node to another.
// from can be START and to can be END.
// Returns the flow for method chaining.
//
// Edge validation happens at Compile() time, not here.
// This allows edges to be added in any order.
func (f *Flow) AddEdge(from, to string) *Flow {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.edges = append(f.edges, edge{from: from, to: to})
	return f
}

// AddJoin adds an edge that fires target once every node in sources has
// run. In a plain flow, target receives a map from source name to that
// source's latest output.
func (f *Flow) AddJoin(sources []string, target string) *Flow {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.joins = append(f.joins, join{sources: slices.Clone(sources), target: target})
	return f
}

// AddBranch adds a conditional edge where path picks the next nodes at
// runtime. path receives the source's output (the state, in a state
// flow) and returns a destination key, a list of keys, or Send packets.
// ends maps keys to node names; with nil ends the keys are node names.
// Returns the flow for method chaining.
func (f *Flow) AddBranch(source string, path module.Module[any, any], ends map[string]string, opts ...BranchOption) *Flow {
	if path.IsZero() {
		panic("flowcore: branch path cannot be empty")
	}
	b := &branch{name: path.Name(), path: path, ends: maps.Clone(ends)}
	for _, opt := range opts {
		opt(b)
	}
	if b.name == "" {
		b.name = "branch"
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.branches[source] = append(f.branches[source], b)
	return f
}

// SetEntry adds an edge from START to name.
func (f *Flow) SetEntry(name string) *Flow {
	return f.AddEdge(START, name)
}

// SetConditionalEntry adds a branch from START.
func (f *Flow) SetConditionalEntry(path module.Module[any, any], ends map[string]string, opts ...BranchOption) *Flow {
	return f.AddBranch(START, path, ends, opts...)
}

// SetFinish adds an edge from name to END.
func (f *Flow) SetFinish(name string) *Flow {
	return f.AddEdge(name, END)
}

// snapshot copies the builder so a CompiledFlow is unaffected by later
// changes.
func (f *Flow) snapshot() *Flow {
	out := &Flow{
		nodes:    make(map[string]*node, len(f.nodes)),
		edges:    slices.Clone(f.edges),
		joins:    make([]join, len(f.joins)),
		branches: make(map[string][]*branch, len(f.branches)),
		schema:   f.schema,
	}
	for name, n := range f.nodes {
		out.nodes[name] = cloneNode(n)
	}
	for i, j := range f.joins {
		out.joins[i] = join{sources: slices.Clone(j.sources), target: j.target}
	}
	for src, bs := range f.branches {
		out.branches[src] = slices.Clone(bs)
	}
	return out
}

// sortedNodes returns the node names, sorted.
func (f *Flow) sortedNodes() []string {
	return slices.Sorted(maps.Keys(f.nodes))
}

// sortedSources returns the branch sources, sorted.
func (f *Flow) sortedSources() []string {
	return slices.Sorted(maps.Keys(f.branches))
}
