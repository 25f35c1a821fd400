package flowcore

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/randalmurphal/flowcore/pkg/flowcore/pregel"
)

// Compile validates the flow and creates an executable CompiledFlow.
// Returns an error if validation fails. Multiple errors are joined
// together; each one matches ErrInvalidFlow.
//
// Validation checks:
//  1. Something is connected to START
//  2. Every edge, join and branch references existing nodes
//  3. Every node is the target of some edge, join or branch
//  4. Every node has an outgoing edge, join or branch
//  5. Interrupts reference existing nodes and have a checkpointer
//  6. The state schema is well formed (state flows only)
//
// Nodes that are targeted but not reachable from START are logged as
// warnings but do not cause compilation to fail.
func (f *Flow) Compile(opts ...CompileOption) (*CompiledFlow, error) {
	cfg := defaultCompileConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if err := f.validate(cfg); err != nil {
		return nil, err
	}
	f.warnUnreachableNodes(cfg.logger)

	b := f.snapshot()
	c := newCompiler(b)
	var (
		input, output pregel.Keys
		runOpts       = cfg.pregelOptions()
	)
	if b.schema == nil {
		input, output = c.compilePlain()
	} else {
		var managed []pregel.RunOption
		input, output, managed = c.compileState(cfg.inputKeys)
		runOpts = append(runOpts, managed...)
	}

	p, err := pregel.New(c.finish(), c.channels, input, output, runOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFlow, err)
	}
	return &CompiledFlow{Pregel: p, flow: b}, nil
}

// validate collects every structural problem of the flow.
func (f *Flow) validate(cfg compileConfig) error {
	var errs []error
	fail := func(kind error, format string, args ...any) {
		errs = append(errs, invalid(kind, format, args...))
	}
	isNode := func(name string) bool {
		_, ok := f.nodes[name]
		return ok
	}

	if len(f.nodes) == 0 {
		fail(ErrNodeNotFound, "flow has no nodes")
	}

	hasEntry := len(f.branches[START]) > 0
	targeted := map[string]bool{}
	outgoing := map[string]bool{}
	plainIn := map[string]bool{}

	// 1 & 2. Edges
	for _, e := range f.edges {
		switch {
		case e.from == END:
			fail(ErrInvalidEdge, "edge from END to %s", e.to)
		case e.to == START:
			fail(ErrInvalidEdge, "edge from %s to START", e.from)
		case e.from == START && e.to == END:
			fail(ErrInvalidEdge, "edge from START to END")
		}
		if e.from != START && e.from != END && !isNode(e.from) {
			fail(ErrNodeNotFound, "edge source '%s' does not exist", e.from)
		}
		if e.to != START && e.to != END && !isNode(e.to) {
			fail(ErrNodeNotFound, "edge target '%s' does not exist", e.to)
		}
		if e.from == START {
			hasEntry = true
		}
		outgoing[e.from] = true
		targeted[e.to] = true
		plainIn[e.to] = true
	}

	// Joins
	for _, j := range f.joins {
		if len(j.sources) == 0 {
			fail(ErrInvalidEdge, "join to '%s' has no sources", j.target)
		}
		seen := map[string]bool{}
		for _, src := range j.sources {
			if seen[src] {
				fail(ErrInvalidEdge, "join to '%s' lists '%s' twice", j.target, src)
			}
			seen[src] = true
			if !isNode(src) {
				fail(ErrNodeNotFound, "join source '%s' does not exist", src)
			}
			outgoing[src] = true
		}
		if !isNode(j.target) {
			fail(ErrNodeNotFound, "join target '%s' does not exist", j.target)
		}
		targeted[j.target] = true
	}

	// Branches
	for _, source := range f.sortedSources() {
		if source != START && !isNode(source) {
			fail(ErrNodeNotFound, "branch source '%s' does not exist", source)
		}
		outgoing[source] = true
		names := map[string]bool{}
		for _, b := range f.branches[source] {
			if names[b.name] {
				fail(ErrInvalidBranch, "duplicate branch '%s' on '%s'", b.name, source)
			}
			names[b.name] = true

			targets, declared := b.targets()
			if !declared {
				for name := range f.nodes {
					targeted[name] = true
				}
			}
			for _, t := range targets {
				if t != END && !isNode(t) {
					fail(ErrNodeNotFound, "branch '%s' target '%s' does not exist", b.name, t)
				}
				targeted[t] = true
				plainIn[t] = true
			}
			if b.then == "" {
				continue
			}
			if !declared {
				fail(ErrInvalidBranch, "branch '%s' on '%s' needs declared ends to use then", b.name, source)
			}
			if b.then != END && !isNode(b.then) {
				fail(ErrNodeNotFound, "branch '%s' then '%s' does not exist", b.name, b.then)
			}
			targeted[b.then] = true
			for _, t := range targets {
				outgoing[t] = true
			}
		}
	}

	if f.schema == nil {
		for _, j := range f.joins {
			if plainIn[j.target] {
				fail(ErrInvalidEdge, "node '%s' mixes a join with other incoming edges", j.target)
			}
		}
	}

	if !hasEntry {
		errs = append(errs, invalid(ErrNoEntryPoint, "connect a node to START"))
	}

	// 3 & 4. Every node is targeted and leads somewhere
	for _, name := range f.sortedNodes() {
		if !targeted[name] {
			fail(ErrUnreachableNode, "'%s' is not the target of any edge or branch", name)
		}
		if !outgoing[name] {
			fail(ErrDeadEnd, "'%s'", name)
		}
	}

	// 5. Interrupts
	for _, name := range slices.Concat(cfg.interruptBefore, cfg.interruptAfter) {
		if name != pregel.All && !isNode(name) {
			fail(ErrInvalidInterrupt, "'%s'", name)
		}
	}
	if (len(cfg.interruptBefore) > 0 || len(cfg.interruptAfter) > 0) && cfg.saver == nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidFlow, pregel.ErrCheckpointerRequired))
	}

	// 6. Schema
	switch {
	case f.schema != nil:
		errs = append(errs, f.schema.validate()...)
		for _, k := range cfg.inputKeys {
			if !slices.Contains(f.schema.Keys(), k) {
				fail(ErrInvalidSchema, "input key '%s' is not a state key", k)
			}
		}
	case len(cfg.inputKeys) > 0:
		fail(ErrInvalidSchema, "input keys need a state flow")
	}

	return errors.Join(errs...)
}

// warnUnreachableNodes logs warnings for nodes not reachable from START.
func (f *Flow) warnUnreachableNodes(logger *zap.Logger) {
	reachable := f.findReachableNodes()
	for _, name := range f.sortedNodes() {
		if !reachable[name] {
			logger.Warn("node is unreachable from START", zap.String("node", name))
		}
	}
}

// findReachableNodes returns the set of nodes reachable from START.
func (f *Flow) findReachableNodes() map[string]bool {
	reachable := map[string]bool{START: true}

	// Keep propagating until no changes
	changed := true
	mark := func(name string) {
		if name != END && !reachable[name] {
			reachable[name] = true
			changed = true
		}
	}
	for changed {
		changed = false
		for _, e := range f.edges {
			if reachable[e.from] {
				mark(e.to)
			}
		}
		for _, j := range f.joins {
			if slices.ContainsFunc(j.sources, func(s string) bool { return reachable[s] }) {
				mark(j.target)
			}
		}
		for source, bs := range f.branches {
			if !reachable[source] {
				continue
			}
			for _, b := range bs {
				targets, declared := b.targets()
				if !declared {
					targets = f.sortedNodes()
				}
				for _, t := range targets {
					mark(t)
				}
				if b.hasThen() {
					mark(b.then)
				}
			}
		}
	}
	return reachable
}

func joinChannel(j join) string {
	return "join:" + strings.Join(j.sources, "+") + ":" + j.target
}
