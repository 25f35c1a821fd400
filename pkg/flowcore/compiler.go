package flowcore

import (
	"context"
	"fmt"
	"slices"

	"github.com/randalmurphal/flowcore/pkg/flowcore/channels"
	"github.com/randalmurphal/flowcore/pkg/flowcore/module"
	"github.com/randalmurphal/flowcore/pkg/flowcore/pregel"
)

// compiler lowers a Flow onto pregel nodes and channels.
type compiler struct {
	flow     *Flow
	channels map[string]channels.Channel
	nodes    map[string]*pregel.Node
	entries  map[string][]pregel.WriteEntry
	writers  map[string][]pregel.Writer
}

func newCompiler(f *Flow) *compiler {
	return &compiler{
		flow:     f,
		channels: map[string]channels.Channel{},
		nodes:    map[string]*pregel.Node{},
		entries:  map[string][]pregel.WriteEntry{},
		writers:  map[string][]pregel.Writer{},
	}
}

func (c *compiler) known(name string) bool {
	_, ok := c.flow.nodes[name]
	return ok
}

// trigger schedules node whenever channel is updated.
func (c *compiler) trigger(node, channel string) {
	n := c.nodes[node]
	if !slices.Contains(n.Triggers, channel) {
		n.Triggers = append(n.Triggers, channel)
	}
}

// read adds channel to the channels node takes its input from.
func (c *compiler) read(node, channel string) {
	n := c.nodes[node]
	if !slices.Contains(n.Channels, channel) {
		n.Channels = append(n.Channels, channel)
	}
}

// write makes node publish e after every run.
func (c *compiler) write(node string, e pregel.WriteEntry) {
	c.entries[node] = append(c.entries[node], e)
}

// startNode returns the hidden node running on the flow input.
func (c *compiler) startNode() *pregel.Node {
	if n, ok := c.nodes[START]; ok {
		return n
	}
	n := &pregel.Node{
		Triggers: []string{START},
		Channels: []string{START},
		Tags:     []string{pregel.TagHidden},
	}
	c.nodes[START] = n
	return n
}

func (c *compiler) userNode(name string) *pregel.Node {
	n := c.flow.nodes[name]
	out := &pregel.Node{Bound: n.bound, Tags: slices.Clone(n.tags)}
	c.nodes[name] = out
	c.channels[name] = channels.NewEphemeral[any](false)
	return out
}

// finish attaches the collected writers: channel writes first, so
// branches reading fresh state see them.
func (c *compiler) finish() map[string]*pregel.Node {
	for name, n := range c.nodes {
		var ws []pregel.Writer
		if entries := c.entries[name]; len(entries) > 0 {
			ws = append(ws, &pregel.ChannelWrite{Entries: entries})
		}
		n.Writers = append(ws, c.writers[name]...)
	}
	return c.nodes
}

// branchEndpoints creates the channels from source through b to its
// destinations and the barrier gating its then node. With read set,
// destinations take their input from the branch and the then node reads
// the destinations' outputs.
func (c *compiler) branchEndpoints(source string, b *branch, read bool) {
	dests, declared := b.targets()
	if !declared {
		dests = c.flow.sortedNodes()
	}
	dests = slices.DeleteFunc(dests, func(d string) bool { return d == END })

	for _, dest := range dests {
		ch := b.channel(source, dest)
		c.channels[ch] = channels.NewEphemeral[any](false)
		c.trigger(dest, ch)
		if read {
			c.read(dest, ch)
		}
	}
	if !b.hasThen() {
		return
	}
	then := b.thenChannel(source)
	c.channels[then] = channels.NewDynamicBarrier()
	for _, dest := range dests {
		c.write(dest, pregel.WriteEntry{Channel: then, Value: dest})
	}
	c.trigger(b.then, then)
	if read {
		for _, dest := range dests {
			c.read(b.then, dest)
		}
	}
}

// compilePlain wires a flow passing values along its edges. Every node
// writes its output to its own channel; successors read it from there.
func (c *compiler) compilePlain() (input, output pregel.Keys) {
	f := c.flow
	c.channels[START] = channels.NewEphemeral[any](false)
	c.channels[END] = channels.NewEphemeral[any](false)

	for _, name := range f.sortedNodes() {
		c.userNode(name)
		c.write(name, pregel.WriteEntry{Channel: name})
	}

	for _, e := range f.edges {
		if e.to == END {
			c.write(e.from, pregel.WriteEntry{Channel: END})
			continue
		}
		c.trigger(e.to, e.from)
		c.read(e.to, e.from)
	}

	for _, j := range f.joins {
		barrier := joinChannel(j)
		c.channels[barrier] = channels.NewNamedBarrier(j.sources...)
		c.trigger(j.target, barrier)
		target := c.nodes[j.target]
		if target.Mapping == nil {
			target.Mapping = map[string]string{}
		}
		for _, src := range j.sources {
			value := barrier + ":" + src
			c.channels[value] = channels.NewLastValue[any]()
			c.write(src, pregel.WriteEntry{Channel: value})
			c.write(src, pregel.WriteEntry{Channel: barrier, Value: src})
			target.Mapping[src] = value
		}
	}

	for _, source := range f.sortedSources() {
		if source == START {
			c.startNode()
		}
		for _, b := range f.branches[source] {
			c.branchEndpoints(source, b, true)
			route := func(dest string, value any) (pregel.Write, bool) {
				if dest == END {
					return pregel.Write{Channel: END, Value: value}, true
				}
				return pregel.Write{Channel: b.channel(source, dest), Value: value}, true
			}
			c.writers[source] = append(c.writers[source], b.writer(source, c.known, passValue, route))
		}
	}

	return pregel.Key(START), pregel.Key(END)
}

func passValue(_ context.Context, value any, _ module.Kwargs) (any, error) {
	return value, nil
}

// compileState wires a flow sharing state channels derived from the
// schema. Node channels only latch that a node ran; they carry its update.
func (c *compiler) compileState(inputKeys []string) (input, output pregel.Keys, opts []pregel.RunOption) {
	f := c.flow
	s := f.schema
	keys := s.Keys()
	readable := slices.Concat(keys, s.ManagedKeys())

	for _, field := range s.fields {
		if field.channel != nil {
			c.channels[field.name] = field.channel
		} else {
			opts = append(opts, pregel.WithManaged(field.name, field.managed))
		}
	}

	c.channels[START] = channels.NewEphemeral[any](false)
	c.startNode()
	if len(inputKeys) > 0 {
		c.stateWrites(START, inputKeys)
	} else {
		c.stateWrites(START, keys)
	}

	for _, name := range f.sortedNodes() {
		n := c.userNode(name)
		if s.root {
			n.Channels = []string{Root}
		} else {
			n.Mapping = make(map[string]string, len(readable))
			for _, k := range readable {
				n.Mapping[k] = k
			}
		}
		c.stateWrites(name, keys)
		c.write(name, pregel.WriteEntry{Channel: name, Mapper: latch(keys, s.root)})
	}

	for _, e := range f.edges {
		switch {
		case e.to == END:
		case e.from == START:
			ch := "start:" + e.to
			c.channels[ch] = channels.NewEphemeral[any](false)
			c.write(START, pregel.WriteEntry{Channel: ch, Value: START})
			c.trigger(e.to, ch)
		default:
			c.trigger(e.to, e.from)
		}
	}

	for _, j := range f.joins {
		barrier := joinChannel(j)
		c.channels[barrier] = channels.NewNamedBarrier(j.sources...)
		c.trigger(j.target, barrier)
		for _, src := range j.sources {
			c.write(src, pregel.WriteEntry{Channel: barrier, Value: src})
		}
	}

	state := s.keys()
	for _, source := range f.sortedSources() {
		for _, b := range f.branches[source] {
			c.branchEndpoints(source, b, false)
			route := func(dest string, _ any) (pregel.Write, bool) {
				if dest == END {
					return pregel.Write{}, false
				}
				return pregel.Write{Channel: b.channel(source, dest), Value: source}, true
			}
			c.writers[source] = append(c.writers[source], b.writer(source, c.known, readState(state), route))
		}
	}

	return pregel.Key(START), state, opts
}

// stateWrites makes node apply its partial update to the state keys.
func (c *compiler) stateWrites(node string, keys []string) {
	if c.flow.schema.root {
		c.write(node, pregel.WriteEntry{Channel: Root, SkipNone: true})
		return
	}
	for _, k := range keys {
		c.write(node, pregel.WriteEntry{Channel: k, Mapper: pick(k)})
	}
}

// readState returns a branch input reading the state as the task sees it
// after its own writes.
func readState(keys pregel.Keys) branchInput {
	return func(_ context.Context, _ any, kw module.Kwargs) (any, error) {
		read, ok := pregel.ReadFrom(kw)
		if !ok {
			return nil, fmt.Errorf("%w: state read outside of a task", pregel.ErrConfiguration)
		}
		return read(keys, true)
	}
}
