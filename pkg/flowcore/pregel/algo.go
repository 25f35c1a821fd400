package pregel

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/flowcore/pkg/flowcore/channels"
	"github.com/randalmurphal/flowcore/pkg/flowcore/checkpoint"
	"github.com/randalmurphal/flowcore/pkg/flowcore/managed"
)

// interruptKey is the VersionsSeen entry recording the channel versions at
// the last interrupt resumption.
const interruptKey = "__interrupt__"

// taskNamespace seeds deterministic task identifiers.
var taskNamespace = uuid.MustParse("6ba7b812-9dad-11d1-80b4-00c04fd430c8")

// task is one node execution planned for a step.
type task struct {
	id       string
	name     string
	node     *Node
	input    any
	triggers []string
	step     int

	mu     sync.Mutex
	writes []Write
}

func newTask(cp *checkpoint.Checkpoint, step int, name string, node *Node, input any, triggers []string, salt string) *task {
	key := fmt.Sprintf("%s:%d:%s:%s:%s", cp.ID, step, name, strings.Join(triggers, ","), salt)
	return &task{
		id:       uuid.NewSHA1(taskNamespace, []byte(key)).String(),
		name:     name,
		node:     node,
		input:    input,
		triggers: triggers,
		step:     step,
	}
}

func (t *task) queue(writes []Write) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes = append(t.writes, writes...)
}

func (t *task) queued() []Write {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.writes)
}

func (t *task) info() TaskInfo {
	return TaskInfo{ID: t.id, Name: t.name, Step: t.step, Triggers: t.triggers}
}

// restore rebuilds the run's channels from cp.
func (p *Pregel) restore(cp *checkpoint.Checkpoint) (map[string]channels.Channel, error) {
	out := make(map[string]channels.Channel, len(p.channels))
	for name, proto := range p.channels {
		ch, err := proto.FromCheckpoint(cp.ChannelValues[name])
		if err != nil {
			return nil, fmt.Errorf("restore channel %s: %w", name, err)
		}
		out[name] = ch
	}
	return out, nil
}

func readable(ch channels.Channel) bool {
	if ch == nil {
		return false
	}
	_, err := ch.Get()
	return err == nil
}

// prepare plans the tasks of step. With forExecution unset, inputs are
// not mapped and managed values are not read; only the plan is needed.
func (p *Pregel) prepare(ctx context.Context, cp *checkpoint.Checkpoint, chans map[string]channels.Channel, mv map[string]managed.Value, step int, forExecution bool) ([]*task, error) {
	var tasks []*task

	for i, send := range cp.PendingSends {
		node, ok := p.nodes[send.Node]
		if !ok {
			return nil, fmt.Errorf("%w: send to unknown node %q", ErrConfiguration, send.Node)
		}
		tasks = append(tasks, newTask(cp, step, send.Node, node, send.Arg, []string{Tasks}, fmt.Sprint(i)))
	}

	for _, name := range p.order {
		node := p.nodes[name]
		seen := cp.VersionsSeen[name]

		var triggered []string
		for _, trigger := range node.Triggers {
			if cp.ChannelVersions[trigger] > seen[trigger] && readable(chans[trigger]) {
				triggered = append(triggered, trigger)
			}
		}
		if len(triggered) == 0 {
			continue
		}

		input, ok, err := p.readInput(ctx, name, node, chans, mv, step, forExecution)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if forExecution && node.Mapper != nil {
			if input, err = node.Mapper(input); err != nil {
				return nil, fmt.Errorf("map input of %s: %w", name, err)
			}
		}
		tasks = append(tasks, newTask(cp, step, name, node, input, triggered, ""))
	}
	return tasks, nil
}

// readInput assembles a node's input. It reports false when the node has
// nothing to read and must be skipped.
func (p *Pregel) readInput(ctx context.Context, name string, node *Node, chans map[string]channels.Channel, mv map[string]managed.Value, step int, forExecution bool) (any, bool, error) {
	if node.Mapping == nil {
		if len(node.Channels) == 0 {
			return nil, true, nil
		}
		for _, c := range node.Channels {
			if v, err := chans[c].Get(); err == nil {
				return v, true, nil
			}
		}
		return nil, false, nil
	}

	in := make(map[string]any, len(node.Mapping))
	for _, key := range slices.Sorted(maps.Keys(node.Mapping)) {
		src := node.Mapping[key]
		if _, ok := p.managed[src]; ok {
			if !forExecution {
				continue
			}
			v, err := mv[src].Get(ctx, step, managed.Task{Name: name, Step: step})
			if err != nil {
				return nil, false, fmt.Errorf("managed value %s for %s: %w", src, name, err)
			}
			in[key] = v
			continue
		}
		v, err := chans[src].Get()
		if errors.Is(err, channels.ErrEmptyChannel) {
			if slices.Contains(node.Triggers, src) {
				return nil, false, nil
			}
			continue
		}
		if err != nil {
			return nil, false, err
		}
		in[key] = v
	}
	return in, true, nil
}

// apply folds the writes of tasks, listed in completion order, into chans
// and cp. Writes to Tasks are appended to cp.PendingSends. It returns the
// channels that received writes.
func apply(cp *checkpoint.Checkpoint, chans map[string]channels.Channel, tasks []*task, next func(current int, channel string) int) ([]string, error) {
	current := cp.MaxVersion()
	bump := func(channel string) {
		cp.ChannelVersions[channel] = next(current, channel)
	}

	for _, t := range tasks {
		if len(t.triggers) == 0 {
			continue
		}
		seen := cp.VersionsSeen[t.name]
		if seen == nil {
			seen = map[string]int{}
			cp.VersionsSeen[t.name] = seen
		}
		for _, trigger := range t.triggers {
			if trigger != Tasks {
				seen[trigger] = cp.ChannelVersions[trigger]
			}
		}
	}
	for _, t := range tasks {
		for _, trigger := range t.triggers {
			if ch, ok := chans[trigger]; ok && ch.Consume() {
				bump(trigger)
			}
		}
	}

	pending := map[string][]any{}
	for _, t := range tasks {
		for _, w := range t.queued() {
			if w.Channel == Tasks {
				cp.PendingSends = append(cp.PendingSends, toSend(w.Value))
				continue
			}
			pending[w.Channel] = append(pending[w.Channel], w.Value)
		}
	}

	written := slices.Sorted(maps.Keys(pending))
	for _, name := range written {
		ch, ok := chans[name]
		if !ok {
			return nil, &channels.UpdateError{Channel: name, Err: fmt.Errorf("%w: unknown channel", channels.ErrInvalidUpdate)}
		}
		changed, err := updateChannel(name, ch, pending[name])
		if err != nil {
			return nil, err
		}
		if changed {
			bump(name)
		}
	}
	for _, name := range slices.Sorted(maps.Keys(chans)) {
		if _, ok := pending[name]; ok {
			continue
		}
		changed, err := updateChannel(name, chans[name], nil)
		if err != nil {
			return nil, err
		}
		if changed {
			bump(name)
		}
	}
	return written, nil
}

// updateChannel applies values to the channel name. A panicking reducer is
// reported as an invalid update.
func updateChannel(name string, ch channels.Channel, values []any) (changed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &channels.UpdateError{
				Channel: name,
				Err:     fmt.Errorf("%w: reducer panicked: %v", channels.ErrInvalidUpdate, r),
			}
		}
	}()
	changed, err = ch.Update(values)
	if err != nil {
		return false, &channels.UpdateError{Channel: name, Err: err}
	}
	return changed, nil
}

func toSend(v any) Send {
	if s, ok := v.(*Send); ok {
		return *s
	}
	return v.(Send)
}

// snapshot stamps cp with a new identity and the Checkpoint form of chans.
func snapshot(cp *checkpoint.Checkpoint, chans map[string]channels.Channel) error {
	values := make(map[string]any, len(chans))
	for name, ch := range chans {
		v, err := ch.Checkpoint()
		if errors.Is(err, channels.ErrEmptyChannel) {
			continue
		}
		if err != nil {
			return fmt.Errorf("checkpoint channel %s: %w", name, err)
		}
		values[name] = v
	}
	cp.V = checkpoint.Version
	cp.ID = checkpoint.NewID()
	cp.Timestamp = time.Now().UTC()
	cp.ChannelValues = values
	return nil
}

// overlay returns chans with the channels named in writes replaced by
// updated copies.
func overlay(chans map[string]channels.Channel, writes []Write) (map[string]channels.Channel, error) {
	pending := map[string][]any{}
	for _, w := range writes {
		if w.Channel != Tasks {
			pending[w.Channel] = append(pending[w.Channel], w.Value)
		}
	}
	if len(pending) == 0 {
		return chans, nil
	}
	out := maps.Clone(chans)
	for name, vals := range pending {
		ch, ok := chans[name]
		if !ok {
			continue
		}
		cp, err := ch.Checkpoint()
		var fresh channels.Channel
		if errors.Is(err, channels.ErrEmptyChannel) {
			fresh = channels.Empty(ch)
		} else if err != nil {
			return nil, err
		} else if fresh, err = ch.FromCheckpoint(cp); err != nil {
			return nil, err
		}
		if _, err := fresh.Update(vals); err != nil {
			return nil, &channels.UpdateError{Channel: name, Err: err}
		}
		out[name] = fresh
	}
	return out, nil
}

// read returns the value of keys: the verbatim value of a single key, or
// a map of the readable channels of a list.
func read(chans map[string]channels.Channel, keys Keys) (any, error) {
	if keys.Single() {
		ch, ok := chans[keys.names[0]]
		if !ok {
			return nil, fmt.Errorf("%w: unknown channel %q", ErrConfiguration, keys.names[0])
		}
		return ch.Get()
	}
	out := make(map[string]any, len(keys.names))
	for _, name := range keys.names {
		ch, ok := chans[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown channel %q", ErrConfiguration, name)
		}
		if v, err := ch.Get(); err == nil {
			out[name] = v
		}
	}
	return out, nil
}

// shouldInterrupt reports whether a channel changed since the last
// resumption and one of tasks runs a node listed in names.
func shouldInterrupt(cp *checkpoint.Checkpoint, names []string, tasks []*task) bool {
	if len(names) == 0 {
		return false
	}
	seen := cp.VersionsSeen[interruptKey]
	updated := false
	for ch, v := range cp.ChannelVersions {
		if v > seen[ch] {
			updated = true
			break
		}
	}
	if !updated {
		return false
	}
	all := slices.Contains(names, All)
	for _, t := range tasks {
		if t.node.Hidden() {
			continue
		}
		if all || slices.Contains(names, t.name) {
			return true
		}
	}
	return false
}

// update returns the updates payload of a finished task, or false when it
// wrote nothing worth reporting.
func update(t *task, output Keys) (any, bool) {
	writes := t.queued()
	for _, w := range writes {
		if w.Channel == t.name {
			return w.Value, true
		}
	}
	if output.Single() {
		for _, w := range writes {
			if w.Channel == output.names[0] {
				return w.Value, true
			}
		}
		return nil, false
	}
	out := map[string]any{}
	for _, w := range writes {
		if slices.Contains(output.names, w.Channel) {
			out[w.Channel] = w.Value
		}
	}
	return out, len(out) > 0
}

// nodeWrites groups the writes of tasks for checkpoint metadata.
func nodeWrites(tasks []*task, output Keys) map[string]any {
	out := map[string]any{}
	for _, t := range tasks {
		if t.node.Hidden() {
			continue
		}
		if v, ok := update(t, output); ok {
			out[t.name] = v
		}
	}
	return out
}
