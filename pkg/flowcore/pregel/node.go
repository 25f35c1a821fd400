package pregel

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/randalmurphal/flowcore/pkg/flowcore/checkpoint"
	"github.com/randalmurphal/flowcore/pkg/flowcore/module"
)

// Tasks is the reserved channel carrying Send packets. Writes to it are
// not applied to a channel; they schedule tasks for the next step.
const Tasks = "__tasks__"

// TagHidden marks internal plumbing nodes. Hidden nodes are left out of
// update and debug output and never match an "all nodes" interrupt.
const TagHidden = "flowcore:hidden"

// Send schedules a one-shot task running Node with Arg in the next step.
type Send = checkpoint.Send

// Node binds a Module to the channels that schedule it, the channels it
// reads and the writers that publish its output.
type Node struct {
	// Triggers are the channels whose updates schedule the node.
	Triggers []string

	// Channels are read when Mapping is nil: the value of the first
	// non-empty one becomes the input.
	Channels []string

	// Mapping, when set, makes the input a map[string]any. Each key is
	// read from the named channel or managed value. Empty channels are
	// omitted unless they are triggers, in which case the node is skipped.
	Mapping map[string]string

	// Mapper transforms the input before Bound sees it.
	Mapper func(any) (any, error)

	// Bound is the work the node does. A zero Module passes the input
	// through.
	Bound module.Module[any, any]

	// Writers publish Bound's output, in order.
	Writers []Writer

	// Tags are free labels; TagHidden hides the node from output.
	Tags []string
}

// Subscribe returns a node triggered by channel that reads it as input.
func Subscribe(channel string, bound module.Module[any, any], writers ...Writer) *Node {
	return &Node{
		Triggers: []string{channel},
		Channels: []string{channel},
		Bound:    bound,
		Writers:  writers,
	}
}

// Hidden reports whether the node carries TagHidden.
func (n *Node) Hidden() bool {
	return slices.Contains(n.Tags, TagHidden)
}

// Write is one (channel, value) pair queued by a task.
type Write struct {
	Channel string
	Value   any
}

// WriteFunc queues writes for the apply phase of the current step.
type WriteFunc func(writes ...Write) error

// ReadFunc reads channels during a task. With fresh set, the task's own
// queued writes are applied to copies of the channels first.
type ReadFunc func(keys Keys, fresh bool) (any, error)

// Task-local keyword keys.
const (
	// KeySend holds the task's WriteFunc.
	KeySend = "__pregel_send"
	// KeyRead holds the task's ReadFunc.
	KeyRead = "__pregel_read"
	// KeyTask holds the task's TaskInfo.
	KeyTask = "__pregel_task"
	// KeyCheckpointer holds the run's checkpoint.Saver, when it has one.
	KeyCheckpointer = "__pregel_checkpointer"
	// KeyLogger holds a *zap.Logger carrying the task's fields.
	KeyLogger = "__pregel_logger"
)

// TaskInfo describes the task a Module runs in.
type TaskInfo struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Step     int      `json:"step"`
	Triggers []string `json:"triggers"`
}

// SendFrom returns the task's WriteFunc from kw.
func SendFrom(kw module.Kwargs) (WriteFunc, bool) {
	return module.Get[WriteFunc](kw, KeySend)
}

// ReadFrom returns the task's ReadFunc from kw.
func ReadFrom(kw module.Kwargs) (ReadFunc, bool) {
	return module.Get[ReadFunc](kw, KeyRead)
}

// TaskFrom returns the task description from kw.
func TaskFrom(kw module.Kwargs) (TaskInfo, bool) {
	return module.Get[TaskInfo](kw, KeyTask)
}

// LoggerFrom returns the task logger from kw, or a no-op logger.
func LoggerFrom(kw module.Kwargs) *zap.Logger {
	if l, ok := module.Get[*zap.Logger](kw, KeyLogger); ok && l != nil {
		return l
	}
	return zap.NewNop()
}

// Writer publishes a task's output. Writers find the task's WriteFunc and
// ReadFunc in kw.
type Writer interface {
	Write(ctx context.Context, value any, kw module.Kwargs) error
}

// WriterFunc adapts a function to Writer.
type WriterFunc func(ctx context.Context, value any, kw module.Kwargs) error

// Write implements Writer.
func (f WriterFunc) Write(ctx context.Context, value any, kw module.Kwargs) error {
	return f(ctx, value, kw)
}

type passthrough struct{}

type skipWrite struct{}

// Sentinels understood by ChannelWrite.
var (
	// Passthrough as an entry value writes the task output.
	Passthrough any = passthrough{}
	// SkipWrite returned by an entry mapper drops the write.
	SkipWrite any = skipWrite{}
)

// WriteEntry is one write performed by a ChannelWrite.
type WriteEntry struct {
	// Channel receives the write.
	Channel string
	// Value is written as is. Nil or Passthrough writes the task output.
	Value any
	// SkipNone drops the write when the value is nil.
	SkipNone bool
	// Mapper transforms the value; returning SkipWrite drops the write.
	Mapper func(any) (any, error)
}

// ChannelWrite is a Writer publishing a fixed list of entries.
type ChannelWrite struct {
	Entries []WriteEntry
}

// WriteTo returns a ChannelWrite writing the task output to channels.
func WriteTo(channels ...string) *ChannelWrite {
	w := &ChannelWrite{Entries: make([]WriteEntry, len(channels))}
	for i, c := range channels {
		w.Entries[i] = WriteEntry{Channel: c}
	}
	return w
}

// Channels lists the channels the writer may write.
func (w *ChannelWrite) Channels() []string {
	out := make([]string, len(w.Entries))
	for i, e := range w.Entries {
		out[i] = e.Channel
	}
	return out
}

// Write implements Writer.
func (w *ChannelWrite) Write(_ context.Context, value any, kw module.Kwargs) error {
	send, ok := SendFrom(kw)
	if !ok {
		return fmt.Errorf("%w: channel write outside of a task", ErrConfiguration)
	}
	writes := make([]Write, 0, len(w.Entries))
	for _, e := range w.Entries {
		v := e.Value
		if v == nil || v == Passthrough {
			v = value
		}
		if e.Mapper != nil {
			mapped, err := e.Mapper(v)
			if err != nil {
				return fmt.Errorf("write %s: %w", e.Channel, err)
			}
			v = mapped
		}
		if v == SkipWrite || (v == nil && e.SkipNone) {
			continue
		}
		writes = append(writes, Write{Channel: e.Channel, Value: v})
	}
	if len(writes) == 0 {
		return nil
	}
	return send(writes...)
}

// Module returns the writer as a sink Module that passes its input through.
func (w *ChannelWrite) Module() module.Module[any, any] {
	return module.Sync("channel_write", func(ctx context.Context, in any, kw module.Kwargs) (any, error) {
		return in, w.Write(ctx, in, kw)
	})
}
