package pregel

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"

	"github.com/randalmurphal/flowcore/pkg/flowcore/channels"
	"github.com/randalmurphal/flowcore/pkg/flowcore/effect"
	"github.com/randalmurphal/flowcore/pkg/flowcore/managed"
	"github.com/randalmurphal/flowcore/pkg/flowcore/module"
)

// Pregel runs nodes in bulk synchronous steps over a set of channels.
//
// A Pregel is immutable and safe for concurrent runs; every run restores
// its own channels from the thread's latest checkpoint.
type Pregel struct {
	nodes    map[string]*Node
	order    []string
	channels map[string]channels.Channel
	managed  map[string]managed.Factory
	input    Keys
	output   Keys
	defaults settings
}

// New validates and returns a Pregel. Run input is written to input, run
// output is read from output. opts become the defaults of every run;
// managed values must be registered here.
func New(nodes map[string]*Node, chans map[string]channels.Channel, input, output Keys, opts ...RunOption) (*Pregel, error) {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	p := &Pregel{
		nodes:    maps.Clone(nodes),
		order:    slices.Sorted(maps.Keys(nodes)),
		channels: maps.Clone(chans),
		managed:  maps.Clone(s.managed),
		input:    input,
		output:   output,
		defaults: s,
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pregel) validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...)))
	}
	isChannel := func(name string) bool {
		_, ok := p.channels[name]
		return ok
	}
	isManaged := func(name string) bool {
		_, ok := p.managed[name]
		return ok
	}

	if len(p.nodes) == 0 {
		fail("no nodes")
	}
	if _, ok := p.channels[Tasks]; ok {
		fail("channel name %q is reserved", Tasks)
	}
	for name := range p.managed {
		if isChannel(name) {
			fail("managed value %q shadows a channel", name)
		}
	}
	for _, name := range p.order {
		node := p.nodes[name]
		if name == Tasks || name == interruptKey {
			fail("node name %q is reserved", name)
		}
		if node == nil {
			fail("node %q is nil", name)
			continue
		}
		for _, t := range node.Triggers {
			if !isChannel(t) {
				fail("node %q is triggered by unknown channel %q", name, t)
			}
		}
		for _, c := range node.Channels {
			if !isChannel(c) {
				fail("node %q reads unknown channel %q", name, c)
			}
		}
		for key, src := range node.Mapping {
			if !isChannel(src) && !isManaged(src) {
				fail("node %q reads unknown channel %q as %q", name, src, key)
			}
		}
		for _, w := range node.Writers {
			cw, ok := w.(*ChannelWrite)
			if !ok {
				continue
			}
			for _, c := range cw.Channels() {
				if c != Tasks && !isChannel(c) {
					fail("node %q writes unknown channel %q", name, c)
				}
			}
		}
	}
	for _, keys := range []Keys{p.input, p.output} {
		if keys.IsZero() {
			fail("input and output channels are required")
			continue
		}
		for _, c := range keys.Names() {
			if !isChannel(c) {
				fail("unknown channel %q", c)
			}
		}
	}
	return errors.Join(errs...)
}

// settingsFor layers run options over the defaults.
func (p *Pregel) settingsFor(opts []RunOption) settings {
	s := p.defaults
	for _, opt := range opts {
		opt(&s)
	}
	if s.input.IsZero() {
		s.input = p.input
	}
	if s.output.IsZero() {
		s.output = p.output
	}
	return s.withDefaults()
}

func (p *Pregel) validateRun(s settings) error {
	if s.recursionLimit <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRecursionLimit, s.recursionLimit)
	}
	if s.maxWorkers < 0 {
		return fmt.Errorf("%w: max workers must not be negative", ErrConfiguration)
	}
	if (len(s.interruptBefore) > 0 || len(s.interruptAfter) > 0) && s.saver == nil {
		return ErrCheckpointerRequired
	}
	for _, name := range slices.Concat(s.interruptBefore, s.interruptAfter) {
		if _, ok := p.nodes[name]; !ok && name != All {
			return fmt.Errorf("%w: interrupt on unknown node %q", ErrConfiguration, name)
		}
	}
	for _, mode := range s.modes {
		switch mode {
		case StreamValues, StreamUpdates, StreamDebug:
		default:
			return fmt.Errorf("%w: unknown stream mode %q", ErrConfiguration, mode)
		}
	}
	for _, c := range slices.Concat(s.input.Names(), s.output.Names()) {
		if _, ok := p.channels[c]; !ok {
			return fmt.Errorf("%w: unknown channel %q", ErrConfiguration, c)
		}
	}
	return nil
}

// Name returns the engine name.
func (p *Pregel) Name() string {
	return p.defaults.name
}

// Nodes returns the node names, sorted.
func (p *Pregel) Nodes() []string {
	return slices.Clone(p.order)
}

// Node returns the named node.
func (p *Pregel) Node(name string) (*Node, bool) {
	n, ok := p.nodes[name]
	return n, ok
}

// Input returns the default input channels.
func (p *Pregel) Input() Keys {
	return p.input
}

// Output returns the default output channels.
func (p *Pregel) Output() Keys {
	return p.output
}

// Invoke runs to completion, interruption or failure and returns:
//
//   - values: the last value of the output channels, nil if never written
//   - updates: the []any of per-task {node: output} maps
//   - debug: the []DebugEvent of the run
//   - several modes: every []Chunk
//
// A nil input resumes the thread from its latest checkpoint.
func (p *Pregel) Invoke(ctx context.Context, input any, opts ...RunOption) (any, error) {
	s := p.settingsFor(opts)
	multi := len(s.modes) > 1
	var (
		last    any
		updates []any
		events  []DebugEvent
		chunks  []Chunk
	)
	err := p.run(ctx, input, s, func(c Chunk) bool {
		if multi {
			chunks = append(chunks, c)
			return true
		}
		switch c.Mode {
		case StreamValues:
			last = c.Data
		case StreamUpdates:
			updates = append(updates, c.Data)
		case StreamDebug:
			events = append(events, c.Data.(DebugEvent))
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if multi {
		return chunks, nil
	}
	switch s.modes[0] {
	case StreamUpdates:
		return updates, nil
	case StreamDebug:
		return events, nil
	default:
		return last, nil
	}
}

// Stream runs like Invoke and yields every chunk as it is produced. A
// failure is yielded as the last element. Breaking out of the loop stops
// the run after the current step; checkpoints already taken are kept.
func (p *Pregel) Stream(ctx context.Context, input any, opts ...RunOption) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		stopped := false
		err := p.run(ctx, input, p.settingsFor(opts), func(c Chunk) bool {
			if !yield(c, nil) {
				stopped = true
			}
			return !stopped
		})
		if err != nil && !stopped {
			yield(Chunk{}, err)
		}
	}
}

// InvokeAsync runs Invoke on its own goroutine.
func (p *Pregel) InvokeAsync(ctx context.Context, input any, opts ...RunOption) *effect.Future[any] {
	return effect.Go(ctx, func(ctx context.Context) (any, error) {
		return p.Invoke(ctx, input, opts...)
	})
}

// StreamAsync runs Stream on its own goroutine and delivers the chunks on
// a channel closed when the run ends.
func (p *Pregel) StreamAsync(ctx context.Context, input any, opts ...RunOption) <-chan effect.Result[Chunk] {
	return effect.FromIter(func(ctx context.Context) iter.Seq2[Chunk, error] {
		return p.Stream(ctx, input, opts...)
	}).Stream(ctx)
}

// Module exposes the engine as a streaming Module. Keyword configuration
// is read with OptionsFromKwargs. Each element is the chunk payload when
// the run has one stream mode, the Chunk itself otherwise.
func (p *Pregel) Module() module.Module[any, any] {
	return module.New[any, any](p.defaults.name, effect.KindIter, func(in any, kw module.Kwargs) effect.Effect[any] {
		opts, err := OptionsFromKwargs(kw)
		if err != nil {
			return effect.Fail[any](err)
		}
		single := len(p.settingsFor(opts).modes) == 1
		return effect.FromDrivers(effect.KindIter, effect.Drivers[any]{
			Sync: func(ctx context.Context) (any, error) {
				return p.Invoke(ctx, in, opts...)
			},
			Iter: func(ctx context.Context) iter.Seq2[any, error] {
				return func(yield func(any, error) bool) {
					for c, err := range p.Stream(ctx, in, opts...) {
						if err != nil {
							yield(nil, err)
							return
						}
						var v any = c
						if single {
							v = c.Data
						}
						if !yield(v, nil) {
							return
						}
					}
				}
			},
		})
	})
}
