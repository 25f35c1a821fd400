package pregel

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"time"

	"github.com/randalmurphal/flowcore/pkg/flowcore/channels"
	"github.com/randalmurphal/flowcore/pkg/flowcore/checkpoint"
	"github.com/randalmurphal/flowcore/pkg/flowcore/module"
)

// StateSnapshot is the state of a thread at one checkpoint.
type StateSnapshot struct {
	// Values holds the output channels.
	Values any
	// Next lists the nodes the next step would run.
	Next []string
	// Config addresses the checkpoint.
	Config checkpoint.Config
	// Metadata is the checkpoint's metadata.
	Metadata checkpoint.Metadata
	// CreatedAt is the checkpoint timestamp.
	CreatedAt time.Time
	// ParentConfig addresses the previous checkpoint, nil for the first.
	ParentConfig *checkpoint.Config
}

func (p *Pregel) saver() (checkpoint.Saver, error) {
	if p.defaults.saver == nil {
		return nil, ErrCheckpointerRequired
	}
	return p.defaults.saver, nil
}

// GetState returns the state of the checkpoint addressed by cfg: the
// latest of the thread when cfg.ThreadTS is empty. A thread without
// checkpoints yields an empty snapshot.
func (p *Pregel) GetState(ctx context.Context, cfg checkpoint.Config) (*StateSnapshot, error) {
	saver, err := p.saver()
	if err != nil {
		return nil, err
	}
	saved, err := saver.Get(ctx, cfg)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return &StateSnapshot{Config: cfg}, nil
	}
	if err != nil {
		return nil, &CheckpointError{Op: "get", Step: -1, Err: err}
	}
	return p.snapshotOf(ctx, saved)
}

// GetStateHistory yields the states of the thread's checkpoints matching
// filter, newest first.
func (p *Pregel) GetStateHistory(ctx context.Context, cfg checkpoint.Config, filter checkpoint.Filter) iter.Seq2[*StateSnapshot, error] {
	return func(yield func(*StateSnapshot, error) bool) {
		saver, err := p.saver()
		if err != nil {
			yield(nil, err)
			return
		}
		for saved, err := range saver.List(ctx, cfg, filter) {
			if err != nil {
				yield(nil, &CheckpointError{Op: "list", Step: -1, Err: err})
				return
			}
			snap, err := p.snapshotOf(ctx, saved)
			if !yield(snap, err) || err != nil {
				return
			}
		}
	}
}

func (p *Pregel) snapshotOf(ctx context.Context, saved *checkpoint.Saved) (*StateSnapshot, error) {
	cp := saved.Checkpoint.Copy()
	chans, err := p.restore(cp)
	if err != nil {
		return nil, err
	}
	values, err := read(chans, p.output)
	if errors.Is(err, channels.ErrEmptyChannel) {
		values, err = nil, nil
	}
	if err != nil {
		return nil, err
	}
	tasks, err := p.prepare(ctx, cp, chans, nil, saved.Metadata.Step+1, false)
	if err != nil {
		return nil, err
	}
	next := make([]string, 0, len(tasks))
	for _, t := range tasks {
		next = append(next, t.name)
	}
	return &StateSnapshot{
		Values:       values,
		Next:         next,
		Config:       saved.Config,
		Metadata:     saved.Metadata,
		CreatedAt:    cp.Timestamp,
		ParentConfig: saved.ParentConfig,
	}, nil
}

// UpdateState writes values into the checkpoint addressed by cfg as if
// node asNode had produced them: only that node's writers run. An empty
// asNode picks the node that ran last, judged by the channel versions
// each node has seen. The result is a new checkpoint with source
// "update"; its config is returned.
func (p *Pregel) UpdateState(ctx context.Context, cfg checkpoint.Config, values any, asNode string) (checkpoint.Config, error) {
	saver, err := p.saver()
	if err != nil {
		return checkpoint.Config{}, err
	}
	if cfg.ThreadID == "" {
		return checkpoint.Config{}, checkpoint.ErrThreadRequired
	}

	cp, step, parent := checkpoint.Empty(), -1, checkpoint.Config{ThreadID: cfg.ThreadID}
	saved, err := saver.Get(ctx, cfg)
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
	case err != nil:
		return checkpoint.Config{}, &CheckpointError{Op: "get", Step: -1, Err: err}
	default:
		cp, step, parent = saved.Checkpoint.Copy(), saved.Metadata.Step+1, saved.Config
	}

	if asNode == "" {
		if asNode, err = lastWriter(cp); err != nil {
			return checkpoint.Config{}, err
		}
	}
	node, ok := p.nodes[asNode]
	if !ok {
		return checkpoint.Config{}, fmt.Errorf("%w: unknown node %q", channels.ErrInvalidUpdate, asNode)
	}

	chans, err := p.restore(cp)
	if err != nil {
		return checkpoint.Config{}, err
	}
	t := newTask(cp, step, asNode, node, values, nil, "update")
	kw := module.Merge(p.defaults.kwargs, module.Kwargs{
		KeySend:         p.writeFunc(t),
		KeyRead:         p.readFunc(chans, t),
		KeyTask:         t.info(),
		KeyCheckpointer: saver,
	})
	for _, w := range node.Writers {
		if err := w.Write(ctx, values, kw); err != nil {
			return checkpoint.Config{}, fmt.Errorf("update as %s: %w", asNode, err)
		}
	}

	if _, err := apply(cp, chans, []*task{t}, saver.NextVersion); err != nil {
		return checkpoint.Config{}, err
	}
	if err := snapshot(cp, chans); err != nil {
		return checkpoint.Config{}, err
	}
	md := checkpoint.Metadata{
		Source: checkpoint.SourceUpdate,
		Step:   step,
		Writes: map[string]any{asNode: values},
		Extra:  maps.Clone(p.defaults.tags),
	}
	next, err := saver.Put(ctx, parent, cp, md)
	if err != nil {
		return checkpoint.Config{}, &CheckpointError{Op: "put", Step: step, Err: err}
	}
	return next, nil
}

// lastWriter returns the node that saw the highest channel version.
func lastWriter(cp *checkpoint.Checkpoint) (string, error) {
	best, bestVersion, tie := "", 0, false
	for node, seen := range cp.VersionsSeen {
		if node == interruptKey {
			continue
		}
		highest := 0
		for _, v := range seen {
			highest = max(highest, v)
		}
		switch {
		case highest > bestVersion:
			best, bestVersion, tie = node, highest, false
		case highest == bestVersion && highest > 0:
			tie = true
		}
	}
	if best == "" {
		return "", fmt.Errorf("%w: no node has run yet, specify the node to update as", channels.ErrInvalidUpdate)
	}
	if tie {
		return "", fmt.Errorf("%w: ambiguous update, specify the node to update as", channels.ErrInvalidUpdate)
	}
	return best, nil
}
