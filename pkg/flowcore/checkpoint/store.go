// Package checkpoint persists Pregel checkpoints so runs can be paused,
// inspected and resumed.
package checkpoint

import (
	"context"
	"errors"
	"iter"
	"slices"
)

// Saver persists checkpoints by thread.
// Implementations must be safe for concurrent use. Puts addressed to one
// thread are serialized by the engine.
type Saver interface {
	// Get returns the checkpoint addressed by cfg: the latest of the
	// thread, or a specific one when cfg.ThreadTS is set.
	// Returns ErrNotFound if there is none.
	Get(ctx context.Context, cfg Config) (*Saved, error)

	// List yields the checkpoints of cfg.ThreadID matching f, newest first.
	// An empty ThreadID lists every thread.
	List(ctx context.Context, cfg Config, f Filter) iter.Seq2[*Saved, error]

	// Put stores cp as a child of cfg.ThreadTS and returns the config
	// addressing it. Putting the same (thread, checkpoint id) twice
	// overwrites.
	Put(ctx context.Context, cfg Config, cp *Checkpoint, md Metadata) (Config, error)

	// NextVersion returns a channel version strictly greater than current.
	NextVersion(current int, channel string) int
}

// IncrementVersions allocates channel versions by adding one. Savers embed it.
type IncrementVersions struct{}

// NextVersion returns current + 1.
func (IncrementVersions) NextVersion(current int, _ string) int {
	return current + 1
}

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates a checkpoint doesn't exist.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed indicates the saver has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")

	// ErrThreadRequired indicates a Put or Get without a thread id.
	ErrThreadRequired = errors.New("thread id required")
)

// Latest returns the most recent checkpoint of a thread, or nil when the
// thread has none.
func Latest(ctx context.Context, s Saver, threadID string) (*Saved, error) {
	saved, err := s.Get(ctx, Config{ThreadID: threadID})
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return saved, err
}

// Collect drains a List sequence into a slice.
func Collect(seq iter.Seq2[*Saved, error]) ([]*Saved, error) {
	var out []*Saved
	for s, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, s)
	}
	return out, nil
}

// listSorted yields entries newest first, applying f.
func listSorted(entries []*Saved, f Filter) iter.Seq2[*Saved, error] {
	slices.SortFunc(entries, func(a, b *Saved) int {
		switch {
		case a.Config.ThreadTS > b.Config.ThreadTS:
			return -1
		case a.Config.ThreadTS < b.Config.ThreadTS:
			return 1
		}
		return 0
	})
	return func(yield func(*Saved, error) bool) {
		n := 0
		for _, s := range entries {
			if !f.Match(s) {
				continue
			}
			if !yield(s, nil) {
				return
			}
			n++
			if f.Limit > 0 && n >= f.Limit {
				return
			}
		}
	}
}
