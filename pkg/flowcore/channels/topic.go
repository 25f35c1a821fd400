package channels

import (
	"reflect"
	"slices"

	"github.com/randalmurphal/flowcore/pkg/flowcore/checkpoint"
)

// Topic is a pub/sub list channel. Writes that are slices are flattened.
// With unique set, a value already published at any point is dropped. With
// accumulate set, the list survives across steps; otherwise each step
// starts from an empty list.
type Topic[T any] struct {
	unique     bool
	accumulate bool
	values     []T
	seen       []T
}

// NewTopic creates an empty Topic channel.
func NewTopic[T any](unique, accumulate bool) *Topic[T] {
	return &Topic[T]{unique: unique, accumulate: accumulate}
}

// TopicCheckpoint is the snapshot form of a Topic.
type TopicCheckpoint[T any] struct {
	Values []T `json:"values"`
	Seen   []T `json:"seen,omitempty"`
}

// Get returns a copy of the published values.
func (c *Topic[T]) Get() (any, error) {
	if len(c.values) == 0 {
		return nil, ErrEmptyChannel
	}
	return slices.Clone(c.values), nil
}

// Update publishes values.
func (c *Topic[T]) Update(values []any) (bool, error) {
	updated := false
	if !c.accumulate && len(c.values) > 0 {
		c.values = nil
		updated = true
	}

	for _, raw := range values {
		items, err := flatten[T](raw)
		if err != nil {
			return false, err
		}
		for _, v := range items {
			if c.unique {
				if c.hasSeen(v) {
					continue
				}
				c.seen = append(c.seen, v)
			}
			c.values = append(c.values, v)
			updated = true
		}
	}
	return updated, nil
}

func (c *Topic[T]) hasSeen(v T) bool {
	return slices.ContainsFunc(c.seen, func(s T) bool {
		return reflect.DeepEqual(s, v)
	})
}

// Checkpoint returns a TopicCheckpoint.
func (c *Topic[T]) Checkpoint() (any, error) {
	if len(c.values) == 0 && len(c.seen) == 0 {
		return nil, ErrEmptyChannel
	}
	return TopicCheckpoint[T]{Values: checkpoint.CopyOf(c.values), Seen: checkpoint.CopyOf(c.seen)}, nil
}

// FromCheckpoint returns a Topic restored from cp.
func (c *Topic[T]) FromCheckpoint(cp any) (Channel, error) {
	out := &Topic[T]{unique: c.unique, accumulate: c.accumulate}
	if cp == nil {
		return out, nil
	}
	snap, err := coerce[TopicCheckpoint[T]](cp)
	if err != nil {
		return nil, err
	}
	out.values = checkpoint.CopyOf(snap.Values)
	out.seen = checkpoint.CopyOf(snap.Seen)
	return out, nil
}

// Consume is a no-op.
func (c *Topic[T]) Consume() bool {
	return false
}

func flatten[T any](raw any) ([]T, error) {
	switch v := raw.(type) {
	case []T:
		return v, nil
	case []any:
		out := make([]T, 0, len(v))
		for _, item := range v {
			t, err := coerce[T](item)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
		return out, nil
	case T:
		return []T{v}, nil
	}
	t, err := coerce[T](raw)
	if err != nil {
		return nil, err
	}
	return []T{t}, nil
}
