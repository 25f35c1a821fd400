package channels

import (
	"context"
	"errors"
	"fmt"
)

// Scoped is implemented by channels holding a resource that must be
// acquired when a run starts and released when it ends.
type Scoped interface {
	// Enter acquires the resource. The returned function releases it.
	Enter(ctx context.Context) (release func() error, err error)
}

// OpenFunc acquires a resource for one run and returns its release function.
type OpenFunc[T any] func(ctx context.Context) (T, func() error, error)

// ContextValue exposes a scoped resource for the lifetime of a run. Writes
// are invalid and the value is never checkpointed.
type ContextValue[T any] struct {
	open    OpenFunc[T]
	value   T
	entered bool
}

// NewContextValue creates a ContextValue acquiring its resource with open.
func NewContextValue[T any](open OpenFunc[T]) *ContextValue[T] {
	return &ContextValue[T]{open: open}
}

// Enter acquires the resource.
func (c *ContextValue[T]) Enter(ctx context.Context) (func() error, error) {
	if c.entered {
		return nil, errors.New("context value already entered")
	}
	v, release, err := c.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("enter context value: %w", err)
	}
	c.value, c.entered = v, true
	return func() error {
		var zero T
		c.value, c.entered = zero, false
		if release == nil {
			return nil
		}
		return release()
	}, nil
}

// Get returns the entered resource.
func (c *ContextValue[T]) Get() (any, error) {
	if !c.entered {
		return nil, ErrEmptyChannel
	}
	return c.value, nil
}

// Update rejects every write.
func (c *ContextValue[T]) Update(values []any) (bool, error) {
	if len(values) == 0 {
		return false, nil
	}
	return false, invalid("context value cannot be written")
}

// Checkpoint always reports an empty channel.
func (c *ContextValue[T]) Checkpoint() (any, error) {
	return nil, ErrEmptyChannel
}

// FromCheckpoint returns a fresh, unentered ContextValue.
func (c *ContextValue[T]) FromCheckpoint(any) (Channel, error) {
	return &ContextValue[T]{open: c.open}, nil
}

// Consume is a no-op.
func (c *ContextValue[T]) Consume() bool {
	return false
}
