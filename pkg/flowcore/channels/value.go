package channels

import (
	"reflect"

	"github.com/randalmurphal/flowcore/pkg/flowcore/checkpoint"
)

// LastValue stores the last value written. It accepts at most one write
// per step.
type LastValue[T any] struct {
	value T
	set   bool
}

// NewLastValue creates an empty LastValue channel.
func NewLastValue[T any]() *LastValue[T] {
	return &LastValue[T]{}
}

// Get returns the stored value.
func (c *LastValue[T]) Get() (any, error) {
	if !c.set {
		return nil, ErrEmptyChannel
	}
	return c.value, nil
}

// Update stores the single value in values.
func (c *LastValue[T]) Update(values []any) (bool, error) {
	switch len(values) {
	case 0:
		return false, nil
	case 1:
	default:
		return false, invalid("LastValue can receive only one value per step, got %d", len(values))
	}
	v, err := coerce[T](values[0])
	if err != nil {
		return false, err
	}
	c.value, c.set = v, true
	return true, nil
}

// Checkpoint returns a copy of the stored value.
func (c *LastValue[T]) Checkpoint() (any, error) {
	if !c.set {
		return nil, ErrEmptyChannel
	}
	return checkpoint.CopyOf(c.value), nil
}

// FromCheckpoint returns a LastValue holding cp.
func (c *LastValue[T]) FromCheckpoint(cp any) (Channel, error) {
	out := &LastValue[T]{}
	if cp == nil {
		return out, nil
	}
	v, err := coerce[T](cp)
	if err != nil {
		return nil, err
	}
	out.value, out.set = checkpoint.CopyOf(v), true
	return out, nil
}

// Consume is a no-op.
func (c *LastValue[T]) Consume() bool {
	return false
}

// Ephemeral stores the value written in the previous step and clears it
// on the next one. With guard set, more than one write per step is
// invalid; otherwise the last write wins.
type Ephemeral[T any] struct {
	guard bool
	value T
	set   bool
}

// NewEphemeral creates an empty Ephemeral channel.
func NewEphemeral[T any](guard bool) *Ephemeral[T] {
	return &Ephemeral[T]{guard: guard}
}

// Get returns the stored value.
func (c *Ephemeral[T]) Get() (any, error) {
	if !c.set {
		return nil, ErrEmptyChannel
	}
	return c.value, nil
}

// Update replaces the stored value, clearing it when values is empty.
func (c *Ephemeral[T]) Update(values []any) (bool, error) {
	if len(values) == 0 {
		if !c.set {
			return false, nil
		}
		var zero T
		c.value, c.set = zero, false
		return true, nil
	}
	if c.guard && len(values) > 1 {
		return false, invalid("Ephemeral can receive only one value per step, got %d", len(values))
	}
	v, err := coerce[T](values[len(values)-1])
	if err != nil {
		return false, err
	}
	c.value, c.set = v, true
	return true, nil
}

// Checkpoint returns a copy of the stored value.
func (c *Ephemeral[T]) Checkpoint() (any, error) {
	if !c.set {
		return nil, ErrEmptyChannel
	}
	return checkpoint.CopyOf(c.value), nil
}

// FromCheckpoint returns an Ephemeral holding cp.
func (c *Ephemeral[T]) FromCheckpoint(cp any) (Channel, error) {
	out := &Ephemeral[T]{guard: c.guard}
	if cp == nil {
		return out, nil
	}
	v, err := coerce[T](cp)
	if err != nil {
		return nil, err
	}
	out.value, out.set = checkpoint.CopyOf(v), true
	return out, nil
}

// Consume is a no-op.
func (c *Ephemeral[T]) Consume() bool {
	return false
}

// BinaryOperatorAggregate folds every write into an accumulated value with
// op. It starts from the empty T, so Get never reports empty: an empty map
// for map types, a new zero value for pointer types, the zero T otherwise.
type BinaryOperatorAggregate[T any] struct {
	op    func(current, update T) T
	value T
}

// NewBinaryOperatorAggregate creates an aggregate channel folding with op.
func NewBinaryOperatorAggregate[T any](op func(current, update T) T) *BinaryOperatorAggregate[T] {
	return &BinaryOperatorAggregate[T]{op: op, value: emptyOf[T]()}
}

func emptyOf[T any]() T {
	var zero T
	switch t := reflect.TypeFor[T](); t.Kind() {
	case reflect.Map:
		return reflect.MakeMap(t).Interface().(T)
	case reflect.Pointer:
		return reflect.New(t.Elem()).Interface().(T)
	default:
		return zero
	}
}

// Get returns the accumulated value.
func (c *BinaryOperatorAggregate[T]) Get() (any, error) {
	return c.value, nil
}

// Update folds values into the accumulated value.
func (c *BinaryOperatorAggregate[T]) Update(values []any) (bool, error) {
	if len(values) == 0 {
		return false, nil
	}
	next := c.value
	for _, raw := range values {
		v, err := coerce[T](raw)
		if err != nil {
			return false, err
		}
		next = c.op(next, v)
	}
	c.value = next
	return true, nil
}

// Checkpoint returns a copy of the accumulated value.
func (c *BinaryOperatorAggregate[T]) Checkpoint() (any, error) {
	return checkpoint.CopyOf(c.value), nil
}

// FromCheckpoint returns an aggregate holding cp.
func (c *BinaryOperatorAggregate[T]) FromCheckpoint(cp any) (Channel, error) {
	out := &BinaryOperatorAggregate[T]{op: c.op, value: emptyOf[T]()}
	if cp == nil {
		return out, nil
	}
	v, err := coerce[T](cp)
	if err != nil {
		return nil, err
	}
	if reflect.ValueOf(&v).Elem().IsZero() {
		return out, nil
	}
	out.value = checkpoint.CopyOf(v)
	return out, nil
}

// Consume is a no-op.
func (c *BinaryOperatorAggregate[T]) Consume() bool {
	return false
}
