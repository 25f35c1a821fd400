// Package channels provides the typed mailboxes that carry values between
// Pregel nodes.
//
// A Channel is created empty, changes only through Update (called once per
// step by the engine with every write addressed to it, possibly none), and
// can be snapshotted with Checkpoint and rebuilt with FromCheckpoint. The
// engine bumps a channel's version whenever Update or Consume reports a
// change.
//
// Variants:
//
//   - LastValue: one write per step, keeps the last.
//   - Ephemeral: holds the previous step's write, cleared on the next step.
//   - BinaryOperatorAggregate: folds writes with a binary operator.
//   - Topic: pub/sub list, optionally deduplicated and accumulating.
//   - NamedBarrierValue: readable once every expected name has written.
//   - DynamicBarrierValue: a barrier whose names arrive via WaitForNames.
//   - ContextValue: a scoped resource entered for the lifetime of a run.
package channels

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/flowcore/pkg/flowcore/module"
)

// Channel errors.
var (
	// ErrEmptyChannel is returned when reading a channel with no value.
	ErrEmptyChannel = errors.New("empty channel")

	// ErrInvalidUpdate is returned when a channel rejects a set of writes.
	ErrInvalidUpdate = errors.New("invalid update")
)

// UpdateError attributes a rejected update to its channel.
type UpdateError struct {
	// Channel is the name of the channel that rejected the update.
	Channel string
	// Err is the underlying error, wrapping ErrInvalidUpdate.
	Err error
}

// Error implements the error interface.
func (e *UpdateError) Error() string {
	return fmt.Sprintf("channel %s: %v", e.Channel, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *UpdateError) Unwrap() error {
	return e.Err
}

// Channel is a mailbox for inter-node values. Values cross the interface
// untyped; typed variants coerce on Update and FromCheckpoint.
type Channel interface {
	// Get returns the current value or ErrEmptyChannel.
	Get() (any, error)

	// Update applies the writes of one step and reports whether the
	// channel changed. An empty slice lets the channel age.
	Update(values []any) (bool, error)

	// Checkpoint returns a snapshot of the channel state that shares no
	// mutable memory with the channel, or ErrEmptyChannel.
	Checkpoint() (any, error)

	// FromCheckpoint returns a new channel with the same configuration
	// holding the state in cp. A nil cp yields an empty channel.
	FromCheckpoint(cp any) (Channel, error)

	// Consume is called after a task read the channel as a trigger. It
	// reports whether the channel changed as a result.
	Consume() bool
}

// Empty returns an empty copy of c.
func Empty(c Channel) Channel {
	out, err := c.FromCheckpoint(nil)
	if err != nil {
		// Every variant accepts a nil checkpoint.
		panic(fmt.Sprintf("channels: empty copy of %T: %v", c, err))
	}
	return out
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidUpdate, fmt.Sprintf(format, args...))
}

func coerce[T any](v any) (T, error) {
	out, err := module.Coerce[T](v)
	if err != nil {
		return out, invalid("%v", err)
	}
	return out, nil
}
