package pregel

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for engine configuration.
var (
	// ErrConfiguration indicates an invalid engine or run configuration.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrCheckpointerRequired indicates an operation that needs a
	// checkpointer, such as interrupts or state updates, on an engine
	// without one.
	ErrCheckpointerRequired = fmt.Errorf("%w: checkpointer required", ErrConfiguration)

	// ErrInvalidRecursionLimit indicates a recursion limit below one.
	ErrInvalidRecursionLimit = fmt.Errorf("%w: recursion limit must be positive", ErrConfiguration)

	// ErrRecursion indicates a run used up its step budget.
	ErrRecursion = errors.New("recursion limit reached")
)

// RecursionError is returned when a run still has tasks after its last
// allowed step. Every completed step has been checkpointed, so the run can
// be resumed with a higher limit.
type RecursionError struct {
	// Limit is the recursion limit of the run.
	Limit int
	// Step is the step that would have run next.
	Step int
}

// Error implements the error interface.
func (e *RecursionError) Error() string {
	return fmt.Sprintf("recursion limit of %d reached without hitting a stop condition (next step %d)", e.Limit, e.Step)
}

// Unwrap returns ErrRecursion for errors.Is support.
func (e *RecursionError) Unwrap() error {
	return ErrRecursion
}

// TaskError wraps the failure of one task with its step context.
type TaskError struct {
	// Step is the step the task ran in.
	Step int
	// Node is the node the task ran.
	Node string
	// TaskID identifies the task.
	TaskID string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	return fmt.Sprintf("step %d: node %s: %v", e.Step, e.Node, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *TaskError) Unwrap() error {
	return e.Err
}

// PanicError captures panic information from a task.
// It includes the stack trace for debugging.
type PanicError struct {
	// Node is the node that panicked.
	Node string
	// Value is the value passed to panic().
	Value any
	// Stack is the full stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.Node, e.Value)
}

// StepTimeoutError is returned when a step's tasks outlive the step timeout.
type StepTimeoutError struct {
	// Step is the step that timed out.
	Step int
	// Timeout is the configured step timeout.
	Timeout time.Duration
}

// Error implements the error interface.
func (e *StepTimeoutError) Error() string {
	return fmt.Sprintf("step %d exceeded timeout of %s", e.Step, e.Timeout)
}

// Unwrap returns context.DeadlineExceeded for errors.Is support.
func (e *StepTimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// CheckpointError wraps errors from checkpoint persistence.
type CheckpointError struct {
	// Op is the operation that failed ("get", "put", "restore").
	Op string
	// Step is the step of the checkpoint, -1 when unknown.
	Step int
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s at step %d: %v", e.Op, e.Step, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *CheckpointError) Unwrap() error {
	return e.Err
}
