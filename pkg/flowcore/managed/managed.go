// Package managed provides values that the Pregel engine computes for each
// task instead of reading them from a channel. They live for one run and
// are never checkpointed.
package managed

import (
	"context"
	"errors"

	"github.com/randalmurphal/flowcore/pkg/flowcore/checkpoint"
)

// Scope describes the run a managed value is created for.
type Scope struct {
	// Saver is the run's checkpointer, nil when the run has none.
	Saver checkpoint.Saver
	// Config addresses the run's thread.
	Config checkpoint.Config
	// Stop is the first step the run may not execute; Stop-1 is the last.
	Stop int
}

// Task describes the task a value is computed for.
type Task struct {
	// Name is the node the task runs.
	Name string
	// Step is the step the task runs in.
	Step int
}

// Value produces a per-task value.
type Value interface {
	Get(ctx context.Context, step int, task Task) (any, error)
}

// Factory creates a Value when a run starts. If the Value also implements
// io.Closer it is closed when the run ends.
type Factory func(ctx context.Context, scope Scope) (Value, error)

// Func adapts a function to Value.
type Func func(ctx context.Context, step int, task Task) (any, error)

// Get implements Value.
func (f Func) Get(ctx context.Context, step int, task Task) (any, error) {
	return f(ctx, step, task)
}

// IsLastStep reports, per task, whether the task runs in the last step the
// recursion limit allows. Nodes use it to wrap up instead of looping.
func IsLastStep(_ context.Context, scope Scope) (Value, error) {
	return Func(func(_ context.Context, step int, _ Task) (any, error) {
		return step == scope.Stop-1, nil
	}), nil
}

// ErrNoSaver is returned by values that read history when the run has no
// checkpointer.
var ErrNoSaver = errors.New("managed value requires a checkpointer")

// FewShot returns a factory for a value holding the channel values of up to
// k past checkpoints whose metadata tags match tags, newest first. Runs
// mark good examples with tags via pregel.WithCheckpointTags; the lookup
// spans every thread. Examples are loaded once per run.
func FewShot(k int, tags map[string]any) Factory {
	return func(ctx context.Context, scope Scope) (Value, error) {
		if scope.Saver == nil {
			return nil, ErrNoSaver
		}
		filter := checkpoint.Filter{Extra: tags, Limit: k}
		var examples []map[string]any
		for saved, err := range scope.Saver.List(ctx, checkpoint.Config{}, filter) {
			if err != nil {
				return nil, err
			}
			examples = append(examples, saved.Checkpoint.ChannelValues)
		}
		return Func(func(context.Context, int, Task) (any, error) {
			return examples, nil
		}), nil
	}
}
