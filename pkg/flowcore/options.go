package flowcore

import (
	"go.uber.org/zap"

	"github.com/randalmurphal/flowcore/pkg/flowcore/checkpoint"
	"github.com/randalmurphal/flowcore/pkg/flowcore/pregel"
)

// compileConfig holds configuration for Compile.
type compileConfig struct {
	name            string
	saver           checkpoint.Saver
	interruptBefore []string
	interruptAfter  []string
	debug           bool
	logger          *zap.Logger
	inputKeys       []string
	runOpts         []pregel.RunOption
}

// defaultCompileConfig returns the default compile configuration.
func defaultCompileConfig() compileConfig {
	return compileConfig{
		name:   "flow",
		logger: zap.NewNop(),
	}
}

// CompileOption configures Compile.
type CompileOption func(*compileConfig)

// WithName names the compiled flow in logs, spans and metrics.
// Default: "flow"
func WithName(name string) CompileOption {
	return func(c *compileConfig) {
		if name != "" {
			c.name = name
		}
	}
}

// WithCheckpointer persists every step of every run to saver. Interrupts
// and the state API need it.
func WithCheckpointer(saver checkpoint.Saver) CompileOption {
	return func(c *compileConfig) {
		c.saver = saver
	}
}

// WithInterruptBefore pauses runs before any of nodes executes. Pass
// pregel.All for every node.
func WithInterruptBefore(nodes ...string) CompileOption {
	return func(c *compileConfig) {
		c.interruptBefore = append(c.interruptBefore, nodes...)
	}
}

// WithInterruptAfter pauses runs after any of nodes executes.
func WithInterruptAfter(nodes ...string) CompileOption {
	return func(c *compileConfig) {
		c.interruptAfter = append(c.interruptAfter, nodes...)
	}
}

// WithDebug raises plan, task and write traces to Info.
func WithDebug(enabled bool) CompileOption {
	return func(c *compileConfig) {
		c.debug = enabled
	}
}

// WithLogger sets the logger used for compile warnings and runs.
func WithLogger(logger *zap.Logger) CompileOption {
	return func(c *compileConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithInputKeys restricts which state keys a state flow's input
// populates. Other input keys are ignored.
func WithInputKeys(keys ...string) CompileOption {
	return func(c *compileConfig) {
		c.inputKeys = append(c.inputKeys, keys...)
	}
}

// WithRunOptions sets defaults applied to every run of the compiled flow.
//
// Example:
//
//	compiled, err := flow.Compile(flowcore.WithRunOptions(
//	    pregel.WithRecursionLimit(50),
//	    pregel.WithStepTimeout(time.Minute),
//	))
func WithRunOptions(opts ...pregel.RunOption) CompileOption {
	return func(c *compileConfig) {
		c.runOpts = append(c.runOpts, opts...)
	}
}

// pregelOptions converts the configuration into engine defaults.
func (c compileConfig) pregelOptions() []pregel.RunOption {
	opts := []pregel.RunOption{
		pregel.WithName(c.name),
		pregel.WithLogger(c.logger),
		pregel.WithDebug(c.debug),
	}
	if c.saver != nil {
		opts = append(opts, pregel.WithCheckpointer(c.saver))
	}
	if len(c.interruptBefore) > 0 {
		opts = append(opts, pregel.WithInterruptBefore(c.interruptBefore...))
	}
	if len(c.interruptAfter) > 0 {
		opts = append(opts, pregel.WithInterruptAfter(c.interruptAfter...))
	}
	return append(opts, c.runOpts...)
}
