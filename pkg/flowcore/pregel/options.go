package pregel

import (
	"fmt"
	"maps"
	"time"

	"go.uber.org/zap"

	"github.com/randalmurphal/flowcore/pkg/flowcore/checkpoint"
	"github.com/randalmurphal/flowcore/pkg/flowcore/config"
	"github.com/randalmurphal/flowcore/pkg/flowcore/managed"
	"github.com/randalmurphal/flowcore/pkg/flowcore/module"
	"github.com/randalmurphal/flowcore/pkg/flowcore/observability"
)

// StreamMode selects what a run emits.
type StreamMode string

// Stream modes.
const (
	// StreamValues emits the output channels after every step that wrote them.
	StreamValues StreamMode = "values"
	// StreamUpdates emits {node: output} per completed task.
	StreamUpdates StreamMode = "updates"
	// StreamDebug emits DebugEvents for tasks, results and checkpoints.
	StreamDebug StreamMode = "debug"
)

// All interrupts on every node that is not hidden.
const All = "*"

// DefaultRecursionLimit is the step budget of a run.
const DefaultRecursionLimit = 25

// settings holds the configuration of one run.
type settings struct {
	name            string
	threadID        string
	threadTS        string
	modes           []StreamMode
	input           Keys
	output          Keys
	interruptBefore []string
	interruptAfter  []string
	recursionLimit  int
	stepTimeout     time.Duration
	maxWorkers      int
	debug           bool
	saver           checkpoint.Saver
	managed         map[string]managed.Factory
	tags            map[string]any
	kwargs          module.Kwargs
	logger          *zap.Logger
	spans           observability.SpanManager
	metrics         observability.MetricsRecorder
}

func defaultSettings() settings {
	return settings{
		name:           "pregel",
		modes:          []StreamMode{StreamValues},
		recursionLimit: DefaultRecursionLimit,
	}
}

// withDefaults fills the observability fields left unset.
func (s settings) withDefaults() settings {
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.spans == nil {
		s.spans = observability.NoopSpanManager{}
	}
	if s.metrics == nil {
		s.metrics = observability.NoopMetrics{}
	}
	return s
}

// RunOption configures a Pregel. Options passed to New become defaults;
// options passed to a driver override them for one run.
type RunOption func(*settings)

// WithName names the engine in logs and spans.
func WithName(name string) RunOption {
	return func(s *settings) {
		s.name = name
	}
}

// WithThreadID selects the checkpoint thread. A run without one gets a
// fresh random thread.
func WithThreadID(id string) RunOption {
	return func(s *settings) {
		s.threadID = id
	}
}

// WithThreadTS resumes from a specific checkpoint of the thread instead of
// the latest one.
func WithThreadTS(ts string) RunOption {
	return func(s *settings) {
		s.threadTS = ts
	}
}

// WithStreamMode selects what the run emits. Several modes make Stream
// yield chunks of each.
func WithStreamMode(modes ...StreamMode) RunOption {
	return func(s *settings) {
		if len(modes) > 0 {
			s.modes = modes
		}
	}
}

// WithInput overrides the channels the run input is written to.
func WithInput(keys Keys) RunOption {
	return func(s *settings) {
		s.input = keys
	}
}

// WithOutput overrides the channels the run output is read from.
func WithOutput(keys Keys) RunOption {
	return func(s *settings) {
		s.output = keys
	}
}

// WithInterruptBefore pauses the run before any of nodes executes. All
// matches every node that is not hidden. Requires a checkpointer.
func WithInterruptBefore(nodes ...string) RunOption {
	return func(s *settings) {
		s.interruptBefore = nodes
	}
}

// WithInterruptAfter pauses the run after any of nodes executed. All
// matches every node that is not hidden. Requires a checkpointer.
func WithInterruptAfter(nodes ...string) RunOption {
	return func(s *settings) {
		s.interruptAfter = nodes
	}
}

// WithRecursionLimit sets the step budget. Default: 25.
//
// A run still planning tasks after limit steps fails with a
// *RecursionError. Its progress up to that point stays checkpointed, so it
// can be resumed with a larger limit.
func WithRecursionLimit(n int) RunOption {
	return func(s *settings) {
		s.recursionLimit = n
	}
}

// WithStepTimeout bounds the execute phase of every step.
func WithStepTimeout(d time.Duration) RunOption {
	return func(s *settings) {
		s.stepTimeout = d
	}
}

// WithMaxWorkers caps the number of tasks executing concurrently. Zero
// means no limit.
func WithMaxWorkers(n int) RunOption {
	return func(s *settings) {
		s.maxWorkers = n
	}
}

// WithDebug logs the plan and writes of every step at Info.
func WithDebug(enabled bool) RunOption {
	return func(s *settings) {
		s.debug = enabled
	}
}

// WithCheckpointer persists the run's checkpoints with saver.
func WithCheckpointer(saver checkpoint.Saver) RunOption {
	return func(s *settings) {
		s.saver = saver
	}
}

// WithManaged registers a managed value nodes can read under name. The
// factory runs once per run.
func WithManaged(name string, f managed.Factory) RunOption {
	return func(s *settings) {
		s.managed = maps.Clone(s.managed)
		if s.managed == nil {
			s.managed = map[string]managed.Factory{}
		}
		s.managed[name] = f
	}
}

// WithCheckpointTags stores tags in the metadata of every checkpoint the
// run writes. Tagged checkpoints can be found with checkpoint.Filter.Extra.
func WithCheckpointTags(tags map[string]any) RunOption {
	return func(s *settings) {
		s.tags = maps.Clone(tags)
	}
}

// WithKwargs passes kw to every task of the run.
func WithKwargs(kw module.Kwargs) RunOption {
	return func(s *settings) {
		s.kwargs = module.Merge(s.kwargs, kw)
	}
}

// WithLogger sets the logger. Default: no logging.
func WithLogger(logger *zap.Logger) RunOption {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithTracing sets the span manager. Default: no tracing.
func WithTracing(spans observability.SpanManager) RunOption {
	return func(s *settings) {
		s.spans = spans
	}
}

// WithMetrics sets the metrics recorder. Default: no metrics.
func WithMetrics(metrics observability.MetricsRecorder) RunOption {
	return func(s *settings) {
		s.metrics = metrics
	}
}

// Keyword configuration keys understood by OptionsFromConfig.
const (
	ConfigThreadID        = "thread_id"
	ConfigThreadTS        = "thread_ts"
	ConfigRecursionLimit  = "recursion_limit"
	ConfigStreamMode      = "stream_mode"
	ConfigInterruptBefore = "interrupt_before"
	ConfigInterruptAfter  = "interrupt_after"
	ConfigOutputKeys      = "output_keys"
	ConfigInputKeys       = "input_keys"
	ConfigDebug           = "debug"
	ConfigStepTimeout     = "step_timeout"
	ConfigMaxWorkers      = "max_workers"
	ConfigConfigurable    = "configurable"
)

// OptionsFromKwargs converts keyword configuration to run options.
func OptionsFromKwargs(kw module.Kwargs) ([]RunOption, error) {
	return OptionsFromConfig(config.New(kw))
}

// OptionsFromConfig converts run configuration, typically loaded with
// config.Load, to run options.
//
// Recognized keys are thread_id, thread_ts, recursion_limit, stream_mode,
// interrupt_before, interrupt_after, output_keys, input_keys, debug,
// step_timeout and max_workers. Entries of the "configurable" section are
// passed to every task as kwargs; thread_id and thread_ts may also be set
// there.
func OptionsFromConfig(cfg config.Config) ([]RunOption, error) {
	var opts []RunOption

	configurable := cfg.Section(ConfigConfigurable)
	if len(configurable.Keys()) > 0 {
		opts = append(opts, WithKwargs(configurable.Raw()))
	}
	for _, src := range []config.Config{configurable, cfg} {
		if id := src.String(ConfigThreadID, ""); id != "" {
			opts = append(opts, WithThreadID(id))
		}
		if ts := src.String(ConfigThreadTS, ""); ts != "" {
			opts = append(opts, WithThreadTS(ts))
		}
	}

	if cfg.Has(ConfigRecursionLimit) {
		opts = append(opts, WithRecursionLimit(cfg.Int(ConfigRecursionLimit, 0)))
	}
	if cfg.Has(ConfigStreamMode) {
		modes, err := parseModes(cfg.Any(ConfigStreamMode, nil))
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithStreamMode(modes...))
	}
	if cfg.Has(ConfigInterruptBefore) {
		nodes, err := parseNodes(cfg, ConfigInterruptBefore)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithInterruptBefore(nodes...))
	}
	if cfg.Has(ConfigInterruptAfter) {
		nodes, err := parseNodes(cfg, ConfigInterruptAfter)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithInterruptAfter(nodes...))
	}
	if cfg.Has(ConfigOutputKeys) {
		keys, err := parseKeys(cfg, ConfigOutputKeys)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithOutput(keys))
	}
	if cfg.Has(ConfigInputKeys) {
		keys, err := parseKeys(cfg, ConfigInputKeys)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithInput(keys))
	}
	if cfg.Has(ConfigDebug) {
		opts = append(opts, WithDebug(cfg.Bool(ConfigDebug, false)))
	}
	if cfg.Has(ConfigStepTimeout) {
		opts = append(opts, WithStepTimeout(cfg.Duration(ConfigStepTimeout, 0)))
	}
	if cfg.Has(ConfigMaxWorkers) {
		opts = append(opts, WithMaxWorkers(cfg.Int(ConfigMaxWorkers, 0)))
	}
	return opts, nil
}

func parseModes(v any) ([]StreamMode, error) {
	var raw []string
	switch m := v.(type) {
	case string:
		raw = []string{m}
	case StreamMode:
		return []StreamMode{m}, nil
	case []StreamMode:
		return m, nil
	default:
		list := config.New(map[string]any{"m": v}).StringSlice("m", nil)
		if list == nil {
			return nil, fmt.Errorf("%w: stream_mode must be a string or a list, got %T", ErrConfiguration, v)
		}
		raw = list
	}
	modes := make([]StreamMode, len(raw))
	for i, r := range raw {
		switch mode := StreamMode(r); mode {
		case StreamValues, StreamUpdates, StreamDebug:
			modes[i] = mode
		default:
			return nil, fmt.Errorf("%w: unknown stream mode %q", ErrConfiguration, r)
		}
	}
	return modes, nil
}

func parseNodes(cfg config.Config, key string) ([]string, error) {
	if s := cfg.String(key, ""); s != "" {
		return []string{s}, nil
	}
	nodes := cfg.StringSlice(key, nil)
	if nodes == nil {
		return nil, fmt.Errorf("%w: %s must be %q or a list of node names", ErrConfiguration, key, All)
	}
	return nodes, nil
}

func parseKeys(cfg config.Config, key string) (Keys, error) {
	if s := cfg.String(key, ""); s != "" {
		return Key(s), nil
	}
	names := cfg.StringSlice(key, nil)
	if names == nil {
		return Keys{}, fmt.Errorf("%w: %s must be a channel name or a list of names", ErrConfiguration, key)
	}
	return KeyList(names...), nil
}
