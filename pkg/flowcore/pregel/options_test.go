package pregel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/flowcore/pkg/flowcore/config"
	"github.com/randalmurphal/flowcore/pkg/flowcore/module"
)

func settingsOf(opts []RunOption) settings {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func TestDefaultSettings(t *testing.T) {
	s := defaultSettings().withDefaults()

	assert.Equal(t, DefaultRecursionLimit, s.recursionLimit)
	assert.Equal(t, []StreamMode{StreamValues}, s.modes)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.spans)
	assert.NotNil(t, s.metrics)
}

func TestOptionsFromKwargs(t *testing.T) {
	opts, err := OptionsFromKwargs(module.Kwargs{
		"thread_id":        "t1",
		"recursion_limit":  7,
		"stream_mode":      []any{"updates", "debug"},
		"interrupt_before": "*",
		"interrupt_after":  []any{"a", "b"},
		"output_keys":      "out",
		"input_keys":       []any{"x", "y"},
		"debug":            true,
		"step_timeout":     "2s",
		"max_workers":      4,
		"configurable":     map[string]any{"thread_ts": "ts1", "user": "u1"},
	})
	require.NoError(t, err)
	s := settingsOf(opts)

	assert.Equal(t, "t1", s.threadID)
	assert.Equal(t, "ts1", s.threadTS)
	assert.Equal(t, 7, s.recursionLimit)
	assert.Equal(t, []StreamMode{StreamUpdates, StreamDebug}, s.modes)
	assert.Equal(t, []string{All}, s.interruptBefore)
	assert.Equal(t, []string{"a", "b"}, s.interruptAfter)
	assert.Equal(t, Key("out"), s.output)
	assert.Equal(t, KeyList("x", "y"), s.input)
	assert.True(t, s.debug)
	assert.Equal(t, 2*time.Second, s.stepTimeout)
	assert.Equal(t, 4, s.maxWorkers)
	assert.Equal(t, "u1", s.kwargs["user"])
}

func TestOptionsFromConfig_YAML(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
model: small
run:
  stream_mode: values
  recursion_limit: 3
  interrupt_before: [review]
  configurable:
    thread_id: from-yaml
`))
	require.NoError(t, err)

	opts, err := OptionsFromConfig(cfg)
	require.NoError(t, err)
	s := settingsOf(opts)

	assert.Equal(t, "from-yaml", s.threadID)
	assert.Equal(t, 3, s.recursionLimit)
	assert.Equal(t, []StreamMode{StreamValues}, s.modes)
	assert.Equal(t, []string{"review"}, s.interruptBefore)
}

func TestOptionsFromKwargs_Invalid(t *testing.T) {
	tests := []struct {
		name string
		kw   module.Kwargs
	}{
		{"unknown mode", module.Kwargs{"stream_mode": "everything"}},
		{"mode type", module.Kwargs{"stream_mode": 3}},
		{"interrupt type", module.Kwargs{"interrupt_before": 3}},
		{"output type", module.Kwargs{"output_keys": 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := OptionsFromKwargs(tt.kw)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestKeys(t *testing.T) {
	single := Key("a")
	assert.True(t, single.Single())
	assert.Equal(t, []string{"a"}, single.Names())
	assert.Equal(t, "a", single.String())

	list := KeyList("a", "b")
	assert.False(t, list.Single())
	assert.Equal(t, "[a b]", list.String())
	assert.True(t, Keys{}.IsZero())

	writes, err := list.inputWrites(map[string]any{"a": 1, "c": 3})
	require.NoError(t, err)
	assert.Equal(t, []Write{{Channel: "a", Value: 1}}, writes)

	writes, err = single.inputWrites(5)
	require.NoError(t, err)
	assert.Equal(t, []Write{{Channel: "a", Value: 5}}, writes)
}
