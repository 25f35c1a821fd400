package pregel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/randalmurphal/flowcore/pkg/flowcore/checkpoint"
	"github.com/randalmurphal/flowcore/pkg/flowcore/module"
	"github.com/randalmurphal/flowcore/pkg/flowcore/observability"
)

type recordingMetrics struct {
	mu          sync.Mutex
	tasks       []string
	steps       int
	runs        []bool
	checkpoints []string
}

func (m *recordingMetrics) RecordTask(_ context.Context, node string, _ time.Duration, _ error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, node)
}

func (m *recordingMetrics) RecordStep(context.Context, int, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps++
}

func (m *recordingMetrics) RecordRun(_ context.Context, success bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, success)
}

func (m *recordingMetrics) RecordCheckpoint(_ context.Context, source string, _ error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints = append(m.checkpoints, source)
}

var _ observability.MetricsRecorder = (*recordingMetrics)(nil)

func TestRun_Logging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	p := newChain(t, WithLogger(zap.New(core)), WithName("chain"))

	_, err := p.Invoke(context.Background(), 3, WithThreadID("log"))
	require.NoError(t, err)

	assert.Equal(t, 1, logs.FilterMessage("run starting").Len())
	assert.Equal(t, 2, logs.FilterMessage("step starting").Len())
	assert.Equal(t, 2, logs.FilterMessage("task completed").Len())

	done := logs.FilterMessage("run completed").All()
	require.Len(t, done, 1)
	fields := done[0].ContextMap()
	assert.Equal(t, "log", fields["thread_id"])
	assert.Equal(t, "chain", fields["flow"])
	assert.Equal(t, int64(2), fields["steps"])
}

func TestRun_DebugLogging(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	p := newChain(t, WithLogger(zap.New(core)))

	_, err := p.Invoke(context.Background(), 3, WithDebug(true))
	require.NoError(t, err)

	assert.Equal(t, 2, logs.FilterMessage("step plan").Len())
	assert.Equal(t, 2, logs.FilterMessage("task writes").Len())
}

func TestRun_TaskLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	hello := module.Sync("hello", func(_ context.Context, in any, kw module.Kwargs) (any, error) {
		LoggerFrom(kw).Info("hello from task")
		return in, nil
	})
	p, err := New(map[string]*Node{"hello": Subscribe("in", hello)},
		newChain(t).channels, Key("in"), Key("in"), WithLogger(zap.New(core)))
	require.NoError(t, err)

	_, err = p.Invoke(context.Background(), 1, WithThreadID("tl"))
	require.NoError(t, err)

	entries := logs.FilterMessage("hello from task").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "hello", entries[0].ContextMap()["node"])
	assert.Equal(t, "tl", entries[0].ContextMap()["thread_id"])
}

func TestRun_Tracing(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	p := newChain(t, WithTracing(observability.NewSpanManagerFromProvider(tp)))

	_, err := p.Invoke(context.Background(), 3)
	require.NoError(t, err)

	var names []string
	for _, s := range exporter.GetSpans() {
		names = append(names, s.Name)
	}
	assert.ElementsMatch(t, []string{
		"flowcore.task.inc", "flowcore.step",
		"flowcore.task.double", "flowcore.step",
		"flowcore.run",
	}, names)
}

func TestRun_Metrics(t *testing.T) {
	m := &recordingMetrics{}
	p := newChain(t, WithMetrics(m), WithCheckpointer(checkpoint.NewMemorySaver()))

	_, err := p.Invoke(context.Background(), 3)
	require.NoError(t, err)

	assert.Equal(t, []string{"inc", "double"}, m.tasks)
	assert.Equal(t, 2, m.steps)
	assert.Equal(t, []bool{true}, m.runs)
	assert.Equal(t, []string{"input", "loop", "loop"}, m.checkpoints)
}

type failingSaver struct {
	*checkpoint.MemorySaver
}

func (failingSaver) Put(context.Context, checkpoint.Config, *checkpoint.Checkpoint, checkpoint.Metadata) (checkpoint.Config, error) {
	return checkpoint.Config{}, errors.New("disk full")
}

// TestCheckpointFailure tests that a failed background put surfaces when
// the run ends.
func TestCheckpointFailure(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	p := newChain(t, WithCheckpointer(failingSaver{checkpoint.NewMemorySaver()}), WithLogger(zap.New(core)))

	_, err := p.Invoke(context.Background(), 3)
	var cpErr *CheckpointError
	require.ErrorAs(t, err, &cpErr)
	assert.Equal(t, "put", cpErr.Op)
	assert.Equal(t, -1, cpErr.Step)
	assert.GreaterOrEqual(t, logs.FilterMessage("checkpoint failed").Len(), 1)
}
