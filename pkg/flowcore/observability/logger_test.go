package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func TestEnrichLogger(t *testing.T) {
	logger, logs := newObservedLogger()

	enriched := EnrichLogger(logger, "thread-1", 3, "retrieve", "task-9")
	require.NotNil(t, enriched)
	enriched.Info("working")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "thread-1", fields["thread_id"])
	assert.Equal(t, int64(3), fields["step"])
	assert.Equal(t, "retrieve", fields["node"])
	assert.Equal(t, "task-9", fields["task_id"])
}

func TestLogHelpers(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name   string
		log    func(*zap.Logger)
		msg    string
		level  zapcore.Level
		fields map[string]any
	}{
		{
			name:   "run start",
			log:    func(l *zap.Logger) { LogRunStart(l, "t1", true) },
			msg:    "run starting",
			level:  zapcore.InfoLevel,
			fields: map[string]any{"thread_id": "t1", "resumed": true},
		},
		{
			name:   "run complete",
			log:    func(l *zap.Logger) { LogRunComplete(l, "t1", 12.5, 4, false) },
			msg:    "run completed",
			level:  zapcore.InfoLevel,
			fields: map[string]any{"steps": int64(4), "duration_ms": 12.5, "interrupted": false},
		},
		{
			name:   "run error",
			log:    func(l *zap.Logger) { LogRunError(l, "t1", boom, 1, 2) },
			msg:    "run failed",
			level:  zapcore.ErrorLevel,
			fields: map[string]any{"error": "boom", "step": int64(2)},
		},
		{
			name:   "step start",
			log:    func(l *zap.Logger) { LogStepStart(l, 0, []string{"a", "b"}) },
			msg:    "step starting",
			level:  zapcore.DebugLevel,
			fields: map[string]any{"step": int64(0), "nodes": []any{"a", "b"}},
		},
		{
			name:   "task start",
			log:    func(l *zap.Logger) { LogTaskStart(l, "a", "id") },
			msg:    "task starting",
			level:  zapcore.DebugLevel,
			fields: map[string]any{"node": "a", "task_id": "id"},
		},
		{
			name:   "task complete",
			log:    func(l *zap.Logger) { LogTaskComplete(l, "a", "id", 3, 2) },
			msg:    "task completed",
			level:  zapcore.DebugLevel,
			fields: map[string]any{"writes": int64(2)},
		},
		{
			name:   "task error",
			log:    func(l *zap.Logger) { LogTaskError(l, "a", "id", boom) },
			msg:    "task failed",
			level:  zapcore.ErrorLevel,
			fields: map[string]any{"node": "a", "error": "boom"},
		},
		{
			name:   "checkpoint",
			log:    func(l *zap.Logger) { LogCheckpoint(l, "t1", "cp", "loop", 1) },
			msg:    "checkpoint saved",
			level:  zapcore.DebugLevel,
			fields: map[string]any{"checkpoint_id": "cp", "source": "loop"},
		},
		{
			name:   "checkpoint error",
			log:    func(l *zap.Logger) { LogCheckpointError(l, "t1", 1, boom) },
			msg:    "checkpoint failed",
			level:  zapcore.WarnLevel,
			fields: map[string]any{"error": "boom"},
		},
		{
			name:   "interrupt",
			log:    func(l *zap.Logger) { LogInterrupt(l, "t1", 2, "before", []string{"b"}) },
			msg:    "run interrupted",
			level:  zapcore.InfoLevel,
			fields: map[string]any{"when": "before", "nodes": []any{"b"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, logs := newObservedLogger()
			tt.log(logger)

			require.Equal(t, 1, logs.Len())
			entry := logs.All()[0]
			assert.Equal(t, tt.msg, entry.Message)
			assert.Equal(t, tt.level, entry.Level)
			ctx := entry.ContextMap()
			for k, v := range tt.fields {
				assert.Equal(t, v, ctx[k], "field %s", k)
			}
		})
	}
}

func TestLogHelpers_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		LogRunStart(nil, "t", false)
		LogRunComplete(nil, "t", 0, 0, false)
		LogRunError(nil, "t", errors.New("x"), 0, 0)
		LogStepStart(nil, 0, nil)
		LogTaskStart(nil, "n", "id")
		LogTaskComplete(nil, "n", "id", 0, 0)
		LogTaskError(nil, "n", "id", errors.New("x"))
		LogCheckpoint(nil, "t", "cp", "loop", 0)
		LogCheckpointError(nil, "t", 0, errors.New("x"))
		LogInterrupt(nil, "t", 0, "after", nil)
		assert.Nil(t, EnrichLogger(nil, "t", 0, "n", "id"))
	})
}

func TestTimedOperation(t *testing.T) {
	done := TimedOperation()
	time.Sleep(10 * time.Millisecond)
	elapsed := done()

	assert.GreaterOrEqual(t, elapsed, 10.0)
	assert.Less(t, elapsed, 1000.0)
}
