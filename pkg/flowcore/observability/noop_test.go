package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNoopMetrics(t *testing.T) {
	m := NoopMetrics{}
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordTask(ctx, "node", time.Millisecond, nil)
		m.RecordTask(ctx, "", 0, errors.New("x"))
		m.RecordStep(ctx, 3, time.Millisecond)
		m.RecordRun(ctx, false, time.Second)
		m.RecordCheckpoint(ctx, "loop", errors.New("x"))
	})
}

func TestNoopSpanManager(t *testing.T) {
	sm := NoopSpanManager{}
	ctx := context.Background()

	runCtx, span := sm.StartRunSpan(ctx, "flow", "thread")
	assert.Equal(t, ctx, runCtx)
	assert.False(t, span.IsRecording())

	stepCtx, span := sm.StartStepSpan(ctx, 1)
	assert.Equal(t, ctx, stepCtx)
	assert.NotNil(t, span)

	taskCtx, span := sm.StartTaskSpan(ctx, "a", "id")
	assert.Equal(t, ctx, taskCtx)

	assert.NotPanics(t, func() {
		sm.EndSpanWithError(span, errors.New("x"))
		sm.AddSpanEvent(ctx, "event")
	})
}
