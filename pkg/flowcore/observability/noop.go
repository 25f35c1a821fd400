package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
// Use when metrics are disabled to avoid overhead.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

// RecordTask does nothing.
func (NoopMetrics) RecordTask(context.Context, string, time.Duration, error) {}

// RecordStep does nothing.
func (NoopMetrics) RecordStep(context.Context, int, time.Duration) {}

// RecordRun does nothing.
func (NoopMetrics) RecordRun(context.Context, bool, time.Duration) {}

// RecordCheckpoint does nothing.
func (NoopMetrics) RecordCheckpoint(context.Context, string, error) {}

// NoopSpanManager is a SpanManager that does nothing.
// Use when tracing is disabled to avoid overhead.
type NoopSpanManager struct{}

// Compile-time interface check.
var _ SpanManager = NoopSpanManager{}

var noopSpan trace.Span = noop.Span{}

// StartRunSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartRunSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartStepSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartStepSpan(ctx context.Context, _ int) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartTaskSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartTaskSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(trace.Span, error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(context.Context, string, ...attribute.KeyValue) {}
