package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "flowcore"

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartRunSpan starts a span for an entire run of a flow.
	StartRunSpan(ctx context.Context, flowName, threadID string) (context.Context, trace.Span)

	// StartStepSpan starts a span for one superstep. It should be a child
	// of the run span.
	StartStepSpan(ctx context.Context, step int) (context.Context, trace.Span)

	// StartTaskSpan starts a span for one task. It should be a child of the
	// step span.
	StartTaskSpan(ctx context.Context, node, taskID string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct {
	tracer trace.Tracer
}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{tracer: otel.Tracer(tracerName)}
}

// NewSpanManagerFromProvider returns a SpanManager using tp instead of the
// global provider.
func NewSpanManagerFromProvider(tp trace.TracerProvider) SpanManager {
	return &otelSpanManager{tracer: tp.Tracer(tracerName)}
}

func (m *otelSpanManager) StartRunSpan(ctx context.Context, flowName, threadID string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "flowcore.run",
		trace.WithAttributes(
			attribute.String("flow.name", flowName),
			attribute.String("thread.id", threadID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartStepSpan(ctx context.Context, step int) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "flowcore.step",
		trace.WithAttributes(attribute.Int("step", step)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartTaskSpan(ctx context.Context, node, taskID string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "flowcore.task."+node,
		trace.WithAttributes(
			attribute.String("node", node),
			attribute.String("task.id", taskID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	AddSpanEvent(ctx, name, attrs...)
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span in context.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
