package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// MetricsRecorder records flowcore metrics.
// Use NewMetricsRecorder() for OTel metrics, NewPrometheusMetrics for
// Prometheus, or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordTask records a task execution with its duration and error status.
	RecordTask(ctx context.Context, node string, duration time.Duration, err error)

	// RecordStep records a completed step and the number of tasks it ran.
	RecordStep(ctx context.Context, tasks int, duration time.Duration)

	// RecordRun records a run completion.
	RecordRun(ctx context.Context, success bool, duration time.Duration)

	// RecordCheckpoint records a checkpoint put.
	RecordCheckpoint(ctx context.Context, source string, err error)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	taskExecutions   metric.Int64Counter
	taskLatency      metric.Float64Histogram
	taskErrors       metric.Int64Counter
	steps            metric.Int64Counter
	stepTasks        metric.Int64Histogram
	runs             metric.Int64Counter
	runLatency       metric.Float64Histogram
	checkpoints      metric.Int64Counter
	checkpointErrors metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics(otel.Meter("flowcore"))
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates the instruments on meter.
func newOtelMetrics(meter metric.Meter) (*otelMetrics, error) {
	var (
		m   otelMetrics
		err error
	)

	if m.taskExecutions, err = meter.Int64Counter("flowcore.task.executions",
		metric.WithDescription("Number of task executions"),
	); err != nil {
		return nil, err
	}
	if m.taskLatency, err = meter.Float64Histogram("flowcore.task.latency_ms",
		metric.WithDescription("Task execution latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.taskErrors, err = meter.Int64Counter("flowcore.task.errors",
		metric.WithDescription("Number of task execution errors"),
	); err != nil {
		return nil, err
	}
	if m.steps, err = meter.Int64Counter("flowcore.steps",
		metric.WithDescription("Number of completed steps"),
	); err != nil {
		return nil, err
	}
	if m.stepTasks, err = meter.Int64Histogram("flowcore.step.tasks",
		metric.WithDescription("Tasks executed per step"),
	); err != nil {
		return nil, err
	}
	if m.runs, err = meter.Int64Counter("flowcore.runs",
		metric.WithDescription("Number of runs"),
	); err != nil {
		return nil, err
	}
	if m.runLatency, err = meter.Float64Histogram("flowcore.run.latency_ms",
		metric.WithDescription("Run latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.checkpoints, err = meter.Int64Counter("flowcore.checkpoints",
		metric.WithDescription("Number of checkpoint puts"),
	); err != nil {
		return nil, err
	}
	if m.checkpointErrors, err = meter.Int64Counter("flowcore.checkpoint.errors",
		metric.WithDescription("Number of failed checkpoint puts"),
	); err != nil {
		return nil, err
	}
	return &m, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		zap.L().Warn("metrics initialization failed, using no-op recorder", zap.Error(err))
		return NoopMetrics{}
	}
	return m
}

// NewMetricsRecorderFromMeter returns a MetricsRecorder using meter instead
// of the global provider.
func NewMetricsRecorderFromMeter(meter metric.Meter) (MetricsRecorder, error) {
	m, err := newOtelMetrics(meter)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// RecordTask records a task execution.
func (m *otelMetrics) RecordTask(ctx context.Context, node string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("node", node))

	m.taskExecutions.Add(ctx, 1, attrs)
	m.taskLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	if err != nil {
		m.taskErrors.Add(ctx, 1, attrs)
	}
}

// RecordStep records a completed step.
func (m *otelMetrics) RecordStep(ctx context.Context, tasks int, _ time.Duration) {
	m.steps.Add(ctx, 1)
	m.stepTasks.Record(ctx, int64(tasks))
}

// RecordRun records a run.
func (m *otelMetrics) RecordRun(ctx context.Context, success bool, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	m.runs.Add(ctx, 1, attrs)
	m.runLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}

// RecordCheckpoint records a checkpoint put.
func (m *otelMetrics) RecordCheckpoint(ctx context.Context, source string, err error) {
	attrs := metric.WithAttributes(attribute.String("source", source))
	m.checkpoints.Add(ctx, 1, attrs)
	if err != nil {
		m.checkpointErrors.Add(ctx, 1, attrs)
	}
}
