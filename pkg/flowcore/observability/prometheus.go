package observability

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics implements MetricsRecorder with Prometheus collectors.
type PrometheusMetrics struct {
	tasksTotal       *prometheus.CounterVec
	taskDuration     *prometheus.HistogramVec
	stepsTotal       prometheus.Counter
	stepTasks        prometheus.Histogram
	runsTotal        *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	checkpointsTotal *prometheus.CounterVec
}

// Compile-time interface check.
var _ MetricsRecorder = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates the collectors under namespace and registers
// them on reg.
func NewPrometheusMetrics(namespace string, reg prometheus.Registerer) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		tasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_total",
				Help:      "Total number of task executions",
			},
			[]string{"node", "status"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Task execution duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"node"},
		),
		stepsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_total",
				Help:      "Total number of completed steps",
			},
		),
		stepTasks: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_tasks",
				Help:      "Tasks executed per step",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
			},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of runs",
			},
			[]string{"success"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Run duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"success"},
		),
		checkpointsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkpoints_total",
				Help:      "Total number of checkpoint puts",
			},
			[]string{"source", "status"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.tasksTotal, m.taskDuration, m.stepsTotal, m.stepTasks,
		m.runsTotal, m.runDuration, m.checkpointsTotal,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordTask implements MetricsRecorder.
func (m *PrometheusMetrics) RecordTask(_ context.Context, node string, duration time.Duration, err error) {
	m.tasksTotal.WithLabelValues(node, status(err)).Inc()
	m.taskDuration.WithLabelValues(node).Observe(duration.Seconds())
}

// RecordStep implements MetricsRecorder.
func (m *PrometheusMetrics) RecordStep(_ context.Context, tasks int, _ time.Duration) {
	m.stepsTotal.Inc()
	m.stepTasks.Observe(float64(tasks))
}

// RecordRun implements MetricsRecorder.
func (m *PrometheusMetrics) RecordRun(_ context.Context, success bool, duration time.Duration) {
	label := strconv.FormatBool(success)
	m.runsTotal.WithLabelValues(label).Inc()
	m.runDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// RecordCheckpoint implements MetricsRecorder.
func (m *PrometheusMetrics) RecordCheckpoint(_ context.Context, source string, err error) {
	m.checkpointsTotal.WithLabelValues(source, status(err)).Inc()
}
