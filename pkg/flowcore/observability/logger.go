// Package observability provides production-grade observability features
// for flowcore: structured logging, metrics, and distributed tracing.
//
// Features:
//   - Structured logging via zap
//   - Metrics via OpenTelemetry or Prometheus
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
// Every logging helper accepts a nil logger.
package observability

import (
	"time"

	"go.uber.org/zap"
)

// EnrichLogger adds task context to a logger.
// Returns a new logger with thread_id, step, node and task_id fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "thread-1", 3, "retrieve", taskID)
//	enriched.Info("doing work") // includes thread_id, step, node, task_id
func EnrichLogger(logger *zap.Logger, threadID string, step int, node, taskID string) *zap.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		zap.String("thread_id", threadID),
		zap.Int("step", step),
		zap.String("node", node),
		zap.String("task_id", taskID),
	)
}

// LogRunStart logs the start of a run.
func LogRunStart(logger *zap.Logger, threadID string, resumed bool) {
	if logger == nil {
		return
	}
	logger.Info("run starting",
		zap.String("thread_id", threadID),
		zap.Bool("resumed", resumed),
	)
}

// LogRunComplete logs successful run completion.
func LogRunComplete(logger *zap.Logger, threadID string, durationMs float64, steps int, interrupted bool) {
	if logger == nil {
		return
	}
	logger.Info("run completed",
		zap.String("thread_id", threadID),
		zap.Float64("duration_ms", durationMs),
		zap.Int("steps", steps),
		zap.Bool("interrupted", interrupted),
	)
}

// LogRunError logs run failure.
func LogRunError(logger *zap.Logger, threadID string, err error, durationMs float64, step int) {
	if logger == nil {
		return
	}
	logger.Error("run failed",
		zap.String("thread_id", threadID),
		zap.Error(err),
		zap.Float64("duration_ms", durationMs),
		zap.Int("step", step),
	)
}

// LogStepStart logs the tasks planned for a step.
func LogStepStart(logger *zap.Logger, step int, nodes []string) {
	if logger == nil {
		return
	}
	logger.Debug("step starting",
		zap.Int("step", step),
		zap.Strings("nodes", nodes),
	)
}

// LogTaskStart logs task execution start.
func LogTaskStart(logger *zap.Logger, node, taskID string) {
	if logger == nil {
		return
	}
	logger.Debug("task starting",
		zap.String("node", node),
		zap.String("task_id", taskID),
	)
}

// LogTaskComplete logs successful task completion.
func LogTaskComplete(logger *zap.Logger, node, taskID string, durationMs float64, writes int) {
	if logger == nil {
		return
	}
	logger.Debug("task completed",
		zap.String("node", node),
		zap.String("task_id", taskID),
		zap.Float64("duration_ms", durationMs),
		zap.Int("writes", writes),
	)
}

// LogTaskError logs task execution error.
func LogTaskError(logger *zap.Logger, node, taskID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("task failed",
		zap.String("node", node),
		zap.String("task_id", taskID),
		zap.Error(err),
	)
}

// LogCheckpoint logs checkpoint creation.
func LogCheckpoint(logger *zap.Logger, threadID, checkpointID, source string, step int) {
	if logger == nil {
		return
	}
	logger.Debug("checkpoint saved",
		zap.String("thread_id", threadID),
		zap.String("checkpoint_id", checkpointID),
		zap.String("source", source),
		zap.Int("step", step),
	)
}

// LogCheckpointError logs checkpoint failure.
func LogCheckpointError(logger *zap.Logger, threadID string, step int, err error) {
	if logger == nil {
		return
	}
	logger.Warn("checkpoint failed",
		zap.String("thread_id", threadID),
		zap.Int("step", step),
		zap.Error(err),
	)
}

// LogInterrupt logs a run pausing at an interrupt.
func LogInterrupt(logger *zap.Logger, threadID string, step int, when string, nodes []string) {
	if logger == nil {
		return
	}
	logger.Info("run interrupted",
		zap.String("thread_id", threadID),
		zap.Int("step", step),
		zap.String("when", when),
		zap.Strings("nodes", nodes),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
