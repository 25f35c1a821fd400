package pregel

import (
	"time"

	"github.com/randalmurphal/flowcore/pkg/flowcore/checkpoint"
)

// Chunk is one element of a run stream.
type Chunk struct {
	Mode StreamMode `json:"mode"`
	Data any        `json:"data"`
}

// Debug event types.
const (
	DebugTask       = "task"
	DebugTaskResult = "task_result"
	DebugCheckpoint = "checkpoint"
)

// DebugEvent is the payload of StreamDebug chunks.
type DebugEvent struct {
	Type      string    `json:"type"`
	Step      int       `json:"step"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// TaskPayload describes a task about to run.
type TaskPayload struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Input    any      `json:"input"`
	Triggers []string `json:"triggers"`
}

// TaskResultPayload describes the writes of a finished task.
type TaskResultPayload struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Result []Write `json:"result"`
}

// CheckpointPayload describes a checkpoint written at the end of a step.
type CheckpointPayload struct {
	Config   checkpoint.Config   `json:"config"`
	Values   any                 `json:"values"`
	Metadata checkpoint.Metadata `json:"metadata"`
}
