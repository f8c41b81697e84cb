package types

import (
	"encoding/json"
	"time"
)

// TaskKind identifies the family of work a task performs. Payload and result
// schemas are keyed by the kind.
type TaskKind string

const (
	KindTextInference     TaskKind = "text-inference"
	KindTranscription     TaskKind = "transcription"
	KindVideoManipulation TaskKind = "video-manipulation"
	KindVideoNonverbal    TaskKind = "video-nonverbal"
	KindBatch             TaskKind = "batch"
)

// Valid reports whether k is a known task kind.
func (k TaskKind) Valid() bool {
	switch k {
	case KindTextInference, KindTranscription, KindVideoManipulation, KindVideoNonverbal, KindBatch:
		return true
	}
	return false
}

// TaskState is the lifecycle state of a task.
type TaskState string

const (
	StatePending   TaskState = "pending"
	StateRunning   TaskState = "running"
	StateCompleted TaskState = "completed"
	StateFailed    TaskState = "failed"
	StateCancelled TaskState = "cancelled"
)

// Terminal reports whether s is a terminal state. failed is terminal from the
// client's point of view; the scheduler may still re-queue it on its bounded
// retry path.
func (s TaskState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// TaskError is the structured error recorded on a failed task.
type TaskError struct {
	// Stable machine-readable code (e.g. timeout, inference_error, oom).
	// example: timeout
	Code string `json:"code" example:"timeout"`
	// Human-readable message.
	// example: task exceeded its wall-clock budget
	Message string `json:"message" example:"task exceeded its wall-clock budget"`
}

// Task is the durable, client-visible unit of work and its result.
type Task struct {
	// Opaque unique identifier.
	// example: 3f1a9c4e-8a2b-4c1d-9e0f-5b6a7c8d9e0f
	ID string `json:"id" example:"3f1a9c4e-8a2b-4c1d-9e0f-5b6a7c8d9e0f"`
	// Kind of work this task performs.
	// example: text-inference
	Kind TaskKind `json:"kind" example:"text-inference"`
	// Principal that owns the task.
	// example: user-42
	Owner string `json:"owner" example:"user-42"`
	// Current lifecycle state.
	// example: running
	State TaskState `json:"state" example:"running"`
	// Kind-specific input, validated at admission.
	Payload json.RawMessage `json:"payload,omitempty"`
	// Kind-specific result, set when the task completes.
	Result json.RawMessage `json:"result,omitempty"`
	// Structured error, set when the task fails.
	Error *TaskError `json:"error,omitempty"`
	// Plain-language explanation of the result, added by post-processing.
	PlainExplanation string `json:"plain_explanation,omitempty"`
	// Fraction of work done, 0.0-1.0, non-decreasing while running.
	// example: 0.5
	Progress float64 `json:"progress" example:"0.5"`
	// Latest human-readable progress message.
	// example: step 2/4: system_2
	Message string `json:"message,omitempty" example:"step 2/4: system_2"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ModelKind identifies the runtime family a model belongs to.
type ModelKind string

const (
	ModelLLM         ModelKind = "llm"
	ModelWhisper     ModelKind = "whisper"
	ModelVideo       ModelKind = "video"
	ModelDiarization ModelKind = "diarization"
)

// Model is a loadable model declared in the registry file.
type Model struct {
	// Stable identifier for the model.
	// example: deepseek-r1-14b
	ID string `json:"id" yaml:"id" toml:"id" example:"deepseek-r1-14b"`
	// Human-friendly name.
	// example: DeepSeek R1 Distill 14B
	Name string `json:"name,omitempty" yaml:"name" toml:"name" example:"DeepSeek R1 Distill 14B"`
	// Runtime family (llm, whisper, video, diarization).
	// example: llm
	Kind ModelKind `json:"kind" yaml:"kind" toml:"kind" example:"llm"`
	// Physical device this model is pinned to.
	// example: gpu0
	Device string `json:"device" yaml:"device" toml:"device" example:"gpu0"`
	// Estimated resident memory cost in MB.
	// example: 14000
	MemoryCostMB int `json:"memory_cost_mb" yaml:"memory_cost_mb" toml:"memory_cost_mb" example:"14000"`
}
