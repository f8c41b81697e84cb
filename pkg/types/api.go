package types

import "encoding/json"

// SubmitRequest is the body of POST /tasks.
type SubmitRequest struct {
	// Kind of task to run.
	// example: text-inference
	Kind TaskKind `json:"kind" example:"text-inference"`
	// Kind-specific payload. Schema is validated at admission.
	Payload json.RawMessage `json:"payload"`
}

// SubmitResponse is returned by POST /tasks on successful admission.
type SubmitResponse struct {
	// Identifier of the created task.
	// example: 3f1a9c4e-8a2b-4c1d-9e0f-5b6a7c8d9e0f
	TaskID string `json:"task_id" example:"3f1a9c4e-8a2b-4c1d-9e0f-5b6a7c8d9e0f"`
	// State at admission time (always pending).
	// example: pending
	State TaskState `json:"state" example:"pending"`
}

// StatusResponse is returned by GET /tasks/{id}.
type StatusResponse struct {
	// example: 3f1a9c4e-8a2b-4c1d-9e0f-5b6a7c8d9e0f
	TaskID string `json:"task_id" example:"3f1a9c4e-8a2b-4c1d-9e0f-5b6a7c8d9e0f"`
	// example: running
	State TaskState `json:"state" example:"running"`
	// example: 0.5
	Progress float64 `json:"progress" example:"0.5"`
	// example: step 2/4: system_2
	Message string `json:"message,omitempty" example:"step 2/4: system_2"`
}

// ResultResponse is returned by GET /tasks/{id}/result.
type ResultResponse struct {
	// example: completed
	State TaskState `json:"state" example:"completed"`
	// Kind-specific result; present only when state is completed.
	Result json.RawMessage `json:"result,omitempty"`
	// Plain-language explanation added by post-processing, when available.
	PlainExplanation string `json:"plain_explanation,omitempty"`
	// Structured error; present only when state is failed.
	Error *TaskError `json:"error,omitempty"`
}

// TaskListResponse is returned by GET /tasks.
type TaskListResponse struct {
	Tasks []Task `json:"tasks"`
	// Opaque cursor for the next page; empty when exhausted.
	NextCursor string `json:"next_cursor,omitempty"`
}

// ModelsResponse wraps the list of registered models.
type ModelsResponse struct {
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// ModelStatus summarizes one loaded model for GET /status.
type ModelStatus struct {
	// example: deepseek-r1-14b
	ModelID string `json:"model_id" example:"deepseek-r1-14b"`
	// Lifecycle state of the model (unloaded, loading, ready, error).
	// example: ready
	State string `json:"state" example:"ready"`
	// example: gpu0
	Device string `json:"device" example:"gpu0"`
	// example: 14000
	MemoryCostMB int `json:"memory_cost_mb" example:"14000"`
	// Number of outstanding leases on this model.
	// example: 1
	RefCount int `json:"ref_count" example:"1"`
	// Last time this model served a request (unix seconds).
	// example: 1700000000
	LastUsed int64 `json:"last_used_unix" example:"1700000000"`
}

// ServiceStatus is returned by GET /status.
type ServiceStatus struct {
	Models []ModelStatus `json:"models"`
	// Memory budget in MB across all models.
	// example: 24000
	BudgetMB int `json:"budget_mb" example:"24000"`
	// Estimated used memory in MB.
	// example: 14000
	UsedMB int `json:"used_mb" example:"14000"`
	// Tasks currently running.
	// example: 2
	RunningTasks int `json:"running_tasks" example:"2"`
	// Jobs waiting in the queue.
	// example: 5
	QueuedJobs int `json:"queued_jobs" example:"5"`
	// Total model evictions performed to free memory.
	// example: 3
	EvictionsTotal uint64 `json:"evictions_total" example:"3"`
	// Total model loads.
	// example: 7
	LoadsTotal uint64 `json:"loads_total" example:"7"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
}
