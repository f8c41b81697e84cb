// Package taskstore is the durable mapping from task id to task record.
// State transitions are append-only and monotonic; patches violating the
// lifecycle are rejected rather than applied.
package taskstore

import (
	"context"
	"encoding/json"

	"github.com/ArthurVigier/Cerastes-Public-API/pkg/types"
)

// Patch is a partial update to a task record. Nil fields are left untouched.
type Patch struct {
	State            *types.TaskState
	Progress         *float64
	Message          *string
	Result           json.RawMessage
	Error            *types.TaskError
	PlainExplanation *string
}

// Filter narrows List results. Zero values mean "no filter".
type Filter struct {
	Kind   types.TaskKind
	State  types.TaskState
	Limit  int
	Cursor string
}

const defaultListLimit = 20

// Store is the task persistence contract. Updates are atomic with a single
// writer per task; List is ordered by created_at descending and restartable
// via opaque cursors that tolerate concurrent deletion.
type Store interface {
	Create(ctx context.Context, kind types.TaskKind, owner string, payload json.RawMessage) (types.Task, error)
	Get(ctx context.Context, id string) (types.Task, error)
	Update(ctx context.Context, id string, p Patch) (types.Task, error)
	List(ctx context.Context, owner string, f Filter) ([]types.Task, string, error)
	Delete(ctx context.Context, id, owner string) error
	Close() error
}
