package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ArthurVigier/Cerastes-Public-API/internal/taskstore"
	"github.com/ArthurVigier/Cerastes-Public-API/pkg/types"
)

// Submit validates the payload against the owner's plan, persists the task
// as pending, and enqueues it. Quota checks happen here and only here; an
// admitted task is never failed later for quota reasons.
func (e *Engine) Submit(ctx context.Context, owner string, kind types.TaskKind, raw json.RawMessage) (types.Task, error) {
	if !kind.Valid() {
		return types.Task{}, validationError{msg: "unknown task kind: " + string(kind)}
	}
	quota := e.cfg.Quotas.Lookup(owner)

	payload, err := parsePayload(kind, raw, quota.MaxTextLength)
	if err != nil {
		return types.Task{}, err
	}

	modelID := pinnedModel(payload)
	if modelID != "" {
		if _, ok := e.mgr.Lookup(modelID); !ok {
			return types.Task{}, validationError{msg: "unknown model: " + modelID}
		}
	} else {
		mdl, ok := e.mgr.DefaultFor(modelKindFor(kind))
		if !ok {
			return types.Task{}, validationError{msg: "no model registered for kind " + string(kind)}
		}
		modelID = mdl.ID
	}
	if mp, ok := payload.(MediaPayload); ok && mp.Diarize {
		if _, ok := e.mgr.DefaultFor(types.ModelDiarization); !ok {
			return types.Task{}, validationError{msg: "diarization requested but no diarization model registered"}
		}
	}

	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return types.Task{}, shuttingDownError{}
	}
	if quota.MaxQueueDepth > 0 && e.queuedByOwner[owner] >= quota.MaxQueueDepth {
		e.mu.Unlock()
		return types.Task{}, quotaExceededError{msg: "queue depth limit reached for plan"}
	}
	// Reserve the queue slot before the store write so a burst of
	// submissions cannot overshoot the plan limit.
	e.queuedByOwner[owner]++
	e.mu.Unlock()

	task, err := e.store.Create(ctx, kind, owner, raw)
	if err != nil {
		e.mu.Lock()
		e.queuedByOwner[owner]--
		e.mu.Unlock()
		return types.Task{}, err
	}

	j := &job{
		taskID:      task.ID,
		kind:        kind,
		owner:       owner,
		priority:    quota.Priority,
		admittedAt:  time.Now(),
		maxAttempts: e.cfg.MaxAttempts,
		quota:       quota,
		payload:     payload,
		modelID:     modelID,
	}
	e.mu.Lock()
	e.queue.push(j)
	queueDepth.Set(float64(e.queue.len()))
	e.mu.Unlock()
	e.signalWake()

	e.log.Info().Str("task_id", task.ID).Str("kind", string(kind)).Str("owner", owner).Str("model", modelID).Msg("task admitted")
	return task, nil
}

// Status returns the task's current state, scoped to the owner.
func (e *Engine) Status(ctx context.Context, owner, taskID string) (types.Task, error) {
	return e.getOwned(ctx, owner, taskID)
}

// Result returns the task including its result document if terminal.
func (e *Engine) Result(ctx context.Context, owner, taskID string) (types.Task, error) {
	return e.getOwned(ctx, owner, taskID)
}

// List returns the owner's tasks, newest first, with cursor pagination.
func (e *Engine) List(ctx context.Context, owner string, filter taskstore.Filter) ([]types.Task, string, error) {
	return e.store.List(ctx, owner, filter)
}

// Cancel requests cancellation. Queued tasks are cancelled immediately;
// running tasks are signalled and reach cancelled at their next checkpoint.
// Cancelling a terminal task is a no-op.
func (e *Engine) Cancel(ctx context.Context, owner, taskID string) error {
	t, err := e.getOwned(ctx, owner, taskID)
	if err != nil {
		return err
	}
	if t.State.Terminal() {
		return nil
	}

	e.mu.Lock()
	if rj, ok := e.running[taskID]; ok {
		rj.mu.Lock()
		rj.cancelRequested = true
		rj.mu.Unlock()
		rj.cancel()
		e.mu.Unlock()
		return nil
	}
	removed := e.queue.remove(taskID)
	if removed != nil {
		removed.cancelled.Store(true)
		e.queuedByOwner[removed.owner]--
		queueDepth.Set(float64(e.queue.len()))
	}
	e.mu.Unlock()

	state := types.StateCancelled
	msg := "cancelled"
	_, err = e.store.Update(ctx, taskID, taskstore.Patch{State: &state, Message: &msg})
	if err == nil {
		tasksTotal.WithLabelValues(string(t.Kind), string(types.StateCancelled)).Inc()
		return nil
	}
	if taskstore.IsInvalidTransition(err) {
		// The job was picked up between the Get and the queue scan. Route
		// through the running path; the worker patches the final state.
		e.mu.Lock()
		if rj, ok := e.running[taskID]; ok {
			rj.mu.Lock()
			rj.cancelRequested = true
			rj.mu.Unlock()
			rj.cancel()
			e.mu.Unlock()
			return nil
		}
		e.mu.Unlock()
		// Already terminal: idempotent success.
		return nil
	}
	return err
}

// Delete removes a terminal or pending task. Running tasks must be cancelled
// first.
func (e *Engine) Delete(ctx context.Context, owner, taskID string) error {
	t, err := e.getOwned(ctx, owner, taskID)
	if err != nil {
		return err
	}
	if t.State == types.StateRunning {
		return conflictError{msg: "task is running; cancel it first"}
	}
	if t.State == types.StatePending {
		e.mu.Lock()
		if removed := e.queue.remove(taskID); removed != nil {
			removed.cancelled.Store(true)
			e.queuedByOwner[removed.owner]--
			queueDepth.Set(float64(e.queue.len()))
		}
		e.mu.Unlock()
	}
	return e.store.Delete(ctx, taskID, owner)
}

func (e *Engine) getOwned(ctx context.Context, owner, taskID string) (types.Task, error) {
	t, err := e.store.Get(ctx, taskID)
	if err != nil {
		return types.Task{}, err
	}
	if owner != "" && t.Owner != owner {
		// Hide other owners' tasks rather than confirming their existence.
		return types.Task{}, taskstore.NotFound(taskID)
	}
	return t, nil
}

// StatusSnapshot combines the model manager's state with the scheduler's
// queue and execution counts for the status endpoint.
func (e *Engine) StatusSnapshot() types.ServiceStatus {
	snap := e.mgr.Snapshot()
	queued, running := e.Counts()
	snap.QueuedJobs = queued
	snap.RunningTasks = running
	return snap
}

// Models lists the registered models.
func (e *Engine) Models() []types.Model {
	return e.mgr.Models()
}

// Ready reports whether the engine accepts new submissions.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.draining
}
