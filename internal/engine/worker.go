package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/ArthurVigier/Cerastes-Public-API/internal/modelmgr"
	"github.com/ArthurVigier/Cerastes-Public-API/internal/prompt"
	"github.com/ArthurVigier/Cerastes-Public-API/internal/taskstore"
	"github.com/ArthurVigier/Cerastes-Public-API/pkg/types"
)

func (e *Engine) workerLoop(id int) {
	defer e.wg.Done()
	log := e.log.With().Int("worker", id).Logger()
	for {
		j := e.nextJob()
		if j == nil {
			return
		}
		e.execute(log, j)
	}
}

// nextJob blocks until an eligible job is available or the engine stops.
// Worker-pool and per-owner concurrency slots are reserved before return.
func (e *Engine) nextJob() *job {
	for {
		if !e.globalSem.TryAcquire(1) {
			// All execution slots busy; wait for a completion.
			if !e.waitForWork() {
				return nil
			}
			continue
		}

		e.mu.Lock()
		j := e.queue.popEligible(func(j *job) bool {
			if j.quota.MaxConcurrent > 0 && e.runningByOwner[j.owner] >= j.quota.MaxConcurrent {
				return false
			}
			if e.mgr.LoadFailing(j.modelID) {
				return false
			}
			return true
		})
		if j != nil {
			e.queuedByOwner[j.owner]--
			e.runningByOwner[j.owner]++
			queueDepth.Set(float64(e.queue.len()))
			e.mu.Unlock()
			return j
		}
		e.mu.Unlock()
		e.globalSem.Release(1)

		if !e.waitForWork() {
			return nil
		}
	}
}

// waitForWork parks until a wake signal, a periodic recheck, or shutdown.
// The recheck covers eligibility changes that carry no signal, such as a
// model's load cooldown expiring.
func (e *Engine) waitForWork() bool {
	timer := time.NewTimer(dispatchRecheck)
	defer timer.Stop()
	select {
	case <-e.ctx.Done():
		return false
	case <-e.wake:
		return true
	case <-timer.C:
		return true
	}
}

// execute runs one job attempt end to end and patches the task's final
// state. Slot release happens here regardless of outcome, including panics.
func (e *Engine) execute(log zerolog.Logger, j *job) {
	ctx, cancel := context.WithTimeout(e.ctx, e.timeoutFor(j.kind))
	rj := &runningJob{
		j:         j,
		cancel:    cancel,
		heartbeat: time.Now().UnixNano(),
		deadline:  time.Now().Add(e.timeoutFor(j.kind)),
	}
	e.mu.Lock()
	e.running[j.taskID] = rj
	runningGauge.Set(float64(len(e.running)))
	e.mu.Unlock()

	defer func() {
		cancel()
		e.mu.Lock()
		delete(e.running, j.taskID)
		e.runningByOwner[j.owner]--
		if e.runningByOwner[j.owner] <= 0 {
			delete(e.runningByOwner, j.owner)
		}
		runningGauge.Set(float64(len(e.running)))
		e.mu.Unlock()
		e.globalSem.Release(1)
		e.signalWake()
	}()

	j.attempts++
	if !e.markRunning(j) {
		return
	}

	result, err := e.runAttempt(ctx, rj, j)
	e.finish(log, ctx, rj, j, result, err)
}

// markRunning patches pending -> running. A false return means the task was
// cancelled in the pickup race and there is nothing to run.
func (e *Engine) markRunning(j *job) bool {
	state := types.StateRunning
	msg := fmt.Sprintf("running (attempt %d/%d)", j.attempts, j.maxAttempts)
	_, err := e.store.Update(context.Background(), j.taskID, taskstore.Patch{State: &state, Message: &msg})
	if err == nil {
		return true
	}
	if taskstore.IsInvalidTransition(err) || taskstore.IsNotFound(err) {
		return false
	}
	e.log.Error().Err(err).Str("task_id", j.taskID).Msg("failed to mark task running")
	return false
}

// runAttempt dispatches to the kind's runner with panic containment. A
// worker panic is reported as a non-retryable failure, never a dead slot.
func (e *Engine) runAttempt(ctx context.Context, rj *runningJob, j *job) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Str("task_id", j.taskID).Interface("panic", r).Bytes("stack", debug.Stack()).Msg("runner panicked")
			err = fmt.Errorf("internal worker failure: %v", r)
		}
	}()

	progress := func(p float64, msg string) {
		rj.beat()
		e.patchProgress(j.taskID, p, msg)
	}

	switch j.kind {
	case types.KindTextInference:
		return e.runText(ctx, j, j.payload.(TextPayload), progress)
	case types.KindTranscription, types.KindVideoManipulation, types.KindVideoNonverbal:
		return e.runMedia(ctx, j, j.payload.(MediaPayload), progress)
	case types.KindBatch:
		return e.runBatch(ctx, j, j.payload.(BatchPayload), progress)
	}
	return nil, fmt.Errorf("no runner for kind %s", j.kind)
}

func (rj *runningJob) beat() {
	rj.mu.Lock()
	rj.heartbeat = time.Now().UnixNano()
	rj.mu.Unlock()
}

func (e *Engine) patchProgress(taskID string, p float64, msg string) {
	patch := taskstore.Patch{Progress: &p}
	if msg != "" {
		patch.Message = &msg
	}
	if _, err := e.store.Update(context.Background(), taskID, patch); err != nil && !taskstore.IsNotFound(err) {
		e.log.Warn().Err(err).Str("task_id", taskID).Msg("progress update rejected")
	}
}

// finish classifies the attempt outcome and patches the terminal state, or
// re-enqueues the job when the failure class has retry budget left.
func (e *Engine) finish(log zerolog.Logger, ctx context.Context, rj *runningJob, j *job, result json.RawMessage, err error) {
	if err == nil {
		e.complete(log, j, result)
		return
	}

	rj.mu.Lock()
	cancelRequested := rj.cancelRequested
	watchdogFired := rj.watchdogFired
	rj.mu.Unlock()

	if isCtxCancel(err) {
		switch {
		case watchdogFired || errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
			err = errDeadline
		case cancelRequested:
			state := types.StateCancelled
			msg := "cancelled"
			if _, uerr := e.store.Update(context.Background(), j.taskID, taskstore.Patch{State: &state, Message: &msg}); uerr != nil {
				log.Error().Err(uerr).Str("task_id", j.taskID).Msg("failed to mark task cancelled")
			}
			tasksTotal.WithLabelValues(string(j.kind), string(types.StateCancelled)).Inc()
			log.Info().Str("task_id", j.taskID).Msg("task cancelled")
			return
		default:
			// Engine shutdown pulled the context.
			e.fail(log, j, types.TaskError{Code: "shutdown", Message: "service shut down before the task finished"})
			return
		}
	}

	code, limit := classify(err, j.maxAttempts)
	if j.attempts < limit {
		e.requeue(log, j, code, err)
		return
	}
	e.fail(log, j, types.TaskError{Code: code, Message: err.Error()})
}

func (e *Engine) complete(log zerolog.Logger, j *job, result json.RawMessage) {
	state := types.StateCompleted
	msg := "completed"
	patch := taskstore.Patch{State: &state, Message: &msg, Result: result}
	if _, uerr := e.store.Update(context.Background(), j.taskID, patch); uerr != nil {
		log.Error().Err(uerr).Str("task_id", j.taskID).Msg("failed to mark task completed")
		return
	}
	tasksTotal.WithLabelValues(string(j.kind), string(types.StateCompleted)).Inc()
	log.Info().Str("task_id", j.taskID).Int("attempt", j.attempts).Msg("task completed")

	e.postprocess(log, j, result)
}

// postprocess runs the plain-language simplifier after completion. A
// simplifier failure leaves the task completed without an explanation.
func (e *Engine) postprocess(log zerolog.Logger, j *job, result json.RawMessage) {
	if e.cfg.Simplifier == nil || !e.cfg.Simplifier.ShouldApply(j.kind) {
		return
	}
	ctx, cancel := context.WithTimeout(e.ctx, 2*time.Minute)
	defer cancel()
	explanation, ok := e.cfg.Simplifier.Apply(ctx, j.kind, result)
	if !ok {
		return
	}
	if _, uerr := e.store.Update(context.Background(), j.taskID, taskstore.Patch{PlainExplanation: &explanation}); uerr != nil {
		log.Warn().Err(uerr).Str("task_id", j.taskID).Msg("failed to attach plain explanation")
	}
}

func (e *Engine) fail(log zerolog.Logger, j *job, terr types.TaskError) {
	state := types.StateFailed
	msg := "failed: " + terr.Code
	patch := taskstore.Patch{State: &state, Message: &msg, Error: &terr}
	if _, uerr := e.store.Update(context.Background(), j.taskID, patch); uerr != nil {
		log.Error().Err(uerr).Str("task_id", j.taskID).Msg("failed to mark task failed")
		return
	}
	tasksTotal.WithLabelValues(string(j.kind), string(types.StateFailed)).Inc()
	log.Warn().Str("task_id", j.taskID).Str("code", terr.Code).Int("attempt", j.attempts).Msg("task failed")
}

// requeue records the transient failure, flips the task back to pending and
// puts the same job at the back of its priority class.
func (e *Engine) requeue(log zerolog.Logger, j *job, code string, cause error) {
	failed := types.StateFailed
	terr := types.TaskError{Code: code, Message: cause.Error()}
	failMsg := fmt.Sprintf("attempt %d failed: %s", j.attempts, code)
	if _, uerr := e.store.Update(context.Background(), j.taskID, taskstore.Patch{State: &failed, Message: &failMsg, Error: &terr}); uerr != nil {
		log.Error().Err(uerr).Str("task_id", j.taskID).Msg("failed to record transient failure")
		return
	}
	pending := types.StatePending
	retryMsg := fmt.Sprintf("queued for retry (attempt %d/%d)", j.attempts+1, j.maxAttempts)
	if _, uerr := e.store.Update(context.Background(), j.taskID, taskstore.Patch{State: &pending, Message: &retryMsg}); uerr != nil {
		log.Error().Err(uerr).Str("task_id", j.taskID).Msg("failed to requeue task")
		return
	}

	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		e.fail(log, j, types.TaskError{Code: "shutdown", Message: "service shut down before the retry could run"})
		return
	}
	e.queue.push(j)
	e.queuedByOwner[j.owner]++
	queueDepth.Set(float64(e.queue.len()))
	e.mu.Unlock()
	e.signalWake()

	retriesTotal.WithLabelValues(string(j.kind), code).Inc()
	log.Info().Str("task_id", j.taskID).Str("code", code).Int("attempt", j.attempts).Msg("task requeued")
}

func isCtxCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// errDeadline marks an attempt killed for exceeding its execution budget,
// whether by context deadline or the watchdog.
var errDeadline = errors.New("execution budget exceeded")

// classify maps an execution error to a stable failure code and the total
// attempt budget for that class. Transient resource contention gets the
// full budget, model faults a single retry, and input defects none.
func classify(err error, maxAttempts int) (code string, limit int) {
	switch {
	case modelmgr.IsBusy(err):
		return "busy", maxAttempts
	case modelmgr.IsTimeout(err), errors.Is(err, errDeadline):
		return "timeout", maxAttempts
	case modelmgr.IsLoadError(err):
		return "load_error", maxAttempts
	case modelmgr.IsOOM(err):
		return "oom", min(2, maxAttempts)
	case modelmgr.IsInferenceError(err):
		return "inference_error", min(2, maxAttempts)
	case IsValidation(err):
		return "invalid_payload", 1
	case prompt.IsMissingBinding(err):
		return "missing_binding", 1
	case prompt.IsNotFound(err):
		return "prompt_not_found", 1
	case modelmgr.IsModelNotFound(err):
		return "model_not_found", 1
	default:
		return "internal", 1
	}
}
