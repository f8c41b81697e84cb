package engine

import "time"

// watchdogLoop cancels executions whose heartbeat has gone stale past the
// kind budget plus grace. The context cancellation unwinds the runner and
// releases its model lease through the normal defers; the failure is
// classified as a timeout, not a user cancel.
func (e *Engine) watchdogLoop() {
	defer e.wg.Done()
	tick := time.NewTicker(e.cfg.WatchdogInterval)
	defer tick.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-tick.C:
			e.reapStale()
		}
	}
}

func (e *Engine) reapStale() {
	now := time.Now()
	e.mu.Lock()
	var stale []*runningJob
	for _, rj := range e.running {
		rj.mu.Lock()
		beat := time.Unix(0, rj.heartbeat)
		fired := rj.watchdogFired
		rj.mu.Unlock()
		if fired {
			continue
		}
		if now.After(rj.deadline) || now.Sub(beat) > e.timeoutFor(rj.j.kind)+e.cfg.HeartbeatGrace {
			stale = append(stale, rj)
		}
	}
	e.mu.Unlock()

	for _, rj := range stale {
		rj.mu.Lock()
		rj.watchdogFired = true
		rj.mu.Unlock()
		e.log.Warn().Str("task_id", rj.j.taskID).Str("kind", string(rj.j.kind)).Msg("watchdog cancelling stale task")
		watchdogReaps.Inc()
		rj.cancel()
	}
}
