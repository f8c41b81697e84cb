package modelmgr

import (
	"context"
	"time"
)

// Handle is a lease on a loaded model. It is valid until released and must
// not be held across anything longer than the inference call itself.
type Handle struct {
	m        *Manager
	inst     *instance
	released bool
}

// ModelID returns the id of the leased model.
func (h *Handle) ModelID() string { return h.inst.model.ID }

// Device returns the physical device the leased model is pinned to.
func (h *Handle) Device() string { return h.inst.model.Device }

// Acquire leases the model, loading it first if necessary. It blocks, bounded
// by the configured acquire timeout, while the model loads or while eviction
// frees budget. Failure modes: model-not-found, load error, Busy (no memory
// freed in time), Timeout (load still in flight at the deadline).
func (m *Manager) Acquire(ctx context.Context, modelID string) (*Handle, error) {
	ctx, cancel := context.WithTimeout(ctx, m.acquireTimeout)
	defer cancel()

	for {
		m.mu.Lock()
		mdl, ok := m.registry[modelID]
		if !ok {
			m.mu.Unlock()
			return nil, modelNotFoundError{id: modelID}
		}

		if inst := m.insts[modelID]; inst != nil {
			switch inst.state {
			case StateReady:
				inst.refs++
				inst.lastUsed = time.Now()
				m.mu.Unlock()
				return &Handle{m: m, inst: inst}, nil
			case StateLoading:
				ch := inst.loading
				m.mu.Unlock()
				select {
				case <-ch:
					continue
				case <-ctx.Done():
					return nil, timeoutError{what: "load of " + modelID}
				}
			case StateError:
				// Previous load failed; fall through and retry a fresh load.
				delete(m.insts, modelID)
			}
		}

		// Budget check: evict idle models, or wait for a release to free memory.
		if m.budgetMB > 0 && m.usedMB+mdl.MemoryCostMB > m.budgetMB {
			if !m.evictUntilFitsLocked(mdl.MemoryCostMB) {
				wait := m.budgetWait
				m.mu.Unlock()
				select {
				case <-wait:
					continue
				case <-ctx.Done():
					return nil, busyError{modelID: modelID}
				}
			}
		}

		// Reserve budget and become the loader. Everyone else arriving for
		// this model collapses onto inst.loading above.
		inst := &instance{
			model:    mdl,
			state:    StateLoading,
			loading:  make(chan struct{}),
			lastUsed: time.Now(),
		}
		m.insts[modelID] = inst
		m.usedMB += mdl.MemoryCostMB
		m.mu.Unlock()

		m.loads.Add(1)
		loadsTotal.WithLabelValues(modelID).Inc()
		m.publisher.Publish(Event{Name: "load_start", ModelID: modelID})
		m.log.Info().Str("model", modelID).Msg("loading model")
		start := time.Now()

		// The load is bounded by the same deadline as the acquire itself;
		// a load that outlives it is abandoned, not waited on forever.
		runtime, err := m.adapter.Load(ctx, mdl)

		m.mu.Lock()
		if err != nil {
			inst.state = StateError
			inst.loadErr = err
			inst.failedAt = time.Now()
			m.usedMB -= mdl.MemoryCostMB
			close(inst.loading)
			m.notifyBudgetLocked()
			m.mu.Unlock()
			m.publisher.Publish(Event{Name: "load_error", ModelID: modelID, Fields: map[string]any{"error": err.Error()}})
			m.log.Error().Err(err).Str("model", modelID).Msg("model load failed")
			if ctx.Err() != nil {
				return nil, timeoutError{what: "load of " + modelID}
			}
			return nil, loadError{modelID: modelID, cause: err}
		}
		inst.state = StateReady
		inst.runtime = runtime
		inst.refs = 1
		inst.lastUsed = time.Now()
		close(inst.loading)
		m.mu.Unlock()
		memoryUsedMB.Set(float64(m.used()))
		m.publisher.Publish(Event{Name: "load_ready", ModelID: modelID, Fields: map[string]any{"dur_ms": int(time.Since(start) / time.Millisecond)}})
		m.log.Info().Str("model", modelID).Dur("dur", time.Since(start)).Msg("model ready")
		return &Handle{m: m, inst: inst}, nil
	}
}

// Release gives back a lease. Releasing twice is a no-op.
func (m *Manager) Release(h *Handle) {
	if h == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if h.released {
		return
	}
	h.released = true
	if h.inst.refs > 0 {
		h.inst.refs--
	}
	h.inst.lastUsed = time.Now()
	m.notifyBudgetLocked()
}

// evictUntilFitsLocked evicts least-recently-used unreferenced models until
// requiredMB fits the budget. Returns false when nothing more is evictable.
// Callers must hold m.mu.
func (m *Manager) evictUntilFitsLocked(requiredMB int) bool {
	for m.usedMB+requiredMB > m.budgetMB {
		var lru *instance
		for _, inst := range m.insts {
			if inst.state != StateReady || inst.refs > 0 {
				continue
			}
			if lru == nil || inst.lastUsed.Before(lru.lastUsed) {
				lru = inst
			}
		}
		if lru == nil {
			return false
		}
		if err := lru.runtime.Close(); err != nil {
			m.log.Warn().Err(err).Str("model", lru.model.ID).Msg("runtime close failed")
		}
		delete(m.insts, lru.model.ID)
		m.usedMB -= lru.model.MemoryCostMB
		m.evictions.Add(1)
		evictionsTotal.WithLabelValues(lru.model.ID).Inc()
		m.publisher.Publish(Event{Name: "evict", ModelID: lru.model.ID})
		m.log.Info().Str("model", lru.model.ID).Msg("evicted model")
	}
	return true
}

func (m *Manager) used() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usedMB
}
