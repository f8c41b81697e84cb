package modelmgr

import (
	"context"
	"errors"
	"time"
)

// Run executes one inference call under the handle's lease. At most one run
// is in flight per physical device; callers block until the device frees up,
// bounded by the configured run timeout.
func (m *Manager) Run(ctx context.Context, h *Handle, in Input) (Output, error) {
	if h == nil || h.released {
		return Output{}, errors.New("run on released handle")
	}
	dev := m.devices[h.inst.model.Device]

	timer := time.NewTimer(m.runTimeout)
	defer timer.Stop()
	select {
	case dev.slot <- struct{}{}:
	case <-ctx.Done():
		return Output{}, ctx.Err()
	case <-timer.C:
		return Output{}, timeoutError{what: "device " + dev.id}
	}
	dev.inflight.Add(1)
	deviceInflight.WithLabelValues(dev.id).Inc()
	defer func() {
		dev.inflight.Add(-1)
		deviceInflight.WithLabelValues(dev.id).Dec()
		<-dev.slot
	}()

	m.mu.Lock()
	h.inst.lastUsed = time.Now()
	m.mu.Unlock()

	out, err := h.inst.runtime.Generate(ctx, in)
	if err != nil {
		switch {
		case IsOOM(err) || IsInferenceError(err):
			return Output{}, err
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
			return Output{}, err
		default:
			return Output{}, inferenceError{cause: err}
		}
	}
	return out, nil
}

// DeviceInflight returns the number of runs currently in flight on the
// device. Exposed for tests asserting mutual exclusion.
func (m *Manager) DeviceInflight(deviceID string) int {
	dev, ok := m.devices[deviceID]
	if !ok {
		return 0
	}
	return int(dev.inflight.Load())
}
