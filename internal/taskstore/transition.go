package taskstore

import (
	"time"

	"github.com/ArthurVigier/Cerastes-Public-API/pkg/types"
)

// validEdge reports whether a state transition is allowed. The lifecycle is
// pending -> running -> {completed, failed, cancelled}, with the single
// backward edge failed -> pending used by the scheduler's bounded retry.
func validEdge(from, to types.TaskState) bool {
	switch from {
	case types.StatePending:
		return to == types.StateRunning || to == types.StateCancelled
	case types.StateRunning:
		return to == types.StateCompleted || to == types.StateFailed || to == types.StateCancelled
	case types.StateFailed:
		return to == types.StatePending
	}
	return false
}

// applyPatch mutates t in place after validating the patch against the
// lifecycle invariants. Shared by every Store implementation so the state
// machine lives in exactly one place.
func applyPatch(t *types.Task, p Patch, now time.Time) error {
	if p.State != nil && *p.State != t.State {
		from, to := t.State, *p.State
		if !validEdge(from, to) {
			return invalidTransitionError{id: t.ID, from: from, to: to}
		}
		t.State = to
		switch {
		case to == types.StateRunning:
			if t.StartedAt == nil {
				ts := now
				t.StartedAt = &ts
			}
		case to.Terminal():
			ts := now
			t.CompletedAt = &ts
			if to == types.StateCompleted {
				t.Progress = 1
			}
		case to == types.StatePending:
			// Retry path: the record goes back to waiting, so the
			// completed_at-iff-terminal invariant requires clearing it.
			t.CompletedAt = nil
			t.Error = nil
			t.Progress = 0
		}
	}
	if p.Progress != nil {
		np := *p.Progress
		if np < 0 {
			np = 0
		}
		if np > 1 {
			np = 1
		}
		if t.State == types.StateRunning && np < t.Progress {
			return invalidTransitionError{id: t.ID, detail: "progress may not decrease while running"}
		}
		t.Progress = np
	}
	if p.Message != nil {
		t.Message = *p.Message
	}
	if p.Result != nil {
		t.Result = p.Result
	}
	if p.Error != nil {
		e := *p.Error
		t.Error = &e
	}
	if p.PlainExplanation != nil {
		t.PlainExplanation = *p.PlainExplanation
	}
	return nil
}
