package taskstore

import (
	"fmt"

	"github.com/ArthurVigier/Cerastes-Public-API/pkg/types"
)

type notFoundError struct{ id string }

func (e notFoundError) Error() string { return "task not found: " + e.id }

// NotFound returns the error used for a missing task id. Exposed so callers
// enforcing ownership can report foreign tasks as absent.
func NotFound(id string) error { return notFoundError{id: id} }

// IsNotFound reports whether err indicates a missing task id.
func IsNotFound(err error) bool {
	_, ok := err.(notFoundError)
	return ok
}

// invalidTransitionError signals a patch that would violate the monotonic
// lifecycle. This is a programming or race defect, surfaced as an internal
// error rather than retried.
type invalidTransitionError struct {
	id     string
	from   types.TaskState
	to     types.TaskState
	detail string
}

func (e invalidTransitionError) Error() string {
	if e.detail != "" {
		return fmt.Sprintf("invalid transition on task %s: %s", e.id, e.detail)
	}
	return fmt.Sprintf("invalid transition on task %s: %s -> %s", e.id, e.from, e.to)
}

// IsInvalidTransition reports whether err indicates a rejected state patch.
func IsInvalidTransition(err error) bool {
	_, ok := err.(invalidTransitionError)
	return ok
}

type badCursorError struct{ cursor string }

func (e badCursorError) Error() string { return "malformed list cursor" }

// ErrBadCursor returns the error used for an unparsable pagination cursor.
func ErrBadCursor() error { return badCursorError{} }

// IsBadCursor reports whether err indicates an unparsable pagination cursor.
func IsBadCursor(err error) bool {
	_, ok := err.(badCursorError)
	return ok
}
