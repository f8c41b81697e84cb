package engine

// validationError rejects a payload at admission time.
type validationError struct{ msg string }

func (e validationError) Error() string { return e.msg }

// ErrValidation builds an admission-time payload rejection.
func ErrValidation(msg string) error { return validationError{msg: msg} }

// IsValidation reports whether err is an admission-time payload rejection.
func IsValidation(err error) bool {
	_, ok := err.(validationError)
	return ok
}

// quotaExceededError rejects a submission that would exceed the owner's plan.
type quotaExceededError struct{ msg string }

func (e quotaExceededError) Error() string { return e.msg }

// ErrQuotaExceeded builds a plan-limit rejection.
func ErrQuotaExceeded(msg string) error { return quotaExceededError{msg: msg} }

// IsQuotaExceeded reports whether err is a plan-limit rejection.
func IsQuotaExceeded(err error) bool {
	_, ok := err.(quotaExceededError)
	return ok
}

// conflictError rejects an operation that is invalid in the task's current
// state, such as deleting a running task.
type conflictError struct{ msg string }

func (e conflictError) Error() string { return e.msg }

// ErrConflict builds a state conflict error.
func ErrConflict(msg string) error { return conflictError{msg: msg} }

// IsConflict reports whether err is a state conflict.
func IsConflict(err error) bool {
	_, ok := err.(conflictError)
	return ok
}

// shuttingDownError rejects submissions once drain has begun.
type shuttingDownError struct{}

func (shuttingDownError) Error() string { return "service is shutting down" }

// ErrShuttingDown builds a drain-in-progress rejection.
func ErrShuttingDown() error { return shuttingDownError{} }

// IsShuttingDown reports whether err indicates the engine is draining.
func IsShuttingDown(err error) bool {
	_, ok := err.(shuttingDownError)
	return ok
}
