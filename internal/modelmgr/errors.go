package modelmgr

import "fmt"

// busyError signals that the memory budget could not be satisfied before the
// acquire deadline. Recoverable contention; the queue retries it.
type busyError struct{ modelID string }

func (e busyError) Error() string { return "busy: no memory for model " + e.modelID }

// IsBusy reports whether err indicates memory-budget contention.
func IsBusy(err error) bool {
	_, ok := err.(busyError)
	return ok
}

// timeoutError signals a deadline expiry while waiting for a device or an
// in-flight load.
type timeoutError struct{ what string }

func (e timeoutError) Error() string { return "timeout waiting for " + e.what }

// IsTimeout reports whether err indicates a wait deadline expiry.
func IsTimeout(err error) bool {
	_, ok := err.(timeoutError)
	return ok
}

// loadError wraps a failed model load.
type loadError struct {
	modelID string
	cause   error
}

func (e loadError) Error() string { return fmt.Sprintf("load model %s: %v", e.modelID, e.cause) }
func (e loadError) Unwrap() error { return e.cause }

// IsLoadError reports whether err indicates a failed model load.
func IsLoadError(err error) bool {
	_, ok := err.(loadError)
	return ok
}

// inferenceError wraps a model-side failure during Run.
type inferenceError struct{ cause error }

func (e inferenceError) Error() string { return "inference error: " + e.cause.Error() }
func (e inferenceError) Unwrap() error { return e.cause }

// ErrInference wraps a runtime failure so callers can classify it.
func ErrInference(cause error) error { return inferenceError{cause: cause} }

// IsInferenceError reports whether err indicates a model-side failure.
func IsInferenceError(err error) bool {
	_, ok := err.(inferenceError)
	return ok
}

// oomError signals the runtime ran out of device memory during inference.
type oomError struct{ modelID string }

func (e oomError) Error() string { return "out of memory running model " + e.modelID }

// ErrOOM constructs an out-of-memory error for adapters to return.
func ErrOOM(modelID string) error { return oomError{modelID: modelID} }

// IsOOM reports whether err indicates device memory exhaustion.
func IsOOM(err error) bool {
	_, ok := err.(oomError)
	return ok
}

// modelNotFoundError signals a model id absent from the registry.
type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.id }

// ErrModelNotFound returns an error for a model id missing from the registry.
func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether err indicates a missing model id.
func IsModelNotFound(err error) bool {
	_, ok := err.(modelNotFoundError)
	return ok
}
