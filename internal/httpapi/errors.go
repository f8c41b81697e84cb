package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/ArthurVigier/Cerastes-Public-API/internal/engine"
	"github.com/ArthurVigier/Cerastes-Public-API/internal/prompt"
	"github.com/ArthurVigier/Cerastes-Public-API/internal/taskstore"
	"github.com/ArthurVigier/Cerastes-Public-API/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// statusFor maps service errors to HTTP status codes. Quota rejections also
// count toward the backpressure metric.
func statusFor(err error) int {
	switch {
	case engine.IsValidation(err), prompt.IsMissingBinding(err), taskstore.IsBadCursor(err):
		return http.StatusBadRequest
	case taskstore.IsNotFound(err), prompt.IsNotFound(err):
		return http.StatusNotFound
	case engine.IsConflict(err):
		return http.StatusConflict
	case engine.IsQuotaExceeded(err):
		IncrementBackpressure("quota")
		return http.StatusTooManyRequests
	case engine.IsShuttingDown(err):
		return http.StatusServiceUnavailable
	default:
		if he, ok := err.(HTTPError); ok {
			return he.StatusCode()
		}
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeJSONError(w, statusFor(err), err.Error())
}
