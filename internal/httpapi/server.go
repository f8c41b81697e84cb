package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ArthurVigier/Cerastes-Public-API/internal/taskstore"
	"github.com/ArthurVigier/Cerastes-Public-API/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Submit(ctx context.Context, owner string, kind types.TaskKind, payload json.RawMessage) (types.Task, error)
	Status(ctx context.Context, owner, taskID string) (types.Task, error)
	Result(ctx context.Context, owner, taskID string) (types.Task, error)
	Cancel(ctx context.Context, owner, taskID string) error
	Delete(ctx context.Context, owner, taskID string) error
	List(ctx context.Context, owner string, filter taskstore.Filter) ([]types.Task, string, error)
	Models() []types.Model
	StatusSnapshot() types.ServiceStatus
	Ready() bool
}

// Options tunes the HTTP surface.
type Options struct {
	// AllowedOrigins enables CORS when non-empty.
	AllowedOrigins []string
}

// serverBaseCtx is a process-level context that can be canceled on shutdown.
// Defaults to Background if not set.
var serverBaseCtx = context.Background()

// SetBaseContext sets the process-level base context used by handlers.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		serverBaseCtx = context.Background()
		return
	}
	serverBaseCtx = ctx
}

// maxBodyBytes controls the maximum allowed request body size for JSON endpoints.
var maxBodyBytes int64 = 1 << 20

// SetMaxBodyBytes allows configuring the maximum request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 1 << 20
		return
	}
	maxBodyBytes = n
}

// ownerFrom identifies the caller. Tasks submitted without a key share the
// anonymous owner and its plan limits.
func ownerFrom(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return "anonymous"
}

// joinContexts returns a context that is canceled when either a or b is done.
// The returned cancel func must be called to release the goroutine when handler ends.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-a.Done():
			cancel()
		case <-b.Done():
			cancel()
		}
	}()
	return ctx, cancel
}

func NewMux(svc Service, opts Options) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key"},
			MaxAge:         300,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Post("/tasks", func(w http.ResponseWriter, r *http.Request) { handleSubmit(svc, w, r) })
	r.Get("/tasks", func(w http.ResponseWriter, r *http.Request) { handleList(svc, w, r) })
	r.Get("/tasks/{id}", func(w http.ResponseWriter, r *http.Request) { handleStatus(svc, w, r) })
	r.Get("/tasks/{id}/result", func(w http.ResponseWriter, r *http.Request) { handleResult(svc, w, r) })
	r.Post("/tasks/{id}/cancel", func(w http.ResponseWriter, r *http.Request) { handleCancel(svc, w, r) })
	r.Delete("/tasks/{id}", func(w http.ResponseWriter, r *http.Request) { handleDelete(svc, w, r) })

	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, types.ModelsResponse{Models: svc.Models()})
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.StatusSnapshot())
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("draining"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

// handleSubmit admits a new task.
//
//	@Summary	Submit a task
//	@Tags		tasks
//	@Accept		json
//	@Produce	json
//	@Param		request	body		types.SubmitRequest	true	"task submission"
//	@Success	202		{object}	types.SubmitResponse
//	@Failure	400		{object}	types.ErrorResponse
//	@Failure	429		{object}	types.ErrorResponse
//	@Router		/tasks [post]
func handleSubmit(svc Service, w http.ResponseWriter, r *http.Request) {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req types.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	task, err := svc.Submit(ctx, ownerFrom(r), req.Kind, req.Payload)
	if err != nil {
		logRequest(r, statusFor(err), "submit rejected")
		writeServiceError(w, err)
		return
	}
	logRequest(r, http.StatusAccepted, "task submitted")
	writeJSON(w, http.StatusAccepted, types.SubmitResponse{TaskID: task.ID, State: task.State})
}

// handleStatus reports lifecycle state and progress.
//
//	@Summary	Task status
//	@Tags		tasks
//	@Produce	json
//	@Param		id	path		string	true	"task id"
//	@Success	200	{object}	types.StatusResponse
//	@Failure	404	{object}	types.ErrorResponse
//	@Router		/tasks/{id} [get]
func handleStatus(svc Service, w http.ResponseWriter, r *http.Request) {
	task, err := svc.Status(r.Context(), ownerFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.StatusResponse{
		TaskID:   task.ID,
		State:    task.State,
		Progress: task.Progress,
		Message:  task.Message,
	})
}

// handleResult returns the result document for terminal tasks.
//
//	@Summary	Task result
//	@Tags		tasks
//	@Produce	json
//	@Param		id	path		string	true	"task id"
//	@Success	200	{object}	types.ResultResponse
//	@Failure	404	{object}	types.ErrorResponse
//	@Router		/tasks/{id}/result [get]
func handleResult(svc Service, w http.ResponseWriter, r *http.Request) {
	task, err := svc.Result(r.Context(), ownerFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := types.ResultResponse{State: task.State, Error: task.Error}
	if task.State == types.StateCompleted {
		resp.Result = task.Result
		resp.PlainExplanation = task.PlainExplanation
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCancel requests cancellation; idempotent on terminal tasks.
//
//	@Summary	Cancel a task
//	@Tags		tasks
//	@Produce	json
//	@Param		id	path	string	true	"task id"
//	@Success	202
//	@Failure	404	{object}	types.ErrorResponse
//	@Router		/tasks/{id}/cancel [post]
func handleCancel(svc Service, w http.ResponseWriter, r *http.Request) {
	if err := svc.Cancel(r.Context(), ownerFrom(r), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleDelete removes a finished task's record.
//
//	@Summary	Delete a task
//	@Tags		tasks
//	@Param		id	path	string	true	"task id"
//	@Success	204
//	@Failure	404	{object}	types.ErrorResponse
//	@Failure	409	{object}	types.ErrorResponse
//	@Router		/tasks/{id} [delete]
func handleDelete(svc Service, w http.ResponseWriter, r *http.Request) {
	if err := svc.Delete(r.Context(), ownerFrom(r), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleList pages through the owner's tasks, newest first.
//
//	@Summary	List tasks
//	@Tags		tasks
//	@Produce	json
//	@Param		kind	query		string	false	"filter by kind"
//	@Param		state	query		string	false	"filter by state"
//	@Param		limit	query		int		false	"page size"
//	@Param		cursor	query		string	false	"opaque page cursor"
//	@Success	200		{object}	types.TaskListResponse
//	@Failure	400		{object}	types.ErrorResponse
//	@Router		/tasks [get]
func handleList(svc Service, w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := taskstore.Filter{
		Kind:   types.TaskKind(q.Get("kind")),
		State:  types.TaskState(q.Get("state")),
		Cursor: q.Get("cursor"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}
	tasks, next, err := svc.List(r.Context(), ownerFrom(r), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.TaskListResponse{Tasks: tasks, NextCursor: next})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && zlog != nil {
		zlog.Error().Err(err).Msg("failed to encode response")
	}
}
