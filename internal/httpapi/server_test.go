package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ArthurVigier/Cerastes-Public-API/internal/engine"
	"github.com/ArthurVigier/Cerastes-Public-API/internal/taskstore"
	"github.com/ArthurVigier/Cerastes-Public-API/pkg/types"
)

type mockService struct {
	task      types.Task
	submitErr error
	statusErr error
	cancelErr error
	deleteErr error
	listErr   error
	models    []types.Model
	status    types.ServiceStatus
	ready     bool

	lastOwner  string
	lastFilter taskstore.Filter
}

func (m *mockService) Submit(_ context.Context, owner string, kind types.TaskKind, payload json.RawMessage) (types.Task, error) {
	m.lastOwner = owner
	if m.submitErr != nil {
		return types.Task{}, m.submitErr
	}
	return m.task, nil
}

func (m *mockService) Status(_ context.Context, owner, taskID string) (types.Task, error) {
	m.lastOwner = owner
	if m.statusErr != nil {
		return types.Task{}, m.statusErr
	}
	return m.task, nil
}

func (m *mockService) Result(_ context.Context, owner, taskID string) (types.Task, error) {
	return m.Status(nil, owner, taskID)
}

func (m *mockService) Cancel(_ context.Context, owner, taskID string) error { return m.cancelErr }
func (m *mockService) Delete(_ context.Context, owner, taskID string) error { return m.deleteErr }

func (m *mockService) List(_ context.Context, owner string, filter taskstore.Filter) ([]types.Task, string, error) {
	m.lastOwner = owner
	m.lastFilter = filter
	if m.listErr != nil {
		return nil, "", m.listErr
	}
	return []types.Task{m.task}, "next-page", nil
}

func (m *mockService) Models() []types.Model { return append([]types.Model(nil), m.models...) }

func (m *mockService) StatusSnapshot() types.ServiceStatus { return m.status }

func (m *mockService) Ready() bool { return m.ready }

func submitReq(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestSubmitAccepted(t *testing.T) {
	svc := &mockService{task: types.Task{ID: "t1", State: types.StatePending}}
	r := NewMux(svc, Options{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, submitReq(`{"kind":"text-inference","payload":{"text":"hi"}}`))
	if w.Code != http.StatusAccepted {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp types.SubmitResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.TaskID != "t1" || resp.State != types.StatePending {
		t.Fatalf("unexpected body: %+v", resp)
	}
}

func TestSubmitRequiresJSONContentType(t *testing.T) {
	svc := &mockService{}
	r := NewMux(svc, Options{})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestSubmitMalformedBody(t *testing.T) {
	svc := &mockService{}
	r := NewMux(svc, Options{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, submitReq(`{not json`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestSubmitValidationMaps400(t *testing.T) {
	svc := &mockService{submitErr: engine.ErrValidation("text is required")}
	r := NewMux(svc, Options{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, submitReq(`{"kind":"text-inference","payload":{}}`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
	var resp types.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !strings.Contains(resp.Error, "text is required") {
		t.Fatalf("unexpected error body: %+v", resp)
	}
}

func TestSubmitQuotaMaps429(t *testing.T) {
	svc := &mockService{submitErr: engine.ErrQuotaExceeded("queue depth limit reached")}
	r := NewMux(svc, Options{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, submitReq(`{"kind":"text-inference","payload":{"text":"hi"}}`))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestSubmitDrainingMaps503(t *testing.T) {
	svc := &mockService{submitErr: engine.ErrShuttingDown()}
	r := NewMux(svc, Options{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, submitReq(`{"kind":"text-inference","payload":{"text":"hi"}}`))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestOwnerFromAPIKeyHeader(t *testing.T) {
	svc := &mockService{task: types.Task{ID: "t1", State: types.StatePending}}
	r := NewMux(svc, Options{})
	req := submitReq(`{"kind":"text-inference","payload":{"text":"hi"}}`)
	req.Header.Set("X-API-Key", "key-abc")
	r.ServeHTTP(httptest.NewRecorder(), req)
	if svc.lastOwner != "key-abc" {
		t.Fatalf("owner=%q", svc.lastOwner)
	}

	r.ServeHTTP(httptest.NewRecorder(), submitReq(`{"kind":"text-inference","payload":{"text":"hi"}}`))
	if svc.lastOwner != "anonymous" {
		t.Fatalf("missing key must map to anonymous, got %q", svc.lastOwner)
	}
}

func TestStatusHandler(t *testing.T) {
	svc := &mockService{task: types.Task{ID: "t1", State: types.StateRunning, Progress: 0.4, Message: "stage 2/5: system_2"}}
	r := NewMux(svc, Options{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tasks/t1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var resp types.StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.State != types.StateRunning || resp.Progress != 0.4 {
		t.Fatalf("unexpected body: %+v", resp)
	}
}

func TestStatusNotFoundMaps404(t *testing.T) {
	svc := &mockService{statusErr: taskstore.NotFound("t-missing")}
	r := NewMux(svc, Options{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tasks/t-missing", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestResultGatedOnCompletion(t *testing.T) {
	result := json.RawMessage(`{"output":"done"}`)
	svc := &mockService{task: types.Task{ID: "t1", State: types.StateRunning, Result: result}}
	r := NewMux(svc, Options{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tasks/t1/result", nil))
	var resp types.ResultResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Result != nil {
		t.Fatal("result must be withheld until the task completes")
	}

	svc.task.State = types.StateCompleted
	svc.task.PlainExplanation = "it finished"
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tasks/t1/result", nil))
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if string(resp.Result) != string(result) || resp.PlainExplanation != "it finished" {
		t.Fatalf("unexpected body: %+v", resp)
	}
}

func TestCancelHandler(t *testing.T) {
	svc := &mockService{}
	r := NewMux(svc, Options{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/tasks/t1/cancel", nil))
	if w.Code != http.StatusAccepted {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestDeleteHandler(t *testing.T) {
	svc := &mockService{}
	r := NewMux(svc, Options{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/tasks/t1", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestDeleteRunningMaps409(t *testing.T) {
	svc := &mockService{deleteErr: engine.ErrConflict("task is running; cancel it first")}
	r := NewMux(svc, Options{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/tasks/t1", nil))
	if w.Code != http.StatusConflict {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestListPassesFilter(t *testing.T) {
	svc := &mockService{task: types.Task{ID: "t1"}}
	r := NewMux(svc, Options{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tasks?kind=batch&state=completed&limit=5&cursor=abc", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	f := svc.lastFilter
	if f.Kind != types.KindBatch || f.State != types.StateCompleted || f.Limit != 5 || f.Cursor != "abc" {
		t.Fatalf("filter not forwarded: %+v", f)
	}
	var resp types.TaskListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(resp.Tasks) != 1 || resp.NextCursor != "next-page" {
		t.Fatalf("unexpected body: %+v", resp)
	}
}

func TestListRejectsBadLimit(t *testing.T) {
	svc := &mockService{}
	r := NewMux(svc, Options{})
	for _, limit := range []string{"0", "-1", "abc"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tasks?limit="+limit, nil))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("limit=%q status=%d", limit, w.Code)
		}
	}
}

func TestListBadCursorMaps400(t *testing.T) {
	svc := &mockService{listErr: taskstore.ErrBadCursor()}
	r := NewMux(svc, Options{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tasks?cursor=garbage", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestModelsHandler(t *testing.T) {
	svc := &mockService{models: []types.Model{{ID: "m1"}, {ID: "m2"}}}
	r := NewMux(svc, Options{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/models", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var resp types.ModelsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(resp.Models) != 2 {
		t.Fatalf("models len=%d", len(resp.Models))
	}
}

func TestStatusSnapshotHandler(t *testing.T) {
	svc := &mockService{status: types.ServiceStatus{BudgetMB: 24000, QueuedJobs: 3}}
	r := NewMux(svc, Options{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var resp types.ServiceStatus
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.BudgetMB != 24000 || resp.QueuedJobs != 3 {
		t.Fatalf("unexpected body: %+v", resp)
	}
}

func TestHealthz(t *testing.T) {
	svc := &mockService{}
	r := NewMux(svc, Options{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestReadyzDraining(t *testing.T) {
	svc := &mockService{ready: false}
	r := NewMux(svc, Options{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "draining") {
		t.Fatalf("body=%q", w.Body.String())
	}

	svc.ready = true
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestCORSHeadersWhenEnabled(t *testing.T) {
	svc := &mockService{}
	r := NewMux(svc, Options{AllowedOrigins: []string{"*"}})
	req := httptest.NewRequest(http.MethodGet, "/models", nil)
	req.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got == "" {
		t.Fatal("expected Access-Control-Allow-Origin header")
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("nosniff header missing, got %q", got)
	}
}
