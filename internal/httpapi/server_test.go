package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tbendali/taskdeck/internal/config"
	"github.com/tbendali/taskdeck/internal/engine"
	"github.com/tbendali/taskdeck/internal/events"
	"github.com/tbendali/taskdeck/internal/queue"
	"github.com/tbendali/taskdeck/internal/tasks"
	"github.com/tbendali/taskdeck/internal/undo"
)

type fakeEngine struct {
	err error
}

func (f *fakeEngine) InitNextID(context.Context, string) error { return f.err }

func (f *fakeEngine) CreateTask(context.Context, tasks.Task) error { return f.err }

func (f *fakeEngine) UpdateTask(context.Context, string, tasks.Task) error { return f.err }

func (f *fakeEngine) DeleteTask(context.Context, string) error { return f.err }

func (f *fakeEngine) AddToQueue(context.Context, string, string) error { return f.err }

func (f *fakeEngine) ProcessNext(context.Context, string) error { return f.err }

func (f *fakeEngine) QueueStatus(context.Context, string) (int, error) { return 0, f.err }

func (f *fakeEngine) UndoStatus(context.Context, string) (bool, error) { return false, f.err }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := tasks.NewMemoryStore()
	eng := &fakeEngine{}
	bus := events.NewBus()
	undoManager := undo.NewManager(store, eng, bus, nil, undo.DefaultHistoryLimit)
	taskService := tasks.NewService(store, eng, undoManager, bus)
	queueManager := queue.NewManager(store, eng, bus, nil)

	srv := New(config.Config{}, taskService, queueManager, undoManager, bus, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func doRequest(t *testing.T, method, url, userID string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if userID != "" {
		req.Header.Set(userHeader, userID)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, url, err)
	}
	defer res.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("decode response: %v", err)
	}
	return res, decoded
}

func TestTaskCRUDOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	res, created := doRequest(t, http.MethodPost, ts.URL+"/v1/tasks", "u1", map[string]any{
		"title":       "ship release",
		"description": "cut the tag",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, body = %+v", res.StatusCode, created)
	}
	taskID, _ := created["taskId"].(string)
	if taskID == "" {
		t.Fatalf("missing taskId in create response: %+v", created)
	}

	res, got := doRequest(t, http.MethodGet, ts.URL+"/v1/tasks/"+taskID, "u1", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", res.StatusCode)
	}
	if got["title"] != "ship release" {
		t.Fatalf("get body = %+v", got)
	}

	res, updated := doRequest(t, http.MethodPut, ts.URL+"/v1/tasks/"+taskID, "u1", map[string]any{
		"title": "ship the release",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d, body = %+v", res.StatusCode, updated)
	}
	if updated["title"] != "ship the release" {
		t.Fatalf("update body = %+v", updated)
	}
	if updated["description"] != "cut the tag" {
		t.Fatalf("partial update lost description: %+v", updated)
	}

	res, list := doRequest(t, http.MethodGet, ts.URL+"/v1/tasks", "u1", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", res.StatusCode)
	}
	if count, _ := list["count"].(float64); count != 1 {
		t.Fatalf("list count = %v", list["count"])
	}

	res, _ = doRequest(t, http.MethodDelete, ts.URL+"/v1/tasks/"+taskID, "u1", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", res.StatusCode)
	}

	res, _ = doRequest(t, http.MethodGet, ts.URL+"/v1/tasks/"+taskID, "u1", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", res.StatusCode)
	}
}

func TestMissingUserHeader(t *testing.T) {
	ts := newTestServer(t)

	res, body := doRequest(t, http.MethodGet, ts.URL+"/v1/tasks", "", nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.StatusCode)
	}
	if body["code"] != "missing_user" {
		t.Fatalf("error code = %v", body["code"])
	}
}

func TestQueueLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	_, created := doRequest(t, http.MethodPost, ts.URL+"/v1/tasks", "u1", map[string]any{"title": "queued work"})
	taskID, _ := created["taskId"].(string)

	res, enq := doRequest(t, http.MethodPost, ts.URL+"/v1/queue/add/"+taskID, "u1", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("enqueue status = %d, body = %+v", res.StatusCode, enq)
	}
	if pos, _ := enq["position"].(float64); pos != 1 {
		t.Fatalf("position = %v", enq["position"])
	}

	res, body := doRequest(t, http.MethodPost, ts.URL+"/v1/queue/add/"+taskID, "u1", nil)
	if res.StatusCode != http.StatusBadRequest || body["code"] != "already_queued" {
		t.Fatalf("duplicate enqueue = %d / %v", res.StatusCode, body["code"])
	}

	res, status := doRequest(t, http.MethodGet, ts.URL+"/v1/queue/status", "u1", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status status = %d", res.StatusCode)
	}
	if status["hasNext"] != true || status["nextTaskId"] != taskID {
		t.Fatalf("queue status = %+v", status)
	}

	res, next := doRequest(t, http.MethodPost, ts.URL+"/v1/queue/next", "u1", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dequeue status = %d", res.StatusCode)
	}
	task, _ := next["task"].(map[string]any)
	if task == nil || task["taskId"] != taskID {
		t.Fatalf("dequeue body = %+v", next)
	}
	if remaining, _ := next["remainingInQueue"].(float64); remaining != 0 {
		t.Fatalf("remaining = %v", next["remainingInQueue"])
	}

	res, body = doRequest(t, http.MethodPost, ts.URL+"/v1/queue/next", "u1", nil)
	if res.StatusCode != http.StatusBadRequest || body["code"] != "queue_empty" {
		t.Fatalf("dequeue empty = %d / %v", res.StatusCode, body["code"])
	}
}

func TestPeekEmptyQueueIsNotFound(t *testing.T) {
	ts := newTestServer(t)

	res, body := doRequest(t, http.MethodGet, ts.URL+"/v1/queue/peek", "u1", nil)
	if res.StatusCode != http.StatusNotFound || body["code"] != "queue_empty" {
		t.Fatalf("peek empty = %d / %v", res.StatusCode, body["code"])
	}
}

func TestQueueRejectsUnqueueableTask(t *testing.T) {
	ts := newTestServer(t)

	status := 3
	_, created := doRequest(t, http.MethodPost, ts.URL+"/v1/tasks", "u1", map[string]any{
		"title":  "already done",
		"status": status,
	})
	taskID, _ := created["taskId"].(string)

	res, body := doRequest(t, http.MethodPost, ts.URL+"/v1/queue/add/"+taskID, "u1", nil)
	if res.StatusCode != http.StatusBadRequest || body["code"] != "invalid_task_state" {
		t.Fatalf("enqueue completed task = %d / %v", res.StatusCode, body["code"])
	}
}

func TestUndoOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	_, created := doRequest(t, http.MethodPost, ts.URL+"/v1/tasks", "u1", map[string]any{"title": "temporary"})
	taskID, _ := created["taskId"].(string)

	res, undone := doRequest(t, http.MethodPost, ts.URL+"/v1/undo", "u1", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("undo status = %d, body = %+v", res.StatusCode, undone)
	}
	if undone["undone"] != "CREATE" {
		t.Fatalf("undone = %v", undone["undone"])
	}

	res, _ = doRequest(t, http.MethodGet, ts.URL+"/v1/tasks/"+taskID, "u1", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("task survived undo of its create: %d", res.StatusCode)
	}

	res, body := doRequest(t, http.MethodPost, ts.URL+"/v1/undo", "u1", nil)
	if res.StatusCode != http.StatusBadRequest || body["code"] != "nothing_to_undo" {
		t.Fatalf("undo on empty history = %d / %v", res.StatusCode, body["code"])
	}
}

func TestUndoHistoryOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	_, created := doRequest(t, http.MethodPost, ts.URL+"/v1/tasks", "u1", map[string]any{"title": "v1"})
	taskID, _ := created["taskId"].(string)
	doRequest(t, http.MethodPut, ts.URL+"/v1/tasks/"+taskID, "u1", map[string]any{"title": "v2"})

	res, body := doRequest(t, http.MethodGet, ts.URL+"/v1/undo/history", "u1", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d", res.StatusCode)
	}
	history, _ := body["history"].([]any)
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	first, _ := history[0].(map[string]any)
	if first["type"] != "UPDATE" {
		t.Fatalf("most recent entry = %+v, want the update", first)
	}

	res, statusBody := doRequest(t, http.MethodGet, ts.URL+"/v1/undo/status", "u1", nil)
	if res.StatusCode != http.StatusOK || statusBody["canUndo"] != true {
		t.Fatalf("undo status = %d / %+v", res.StatusCode, statusBody)
	}

	res, _ = doRequest(t, http.MethodDelete, ts.URL+"/v1/undo/history", "u1", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("clear history status = %d", res.StatusCode)
	}
	_, statusBody = doRequest(t, http.MethodGet, ts.URL+"/v1/undo/status", "u1", nil)
	if statusBody["canUndo"] != false {
		t.Fatalf("canUndo after clear = %v", statusBody["canUndo"])
	}
}

func TestEngineFailureOnUndoMapsToBadGateway(t *testing.T) {
	store := tasks.NewMemoryStore()
	eng := &fakeEngine{}
	bus := events.NewBus()
	undoManager := undo.NewManager(store, eng, bus, nil, undo.DefaultHistoryLimit)
	taskService := tasks.NewService(store, eng, undoManager, bus)
	queueManager := queue.NewManager(store, eng, bus, nil)

	srv := New(config.Config{}, taskService, queueManager, undoManager, bus, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	cases := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"unavailable", engine.ErrUnavailable, "engine_unavailable"},
		{"timeout", engine.ErrTimeout, "engine_timeout"},
		{"protocol", fmt.Errorf("decode response: %w", engine.ErrProtocol), "engine_protocol_error"},
		{"rejected", fmt.Errorf("delete: %w", engine.ErrRejected), "engine_rejected"},
	}
	// One recorded operation per case: each undo attempt consumes an
	// entry whether or not the inverse succeeds.
	for range cases {
		_, created := doRequest(t, http.MethodPost, ts.URL+"/v1/tasks", "u1", map[string]any{"title": "x"})
		if created["taskId"] == "" {
			t.Fatalf("create failed: %+v", created)
		}
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eng.err = tc.err

			res, body := doRequest(t, http.MethodPost, ts.URL+"/v1/undo", "u1", nil)
			if res.StatusCode != http.StatusBadGateway || body["code"] != tc.wantCode {
				t.Fatalf("undo status = %d, code = %v, want 502 %s", res.StatusCode, body["code"], tc.wantCode)
			}
		})
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d", path, res.StatusCode)
		}
	}
}
