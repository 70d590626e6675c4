// Package handlers tests for the daemon REST API.
// These tests verify routing, status codes and response bodies.
package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/cache"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/connectivity"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/models"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/store"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/sync/queue"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/sync/scheduler"
)

// =====================================================
// Test Helpers
// =====================================================

type countingRemote struct{ calls atomic.Int32 }

func (r *countingRemote) Execute(ctx context.Context, kind models.ActionKind, endpoint string, payload models.Value, headers map[string]string) error {
	r.calls.Add(1)
	return nil
}

type testAPI struct {
	router  http.Handler
	engine  *queue.Engine
	monitor *connectivity.Monitor
	push    *connectivity.PushProbe
	remote  *countingRemote
}

// setupAPI builds the API over in-memory components. The monitor starts
// Offline so enqueued actions stay put until a test goes online.
func setupAPI(t *testing.T, withPush bool) *testAPI {
	t.Helper()

	probe := connectivity.NewPushProbe()
	monitor := connectivity.NewMonitor(probe)
	monitor.Report(connectivity.RawNone)

	st := store.NewMemoryStore()
	remote := &countingRemote{}
	engine := queue.NewEngine(st, remote, monitor, queue.DefaultConfig())
	require.NoError(t, engine.Initialize(context.Background()))

	sched := scheduler.NewScheduler(engine, monitor, nil)

	t.Cleanup(func() {
		engine.Close()
		monitor.Dispose()
		probe.Close()
	})

	deps := Deps{
		Engine:    engine,
		Scheduler: sched,
		Monitor:   monitor,
		Cache:     cache.New(st),
		Version:   "test",
	}
	if withPush {
		deps.Push = probe
		require.NoError(t, monitor.Start(context.Background()))
	}
	return &testAPI{
		router:  NewRouter(deps),
		engine:  engine,
		monitor: monitor,
		push:    probe,
		remote:  remote,
	}
}

func (a *testAPI) do(t *testing.T, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v), rr.Body.String())
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body ErrorBody
	decode(t, rr, &body)
	return body.Error.Code
}

// =====================================================
// Health and status
// =====================================================

func TestHealth(t *testing.T) {
	api := setupAPI(t, false)

	rr := api.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var body map[string]string
	decode(t, rr, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestStatus(t *testing.T) {
	api := setupAPI(t, false)
	api.do(t, http.MethodPost, "/api/queue", `{"kind":"create","endpoint":"/items"}`)

	rr := api.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var body StatusResponse
	decode(t, rr, &body)
	assert.Equal(t, models.StateOffline, body.Connectivity)
	assert.Equal(t, 1, body.Queue.Pending)
	assert.False(t, body.Scheduler.IsRunning)
}

// =====================================================
// Queue
// =====================================================

func TestQueue_enqueueAndList(t *testing.T) {
	api := setupAPI(t, false)

	rr := api.do(t, http.MethodPost, "/api/queue",
		`{"kind":"create","endpoint":"/api/v1/items","payload":{"name":"milk"},"headers":{"Idempotency-Key":"k1"}}`)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	var action models.PendingAction
	decode(t, rr, &action)
	assert.NotEmpty(t, action.ID)
	assert.Equal(t, models.ActionCreate, action.Kind)
	name, _ := action.Payload.Get("name")
	s, _ := name.AsString()
	assert.Equal(t, "milk", s)
	assert.Equal(t, "k1", action.Headers["Idempotency-Key"])

	api.do(t, http.MethodPost, "/api/queue", `{"kind":"delete","endpoint":"/api/v1/other"}`)

	rr = api.do(t, http.MethodGet, "/api/queue", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list QueueResponse
	decode(t, rr, &list)
	assert.Equal(t, 2, list.Status.Pending)
	require.Len(t, list.Actions, 2)
	assert.Equal(t, action.ID, list.Actions[0].ID)
	assert.Zero(t, api.remote.calls.Load(), "offline enqueue never calls the backend")

	rr = api.do(t, http.MethodGet, "/api/queue?endpoint=/api/v1/other", "")
	decode(t, rr, &list)
	require.Len(t, list.Actions, 1)
	assert.Equal(t, models.ActionDelete, list.Actions[0].Kind)
}

func TestQueue_listEmpty(t *testing.T) {
	api := setupAPI(t, false)

	rr := api.do(t, http.MethodGet, "/api/queue?endpoint=/nothing", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"actions":[]`)
}

func TestQueue_enqueueInvalid(t *testing.T) {
	api := setupAPI(t, false)

	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{"kind":`},
		{"unknown kind", `{"kind":"patch","endpoint":"/x"}`},
		{"missing kind", `{"endpoint":"/x"}`},
		{"uppercase kind", `{"kind":"CREATE","endpoint":"/x"}`},
		{"missing endpoint", `{"kind":"create"}`},
		{"list payload", `{"kind":"create","endpoint":"/x","payload":[1,2]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := api.do(t, http.MethodPost, "/api/queue", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, "INVALID_INPUT", errorCode(t, rr))
		})
	}
	assert.Zero(t, api.engine.Len())
}

func TestQueue_removeAndClear(t *testing.T) {
	api := setupAPI(t, false)

	var first models.PendingAction
	decode(t, api.do(t, http.MethodPost, "/api/queue", `{"kind":"create","endpoint":"/a"}`), &first)
	api.do(t, http.MethodPost, "/api/queue", `{"kind":"create","endpoint":"/b"}`)
	api.do(t, http.MethodPost, "/api/queue", `{"kind":"create","endpoint":"/c"}`)

	rr := api.do(t, http.MethodDelete, "/api/queue/"+first.ID, "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, 2, api.engine.Len())

	rr = api.do(t, http.MethodDelete, "/api/queue/1700000000000-create-0123abcd", "")
	assert.Equal(t, http.StatusNoContent, rr.Code, "removing an unknown id is a no-op")

	rr = api.do(t, http.MethodDelete, "/api/queue/not-an-id", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "INVALID_INPUT", errorCode(t, rr))
	assert.Equal(t, 2, api.engine.Len())

	rr = api.do(t, http.MethodDelete, "/api/queue", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Zero(t, api.engine.Len())
}

func TestQueue_syncOffline(t *testing.T) {
	api := setupAPI(t, false)
	api.do(t, http.MethodPost, "/api/queue", `{"kind":"create","endpoint":"/a"}`)

	rr := api.do(t, http.MethodPost, "/api/queue/sync", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "NO_CONNECTION", errorCode(t, rr))
	assert.Equal(t, 1, api.engine.Len())
}

func TestQueue_syncOnline(t *testing.T) {
	api := setupAPI(t, false)
	api.do(t, http.MethodPost, "/api/queue", `{"kind":"create","endpoint":"/a"}`)
	api.do(t, http.MethodPost, "/api/queue", `{"kind":"update","endpoint":"/b","payload":{}}`)

	api.monitor.Report(connectivity.RawWiFi)

	rr := api.do(t, http.MethodPost, "/api/queue/sync", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var result queue.ReplayResult
	decode(t, rr, &result)
	assert.Equal(t, 2, result.Succeeded)
	assert.Zero(t, result.Remaining)
	assert.Equal(t, int32(2), api.remote.calls.Load())
}

// =====================================================
// Connectivity
// =====================================================

func TestConnectivity_get(t *testing.T) {
	api := setupAPI(t, false)

	var body ConnectivityResponse
	decode(t, api.do(t, http.MethodGet, "/api/connectivity", ""), &body)
	assert.Equal(t, models.StateOffline, body.State)
	assert.False(t, body.Online)
}

func TestConnectivity_pushWithoutPushProbe(t *testing.T) {
	api := setupAPI(t, false)

	rr := api.do(t, http.MethodPut, "/api/connectivity", `{"raw":"wifi"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	var body ErrorBody
	decode(t, rr, &body)
	assert.Equal(t, "INVALID_INPUT", body.Error.Code)
	assert.Equal(t, models.StateOffline, api.monitor.State(), "state is unchanged")
}

func TestConnectivity_push(t *testing.T) {
	api := setupAPI(t, true)

	rr := api.do(t, http.MethodPut, "/api/connectivity", `{"raw":"wifi"}`)
	require.Equal(t, http.StatusAccepted, rr.Code)
	var body ConnectivityResponse
	decode(t, rr, &body)
	assert.Equal(t, models.StateOnline, body.State)

	require.Eventually(t, api.monitor.IsOnline, 2*time.Second, 5*time.Millisecond)

	api.do(t, http.MethodPut, "/api/connectivity", `{"raw":"bluetooth"}`)
	require.Eventually(t, func() bool {
		return api.monitor.State() == models.StateLimited
	}, 2*time.Second, 5*time.Millisecond)

	rr = api.do(t, http.MethodPut, "/api/connectivity", `{"raw":" "}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// =====================================================
// Cache
// =====================================================

func TestCache_putGet(t *testing.T) {
	api := setupAPI(t, false)

	rr := api.do(t, http.MethodPut, "/api/cache/users/42", `{"id":42,"name":"Ana"}`)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = api.do(t, http.MethodGet, "/api/cache/users/42", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var body CacheResponse
	decode(t, rr, &body)
	assert.Equal(t, "users/42", body.Key)
	id, _ := body.Data.Get("id")
	n, _ := id.AsInt()
	assert.Equal(t, int64(42), n)

	rr = api.do(t, http.MethodGet, "/api/cache/users/42?max_age=60s", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	time.Sleep(5 * time.Millisecond)
	rr = api.do(t, http.MethodGet, "/api/cache/users/42?max_age=0s", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, rr))
}

func TestCache_errors(t *testing.T) {
	api := setupAPI(t, false)

	rr := api.do(t, http.MethodGet, "/api/cache/missing", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = api.do(t, http.MethodGet, "/api/cache/k?max_age=soon", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = api.do(t, http.MethodPut, "/api/cache/k", `{"broken"`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCache_clear(t *testing.T) {
	api := setupAPI(t, false)
	api.do(t, http.MethodPut, "/api/cache/users/1", `1`)
	api.do(t, http.MethodPut, "/api/cache/users/2", `2`)
	api.do(t, http.MethodPut, "/api/cache/posts/1", `3`)

	rr := api.do(t, http.MethodDelete, "/api/cache?prefix=users/", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]int
	decode(t, rr, &body)
	assert.Equal(t, 2, body["removed"])

	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/api/cache/posts/1", "").Code)

	decode(t, api.do(t, http.MethodDelete, "/api/cache", ""), &body)
	assert.Equal(t, 1, body["removed"])
}
