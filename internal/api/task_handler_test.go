package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/taskq/internal/api/shared"
	"github.com/phrazzld/taskq/internal/events"
	"github.com/phrazzld/taskq/internal/task"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type taskFixture struct {
	queue      *task.WorkQueue
	manager    *task.Manager
	dispatcher *task.Dispatcher
	bus        *events.Bus
	router     http.Handler
}

// newTaskFixture wires a manager and handler behind a chi router. The
// dispatcher is not started; call start to run jobs.
func newTaskFixture(t *testing.T, opts ...task.QueueOption) *taskFixture {
	t.Helper()

	log := testLogger()
	queue := task.NewWorkQueue(log, opts...)
	registry := task.NewRegistry(log)
	bus := events.NewBus(log)
	manager := task.NewManager(queue, registry, bus, nil, log)
	dispatcher := task.NewDispatcher(queue, log)

	h := NewTaskHandler(manager, dispatcher, bus, log)
	r := chi.NewRouter()
	r.Get("/api/tasks", h.ListTasks)
	r.Delete("/api/tasks", h.ClearTasks)
	r.Get("/api/tasks/{id}", h.GetTask)
	r.Delete("/api/tasks/{id}", h.DeleteTask)
	r.Post("/api/tasks/{id}/cancel", h.CancelTask)
	r.Get("/api/stats", h.Stats)
	r.Post("/api/jobs", h.SubmitJob)

	t.Cleanup(func() {
		dispatcher.Stop()
		bus.Close()
	})

	return &taskFixture{
		queue:      queue,
		manager:    manager,
		dispatcher: dispatcher,
		bus:        bus,
		router:     r,
	}
}

func (f *taskFixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.dispatcher.Start())
}

func (f *taskFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = bytes.NewBufferString(b)
		default:
			payload, err := json.Marshal(b)
			require.NoError(t, err)
			reader = bytes.NewReader(payload)
		}
	}

	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func waitSettled(t *testing.T, tk *task.Task) {
	t.Helper()
	require.Eventually(t, func() bool { return tk.Status().IsTerminal() },
		2*time.Second, 5*time.Millisecond)
}

func TestTaskHandler_SubmitAndGet(t *testing.T) {
	t.Parallel()

	f := newTaskFixture(t)
	f.start(t)

	w := f.do(t, http.MethodPost, "/api/jobs", SubmitJobRequest{
		Kind:       "sleep",
		DurationMS: 10,
		Steps:      2,
		Message:    "rested",
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	submitted := decodeBody[TaskResponse](t, w)
	require.NotEmpty(t, submitted.ID)

	tk, ok := f.manager.Registry().Find(submitted.ID)
	require.True(t, ok)
	waitSettled(t, tk)

	w = f.do(t, http.MethodGet, "/api/tasks/"+submitted.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeBody[TaskResponse](t, w)
	assert.Equal(t, task.StatusFinished, got.Status)
	assert.Equal(t, float64(100), got.Progress)
	assert.Equal(t, "rested", got.Result)
	assert.NotNil(t, got.FinishedAt)
}

func TestTaskHandler_SubmitFailingJob(t *testing.T) {
	t.Parallel()

	f := newTaskFixture(t)
	f.start(t)

	w := f.do(t, http.MethodPost, "/api/jobs", SubmitJobRequest{
		Kind:    "fail",
		Message: "connect postgres://app:hunter2@db/app refused",
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	submitted := decodeBody[TaskResponse](t, w)

	tk, _ := f.manager.Registry().Find(submitted.ID)
	waitSettled(t, tk)

	w = f.do(t, http.MethodGet, "/api/tasks/"+submitted.ID, nil)
	got := decodeBody[TaskResponse](t, w)
	assert.Equal(t, task.StatusError, got.Status)
	assert.NotEmpty(t, got.Error)
	assert.NotContains(t, got.Error, "hunter2")
}

func TestTaskHandler_SubmitValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body any
	}{
		{"unknown kind", SubmitJobRequest{Kind: "explode"}},
		{"missing kind", SubmitJobRequest{DurationMS: 5}},
		{"negative duration", SubmitJobRequest{Kind: "sleep", DurationMS: -1}},
		{"too many steps", SubmitJobRequest{Kind: "sleep", Steps: 5000}},
		{"malformed json", `{"kind":`},
		{"unknown field", `{"kind":"sleep","priority":1}`},
		{"empty body", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newTaskFixture(t)
			w := f.do(t, http.MethodPost, "/api/jobs", tc.body)

			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Zero(t, f.manager.Registry().Len())
		})
	}
}

func TestTaskHandler_SubmitQueueFull(t *testing.T) {
	t.Parallel()

	f := newTaskFixture(t, task.WithCapacity(1))

	req := SubmitJobRequest{Kind: "sleep", DurationMS: 1}
	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/api/jobs", req).Code)

	w := f.do(t, http.MethodPost, "/api/jobs", req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "Work queue is full, retry later", decodeBody[shared.ErrorResponse](t, w).Error)
}

func TestTaskHandler_SubmitQueueClosed(t *testing.T) {
	t.Parallel()

	f := newTaskFixture(t)
	f.queue.Close()

	w := f.do(t, http.MethodPost, "/api/jobs", SubmitJobRequest{Kind: "sleep"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestTaskHandler_ListTasks(t *testing.T) {
	t.Parallel()

	f := newTaskFixture(t)

	// Without a running dispatcher every task stays idle.
	var ids []string
	for range 3 {
		tk, err := f.manager.Execute(func(context.Context, *task.Scope, *task.Task) error { return nil })
		require.NoError(t, err)
		ids = append(ids, tk.ID())
	}
	require.NoError(t, f.manager.Cancel(ids[1]))

	w := f.do(t, http.MethodGet, "/api/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	all := decodeBody[TaskListResponse](t, w)
	require.Equal(t, 3, all.Count)
	for i, tr := range all.Tasks {
		assert.Equal(t, ids[i], tr.ID, "submission order")
	}

	w = f.do(t, http.MethodGet, "/api/tasks?status=canceled", nil)
	canceled := decodeBody[TaskListResponse](t, w)
	require.Equal(t, 1, canceled.Count)
	assert.Equal(t, ids[1], canceled.Tasks[0].ID)

	w = f.do(t, http.MethodGet, "/api/tasks?status=running", nil)
	assert.Equal(t, 0, decodeBody[TaskListResponse](t, w).Count)
	assert.Contains(t, w.Body.String(), `"tasks":[]`)

	w = f.do(t, http.MethodGet, "/api/tasks?status=paused", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTaskHandler_GetUnknownTask(t *testing.T) {
	t.Parallel()

	f := newTaskFixture(t)
	w := f.do(t, http.MethodGet, "/api/tasks/nope", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Task not found", decodeBody[shared.ErrorResponse](t, w).Error)
}

func TestTaskHandler_CancelTask(t *testing.T) {
	t.Parallel()

	f := newTaskFixture(t)
	f.start(t)

	release := make(chan struct{})
	started := make(chan struct{})
	tk, err := f.manager.Execute(func(ctx context.Context, _ *task.Scope, _ *task.Task) error {
		close(started)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-release:
			return nil
		}
	})
	require.NoError(t, err)
	t.Cleanup(func() { close(release) })
	<-started

	w := f.do(t, http.MethodPost, "/api/tasks/"+tk.ID()+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, task.StatusCanceled, decodeBody[TaskResponse](t, w).Status)

	w = f.do(t, http.MethodPost, "/api/tasks/"+tk.ID()+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, "/api/tasks/missing/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTaskHandler_DeleteAndClear(t *testing.T) {
	t.Parallel()

	f := newTaskFixture(t)

	a, err := f.manager.Execute(func(context.Context, *task.Scope, *task.Task) error { return nil })
	require.NoError(t, err)
	_, err = f.manager.Execute(func(context.Context, *task.Scope, *task.Task) error { return nil })
	require.NoError(t, err)

	w := f.do(t, http.MethodDelete, "/api/tasks/"+a.ID(), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1, f.manager.Registry().Len())

	w = f.do(t, http.MethodDelete, "/api/tasks/"+a.ID(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodDelete, "/api/tasks", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Zero(t, f.manager.Registry().Len())
	// Forgetting tasks does not dequeue their work.
	assert.Equal(t, 2, f.manager.QueueLen())
}

func TestTaskHandler_Stats(t *testing.T) {
	t.Parallel()

	f := newTaskFixture(t)

	for range 2 {
		_, err := f.manager.Execute(func(context.Context, *task.Scope, *task.Task) error { return nil })
		require.NoError(t, err)
	}

	w := f.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decodeBody[StatsResponse](t, w)
	assert.Equal(t, 2, stats.QueueLength)
	assert.Equal(t, 2, stats.Tracked)
	assert.Equal(t, 2, stats.ByStatus[task.StatusIdle])
	assert.False(t, stats.DispatcherRunning)

	f.start(t)
	require.Eventually(t, func() bool { return f.manager.QueueLen() == 0 }, 2*time.Second, 5*time.Millisecond)

	stats = decodeBody[StatsResponse](t, f.do(t, http.MethodGet, "/api/stats", nil))
	assert.True(t, stats.DispatcherRunning)
}

func TestTaskResponse_UnmarshalableResult(t *testing.T) {
	t.Parallel()

	tk, err := task.NewTask()
	require.NoError(t, err)
	_, err = tk.Start(context.Background())
	require.NoError(t, err)
	require.NoError(t, tk.Finish(func() {}))

	resp := taskToResponse(tk)
	_, err = json.Marshal(resp)
	assert.NoError(t, err)
	assert.IsType(t, "", resp.Result)
}

func TestNewTaskHandler_PanicsWithoutDependencies(t *testing.T) {
	t.Parallel()

	log := testLogger()
	q := task.NewWorkQueue(log)
	m := task.NewManager(q, task.NewRegistry(log), nil, nil, log)

	assert.Panics(t, func() { NewTaskHandler(nil, nil, nil, log) })
	assert.Panics(t, func() { NewTaskHandler(m, nil, nil, nil) })
	assert.NotPanics(t, func() { NewTaskHandler(m, nil, nil, log) })
}

func TestMapErrorToStatusCode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want int
	}{
		{task.ErrTaskNotFound, http.StatusNotFound},
		{task.ErrInvalidTransition, http.StatusConflict},
		{task.ErrQueueFull, http.StatusTooManyRequests},
		{task.ErrQueueClosed, http.StatusServiceUnavailable},
		{errInvalidRequest, http.StatusBadRequest},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, MapErrorToStatusCode(tc.err), tc.err.Error())
	}

	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(errors.New("secret detail")))
	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(nil))
}
