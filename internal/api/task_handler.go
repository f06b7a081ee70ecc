package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/phrazzld/taskq/internal/api/shared"
	"github.com/phrazzld/taskq/internal/events"
	"github.com/phrazzld/taskq/internal/jobs"
	"github.com/phrazzld/taskq/internal/platform/logger"
	"github.com/phrazzld/taskq/internal/task"
)

// DispatcherStatus reports whether the dispatcher loop is active.
type DispatcherStatus interface {
	Running() bool
}

// TaskHandler serves the live task registry and job submission.
type TaskHandler struct {
	manager    *task.Manager
	dispatcher DispatcherStatus
	bus        *events.Bus
	logger     *slog.Logger
}

// NewTaskHandler creates a TaskHandler. dispatcher and bus may be nil.
func NewTaskHandler(
	manager *task.Manager,
	dispatcher DispatcherStatus,
	bus *events.Bus,
	logger *slog.Logger,
) *TaskHandler {
	if manager == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("manager cannot be nil for TaskHandler")
	}
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for TaskHandler")
	}

	return &TaskHandler{
		manager:    manager,
		dispatcher: dispatcher,
		bus:        bus,
		logger:     logger.With(slog.String("component", "task_handler")),
	}
}

// ListTasks handles GET /api/tasks. The optional status query parameter
// filters by lifecycle state; order is submission order.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	query := ListTasksQuery{Status: r.URL.Query().Get("status")}
	if err := shared.ValidateRequest(query); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	tasks := h.manager.Registry().List()
	resp := TaskListResponse{Tasks: make([]TaskResponse, 0, len(tasks))}
	for _, t := range tasks {
		if query.Status != "" && string(t.Status()) != query.Status {
			continue
		}
		resp.Tasks = append(resp.Tasks, taskToResponse(t))
	}
	resp.Count = len(resp.Tasks)

	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// GetTask handles GET /api/tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := getPathID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	t, ok := h.manager.Registry().Find(id)
	if !ok {
		HandleAPIError(w, r, task.ErrTaskNotFound, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(t))
}

// CancelTask handles POST /api/tasks/{id}/cancel. An idle task is skipped
// when the dispatcher reaches it; a running task's context is canceled.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	id, err := getPathID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	if err := h.manager.Cancel(id); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	t, ok := h.manager.Registry().Find(id)
	if !ok {
		// Evicted between Cancel and Find.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	log.Info("task canceled via API", slog.String("task_id", id))
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(t))
}

// DeleteTask handles DELETE /api/tasks/{id}. It only forgets the task; a
// running job keeps running.
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id, err := getPathID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	if !h.manager.Registry().Remove(id) {
		HandleAPIError(w, r, task.ErrTaskNotFound, "")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ClearTasks handles DELETE /api/tasks.
func (h *TaskHandler) ClearTasks(w http.ResponseWriter, r *http.Request) {
	h.manager.Registry().Clear()
	logger.FromContext(r.Context()).Info("task registry cleared via API")
	w.WriteHeader(http.StatusNoContent)
}

// Stats handles GET /api/stats.
func (h *TaskHandler) Stats(w http.ResponseWriter, r *http.Request) {
	registry := h.manager.Registry()
	resp := StatsResponse{
		QueueLength: h.manager.QueueLen(),
		Tracked:     registry.Len(),
		ByStatus:    registry.Counts(),
	}
	if h.dispatcher != nil {
		resp.DispatcherRunning = h.dispatcher.Running()
	}
	if h.bus != nil {
		resp.PendingEvents = h.bus.Pending()
	}

	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// SubmitJob handles POST /api/jobs and queues one of the built-in jobs.
// It returns 202 with the new task before the job runs.
func (h *TaskHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req SubmitJobRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		HandleAPIError(w, r, fmt.Errorf("%w: %v", errInvalidRequest, err), "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	d := time.Duration(req.DurationMS) * time.Millisecond

	var (
		t   *task.Task
		err error
	)
	switch req.Kind {
	case jobs.KindSleep:
		t, err = task.ExecuteFunc(h.manager, jobs.Sleep(d, req.Steps, req.Message))
	case jobs.KindFail:
		t, err = h.manager.Execute(jobs.Fail(d, req.Message))
	default:
		err = fmt.Errorf("%w: unknown job kind %q", errInvalidRequest, req.Kind)
	}
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	log.Info("job submitted",
		slog.String("task_id", t.ID()),
		slog.String("kind", req.Kind))
	shared.RespondWithJSON(w, r, http.StatusAccepted, taskToResponse(t))
}
