package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/phrazzld/taskq/internal/redact"
	"github.com/phrazzld/taskq/internal/task"
)

// ListTasksQuery holds the query parameters of GET /api/tasks.
type ListTasksQuery struct {
	Status string `validate:"omitempty,oneof=idle running finished canceled error"`
}

// SubmitJobRequest defines the payload for POST /api/jobs.
type SubmitJobRequest struct {
	Kind       string `json:"kind"        validate:"required,oneof=sleep fail"`
	DurationMS int    `json:"duration_ms" validate:"gte=0,lte=3600000"`
	Steps      int    `json:"steps"       validate:"gte=0,lte=1000"`
	Message    string `json:"message"     validate:"max=256"`
}

// ListHistoryQuery holds the query parameters of GET /api/history.
type ListHistoryQuery struct {
	Limit int `validate:"gte=0,lte=1000"`
}

// TaskResponse is the public view of a task.
type TaskResponse struct {
	ID         string      `json:"id"`
	Status     task.Status `json:"status"`
	Progress   float64     `json:"progress"`
	Result     any         `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// TaskListResponse wraps a list of tasks.
type TaskListResponse struct {
	Tasks []TaskResponse `json:"tasks"`
	Count int            `json:"count"`
}

// StatsResponse reports queue and registry state.
type StatsResponse struct {
	QueueLength       int                 `json:"queue_length"`
	DispatcherRunning bool                `json:"dispatcher_running"`
	Tracked           int                 `json:"tracked"`
	ByStatus          map[task.Status]int `json:"by_status"`
	PendingEvents     int64               `json:"pending_events"`
}

func taskToResponse(t *task.Task) TaskResponse {
	snap := t.Snapshot()
	resp := TaskResponse{
		ID:         snap.ID,
		Status:     snap.Status,
		Progress:   snap.Progress,
		Result:     snap.Result,
		Error:      redact.String(snap.Error),
		CreatedAt:  snap.CreatedAt,
		StartedAt:  snap.StartedAt,
		FinishedAt: snap.FinishedAt,
	}
	// Results are caller-defined; fall back to their printed form.
	if resp.Result != nil {
		if _, err := json.Marshal(resp.Result); err != nil {
			resp.Result = fmt.Sprintf("%v", resp.Result)
		}
	}
	return resp
}
