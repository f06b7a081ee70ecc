package task

import (
	"time"

	"github.com/phrazzld/taskq/internal/events"
)

// StartedEvent is published when a job body begins running.
type StartedEvent struct {
	Task      *Task
	Timestamp time.Time
}

func (e StartedEvent) EventType() string { return events.EventTypeTaskStarted }
func (e StartedEvent) TaskID() string    { return e.Task.ID() }

// CompletedEvent is published when a job finishes successfully.
type CompletedEvent struct {
	Task      *Task
	Duration  time.Duration
	Timestamp time.Time
}

func (e CompletedEvent) EventType() string { return events.EventTypeTaskCompleted }
func (e CompletedEvent) TaskID() string    { return e.Task.ID() }

// CanceledEvent is published when an idle task is canceled, or when a running
// job's body returns after its task was canceled.
type CanceledEvent struct {
	Task      *Task
	Duration  time.Duration
	Timestamp time.Time
}

func (e CanceledEvent) EventType() string { return events.EventTypeTaskCanceled }
func (e CanceledEvent) TaskID() string    { return e.Task.ID() }

// FailedEvent is published once per failed job on the task.error topic.
// Scope is the failed job's execution scope; it is already closed by the time
// observers see it.
type FailedEvent struct {
	Task      *Task
	Err       error
	Scope     *Scope
	Duration  time.Duration
	Timestamp time.Time
}

func (e FailedEvent) EventType() string { return events.EventTypeTaskFailed }
func (e FailedEvent) TaskID() string    { return e.Task.ID() }
