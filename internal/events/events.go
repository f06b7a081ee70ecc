package events

// Event is the base interface for all events published on the bus.
type Event interface {
	// EventType returns the event type identifier (e.g. "task.failed").
	EventType() string

	// TaskID returns the ID of the task the event refers to, or "" if none.
	TaskID() string
}

// Topic constants
const (
	// TopicTask carries task lifecycle events (started, completed, canceled).
	TopicTask = "task"

	// TopicTaskError carries exactly one event per failed job.
	TopicTaskError = "task.error"
)

// Event type constants
const (
	EventTypeTaskStarted   = "task.started"
	EventTypeTaskCompleted = "task.completed"
	EventTypeTaskCanceled  = "task.canceled"
	EventTypeTaskFailed    = "task.failed"
)

// DefaultBufferSize is used for subscriptions created with a non-positive buffer.
const DefaultBufferSize = 256
