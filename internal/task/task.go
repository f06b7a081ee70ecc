package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of a task
type Status string

// Possible task status values. Idle is initial; Finished, Canceled and Error
// are terminal.
const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
	StatusCanceled Status = "canceled"
	StatusError    Status = "error"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{StatusIdle, StatusRunning, StatusFinished, StatusCanceled, StatusError}

// IsTerminal reports whether no transition can leave s.
func (s Status) IsTerminal() bool {
	return s == StatusFinished || s == StatusCanceled || s == StatusError
}

// ParseStatus converts a string into a Status.
func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown task status %q", s)
}

// Task is the caller-visible handle for one submitted job.
// All accessors are safe to call while the dispatcher mutates the task.
type Task struct {
	id        string
	createdAt time.Time

	mu         sync.RWMutex
	status     Status
	progress   float64
	result     any
	errMsg     string
	startedAt  time.Time
	finishedAt time.Time
	cancel     context.CancelFunc

	// onIdleCancel runs after an idle task is canceled, outside t.mu.
	onIdleCancel func(*Task)
}

// NewTask allocates an idle task with a fresh random ID.
func NewTask() (*Task, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate task id: %w", err)
	}
	return NewTaskWithID(id.String()), nil
}

// NewTaskWithID creates an idle task with a caller-chosen ID.
func NewTaskWithID(id string) *Task {
	return &Task{
		id:        id,
		createdAt: time.Now().UTC(),
		status:    StatusIdle,
	}
}

// ID returns the task's unique identifier
func (t *Task) ID() string {
	return t.id
}

// CreatedAt returns when the task was allocated
func (t *Task) CreatedAt() time.Time {
	return t.createdAt
}

// Status returns the current task status
func (t *Task) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Progress returns the last reported progress value
func (t *Task) Progress() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.progress
}

// Err returns the recorded failure description, or "" unless Status is Error
func (t *Task) Err() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.errMsg
}

// StartedAt returns when the task started running (zero if it never did)
func (t *Task) StartedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.startedAt
}

// FinishedAt returns when the task reached a terminal state (zero if it has not)
func (t *Task) FinishedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.finishedAt
}

// Start moves an idle task to Running and resets its progress to zero.
// It returns the job context derived from ctx; the context is canceled when
// the task is canceled or reaches any other terminal state.
func (t *Task) Start(ctx context.Context) (context.Context, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusIdle {
		return nil, t.transitionError(StatusRunning)
	}

	jobCtx, cancel := context.WithCancel(ctx)
	t.status = StatusRunning
	t.progress = 0
	t.startedAt = time.Now().UTC()
	t.cancel = cancel

	return jobCtx, nil
}

// SetProgress overwrites the progress value. No range clamping is applied.
func (t *Task) SetProgress(p float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusRunning {
		return fmt.Errorf("%w: cannot report progress while %s", ErrInvalidTransition, t.status)
	}
	t.progress = p
	return nil
}

// Finish records a successful result and forces progress to 100.
func (t *Task) Finish(result any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusRunning {
		return t.transitionError(StatusFinished)
	}
	t.status = StatusFinished
	t.result = result
	t.progress = 100
	t.settle()
	return nil
}

// SetError records a failure. Progress is left as it was.
func (t *Task) SetError(err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusRunning {
		return t.transitionError(StatusError)
	}
	t.status = StatusError
	if err != nil {
		t.errMsg = err.Error()
	} else {
		t.errMsg = "unknown error"
	}
	t.settle()
	return nil
}

// Cancel marks a non-terminal task as Canceled and cancels its job context.
// A running body keeps going until it observes the context. When the task
// was submitted through a Manager and is still idle, a CanceledEvent is
// published.
func (t *Task) Cancel() error {
	_, err := t.cancelFrom()
	return err
}

// cancelFrom cancels t and reports the status it was canceled from.
func (t *Task) cancelFrom() (Status, error) {
	t.mu.Lock()
	prev := t.status
	if prev.IsTerminal() {
		err := t.transitionError(StatusCanceled)
		t.mu.Unlock()
		return prev, err
	}
	t.status = StatusCanceled
	t.settle()
	hook := t.onIdleCancel
	t.mu.Unlock()

	if prev == StatusIdle && hook != nil {
		hook(t)
	}
	return prev, nil
}

// notifyIdleCancel registers fn to run when t is canceled before it starts,
// whichever path cancels it.
func (t *Task) notifyIdleCancel(fn func(*Task)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onIdleCancel = fn
}

// settle stamps the terminal time and releases the job context.
// Caller must hold t.mu.
func (t *Task) settle() {
	t.finishedAt = time.Now().UTC()
	if t.cancel != nil {
		t.cancel()
	}
}

func (t *Task) transitionError(to Status) error {
	return fmt.Errorf("%w: task %s cannot move from %s to %s", ErrInvalidTransition, t.id, t.status, to)
}

// Result returns the value passed to Finish as a T.
// It reports false before the task finishes, when it failed or was canceled,
// and when the stored value is not a T. A nil result yields T's zero value.
func Result[T any](t *Task) (T, bool) {
	var zero T

	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.status != StatusFinished {
		return zero, false
	}
	if t.result == nil {
		return zero, true
	}
	v, ok := t.result.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// Snapshot is a point-in-time copy of a task, suitable for listing and JSON.
type Snapshot struct {
	ID         string     `json:"id"`
	Status     Status     `json:"status"`
	Progress   float64    `json:"progress"`
	Result     any        `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Snapshot returns a consistent copy of the task's current state.
func (t *Task) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Snapshot{
		ID:        t.id,
		Status:    t.status,
		Progress:  t.progress,
		Result:    t.result,
		Error:     t.errMsg,
		CreatedAt: t.createdAt,
	}
	if !t.startedAt.IsZero() {
		started := t.startedAt
		s.StartedAt = &started
	}
	if !t.finishedAt.IsZero() {
		finished := t.finishedAt
		s.FinishedAt = &finished
	}
	return s
}
