package task

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/phrazzld/taskq/internal/events"
	"github.com/phrazzld/taskq/internal/platform/logger"
	"github.com/phrazzld/taskq/internal/redact"
)

// Action is a job body with no result. ctx is the job's cancellation signal,
// scope holds the job's own dependencies, and t may be used to report progress.
type Action func(ctx context.Context, scope *Scope, t *Task) error

// Func is a job body that produces a result of type T.
type Func[T any] func(ctx context.Context, scope *Scope, t *Task) (T, error)

// body is the type-erased form every job is reduced to.
type body func(ctx context.Context, scope *Scope, t *Task) (any, error)

// Manager turns caller functions into tracked, queued jobs.
type Manager struct {
	queue    *WorkQueue
	registry *Registry
	bus      *events.Bus
	scopes   *ScopeFactory
	logger   *slog.Logger
}

// NewManager creates a Manager. bus and scopes may be nil, in which case no
// events are published and job scopes have no providers.
func NewManager(
	queue *WorkQueue,
	registry *Registry,
	bus *events.Bus,
	scopes *ScopeFactory,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		queue:    queue,
		registry: registry,
		bus:      bus,
		scopes:   scopes,
		logger:   logger.With("component", "task_manager"),
	}
}

// Execute queues action and returns its task handle immediately.
// Failures of the action itself are reported on the task and as a
// FailedEvent, never as an error from Execute.
func (m *Manager) Execute(action Action) (*Task, error) {
	if action == nil {
		return nil, ErrNilAction
	}
	return m.submit(func(ctx context.Context, scope *Scope, t *Task) (any, error) {
		return nil, action(ctx, scope, t)
	})
}

// ExecuteFunc queues fn and returns its task handle immediately. The value fn
// returns becomes the task result, readable with Result[T].
func ExecuteFunc[T any](m *Manager, fn Func[T]) (*Task, error) {
	if fn == nil {
		return nil, ErrNilAction
	}
	return m.submit(func(ctx context.Context, scope *Scope, t *Task) (any, error) {
		return fn(ctx, scope, t)
	})
}

// Cancel cancels the task with the given ID. A running body is only told
// through its context.
func (m *Manager) Cancel(id string) error {
	t, ok := m.registry.Find(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	prev, err := t.cancelFrom()
	if err != nil {
		return err
	}
	m.logger.Info("task cancel requested", "task_id", id, "previous_status", prev)
	return nil
}

// Registry returns the registry the manager records tasks in.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// QueueLen returns the number of jobs waiting to be dispatched.
func (m *Manager) QueueLen() int {
	return m.queue.Len()
}

func (m *Manager) submit(fn body) (*Task, error) {
	t, err := NewTask()
	if err != nil {
		return nil, err
	}

	item := m.wrap(t, fn)
	// The dispatcher skips an idle task once it is canceled, so nothing
	// else would report it.
	t.notifyIdleCancel(func(t *Task) {
		m.logger.Info("idle task canceled", "task_id", t.ID())
		m.publish(events.TopicTask, CanceledEvent{Task: t, Timestamp: time.Now()})
	})

	m.registry.Add(t)
	if err := m.queue.Enqueue(item); err != nil {
		m.registry.Remove(t.ID())
		m.logger.Warn("failed to enqueue task", "task_id", t.ID(), "error", err)
		return nil, fmt.Errorf("failed to enqueue task %s: %w", t.ID(), err)
	}

	m.logger.Debug("task submitted", "task_id", t.ID())
	return t, nil
}

// wrap builds the work item that drives t through its lifecycle.
func (m *Manager) wrap(t *Task, fn body) WorkItem {
	return func(ctx context.Context) {
		log := m.logger.With("task_id", t.ID())

		jobCtx, err := t.Start(ctx)
		if err != nil {
			log.Info("skipping task that is no longer idle", "status", t.Status())
			return
		}
		m.publish(events.TopicTask, StartedEvent{Task: t, Timestamp: time.Now()})
		log.Info("processing task")

		jobCtx = logger.WithLogger(jobCtx, log)
		scope := m.scopes.NewScope(jobCtx)
		started := time.Now()

		result, runErr := m.run(jobCtx, scope, t, fn, log)

		if closeErr := scope.Close(); closeErr != nil {
			log.Warn("failed to close execution scope", "scope_id", scope.ID(), "error", closeErr)
		}
		duration := time.Since(started)

		if runErr != nil {
			if err := t.SetError(runErr); err != nil {
				m.canceled(t, duration, log)
				return
			}
			log.Error("task execution failed", redact.Attr(runErr), "duration", duration)
			m.publish(events.TopicTaskError, FailedEvent{
				Task:      t,
				Err:       runErr,
				Scope:     scope,
				Duration:  duration,
				Timestamp: time.Now(),
			})
			return
		}

		if err := t.Finish(result); err != nil {
			m.canceled(t, duration, log)
			return
		}
		log.Info("task completed successfully", "duration", duration)
		m.publish(events.TopicTask, CompletedEvent{Task: t, Duration: duration, Timestamp: time.Now()})
	}
}

// run invokes the job body, converting a panic into an error so that one
// job cannot take the dispatcher down.
func (m *Manager) run(ctx context.Context, scope *Scope, t *Task, fn body, log *slog.Logger) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx, scope, t)
}

func (m *Manager) canceled(t *Task, duration time.Duration, log *slog.Logger) {
	log.Info("task body returned after cancellation", "status", t.Status(), "duration", duration)
	m.publish(events.TopicTask, CanceledEvent{Task: t, Duration: duration, Timestamp: time.Now()})
}

func (m *Manager) publish(topic string, ev events.Event) {
	if m.bus != nil {
		m.bus.Publish(topic, ev)
	}
}
