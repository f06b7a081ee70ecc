package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// WorkItem is a deferred unit of work. The queue treats it as opaque and runs
// it exactly once, passing the dispatcher's context.
type WorkItem func(ctx context.Context)

// WorkQueue is a thread-safe FIFO of work items. Any number of producers may
// Enqueue concurrently; consumers block in Dequeue until an item is available.
// Availability is derived only from the items actually pending.
type WorkQueue struct {
	mu       sync.Mutex
	items    []WorkItem
	capacity int
	closed   bool

	// ready holds at most one banked wake-up; done is closed by Close.
	ready chan struct{}
	done  chan struct{}

	logger *slog.Logger
}

// QueueOption configures a WorkQueue at construction.
type QueueOption func(*WorkQueue)

// WithCapacity bounds the number of pending items. Zero means unbounded.
func WithCapacity(n int) QueueOption {
	return func(q *WorkQueue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// WithInitialItems pre-loads the queue with items supplied by the host.
// Nil items are skipped.
func WithInitialItems(items ...WorkItem) QueueOption {
	return func(q *WorkQueue) {
		for _, item := range items {
			if item != nil {
				q.items = append(q.items, item)
			}
		}
	}
}

// NewWorkQueue creates an empty, open work queue.
func NewWorkQueue(logger *slog.Logger, opts ...QueueOption) *WorkQueue {
	q := &WorkQueue{
		items:  make([]WorkItem, 0),
		ready:  make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger.With("component", "work_queue"),
	}
	for _, opt := range opts {
		opt(q)
	}
	if len(q.items) > 0 {
		q.signal()
	}
	return q
}

// Enqueue appends item to the tail of the queue and wakes one waiting consumer.
// Returns an error if item is nil, the queue is closed, or it is full.
func (q *WorkQueue) Enqueue(item WorkItem) error {
	if item == nil {
		return ErrNilWorkItem
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		q.mu.Unlock()
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, q.capacity)
	}
	q.items = append(q.items, item)
	pending := len(q.items)
	q.mu.Unlock()

	q.signal()
	q.logger.Debug("work item enqueued", "queue_len", pending)
	return nil
}

// Dequeue blocks until an item is available and pops the head of the queue.
// It returns ctx.Err() if ctx is done first, and ErrQueueClosed once the queue
// is closed and drained. A nil item is never returned with a nil error.
func (q *WorkQueue) Dequeue(ctx context.Context) (WorkItem, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()

			// Pass the wake-up on so another waiting consumer sees the rest.
			if more {
				q.signal()
			}
			return item, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.ready:
		case <-q.done:
		}
	}
}

// Len returns the number of pending items.
func (q *WorkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops the queue from accepting new items. Pending items can still be
// dequeued. Safe to call multiple times.
func (q *WorkQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
	q.logger.Info("work queue closed", "pending", len(q.items))
}

func (q *WorkQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
