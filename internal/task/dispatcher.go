package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Dispatcher is the single consumer of a WorkQueue. It runs one item at a
// time, in the order items were enqueued, until it is told to stop.
type Dispatcher struct {
	queue   *WorkQueue
	logger  *slog.Logger
	running atomic.Bool

	// lifecycle state for Start/Stop
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher draining queue.
func NewDispatcher(queue *WorkQueue, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		queue:  queue,
		logger: logger.With("component", "dispatcher"),
	}
}

// Run drains the queue until ctx is canceled or the queue is closed and empty,
// in which case it returns nil. Items are run with ctx as their shutdown
// signal; a running item is not interrupted, only told via ctx.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer d.running.Store(false)

	d.logger.Info("dispatcher started")
	processed := 0

	for {
		item, err := d.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				d.logger.Info("dispatcher stopping, shutdown requested", "processed", processed)
				return nil
			}
			if errors.Is(err, ErrQueueClosed) {
				d.logger.Info("dispatcher stopping, queue closed", "processed", processed)
				return nil
			}
			return err
		}

		item(ctx)
		processed++
	}
}

// Running reports whether a Run loop is active.
func (d *Dispatcher) Running() bool {
	return d.running.Load()
}

// Start runs the dispatch loop in a background goroutine.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.Run(ctx); err != nil {
			d.logger.Error("dispatcher exited with error", "error", err)
		}
	}()
	return nil
}

// Stop signals a dispatcher started with Start and waits for the current item
// to return.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	d.wg.Wait()
}
