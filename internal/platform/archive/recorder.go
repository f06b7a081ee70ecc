package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/phrazzld/taskq/internal/events"
	"github.com/phrazzld/taskq/internal/redact"
	"github.com/phrazzld/taskq/internal/task"
)

// Writer persists a terminal task snapshot. *Store implements it.
type Writer interface {
	Record(ctx context.Context, snap task.Snapshot) error
}

// RetryConfig configures exponential backoff for archive writes.
type RetryConfig struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	MaxElapsedTime      time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultRetryConfig returns the retry policy used when none is given.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         5 * time.Second,
		MaxElapsedTime:      30 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// Recorder writes settled tasks from the event bus into a Writer.
type Recorder struct {
	writer  Writer
	breaker *gobreaker.CircuitBreaker
	retry   RetryConfig
	timeout time.Duration
	drain   time.Duration
	logger  *slog.Logger

	tripAfter   uint32
	openTimeout time.Duration

	recorded atomic.Int64
	failed   atomic.Int64
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithRetryConfig overrides the backoff policy.
func WithRetryConfig(cfg RetryConfig) RecorderOption {
	return func(r *Recorder) { r.retry = cfg }
}

// WithWriteTimeout bounds each individual write attempt.
func WithWriteTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithDrainTimeout bounds the write of each event still arriving after the
// Run context is done.
func WithDrainTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.drain = d
		}
	}
}

// WithBreaker sets how many consecutive failures open the circuit and how
// long it stays open before a trial write is allowed.
func WithBreaker(consecutiveFailures uint32, openTimeout time.Duration) RecorderOption {
	return func(r *Recorder) {
		if consecutiveFailures > 0 {
			r.tripAfter = consecutiveFailures
		}
		if openTimeout > 0 {
			r.openTimeout = openTimeout
		}
	}
}

// NewRecorder creates a Recorder writing to w.
func NewRecorder(w Writer, logger *slog.Logger, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		writer:      w,
		retry:       DefaultRetryConfig(),
		timeout:     5 * time.Second,
		drain:       10 * time.Second,
		logger:      logger.With("component", "archive_recorder"),
		tripAfter:   5,
		openTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "task_archive",
		MaxRequests: 1,
		Timeout:     r.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= r.tripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("archive circuit breaker changed state",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// Shutdown is not a database failure.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return r
}

// Run records every terminal task event from ch until ch is closed.
// Canceling ctx does not stop Run: events the bus still delivers are written
// with a detached context bounded by the drain timeout, so the caller must
// close the stream (Bus.Close) to end the loop. Write failures are logged and
// counted; they never stop the loop.
func (r *Recorder) Run(ctx context.Context, ch <-chan events.Event) error {
	r.logger.Info("archive recorder started")
	done := ctx.Done()
	for {
		select {
		case <-done:
			r.logger.Info("shutdown requested, archiving remaining events")
			done = nil
		case ev, ok := <-ch:
			if !ok {
				r.logger.Info("event stream closed, archive recorder stopping",
					"recorded", r.recorded.Load(),
					"failed", r.failed.Load())
				return nil
			}
			r.archive(ctx, ev)
		}
	}
}

func (r *Recorder) archive(ctx context.Context, ev events.Event) {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), r.drain)
		defer cancel()
	}
	if err := r.Handle(ctx, ev); err != nil {
		r.logger.Error("failed to archive task",
			"task_id", ev.TaskID(),
			"event_type", ev.EventType(),
			"error", redact.Error(err))
	}
}

// Handle archives the task carried by ev if the event marks a terminal
// transition. Other events are ignored.
func (r *Recorder) Handle(ctx context.Context, ev events.Event) error {
	var t *task.Task
	switch e := ev.(type) {
	case task.CompletedEvent:
		t = e.Task
	case task.CanceledEvent:
		t = e.Task
	case task.FailedEvent:
		t = e.Task
	default:
		return nil
	}

	if err := r.write(ctx, t.Snapshot()); err != nil {
		r.failed.Add(1)
		return err
	}
	r.recorded.Add(1)
	return nil
}

// Stats returns how many tasks were archived and how many writes gave up.
func (r *Recorder) Stats() (recorded, failed int64) {
	return r.recorded.Load(), r.failed.Load()
}

func (r *Recorder) write(ctx context.Context, snap task.Snapshot) error {
	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		_, err := r.breaker.Execute(func() (interface{}, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()
			return nil, r.writer.Record(attemptCtx, snap)
		})
		if err == nil {
			return nil
		}

		// An open circuit or a bad snapshot will not get better by retrying.
		if errors.Is(err, gobreaker.ErrOpenState) ||
			errors.Is(err, gobreaker.ErrTooManyRequests) ||
			errors.Is(err, ErrNotTerminal) ||
			ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.retry.InitialInterval
	policy.MaxInterval = r.retry.MaxInterval
	policy.MaxElapsedTime = r.retry.MaxElapsedTime
	policy.Multiplier = r.retry.Multiplier
	policy.RandomizationFactor = r.retry.RandomizationFactor

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return fmt.Errorf("failed to record task %s: %w", snap.ID, err)
	}
	return nil
}
