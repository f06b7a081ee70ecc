package archive_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/taskq/internal/events"
	"github.com/phrazzld/taskq/internal/platform/archive"
	"github.com/phrazzld/taskq/internal/task"
)

// flakyWriter fails the first failures calls, then records snapshots.
type flakyWriter struct {
	mu       sync.Mutex
	failures int
	calls    int
	records  []task.Snapshot
}

func (w *flakyWriter) Record(_ context.Context, snap task.Snapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.failures < 0 || w.calls <= w.failures {
		return errors.New("database is locked")
	}
	w.records = append(w.records, snap)
	return nil
}

func (w *flakyWriter) snapshot() (int, []task.Snapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls, append([]task.Snapshot(nil), w.records...)
}

func fastRetry() archive.RetryConfig {
	return archive.RetryConfig{
		InitialInterval:     time.Millisecond,
		MaxInterval:         5 * time.Millisecond,
		MaxElapsedTime:      time.Second,
		Multiplier:          2,
		RandomizationFactor: 0,
	}
}

func TestRecorder_IgnoresNonTerminalEvents(t *testing.T) {
	t.Parallel()

	w := &flakyWriter{}
	r := archive.NewRecorder(w, testLogger())

	tk, err := task.NewTask()
	require.NoError(t, err)
	require.NoError(t, r.Handle(context.Background(), task.StartedEvent{Task: tk, Timestamp: time.Now()}))

	calls, _ := w.snapshot()
	assert.Zero(t, calls)
}

func TestRecorder_RecordsTerminalEvents(t *testing.T) {
	t.Parallel()

	w := &flakyWriter{}
	r := archive.NewRecorder(w, testLogger())
	ctx := context.Background()

	done := finished(t, 1)
	bad := failed(t, "boom")

	require.NoError(t, r.Handle(ctx, task.CompletedEvent{Task: done}))
	require.NoError(t, r.Handle(ctx, task.FailedEvent{Task: bad, Err: errors.New("boom")}))

	_, records := w.snapshot()
	require.Len(t, records, 2)
	assert.Equal(t, done.ID(), records[0].ID)
	assert.Equal(t, task.StatusError, records[1].Status)

	recorded, failedWrites := r.Stats()
	assert.Equal(t, int64(2), recorded)
	assert.Zero(t, failedWrites)
}

func TestRecorder_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	w := &flakyWriter{failures: 2}
	r := archive.NewRecorder(w, testLogger(),
		archive.WithRetryConfig(fastRetry()),
		archive.WithBreaker(10, time.Minute))

	require.NoError(t, r.Handle(context.Background(), task.CompletedEvent{Task: finished(t, "ok")}))

	calls, records := w.snapshot()
	assert.Equal(t, 3, calls)
	assert.Len(t, records, 1)
}

func TestRecorder_BreakerStopsRetrying(t *testing.T) {
	t.Parallel()

	w := &flakyWriter{failures: -1}
	r := archive.NewRecorder(w, testLogger(),
		archive.WithRetryConfig(fastRetry()),
		archive.WithBreaker(2, time.Minute))

	err := r.Handle(context.Background(), task.CompletedEvent{Task: finished(t, "x")})
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)

	calls, _ := w.snapshot()
	assert.Equal(t, 2, calls, "an open breaker must short-circuit further attempts")

	// While open, later writes fail fast without touching the database.
	err = r.Handle(context.Background(), task.CompletedEvent{Task: finished(t, "y")})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	calls, _ = w.snapshot()
	assert.Equal(t, 2, calls)

	_, failedWrites := r.Stats()
	assert.Equal(t, int64(2), failedWrites)
}

func TestRecorder_RunWithBusAndStore(t *testing.T) {
	t.Parallel()

	store := openMemoryStore(t)
	bus := events.NewBus(testLogger())
	t.Cleanup(bus.Close)

	r := archive.NewRecorder(store, testLogger(), archive.WithRetryConfig(fastRetry()))
	sub := bus.SubscribeAll(16)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, sub) }()

	ok := finished(t, "done")
	bad := failed(t, "boom")
	bus.Publish(events.TopicTask, task.StartedEvent{Task: ok})
	bus.Publish(events.TopicTask, task.CompletedEvent{Task: ok})
	bus.Publish(events.TopicTaskError, task.FailedEvent{Task: bad, Err: errors.New("boom")})

	require.Eventually(t, func() bool {
		entries, err := store.List(context.Background(), 10)
		return err == nil && len(entries) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// Events published after shutdown starts are still archived once the
	// bus is closed.
	cancel()
	late := finished(t, "late")
	bus.Publish(events.TopicTask, task.CompletedEvent{Task: late})
	bus.Close()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("recorder did not stop")
	}

	entries, err := store.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestRecorder_RunDrainsAfterCancel(t *testing.T) {
	t.Parallel()

	store := openMemoryStore(t)
	r := archive.NewRecorder(store, testLogger(),
		archive.WithRetryConfig(fastRetry()),
		archive.WithDrainTimeout(time.Second))

	ch := make(chan events.Event, 5)
	for i := range 5 {
		ch <- task.CompletedEvent{Task: finished(t, fmt.Sprintf("result-%d", i))}
	}
	close(ch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.Run(ctx, ch))

	recorded, failedWrites := r.Stats()
	assert.Equal(t, int64(5), recorded)
	assert.Zero(t, failedWrites)

	entries, err := store.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}

func TestRecorder_RunKeepsReadingUntilStreamCloses(t *testing.T) {
	t.Parallel()

	r := archive.NewRecorder(&flakyWriter{}, testLogger())
	ch := make(chan events.Event)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, ch) }()

	cancel()
	select {
	case <-done:
		t.Fatal("recorder stopped before the stream closed")
	case <-time.After(50 * time.Millisecond):
	}

	ch <- task.CompletedEvent{Task: finished(t, "after-cancel")}
	close(ch)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("recorder did not stop")
	}
	recorded, _ := r.Stats()
	assert.Equal(t, int64(1), recorded)
}

func TestRecorder_RunStopsWhenStreamCloses(t *testing.T) {
	t.Parallel()

	r := archive.NewRecorder(&flakyWriter{}, testLogger())
	ch := make(chan events.Event)
	close(ch)

	assert.NoError(t, r.Run(context.Background(), ch))
}
