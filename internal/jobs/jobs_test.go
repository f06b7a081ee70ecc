package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/taskq/internal/jobs"
	"github.com/phrazzld/taskq/internal/task"
)

func running(t *testing.T) (*task.Task, context.Context) {
	t.Helper()
	tk, err := task.NewTask()
	require.NoError(t, err)
	ctx, err := tk.Start(context.Background())
	require.NoError(t, err)
	return tk, ctx
}

func TestSleep_ReportsProgress(t *testing.T) {
	t.Parallel()

	tk, ctx := running(t)
	got, err := jobs.Sleep(20*time.Millisecond, 4, "rested")(ctx, nil, tk)

	require.NoError(t, err)
	assert.Equal(t, "rested", got)
	assert.Equal(t, float64(100), tk.Progress())
}

func TestSleep_StopsOnCancel(t *testing.T) {
	t.Parallel()

	tk, ctx := running(t)
	errCh := make(chan error, 1)
	go func() {
		_, err := jobs.Sleep(time.Hour, 2, "never")(ctx, nil, tk)
		errCh <- err
	}()

	require.NoError(t, tk.Cancel())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("sleep job ignored cancellation")
	}
}

func TestFail(t *testing.T) {
	t.Parallel()

	tk, ctx := running(t)
	err := jobs.Fail(time.Millisecond, "upstream rejected the batch")(ctx, nil, tk)
	assert.EqualError(t, err, "upstream rejected the batch")

	err = jobs.Fail(0, "")(ctx, nil, tk)
	assert.EqualError(t, err, "job failed")
}
