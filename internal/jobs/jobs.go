// Package jobs holds the built-in jobs the inspection API can submit. They
// exist to exercise the dispatcher end to end; real callers submit their own
// functions through task.Manager.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/phrazzld/taskq/internal/platform/logger"
	"github.com/phrazzld/taskq/internal/task"
)

// Kinds of built-in jobs.
const (
	KindSleep = "sleep"
	KindFail  = "fail"
)

// DefaultSteps is how many progress updates Sleep reports.
const DefaultSteps = 10

// Sleep returns a job that waits for d, reporting progress after each of
// steps equal slices, and then returns message. It stops early with the
// context's error when the task is canceled.
func Sleep(d time.Duration, steps int, message string) task.Func[string] {
	if steps <= 0 {
		steps = DefaultSteps
	}
	slice := d / time.Duration(steps)

	return func(ctx context.Context, _ *task.Scope, t *task.Task) (string, error) {
		log := logger.FromContext(ctx)
		timer := time.NewTimer(slice)
		defer timer.Stop()

		for i := 1; i <= steps; i++ {
			select {
			case <-ctx.Done():
				log.Info("sleep job interrupted", "step", i, "steps", steps)
				return "", ctx.Err()
			case <-timer.C:
			}
			if err := t.SetProgress(float64(i) * 100 / float64(steps)); err != nil {
				return "", err
			}
			timer.Reset(slice)
		}
		return message, nil
	}
}

// Fail returns a job that waits for d and then fails with message.
func Fail(d time.Duration, message string) task.Action {
	if message == "" {
		message = "job failed"
	}
	return func(ctx context.Context, _ *task.Scope, _ *task.Task) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
		return errors.New(message)
	}
}
