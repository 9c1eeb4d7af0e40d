package reconcile

import (
	"context"
	"fmt"
	"time"
)

// Terminal task statuses. Integrations map vendor-specific status strings
// onto these before handing a Task to the waiter.
const (
	// TaskStatusCompleted means the task finished and carries a result id.
	TaskStatusCompleted = "completed"

	// TaskStatusError means the task failed terminally.
	TaskStatusError = "error"
)

// Task is the vendor-side view of an in-progress asynchronous operation.
type Task struct {
	// Status is the task status, normalized to TaskStatusCompleted or
	// TaskStatusError when terminal.
	Status string

	// ResultID is the id of the produced resource, set on completion.
	ResultID string

	// Detail is the vendor's failure detail, set on error.
	Detail string
}

// TaskWaiter polls a vendor task handle until it reaches a terminal status.
//
// Vendor task completion times are unbounded but always terminal, so the
// waiter has no attempt cap: it either resolves, raises, or is cancelled via
// the context. Callers needing bounded latency wrap the context with a
// timeout.
type TaskWaiter struct {
	// Fetch retrieves the current task status for a handle.
	Fetch func(ctx context.Context, handle string) (*Task, error)

	// Interval is the fixed poll interval. Defaults to 5s.
	Interval time.Duration
}

// Wait blocks until the task identified by handle reaches a terminal status,
// returning the embedded result id on completion.
func (w *TaskWaiter) Wait(ctx context.Context, handle string) (string, error) {
	if handle == "" {
		return "", NewPreconditionError("empty task handle")
	}
	interval := w.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	for {
		task, err := w.Fetch(ctx, handle)
		if err != nil {
			return "", err
		}

		switch task.Status {
		case TaskStatusCompleted:
			return task.ResultID, nil
		case TaskStatusError:
			return "", NewFatalError(
				fmt.Sprintf("task %s failed: %s", handle, task.Detail), nil)
		}

		if err := sleepCtx(ctx, interval); err != nil {
			return "", err
		}
	}
}
