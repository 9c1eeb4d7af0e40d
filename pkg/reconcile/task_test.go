package reconcile

import (
	"context"
	"testing"
	"time"
)

func TestTaskWaiterCompletes(t *testing.T) {
	statuses := []string{"in-progress", "in-progress", TaskStatusCompleted}
	calls := 0
	w := &TaskWaiter{
		Interval: time.Millisecond,
		Fetch: func(ctx context.Context, handle string) (*Task, error) {
			i := calls
			calls++
			task := &Task{Status: statuses[i]}
			if task.Status == TaskStatusCompleted {
				task.ResultID = "r-9"
			}
			return task, nil
		},
	}

	id, err := w.Wait(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if id != "r-9" {
		t.Errorf("Wait() = %q, want r-9", id)
	}
	if calls != 3 {
		t.Errorf("fetch called %d times, want 3", calls)
	}
}

func TestTaskWaiterError(t *testing.T) {
	w := &TaskWaiter{
		Interval: time.Millisecond,
		Fetch: func(ctx context.Context, handle string) (*Task, error) {
			return &Task{Status: TaskStatusError, Detail: "quota exceeded"}, nil
		},
	}

	_, err := w.Wait(context.Background(), "task-1")
	if !IsFatal(err) {
		t.Fatalf("Wait() error = %v, want fatal", err)
	}
}

func TestTaskWaiterCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	w := &TaskWaiter{
		Interval: time.Millisecond,
		Fetch: func(ctx context.Context, handle string) (*Task, error) {
			return &Task{Status: "in-progress"}, nil
		},
	}

	_, err := w.Wait(ctx, "task-1")
	if err == nil {
		t.Fatal("Wait() returned without cancellation on a never-terminal task")
	}
}

func TestTaskWaiterEmptyHandle(t *testing.T) {
	w := &TaskWaiter{Fetch: func(ctx context.Context, handle string) (*Task, error) {
		t.Fatal("fetch must not run for an empty handle")
		return nil, nil
	}}
	_, err := w.Wait(context.Background(), "")
	if !IsPrecondition(err) {
		t.Errorf("Wait(\"\") error = %v, want precondition", err)
	}
}
