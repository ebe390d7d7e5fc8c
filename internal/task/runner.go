package task

import (
	"context"
	"log/slog"
	"sync"
)

// Run executes the task on the calling goroutine, emitting its lifecycle signals.
func Run(ctx context.Context, t Task) error {
	base := t.TaskBase()

	slog.DebugContext(ctx, "Running task", "name", t.Name())
	base.Started.Emit(struct{}{})

	err := t.Run(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Task failed", "name", t.Name(), "err", err)
		base.Failed.Emit(err)
	} else {
		base.ReportProgress("Done", base.Steps())
		base.Succeeded.Emit(struct{}{})
	}

	base.Stopped.Emit(struct{}{})

	return err
}

// Handle tracks a task started on a worker goroutine.
type Handle struct {
	task Task
	done chan struct{}

	mu      sync.Mutex
	running bool
	err     error
}

// Start runs the task on a new worker goroutine.
func Start(ctx context.Context, t Task) *Handle {
	h := &Handle{task: t, done: make(chan struct{}), running: true}

	go func() {
		err := Run(ctx, t)

		h.mu.Lock()
		h.err = err
		h.running = false
		h.mu.Unlock()

		close(h.done)
	}()

	return h
}

// Task returns the running task.
func (h *Handle) Task() Task {
	return h.task
}

// IsRunning reports whether the task is still running.
func (h *Handle) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.running
}

// Wait blocks until the task finishes and returns its error.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	return h.err
}

// RunAll runs the tasks in order, stopping at the first failure.
func RunAll(ctx context.Context, tasks []Task) error {
	for _, t := range tasks {
		err := Run(ctx, t)
		if err != nil {
			return err
		}
	}

	return nil
}
