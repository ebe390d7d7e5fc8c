// Package task defines the units of work the services hand out to the installer.
package task

import (
	"context"
	"sync"

	"github.com/osinstall/instconfd/internal/bus"
)

// Task is a named unit of work.
type Task interface {
	Name() string
	Run(ctx context.Context) error

	// TaskBase returns the signals and progress shared by every task.
	TaskBase() *Base
}

// ResultTask is a task producing a typed result.
type ResultTask[T any] interface {
	Task

	Result() T
}

// ProgressReport is a progress notification.
type ProgressReport struct {
	Step    int
	Message string
}

// Base is embedded by every task. It carries the task signals and the progress state.
type Base struct {
	name string

	mu        sync.Mutex
	steps     int
	step      int
	message   string
	scheduler *bus.Scheduler

	Started         bus.Signal[struct{}]
	Stopped         bus.Signal[struct{}]
	Succeeded       bus.Signal[struct{}]
	Failed          bus.Signal[error]
	ProgressChanged bus.Signal[ProgressReport]
}

// NewBase returns a task base with the given name and step count.
func NewBase(name string, steps int) *Base {
	if steps < 1 {
		steps = 1
	}

	return &Base{name: name, steps: steps}
}

// Name returns the human readable name of the task.
func (b *Base) Name() string {
	return b.name
}

// TaskBase returns b.
func (b *Base) TaskBase() *Base {
	return b
}

// SetScheduler makes progress notifications be emitted from the scheduler's main loop.
func (b *Base) SetScheduler(s *bus.Scheduler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.scheduler = s
}

// Steps returns the number of steps the task declared.
func (b *Base) Steps() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.steps
}

// Progress returns the last reported step and message.
func (b *Base) Progress() (int, string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.step, b.message
}

// ReportProgress advances to the next step, or to step if given, and notifies listeners.
// The step never goes backwards and never exceeds the declared count.
func (b *Base) ReportProgress(message string, step ...int) {
	b.mu.Lock()

	next := b.step + 1
	if len(step) > 0 {
		next = step[0]
	}

	next = max(b.step, min(next, b.steps))

	b.step = next
	b.message = message
	scheduler := b.scheduler

	b.mu.Unlock()

	report := ProgressReport{Step: next, Message: message}
	emit := func() { b.ProgressChanged.Emit(report) }

	if scheduler == nil {
		emit()

		return
	}

	scheduler.RunOnMain(emit)
}
