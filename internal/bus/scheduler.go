package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrSchedulerStopped is returned when work is submitted to a stopped scheduler.
var ErrSchedulerStopped = errors.New("main loop isn't running")

// Scheduler serializes work onto a single main loop goroutine. Daemon clients, signal
// subscriptions and property emissions are only ever touched from that goroutine.
// Callbacks run in submission order.
type Scheduler struct {
	mu      sync.Mutex
	pending []func()
	stopped bool

	wake chan struct{}
	done chan struct{}
}

// NewScheduler returns a scheduler. Run must be called for queued work to execute.
func NewScheduler() *Scheduler {
	return &Scheduler{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Run processes queued callbacks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	defer func() {
		s.mu.Lock()
		s.stopped = true
		s.pending = nil
		s.mu.Unlock()

		close(s.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
			s.mu.Lock()
			batch := s.pending
			s.pending = nil
			s.mu.Unlock()

			for _, fn := range batch {
				fn()
			}
		}
	}
}

// Done is closed once the main loop has exited.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// RunOnMain queues fn on the main loop and returns immediately. The queue isn't bounded,
// so this never blocks, even from the main loop itself.
func (s *Scheduler) RunOnMain(fn func()) {
	if !s.enqueue(fn) {
		slog.Debug("Dropping callback queued after the main loop stopped")
	}
}

func (s *Scheduler) enqueue(fn func()) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()

		return false
	}

	s.pending = append(s.pending, fn)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
		// A wakeup is already pending and will pick fn up.
	}

	return true
}

// CallOnMain runs fn on the main loop and blocks until it returns. It must not be
// called from the main loop itself.
func CallOnMain[T any](s *Scheduler, fn func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}

	var zero T

	ch := make(chan result, 1)

	ok := s.enqueue(func() {
		v, err := fn()
		ch <- result{value: v, err: err}
	})
	if !ok {
		return zero, ErrSchedulerStopped
	}

	select {
	case r := <-ch:
		return r.value, r.err
	case <-s.done:
		// The callback may still have completed right before the loop exited.
		select {
		case r := <-ch:
			return r.value, r.err
		default:
			return zero, ErrSchedulerStopped
		}
	}
}
