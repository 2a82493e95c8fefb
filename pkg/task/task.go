// Package task defines the external Task handle the pool core consumes, and
// the payload registry that lets a task's function cross a process boundary
// by name rather than by closure.
package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrAlreadyResolved describes a Task that already carries an outcome.
// SetResults does not return it; it reports that case by returning false.
var ErrAlreadyResolved = errors.New("task: already resolved")

// Payload is a unit of work a Task carries across the IPC boundary. Func
// names a handler registered with Register; Args is the opaque argument
// blob passed unchanged to that handler.
type Payload struct {
	Func string
	Args []byte
}

// Task is the future-like handle returned by Pool.Submit. The pool core
// mutates it only through MarkStarted and SetResults; everything else is
// read-only from the core's perspective. The worker-owning pid and
// acknowledgement timestamp are intentionally not fields here — they live
// in the Task Manager's internal record table (see internal/taskmgr) so
// this handle stays a pure value type safe to share with callers.
type Task struct {
	Number  int64
	Payload Payload
	Timeout time.Duration

	cancelled atomic.Bool
	started   atomic.Bool

	mu       sync.Mutex
	resolved bool
	outcome  Outcome
	done     chan struct{}
}

// New creates a Task with the next caller-supplied number. Numbers must be
// unique and monotonically assigned by the caller (typically a counter in
// pkg/procpool).
func New(number int64, payload Payload, timeout time.Duration) *Task {
	return &Task{
		Number:  number,
		Payload: payload,
		Timeout: timeout,
		done:    make(chan struct{}),
	}
}

// Cancel marks the task cancelled. Calling it twice has the same effect as
// calling it once.
func (t *Task) Cancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether Cancel has been called.
func (t *Task) Cancelled() bool {
	return t.cancelled.Load()
}

// MarkStarted records that an Acknowledgement was received for this task.
// Called only by the Task Manager.
func (t *Task) MarkStarted() {
	t.started.Store(true)
}

// Started reports whether the Task Manager has recorded an
// Acknowledgement for this task.
func (t *Task) Started() bool {
	return t.started.Load()
}

// SetResults installs outcome as the task's terminal result. The first
// call wins; later calls are no-ops and return false. A task already
// resolved with TaskCancelled can never be overwritten by a late result.
func (t *Task) SetResults(outcome Outcome) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.resolved {
		return false
	}
	t.outcome = outcome
	t.resolved = true
	close(t.done)
	return true
}

// Resolved reports whether an outcome has been installed.
func (t *Task) Resolved() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resolved
}

// Wait blocks until the task resolves or ctx is done, returning the
// installed outcome.
func (t *Task) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.outcome, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get blocks indefinitely for the task's outcome and converts the taxonomy
// into a plain (value, error) pair the way a caller usually wants it.
func (t *Task) Get() ([]byte, error) {
	outcome, _ := t.Wait(context.Background())
	switch o := outcome.(type) {
	case UserValue:
		return o.Value, nil
	case UserError:
		return nil, o
	case TimeoutError:
		return nil, o
	case TaskCancelled:
		return nil, o
	case ProcessExpired:
		return nil, o
	default:
		return nil, errors.New("task: unresolved")
	}
}
