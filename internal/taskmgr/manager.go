// Package taskmgr implements the Task Manager: the registry of in-flight
// tasks, their start/done transitions, and the timeout/cancellation
// sweep the Pool Manager's status loop drives.
package taskmgr

import (
	"sync"
	"time"

	"github.com/mwiebe/procpool/pkg/task"
)

// record is the scratch state the coordinator keeps about an in-flight
// task alongside the caller-facing *task.Task handle: which worker it was
// acknowledged to and when, so the manager can compute timeouts and
// recognize which task a crashed worker was holding. Deliberately kept
// out of pkg/task.Task itself, which callers also hold references to.
type record struct {
	t         *task.Task
	workerPID int
	startedAt time.Time
}

// Manager tracks every task between Schedule and completion. It
// maintains an inverse index from worker PID to task ID, updated on
// start and cleared on done, so a worker crash or stop is resolved to
// its task in O(1) instead of a linear scan over pending tasks.
type Manager struct {
	mu             sync.Mutex
	tasks          map[int64]*record
	byWorker       map[int]int64
	onTaskFinished func()
}

// New creates a Manager. onTaskFinished is invoked once per completed
// task, after results are installed, so the submission queue can mark
// its own bookkeeping done.
func New(onTaskFinished func()) *Manager {
	return &Manager{
		tasks:          make(map[int64]*record),
		byWorker:       make(map[int]int64),
		onTaskFinished: onTaskFinished,
	}
}

// Register adds a newly scheduled task to the table.
func (m *Manager) Register(t *task.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.Number] = &record{t: t}
}

// TaskStart records that a worker acknowledged ownership of taskID.
func (m *Manager) TaskStart(taskID int64, workerPID int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.tasks[taskID]
	if !ok {
		return
	}
	r.workerPID = workerPID
	r.startedAt = time.Now()
	m.byWorker[workerPID] = taskID
	r.t.MarkStarted()
}

// TaskDone installs outcome on the task and removes it from the table. A
// task ID unknown to the table (already resolved by a prior timeout or
// cancellation) is silently ignored.
func (m *Manager) TaskDone(taskID int64, outcome task.Outcome) {
	m.mu.Lock()
	r, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.tasks, taskID)
	if r.workerPID != 0 {
		delete(m.byWorker, r.workerPID)
	}
	m.mu.Unlock()

	r.t.SetResults(outcome)
	if m.onTaskFinished != nil {
		m.onTaskFinished()
	}
}

// InspectTasks returns the tasks that have timed out and those that have
// been cancelled after starting.
func (m *Manager) InspectTasks() (timedOut []*task.Task, cancelled []*task.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, r := range m.tasks {
		if hasTimeout(r, now) {
			timedOut = append(timedOut, r.t)
		} else if r.t.Started() && r.t.Cancelled() {
			cancelled = append(cancelled, r.t)
		}
	}
	return timedOut, cancelled
}

func hasTimeout(r *record, now time.Time) bool {
	if r.t.Timeout <= 0 || !r.t.Started() {
		return false
	}
	return now.Sub(r.startedAt) > r.t.Timeout
}

// Elapsed returns the time since taskID was started, for latency metrics.
// It must be called before TaskDone, which discards the record.
func (m *Manager) Elapsed(taskID int64) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.tasks[taskID]
	if !ok || r.startedAt.IsZero() {
		return 0, false
	}
	return time.Since(r.startedAt), true
}

// WorkerPID returns the worker PID a started task is assigned to, and
// whether the task is currently tracked and has started.
func (m *Manager) WorkerPID(taskID int64) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.tasks[taskID]
	if !ok || r.workerPID == 0 {
		return 0, false
	}
	return r.workerPID, true
}

// TaskByWorker resolves a worker PID to the task it was assigned, in
// O(1) via the inverse index rather than a linear scan over every task.
func (m *Manager) TaskByWorker(workerPID int) (*task.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	taskID, ok := m.byWorker[workerPID]
	if !ok {
		return nil, false
	}
	r, ok := m.tasks[taskID]
	if !ok {
		return nil, false
	}
	return r.t, true
}

// Len reports the number of in-flight tasks, for metrics/status reporting.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}
