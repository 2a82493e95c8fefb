// Package poolmgr implements the Pool Manager, combining the Task
// Manager and Worker Manager into the single high-level surface the
// coordinator loops drive: schedule, process a message, update status.
package poolmgr

import (
	"log/slog"

	"github.com/mwiebe/procpool/internal/ipc"
	"github.com/mwiebe/procpool/internal/metrics"
	"github.com/mwiebe/procpool/internal/taskmgr"
	"github.com/mwiebe/procpool/internal/workerproc"
	"github.com/mwiebe/procpool/pkg/task"
)

// Manager combines a taskmgr.Manager and a workerproc.Manager into the
// single surface the coordinator loops drive.
type Manager struct {
	Tasks   *taskmgr.Manager
	Workers *workerproc.Manager
	Metrics *metrics.Collector // nil when the pool was built without metrics

	log *slog.Logger
}

// New creates a Manager. onTaskFinished is forwarded to the Task Manager
// and is invoked once per completed task. collector may be nil to run
// without metrics collection.
func New(workers *workerproc.Manager, onTaskFinished func(), collector *metrics.Collector) *Manager {
	return &Manager{
		Tasks:   taskmgr.New(onTaskFinished),
		Workers: workers,
		Metrics: collector,
		log:     slog.Default().With("component", "pool_manager"),
	}
}

// Start brings the worker pool to full strength.
func (m *Manager) Start() {
	m.Workers.CreateWorkers()
}

// Stop terminates every worker process.
func (m *Manager) Stop() {
	m.Workers.StopWorkers()
}

// Schedule registers a task and dispatches it to the workers.
func (m *Manager) Schedule(t *task.Task) error {
	m.Tasks.Register(t)
	if m.Metrics != nil {
		m.Metrics.RecordScheduled()
	}
	return m.Workers.Dispatch(t.Number, t.Payload)
}

// ProcessMessage applies an Acknowledgement or Results message received
// from a worker to the task table.
func (m *Manager) ProcessMessage(msg any) {
	switch v := msg.(type) {
	case ipc.AckMsg:
		m.Tasks.TaskStart(v.TaskID, v.WorkerPID)
	case ipc.ResultsMsg:
		elapsed, _ := m.Tasks.Elapsed(v.TaskID)
		outcome := decodeOutcome(v.Outcome)
		m.Tasks.TaskDone(v.TaskID, outcome)
		if m.Metrics != nil {
			if v.Outcome.Failed {
				m.Metrics.RecordFailed()
			} else {
				m.Metrics.RecordCompleted(elapsed.Seconds())
			}
		}
	default:
		m.log.Warn("unexpected message", "type", v)
	}
}

func decodeOutcome(w ipc.WireOutcome) task.Outcome {
	if w.Failed {
		return task.UserError{Err: errString(w.ErrMsg)}
	}
	return task.UserValue{Value: w.Value}
}

type errString string

func (e errString) Error() string { return string(e) }

// UpdateStatus runs one status tick: timeout/cancellation sweep over
// tasks, then a liveness sweep over workers.
func (m *Manager) UpdateStatus() {
	m.updateTasks()
	m.updateWorkers()
}

func (m *Manager) updateTasks() {
	timedOut, cancelled := m.Tasks.InspectTasks()

	// The assigned worker PID must be captured before TaskDone removes
	// the task's bookkeeping record, not after.
	var assignedWorkers []int
	for _, t := range append(append([]*task.Task{}, timedOut...), cancelled...) {
		if pid, ok := m.Tasks.WorkerPID(t.Number); ok {
			assignedWorkers = append(assignedWorkers, pid)
		}
	}

	for _, t := range timedOut {
		m.Tasks.TaskDone(t.Number, task.TimeoutError{})
		if m.Metrics != nil {
			m.Metrics.RecordTimeout()
		}
	}
	for _, t := range cancelled {
		m.Tasks.TaskDone(t.Number, task.TaskCancelled{})
		if m.Metrics != nil {
			m.Metrics.RecordCancelled()
		}
	}

	for _, pid := range assignedWorkers {
		if err := m.Workers.StopWorker(pid); err != nil {
			m.log.Error("failed to stop worker", "pid", pid, "error", err)
		}
	}

	if m.Metrics != nil {
		m.Metrics.UpdateTaskStats(m.Tasks.Len(), 0)
	}
}

func (m *Manager) updateWorkers() {
	for _, expiration := range m.Workers.InspectWorkers() {
		m.handleWorkerExpiration(expiration)
		if m.Metrics != nil {
			m.Metrics.RecordWorkerRestart()
		}
	}
	m.Workers.CreateWorkers()

	if m.Metrics != nil {
		m.Metrics.UpdateWorkerStats(m.Workers.WorkerCount())
	}
}

// handleWorkerExpiration resolves an abnormally-exited worker to the task
// it was holding, in O(1) via taskmgr's inverse index, and fails that
// task with ProcessExpired.
func (m *Manager) handleWorkerExpiration(exp workerproc.Expiration) {
	t, ok := m.Tasks.TaskByWorker(exp.PID)
	if !ok {
		return
	}
	m.Tasks.TaskDone(t.Number, task.ProcessExpired{Code: exp.ExitCode})
}
