// Package workerproc implements the Worker Manager and the worker process
// entry point of the process pool: spawning, liveness tracking, dispatch
// and termination of OS worker processes, and the claim protocol those
// processes run against the shared IPC channel.
package workerproc

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"

	"github.com/mwiebe/procpool/internal/ipc"
	"github.com/mwiebe/procpool/pkg/task"
)

// Env vars a worker subprocess reads on startup. Keeping the protocol in
// environment variables (rather than flags) means the re-exec'd process
// is indistinguishable from a normal invocation of the same binary except
// for these and a single --procpool-worker marker argument, which keeps
// cmd.Args readable in `ps`.
const (
	EnvWorkerMode    = "PROCPOOL_WORKER"
	EnvLockFile      = "PROCPOOL_LOCKFILE"
	EnvTaskLimit     = "PROCPOOL_TASK_LIMIT"
	EnvInitializer   = "PROCPOOL_INITIALIZER"
	EnvInitArgs      = "PROCPOOL_INIT_ARGS"
	EnvDeinitializer = "PROCPOOL_DEINITIALIZER"
	EnvDeinitArgs    = "PROCPOOL_DEINIT_ARGS"

	workerTaskReadFD    = 3
	workerResultWriteFD = 4
)

// Manager owns the pool's worker process table and the channel they all
// share: CreateWorkers, Dispatch, StopWorker, StopWorkers, InspectWorkers.
type Manager struct {
	mu      sync.Mutex
	workers map[int]*worker
	count   int
	params  Params

	channel  *ipc.Channel
	pipes    *ipc.Pipes
	execPath string

	log *slog.Logger
}

// NewManager creates a Manager configured for count worker processes. It
// opens the IPC channel immediately (pipes + lock file) but does not spawn
// any process until CreateWorkers is called.
func NewManager(count int, params Params, lockPath string) (*Manager, error) {
	channel, pipes, err := ipc.NewPoolChannel(lockPath)
	if err != nil {
		return nil, fmt.Errorf("workerproc: open channel: %w", err)
	}

	execPath, err := os.Executable()
	if err != nil {
		channel.Close()
		return nil, fmt.Errorf("workerproc: resolve executable: %w", err)
	}

	return &Manager{
		workers:  make(map[int]*worker),
		count:    count,
		params:   params,
		channel:  channel,
		pipes:    pipes,
		execPath: execPath,
		log:      slog.Default().With("component", "worker_manager"),
	}, nil
}

// Channel returns the pool-side IPC channel, used by the message loop to
// Poll/Recv Acknowledgement and Results messages.
func (m *Manager) Channel() *ipc.Channel { return m.channel }

// CreateWorkers spawns child processes until the table holds Count
// entries.
func (m *Manager) CreateWorkers() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.workers) < m.count {
		w, err := m.spawnLocked()
		if err != nil {
			m.log.Error("failed to spawn worker", "error", err)
			break
		}
		m.workers[w.pid] = w
	}
}

func (m *Manager) spawnLocked() (*worker, error) {
	cmd := exec.Command(m.execPath, "--procpool-worker")
	cmd.Env = append(os.Environ(),
		EnvWorkerMode+"=1",
		EnvLockFile+"="+m.channel.LockPath(),
		EnvTaskLimit+"="+strconv.Itoa(m.params.TaskLimit),
		EnvInitializer+"="+m.params.Initializer,
		EnvInitArgs+"="+base64.StdEncoding.EncodeToString(m.params.InitArgs),
		EnvDeinitializer+"="+m.params.Deinitializer,
		EnvDeinitArgs+"="+base64.StdEncoding.EncodeToString(m.params.DeinitArgs),
	)
	cmd.ExtraFiles = []*os.File{m.pipes.WorkerTaskRead, m.pipes.WorkerResultWrite}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	w := newWorker(cmd)
	m.log.Info("worker started", "pid", w.pid)
	return w, nil
}

// Dispatch sends a NewTask message bearing the task's number and payload
// onto the pool endpoint.
func (m *Manager) Dispatch(taskID int64, payload task.Payload) error {
	return m.channel.SendNewTask(ipc.NewTaskMsg{TaskID: taskID, Payload: payload})
}

// StopWorker removes pid from the table and signals it to terminate,
// under the channel lock so a worker can never be killed mid-send of an
// Acknowledgement. A no-op if the pid is already absent (already reaped).
func (m *Manager) StopWorker(pid int) error {
	if err := m.channel.Lock(); err != nil {
		return fmt.Errorf("workerproc: acquire channel lock: %w", err)
	}
	defer m.channel.Unlock()

	m.mu.Lock()
	w, ok := m.workers[pid]
	if ok {
		delete(m.workers, pid)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}

	m.log.Info("stopping worker", "pid", pid)
	if err := w.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		if err == os.ErrProcessDone {
			return nil
		}
		return fmt.Errorf("workerproc: signal pid %d: %w", pid, err)
	}
	return nil
}

// StopWorkers stops every worker currently tracked.
func (m *Manager) StopWorkers() {
	m.mu.Lock()
	pids := make([]int, 0, len(m.workers))
	for pid := range m.workers {
		pids = append(pids, pid)
	}
	m.mu.Unlock()

	for _, pid := range pids {
		if err := m.StopWorker(pid); err != nil {
			m.log.Error("failed to stop worker", "pid", pid, "error", err)
		}
	}
}

// InspectWorkers evicts any worker whose process is no longer alive from
// the table and reports those whose exit was abnormal (exit code != 0).
func (m *Manager) InspectWorkers() []Expiration {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []Expiration
	for pid, w := range m.workers {
		if w.isAlive() {
			continue
		}
		delete(m.workers, pid)
		if code := w.code(); code != 0 {
			expired = append(expired, Expiration{PID: pid, ExitCode: code})
		}
	}
	return expired
}

// WorkerCount reports the number of tracked worker processes.
func (m *Manager) WorkerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}

// Close releases the IPC channel. Call only after every worker has been
// stopped.
func (m *Manager) Close() error {
	return m.channel.Close()
}
