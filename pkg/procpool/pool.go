// ============================================================================
// procpool - Process Pool Facade
// ============================================================================
//
// Package: pkg/procpool
// File: pool.go
// Function: Public entry point for scheduling work onto a pool of OS
//            worker processes
//
// Architecture Components:
//   ┌────────────┐  Submit()  ┌───────────┐ Get() ┌─────────────┐
//   │   caller   │ ─────────> │ submitq   │ ────> │ coordinator │
//   └────────────┘            └───────────┘       │  scheduler  │
//                                                  └─────────────┘
//                                                        │ Schedule()
//                                                        v
//                                                  ┌─────────────┐
//                                                  │ poolmgr     │
//                                                  │ (task+work  │
//                                                  │  managers)  │
//                                                  └─────────────┘
//                                                        │ Dispatch()
//                                                        v
//                                              ipc.Channel (pipes+lock)
//                                                        │
//                                         worker processes (re-exec'd binary)
//
// Lifecycle:
//   1. New(cfg) - validate config, build the IPC channel, registry, queue
//   2. Submit(name, args, timeout) - enqueue a *task.Task, return its handle
//   3. Stop() - stop accepting new work, abandon what's pending
//   4. Join() - block until every submitted task has been resolved
//   5. Close() - wait for submitted tasks, then tear down the coordinator
//      loops and worker processes
//
// ============================================================================

// Package procpool provides a pool of OS worker processes that execute
// named, registry-resolved tasks submitted from Go goroutines.
package procpool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mwiebe/procpool/internal/coordinator"
	"github.com/mwiebe/procpool/internal/metrics"
	"github.com/mwiebe/procpool/internal/poolmgr"
	"github.com/mwiebe/procpool/internal/submitq"
	"github.com/mwiebe/procpool/internal/workerproc"
	"github.com/mwiebe/procpool/pkg/task"
)

// ErrPoolClosed indicates a Submit was attempted after Stop or Close.
var ErrPoolClosed = errors.New("procpool: pool is closed")

// Config configures a Pool. Workers is the number of OS processes kept
// alive; TaskLimit, if greater than zero, recycles a worker after it has
// completed that many tasks. Initializer/Deinitializer name registry
// hooks run at worker start/end, since a closure cannot cross the
// process boundary the way it would in a goroutine pool.
type Config struct {
	Workers       int
	TaskLimit     int
	Initializer   string
	InitArgs      []byte
	Deinitializer string
	DeinitArgs    []byte
	LockFilePath  string
	Registry      *task.Registry
	Metrics       *metrics.Collector // nil disables metrics collection
}

// Pool schedules tasks onto a managed set of OS worker processes and
// reports their outcomes back through *task.Task handles.
type Pool struct {
	queue       *submitq.Queue
	coordinator *coordinator.Coordinator
	workers     *workerproc.Manager

	taskCounter atomic.Int64
	closed      atomic.Bool
}

// New validates cfg, opens the IPC channel, brings the configured number
// of worker processes up and then starts the coordinator's background
// loops. It does not block.
func New(cfg Config) (*Pool, error) {
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("procpool: Workers must be positive, got %d", cfg.Workers)
	}
	if cfg.Registry == nil {
		cfg.Registry = task.DefaultRegistry()
	}
	if cfg.LockFilePath == "" {
		cfg.LockFilePath = defaultLockPath()
	}

	workers, err := workerproc.NewManager(cfg.Workers, workerproc.Params{
		Initializer:   cfg.Initializer,
		InitArgs:      cfg.InitArgs,
		Deinitializer: cfg.Deinitializer,
		DeinitArgs:    cfg.DeinitArgs,
		TaskLimit:     cfg.TaskLimit,
	}, cfg.LockFilePath)
	if err != nil {
		return nil, err
	}

	queue := submitq.New()
	manager := poolmgr.New(workers, queue.TaskDone, cfg.Metrics)
	coord := coordinator.New(manager, queue)
	coord.Start()

	return &Pool{queue: queue, coordinator: coord, workers: workers}, nil
}

// Submit enqueues a task invoking the handler registered under fn with
// args. If the task runs longer than timeout after a worker acknowledges
// it, it is resolved with TimeoutError (timeout <= 0 means no deadline).
// It returns immediately with a handle; call Get or Wait on
// the returned *task.Task to block for the outcome.
func (p *Pool) Submit(fn string, args []byte, timeout time.Duration) (*task.Task, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	number := p.taskCounter.Add(1)
	t := task.New(number, task.Payload{Func: fn, Args: args}, timeout)
	p.queue.Put(t)
	return t, nil
}

// Stop marks the pool closed to new submissions and stops its
// coordinator loops and worker processes. It does not drain the queue:
// tasks already submitted but not yet scheduled are left unresolved.
func (p *Pool) Stop() {
	if p.closed.Swap(true) {
		return
	}
	p.coordinator.Stop()
}

// Join blocks until every submitted task has been marked done (results
// installed, timed out, cancelled, or its worker crashed).
func (p *Pool) Join() {
	p.queue.Join()
}

// Close drains the pool before tearing it down: it waits until every
// submitted task has been marked done (as Join does), then stops the pool
// and releases its IPC channel. If ctx is done first, Close stops the pool
// without waiting further and returns ctx.Err(). If the pool was already
// stopped, Close does not wait. It is safe to call multiple times.
func (p *Pool) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		if !p.closed.Load() {
			p.Join()
		}
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	p.Stop()
	p.workers.Close()
	return err
}

func defaultLockPath() string {
	return fmt.Sprintf("%s/procpool-%d.lock", tempDir(), time.Now().UnixNano())
}
