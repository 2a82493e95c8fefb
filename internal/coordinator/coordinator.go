// Package coordinator runs the three threads layered atop the Pool
// Manager: the scheduler loop (drains the submission queue), the status
// loop (periodic timeout/crash sweep), and the message loop (drains
// Acknowledgement/Results from the IPC channel).
package coordinator

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mwiebe/procpool/internal/poolmgr"
	"github.com/mwiebe/procpool/internal/submitq"
	"github.com/mwiebe/procpool/pkg/task"
)

// sleepUnit bounds both the status loop's poll interval and the message
// loop's Poll timeout.
const sleepUnit = 20 * time.Millisecond

// Coordinator owns the pool's liveness flag and the three background
// loops driving a poolmgr.Manager.
type Coordinator struct {
	manager *poolmgr.Manager
	queue   *submitq.Queue

	alive atomic.Bool
	wg    sync.WaitGroup

	log *slog.Logger
}

// New creates a Coordinator. Call Start to launch its loops.
func New(manager *poolmgr.Manager, queue *submitq.Queue) *Coordinator {
	return &Coordinator{
		manager: manager,
		queue:   queue,
		log:     slog.Default().With("component", "coordinator"),
	}
}

// Start brings the worker pool up and launches the scheduler, status and
// message loops as daemon goroutines.
func (c *Coordinator) Start() {
	c.alive.Store(true)
	c.manager.Start()

	c.wg.Add(3)
	go c.schedulerLoop()
	go c.statusLoop()
	go c.messageLoop()
}

// Stop clears the liveness flag, unblocks the submission queue, and waits
// for all three loops to exit before stopping the worker processes.
func (c *Coordinator) Stop() {
	c.alive.Store(false)
	c.queue.Put(nil) // unblocks schedulerLoop's Get
	c.wg.Wait()
	c.manager.Stop()
}

func (c *Coordinator) schedulerLoop() {
	defer c.wg.Done()
	for c.alive.Load() {
		t := c.queue.Get()
		if t == nil {
			c.queue.TaskDone()
			return
		}
		if t.Cancelled() {
			// Never dispatched: resolve it here, since no worker will ever
			// send Results for it and the Task Manager never learns of it.
			t.SetResults(task.TaskCancelled{})
			c.queue.TaskDone()
			continue
		}
		if err := c.manager.Schedule(t); err != nil {
			c.log.Error("failed to schedule task", "task", t.Number, "error", err)
		}
	}
}

func (c *Coordinator) statusLoop() {
	defer c.wg.Done()
	for c.alive.Load() {
		c.manager.UpdateStatus()
		time.Sleep(sleepUnit)
	}
}

func (c *Coordinator) messageLoop() {
	defer c.wg.Done()
	channel := c.manager.Workers.Channel()

	for c.alive.Load() {
		ready, err := channel.Poll(durationPtr(sleepUnit))
		if err != nil {
			c.log.Error("poll failed", "error", err)
			continue
		}
		if !ready {
			continue
		}

		msg, err := channel.Recv()
		if err != nil {
			c.log.Error("recv failed", "error", err)
			continue
		}
		c.manager.ProcessMessage(msg)
	}
}

func durationPtr(d time.Duration) *time.Duration { return &d }
