// Package metrics collects and exposes Prometheus metrics for a running
// procpool.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects Prometheus metrics for the pool's task and worker
// lifecycle.
type Collector struct {
	tasksScheduled prometheus.Counter
	tasksCompleted prometheus.Counter
	tasksFailed    prometheus.Counter
	tasksTimedOut  prometheus.Counter
	tasksCancelled prometheus.Counter

	taskLatency prometheus.Histogram

	tasksPending   prometheus.Gauge
	tasksInFlight  prometheus.Gauge
	workersAlive   prometheus.Gauge
	workerRestarts prometheus.Counter
}

// NewCollector builds and registers a Collector against the default
// Prometheus registry.
func NewCollector() *Collector {
	c := &Collector{
		tasksScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "procpool_tasks_scheduled_total",
			Help: "Total number of tasks scheduled to the pool",
		}),
		tasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "procpool_tasks_completed_total",
			Help: "Total number of tasks completed with a user value",
		}),
		tasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "procpool_tasks_failed_total",
			Help: "Total number of tasks completed with a user error",
		}),
		tasksTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "procpool_tasks_timed_out_total",
			Help: "Total number of tasks that exceeded their timeout",
		}),
		tasksCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "procpool_tasks_cancelled_total",
			Help: "Total number of tasks cancelled before completion",
		}),
		taskLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "procpool_task_latency_seconds",
			Help:    "Task processing latency in seconds, from acknowledgement to result",
			Buckets: prometheus.DefBuckets,
		}),
		tasksPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "procpool_tasks_pending",
			Help: "Current number of tasks awaiting a worker",
		}),
		tasksInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "procpool_tasks_in_flight",
			Help: "Current number of tasks acknowledged by a worker",
		}),
		workersAlive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "procpool_workers_alive",
			Help: "Current number of live worker processes",
		}),
		workerRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "procpool_worker_restarts_total",
			Help: "Total number of worker processes found to have exited abnormally",
		}),
	}

	prometheus.MustRegister(
		c.tasksScheduled, c.tasksCompleted, c.tasksFailed, c.tasksTimedOut,
		c.tasksCancelled, c.taskLatency, c.tasksPending, c.tasksInFlight,
		c.workersAlive, c.workerRestarts,
	)

	return c
}

// RecordScheduled records a task handed to the Pool Manager.
func (c *Collector) RecordScheduled() { c.tasksScheduled.Inc() }

// RecordCompleted records a task resolved with a UserValue outcome.
func (c *Collector) RecordCompleted(latencySeconds float64) {
	c.tasksCompleted.Inc()
	c.taskLatency.Observe(latencySeconds)
}

// RecordFailed records a task resolved with a UserError outcome.
func (c *Collector) RecordFailed() { c.tasksFailed.Inc() }

// RecordTimeout records a task resolved with a TimeoutError outcome.
func (c *Collector) RecordTimeout() { c.tasksTimedOut.Inc() }

// RecordCancelled records a task resolved with a TaskCancelled outcome.
func (c *Collector) RecordCancelled() { c.tasksCancelled.Inc() }

// RecordWorkerRestart records a worker process found to have exited with
// a non-zero code. Workers that exit cleanly are respawned but not counted.
func (c *Collector) RecordWorkerRestart() { c.workerRestarts.Inc() }

// UpdateTaskStats sets the instantaneous pending/in-flight task gauges.
func (c *Collector) UpdateTaskStats(pending, inFlight int) {
	c.tasksPending.Set(float64(pending))
	c.tasksInFlight.Set(float64(inFlight))
}

// UpdateWorkerStats sets the instantaneous live-worker gauge.
func (c *Collector) UpdateWorkerStats(alive int) {
	c.workersAlive.Set(float64(alive))
}

// StartServer serves the registered metrics on /metrics at the given port.
func StartServer(port int) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(fmt.Sprintf(":%d", port), nil)
}
