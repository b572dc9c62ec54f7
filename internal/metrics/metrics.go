// Package metrics implements Prometheus metrics for the task-execution
// runtime: queue depth, worker throughput, and dispatch latency, using
// promauto.NewCounterVec/NewGaugeVec/NewHistogramVec.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth tracks the number of pending entries in a lane.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "labstor_queue_depth",
			Help: "Number of tasks queued in a lane awaiting a worker",
		},
		[]string{"queue_id", "lane"},
	)

	// TasksCompletedTotal counts tasks a worker has finished running.
	TasksCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labstor_tasks_completed_total",
			Help: "Total number of tasks completed by a worker",
		},
		[]string{"worker_id", "task_state"},
	)

	// TaskRunSeconds measures the latency of a single TaskState.Run call.
	TaskRunSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "labstor_task_run_seconds",
			Help:    "Latency of a single TaskState.Run invocation",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 20), // 10us to ~5s
		},
		[]string{"task_state", "method"},
	)

	// DispatchLatencySeconds measures round-trip latency of a remote dispatch.
	DispatchLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "labstor_dispatch_latency_seconds",
			Help:    "Round-trip latency of a remote task dispersal",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 20), // 100us to ~50s
		},
		[]string{"dest_node"},
	)

	// WorkerActive tracks whether a worker goroutine is alive (1) or stopped (0).
	WorkerActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "labstor_worker_active",
			Help: "Whether a worker goroutine is currently running",
		},
		[]string{"worker_id"},
	)
)
