package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "content_analyzer_tasks_created_total",
		Help: "Total number of tasks created",
	})

	TasksSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "content_analyzer_tasks_succeeded_total",
		Help: "Total number of tasks that completed successfully",
	})

	TasksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "content_analyzer_tasks_failed_total",
		Help: "Total number of tasks that ended in failure",
	})

	TasksCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "content_analyzer_tasks_cancelled_total",
		Help: "Total number of tasks cancelled by the caller",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "content_analyzer_stage_duration_seconds",
		Help:    "Pipeline stage duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	SweepFilesRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "content_analyzer_sweep_files_removed_total",
		Help: "Total number of files removed by the periodic sweep",
	})

	SweepBytesFreed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "content_analyzer_sweep_bytes_freed_total",
		Help: "Total bytes freed by the periodic sweep",
	})

	SweepTasksExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "content_analyzer_sweep_tasks_expired_total",
		Help: "Total number of terminal task records expired by the sweep",
	})
)
