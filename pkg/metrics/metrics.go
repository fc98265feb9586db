// Package metrics holds the Prometheus collectors fetchferry exports on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Task lifecycle metrics
var (
	TasksCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fetchferry_tasks_created_total",
		Help: "Number of tasks created, including retries and reuploads",
	})

	TasksFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetchferry_tasks_finished_total",
			Help: "Number of tasks that reached a terminal status",
		},
		[]string{"status"},
	)

	ActiveTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fetchferry_active_tasks",
		Help: "Number of tasks that have not reached a terminal status",
	})

	UploadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fetchferry_upload_duration_seconds",
			Help:    "Duration of upload calls to the remote API",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"result"},
	)
)

// Remote server config cache metrics
var (
	ServerCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fetchferry_server_cache_hits_total",
		Help: "Server config lookups answered from the cache",
	})
	ServerCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fetchferry_server_cache_misses_total",
		Help: "Server config lookups that went to the remote API",
	})
)

// BroadcastDropped counts task updates skipped for slow listeners
var BroadcastDropped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "fetchferry_broadcast_dropped_total",
	Help: "Task updates not delivered to a listener that fell behind",
})
