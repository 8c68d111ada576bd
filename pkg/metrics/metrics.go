package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectAttempts records SFTP connect attempts by result (success|failure).
	ConnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sftpgate_connect_attempts_total",
			Help: "Total number of SFTP connection attempts",
		},
		[]string{"result"},
	)

	// SessionsInUse tracks handles currently loaned to file operations.
	SessionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sftpgate_pool_in_use",
			Help: "Number of SFTP sessions currently checked out",
		},
	)

	// SessionsIdle tracks handles parked in the pool.
	SessionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sftpgate_pool_idle",
			Help: "Number of idle SFTP sessions held by the pool",
		},
	)

	// SessionsDiscarded counts handles closed because they were found disconnected or returned after shutdown.
	SessionsDiscarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sftpgate_pool_discarded_total",
			Help: "Total number of SFTP sessions discarded by the session manager",
		},
	)

	// Operations counts file operations by name and outcome (success|failure).
	Operations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sftpgate_operations_total",
			Help: "Total number of file operations",
		},
		[]string{"operation", "result"},
	)

	// OperationLatency measures end-to-end file operation latency including session acquisition.
	OperationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sftpgate_operation_latency_seconds",
			Help:    "File operation latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// BytesTransferred counts payload bytes moved by direction (upload|download|copy).
	BytesTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sftpgate_bytes_transferred_total",
			Help: "Total payload bytes transferred",
		},
		[]string{"direction"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sftpgate_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
