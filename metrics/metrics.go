package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "backbone_connection_up",
			Help: "Whether a bootstrapped infrastructure connection is up (1) or down (0)",
		},
		[]string{"kind", "name"},
	)

	RedisErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backbone_redis_errors_total",
			Help: "Total number of Redis command errors per store",
		},
		[]string{"store"},
	)

	JobsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backbone_jobs_submitted_total",
			Help: "Total number of job submissions by queue and result",
		},
		[]string{"queue", "result"},
	)

	WatchListWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backbone_watchlist_writes_total",
			Help: "Total number of watch-list writes by result",
		},
		[]string{"result"},
	)

	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backbone_jobs_processed_total",
			Help: "Total number of jobs processed by queue and final status",
		},
		[]string{"queue", "status"},
	)

	JobProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backbone_job_processing_duration_seconds",
			Help:    "Time taken by job processors",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)

	JobsCleaned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backbone_jobs_cleaned_total",
			Help: "Total number of finished jobs removed by auto clean",
		},
		[]string{"queue", "state"},
	)
)

// SetConnection records the state of one bootstrapped connection.
func SetConnection(kind, name string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	ConnectionStatus.WithLabelValues(kind, name).Set(v)
}
