package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationDuration tracks backend call latency.
	// Labels: backend (chromem, qdrant), operation (upsert, query, delete, count)
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	// OperationErrors counts failed backend calls.
	OperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "vectorstore",
			Name:      "operation_errors_total",
			Help:      "Total number of failed vector store operations",
		},
		[]string{"backend", "operation"},
	)

	// HealthStatus is 1 when the last health check passed, 0 otherwise.
	HealthStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "docqa",
			Subsystem: "vectorstore",
			Name:      "health_status",
			Help:      "Current health status (1=healthy, 0=unavailable)",
		},
		[]string{"backend"},
	)
)

// observe records the outcome of one operation started at start.
func observe(backend, op string, start time.Time, err error) {
	OperationDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
	if err != nil {
		OperationErrors.WithLabelValues(backend, op).Inc()
	}
}

func recordHealth(backend string, healthy bool) {
	if healthy {
		HealthStatus.WithLabelValues(backend).Set(1)
	} else {
		HealthStatus.WithLabelValues(backend).Set(0)
	}
}
