package llm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Requests counts model calls by stage and outcome.
	Requests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total number of model calls",
		},
		[]string{"stage", "outcome"},
	)

	// RequestDuration tracks model call latency including retries.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Duration of model calls in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	// CacheLookups counts response cache lookups by result.
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "llm",
			Name:      "cache_lookups_total",
			Help:      "Total number of model response cache lookups",
		},
		[]string{"result"},
	)
)
