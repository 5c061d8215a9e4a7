package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Documents counts ingestion attempts by outcome.
	Documents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Total number of ingested documents",
		},
		[]string{"outcome"},
	)

	// Chunks counts chunks written to the indexes.
	Chunks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "ingest",
			Name:      "chunks_total",
			Help:      "Total number of chunks indexed",
		},
	)

	// Duration tracks end-to-end ingestion latency.
	Duration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Duration of document ingestion in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// Redactions counts credentials scrubbed from uploads.
	Redactions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "ingest",
			Name:      "redactions_total",
			Help:      "Total number of credentials redacted from uploads",
		},
	)
)
