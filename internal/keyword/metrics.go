package keyword

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IndexedChunks is the number of chunks in the current snapshot.
	IndexedChunks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docqa",
			Subsystem: "keyword",
			Name:      "chunks",
			Help:      "Number of chunks in the keyword index",
		},
	)

	// IndexedTerms is the vocabulary size of the current snapshot.
	IndexedTerms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docqa",
			Subsystem: "keyword",
			Name:      "terms",
			Help:      "Number of distinct terms in the keyword index",
		},
	)

	// QueryDuration tracks BM25 query latency.
	QueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "keyword",
			Name:      "query_duration_seconds",
			Help:      "Duration of keyword index queries in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
	)
)

func recordSnapshot(s *snapshot) {
	IndexedChunks.Set(float64(len(s.chunks)))
	IndexedTerms.Set(float64(len(s.postings)))
}
