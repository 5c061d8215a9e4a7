package evaluation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Runs counts evaluation runs by outcome.
	Runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "docqa",
		Subsystem: "evaluation",
		Name:      "runs_total",
		Help:      "Evaluation runs by outcome.",
	}, []string{"outcome"})

	// HallucinationRate is the rate reported by the latest run.
	HallucinationRate = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "docqa",
		Subsystem: "evaluation",
		Name:      "hallucination_rate",
		Help:      "Hallucination rate of the most recent evaluation run.",
	})

	// QuestionLatency observes end-to-end latency of replayed questions.
	QuestionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "docqa",
		Subsystem: "evaluation",
		Name:      "question_latency_seconds",
		Help:      "Latency of questions replayed by the evaluation harness.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})
)
