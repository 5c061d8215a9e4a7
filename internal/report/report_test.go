package report

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/docqa/internal/agents"
	"github.com/fyrsmithlabs/docqa/internal/evaluation"
	"github.com/fyrsmithlabs/docqa/internal/orchestrator"
	"github.com/fyrsmithlabs/docqa/internal/retrieval"
)

func TestFormatLatency(t *testing.T) {
	tests := []struct {
		name     string
		seconds  float64
		expected string
	}{
		{"milliseconds", 0.0123, "12.3ms"},
		{"zero", 0, "0.0ms"},
		{"seconds", 2.5, "2.5s"},
		{"exactly one second", 1.0, "1.0s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatLatency(tt.seconds))
		})
	}
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "n/a", FormatValue(evaluation.NA, FormatPercentage))
	assert.Equal(t, "25.0%", FormatValue(evaluation.Of(0.25), FormatPercentage))
	assert.Equal(t, "0.87", FormatValue(evaluation.Of(0.8712), FormatScore))
}

func TestEvaluation(t *testing.T) {
	t.Run("empty run", func(t *testing.T) {
		out := Evaluation(nil, true)
		assert.Contains(t, out, "0 questions")
		assert.Contains(t, out, "n/a")
		assert.Contains(t, out, "N/A")
	})

	t.Run("summary and records", func(t *testing.T) {
		rep := &evaluation.Report{
			Summary: evaluation.Summary{
				HallucinationRate:   evaluation.Of(0.5),
				Latency:             evaluation.LatencyStats{Avg: evaluation.Of(0.2), Min: evaluation.Of(0.1), Max: evaluation.Of(0.3)},
				EmbeddingSimilarity: evaluation.SimilarityStats{Mean: evaluation.Of(0.9)},
				RetrievalPrecision:  evaluation.Of(0.75),
				RetrievalRecall:     evaluation.NA,
				NumQuestions:        2,
			},
			Records: []evaluation.Record{
				{Question: "What is the notice period?", Mode: "extractive", LatencyS: 0.1},
				{Question: "Who pays?", Error: "upstream timeout", LatencyS: 0.3},
			},
		}

		out := Evaluation(rep, true)
		assert.Contains(t, out, "2 questions")
		assert.Contains(t, out, "50.0%")
		assert.Contains(t, out, "75.0%")
		assert.Contains(t, out, "200.0ms")
		assert.Contains(t, out, "0.90")
		assert.Contains(t, out, "HALLUCINATING")
		assert.Contains(t, out, "What is the notice period?")
		assert.Contains(t, out, "upstream timeout")

		assert.NotContains(t, Evaluation(rep, false), "Who pays?")
	})
}

func TestAnswer(t *testing.T) {
	ev := []retrieval.Evidence{{
		ChunkID: "a:00001",
		Source:  "contract.md",
		Page:    2,
		Section: "Termination",
		Text:    "Termination requires ninety days written notice.",
		Score:   0.82,
	}}
	resp := &orchestrator.Response{
		RequestID: "req-1",
		Question:  "What is the notice period?",
		Retrieval: &orchestrator.RetrievalOutput{Evidence: ev},
		Answer: &agents.Answer{
			Text:       "Ninety days [a:00001].",
			Evidence:   ev,
			Citations:  []string{"a:00001"},
			Confidence: 0.7,
			Mode:       agents.ModeModel,
		},
		Phases: []orchestrator.PhaseResult{
			{Phase: orchestrator.PhaseAnalyze, Status: orchestrator.StatusDegraded, Error: "plan repaired"},
			{Phase: orchestrator.PhaseRetrieve, Status: orchestrator.StatusCompleted},
		},
		LatencyMS: 1500,
	}

	out := Answer(resp)
	assert.Contains(t, out, "Ninety days [a:00001].")
	assert.Contains(t, out, "contract.md p.2 § Termination")
	assert.Contains(t, out, "score=0.82")
	assert.Contains(t, out, "analyze degraded: plan repaired")
	assert.NotContains(t, out, "retrieve completed")
	assert.Contains(t, out, "req-1")
	assert.Contains(t, out, "1.5s")

	assert.Contains(t, Answer(nil), "no response")
	assert.Contains(t, Answer(&orchestrator.Response{Question: "q"}), "no answer produced")
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "a b c", excerpt("a\n b\t c"))
	long := excerpt(string(make([]rune, 200)))
	assert.Len(t, []rune(long), excerptWidth)
}
