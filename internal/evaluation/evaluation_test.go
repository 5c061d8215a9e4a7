package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docqa/internal/agents"
	"github.com/fyrsmithlabs/docqa/internal/corpus"
	"github.com/fyrsmithlabs/docqa/internal/embeddings"
	"github.com/fyrsmithlabs/docqa/internal/ingest"
	"github.com/fyrsmithlabs/docqa/internal/keyword"
	"github.com/fyrsmithlabs/docqa/internal/llm"
	"github.com/fyrsmithlabs/docqa/internal/orchestrator"
	"github.com/fyrsmithlabs/docqa/internal/retrieval"
	"github.com/fyrsmithlabs/docqa/internal/vectorstore"
)

const termination = "Termination requires ninety days written notice from either party."

// askerFunc adapts a function to Asker.
type askerFunc func(ctx context.Context, question string) (*orchestrator.Response, error)

func (f askerFunc) Ask(ctx context.Context, question string) (*orchestrator.Response, error) {
	return f(ctx, question)
}

func evidence() []retrieval.Evidence {
	return []retrieval.Evidence{
		{ChunkID: "a:00000", DocumentID: "a", Source: "contract.md", Text: "# Termination\n\n" + termination, Score: 0.8},
		{ChunkID: "b:00000", DocumentID: "b", Source: "notes.txt", Text: "Renewal happens automatically each year unless cancelled.", Score: 0.3},
	}
}

func respond(ans *agents.Answer) *orchestrator.Response {
	return &orchestrator.Response{
		Retrieval: &orchestrator.RetrievalOutput{Evidence: evidence()},
		Answer:    ans,
	}
}

func TestParseLabels(t *testing.T) {
	data := []byte(`[
		{"question": "What is the notice period?", "expected_answer": "Ninety days.", "relevant_sources": ["contract.md"]},
		{"question": " Who pays? ", "answer": "The customer.", "relevant_chunks": ["a:00001"]}
	]`)
	labels, err := ParseLabels(data)
	require.NoError(t, err)
	require.Len(t, labels, 2)
	assert.Equal(t, "Ninety days.", labels[0].ExpectedAnswer)
	assert.Equal(t, []string{"contract.md"}, labels[0].RelevantSources)
	assert.Equal(t, "Who pays?", labels[1].Question)
	assert.Equal(t, "The customer.", labels[1].ExpectedAnswer)
	assert.Equal(t, []string{"a:00001"}, labels[1].RelevantSources)

	_, err = ParseLabels([]byte(`[]`))
	assert.ErrorIs(t, err, ErrNoLabels)
	_, err = ParseLabels([]byte(`[{"question": ""}]`))
	assert.Error(t, err)
	_, err = ParseLabels([]byte(`{`))
	assert.Error(t, err)
}

func TestLoadLabels(t *testing.T) {
	_, err := LoadLabels("")
	assert.ErrorIs(t, err, ErrNoLabels)

	path := filepath.Join(t.TempDir(), "labels.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"question":"q1"}]`), 0o644))
	labels, err := LoadLabels(path)
	require.NoError(t, err)
	assert.Equal(t, "q1", labels[0].Question)

	_, err = LoadLabels(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestValue_JSON(t *testing.T) {
	out, err := json.Marshal(struct {
		A Value `json:"a"`
		B Value `json:"b"`
	}{A: Of(0.123456), B: NA})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":0.1235,"b":"n/a"}`, string(out))

	var v Value
	require.NoError(t, json.Unmarshal([]byte(`"n/a"`), &v))
	_, ok := v.Get()
	assert.False(t, ok)
	require.NoError(t, json.Unmarshal([]byte(`0.5`), &v))
	assert.Equal(t, 0.5, v.Or(-1))
	assert.Error(t, json.Unmarshal([]byte(`"high"`), &v))
}

func TestEmptySummary_JSON(t *testing.T) {
	out, err := json.Marshal(EmptySummary())
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"hallucination_rate": "n/a",
		"latency": {"avg": "n/a", "min": "n/a", "max": "n/a"},
		"embedding_similarity": {"mean": "n/a"},
		"retrieval_precision": "n/a",
		"retrieval_recall": "n/a",
		"num_questions": 0
	}`, string(out))
}

func TestPrecisionRecall(t *testing.T) {
	tests := []struct {
		name      string
		relevant  []string
		precision float64
		recall    float64
	}{
		{"by source name", []string{"CONTRACT.md"}, 0.5, 1},
		{"by chunk id with a miss", []string{"a:00000", "c:00004"}, 0.5, 0.5},
		{"by document id", []string{"a", "b"}, 1, 1},
		{"nothing relevant retrieved", []string{"z"}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, r := PrecisionRecall(evidence(), tt.relevant)
			assert.InDelta(t, tt.precision, p.Or(-1), 1e-9)
			assert.InDelta(t, tt.recall, r.Or(-1), 1e-9)
		})
	}

	p, r := PrecisionRecall(evidence(), nil)
	assert.Equal(t, NA, p)
	assert.Equal(t, NA, r)

	p, r = PrecisionRecall(nil, []string{"a"})
	assert.Equal(t, 0.0, p.Or(-1))
	assert.Equal(t, 0.0, r.Or(-1))
}

func TestClaims(t *testing.T) {
	claims := Claims("Notice is ninety days [a:00000]. Yes. Renewal is automatic each year! [b:00000]")
	assert.Equal(t, []string{"Notice is ninety days", "Renewal is automatic each year"}, claims)
	assert.Empty(t, Claims(""))
}

func TestHarness_Hallucination(t *testing.T) {
	answers := map[string]*agents.Answer{
		"supported": {
			Text:       termination + " [a:00000]",
			Evidence:   evidence()[:1],
			Citations:  []string{"a:00000"},
			Confidence: 0.8,
		},
		"unsupported": {
			Text:       "Bananas grow on tall trees in tropical climates. [a:00000]",
			Evidence:   evidence()[:1],
			Citations:  []string{"a:00000"},
			Confidence: 0.7,
		},
		"uncited": {Text: "Probably ninety days.", Confidence: 0.4},
		"insufficient": agents.Insufficient(),
	}
	asker := askerFunc(func(_ context.Context, q string) (*orchestrator.Response, error) {
		if q == "broken" {
			return nil, errors.New("model returned 500")
		}
		return respond(answers[q]), nil
	})

	labels := []Label{
		{Question: "supported", ExpectedAnswer: termination, RelevantSources: []string{"contract.md"}},
		{Question: "unsupported"},
		{Question: "uncited"},
		{Question: "insufficient"},
		{Question: "broken"},
	}
	h := NewHarness(asker, embeddings.NewHashEmbedder(embeddings.DefaultHashDimension), Config{}, nil)
	report, err := h.Run(context.Background(), labels)
	require.NoError(t, err)
	require.Len(t, report.Records, 5)
	assert.Equal(t, 5, report.NumQuestions)

	byQ := map[string]Record{}
	for i, r := range report.Records {
		assert.Equal(t, labels[i].Question, r.Question)
		byQ[r.Question] = r
	}
	assert.False(t, byQ["supported"].Hallucinated)
	assert.True(t, byQ["unsupported"].Hallucinated)
	assert.Equal(t, []string{"Bananas grow on tall trees in tropical climates"}, byQ["unsupported"].UnsupportedClaims)
	assert.True(t, byQ["uncited"].Hallucinated)
	assert.False(t, byQ["insufficient"].Hallucinated)
	assert.Equal(t, "model returned 500", byQ["broken"].Error)

	// Two of the four answered questions hallucinate.
	assert.InDelta(t, 0.5, report.HallucinationRate.Or(-1), 1e-9)

	sim, ok := byQ["supported"].EmbeddingSimilarity.Get()
	require.True(t, ok)
	assert.Greater(t, sim, 0.5)
	assert.Equal(t, NA, byQ["unsupported"].EmbeddingSimilarity)

	// Only the first label lists sources.
	assert.InDelta(t, 0.5, report.RetrievalPrecision.Or(-1), 1e-9)
	assert.InDelta(t, 1.0, report.RetrievalRecall.Or(-1), 1e-9)
}

func TestHarness_ConcurrencyKeepsOrder(t *testing.T) {
	asker := askerFunc(func(_ context.Context, q string) (*orchestrator.Response, error) {
		// Later questions finish first.
		d := map[string]time.Duration{"q0": 30 * time.Millisecond, "q1": 15 * time.Millisecond, "q2": 0}[q]
		time.Sleep(d)
		return respond(agents.Insufficient()), nil
	})
	labels := []Label{{Question: "q0"}, {Question: "q1"}, {Question: "q2"}}

	report, err := NewHarness(asker, nil, Config{Concurrency: 3}, nil).Run(context.Background(), labels)
	require.NoError(t, err)
	for i, r := range report.Records {
		assert.Equal(t, labels[i].Question, r.Question)
	}
	lo, _ := report.Latency.Min.Get()
	hi, _ := report.Latency.Max.Get()
	avg, _ := report.Latency.Avg.Get()
	assert.LessOrEqual(t, lo, avg)
	assert.LessOrEqual(t, avg, hi)
	assert.Equal(t, NA, report.EmbeddingSimilarity.Mean)
}

func TestHarness_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	asker := askerFunc(func(ctx context.Context, _ string) (*orchestrator.Response, error) {
		cancel()
		return nil, ctx.Err()
	})
	_, err := NewHarness(asker, nil, Config{}, nil).Run(ctx, []Label{{Question: "q"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHarness_NoLabels(t *testing.T) {
	report, err := NewHarness(nil, nil, Config{}, nil).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, EmptySummary(), report.Summary)
	assert.Empty(t, report.Records)
}

// TestHarness_Pipeline replays five questions through the full question
// pipeline over an ingested contract.
func TestHarness_Pipeline(t *testing.T) {
	ctx := context.Background()
	embedder := embeddings.NewHashEmbedder(embeddings.DefaultHashDimension)
	vs, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{Dimension: embedder.Dimension()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = vs.Close() })
	store, kw := corpus.NewMemoryStore(), keyword.New()

	svc, err := ingest.NewService(ingest.Deps{Corpus: store, Keyword: kw, Vector: vs, Embedder: embedder}, ingest.Config{}, nil)
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, "contract.md", []byte(`# Introduction

This agreement describes the services provided by Acme to Globex.

# Payment Terms

Invoices are payable within thirty days of receipt by the customer.

# Termination

Termination requires ninety days written notice from either party.

# Confidentiality

Each party keeps the other party's information confidential for five years.
`))
	require.NoError(t, err)

	exec := orchestrator.New(orchestrator.DefaultConfig(),
		agents.NewAnalyzer(nil, agents.AnalyzerConfig{}, nil),
		retrieval.NewAgent(vs, kw, embedder, retrieval.NewMerger(retrieval.DefaultMergerConfig(), store), retrieval.AgentConfig{}, nil),
		agents.NewAnswerAgent(nil, llm.NewTokenizer(llm.EstimateEncoding), agents.AnswerConfig{}, nil),
		store, nil)

	labels, err := ParseLabels([]byte(`[
		{"question": "What notice is required for termination?", "expected_answer": "Ninety days written notice.", "relevant_sources": ["contract.md"]},
		{"question": "When are invoices payable?", "expected_answer": "Within thirty days of receipt.", "relevant_sources": ["contract.md"]},
		{"question": "How long does confidentiality last?", "expected_answer": "Five years.", "relevant_sources": ["contract.md"]},
		{"question": "Who provides the services?", "expected_answer": "Acme provides services to Globex.", "relevant_sources": ["contract.md"]},
		{"question": "Compare payment terms and termination", "expected_answer": "Thirty days to pay, ninety days notice.", "relevant_sources": ["other.pdf"]}
	]`))
	require.NoError(t, err)

	report, err := NewHarness(exec, embedder, Config{}, nil).Run(ctx, labels)
	require.NoError(t, err)
	assert.Equal(t, 5, report.NumQuestions)

	for _, v := range []Value{report.RetrievalPrecision, report.RetrievalRecall, report.HallucinationRate} {
		f, ok := v.Get()
		require.True(t, ok)
		assert.GreaterOrEqual(t, f, 0.0)
		assert.LessOrEqual(t, f, 1.0)
	}
	for _, r := range report.Records {
		assert.Empty(t, r.Error)
		assert.NotEmpty(t, r.Answer)
		assert.Greater(t, r.LatencyS, 0.0)
	}

	out, err := json.Marshal(report.Summary)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.EqualValues(t, 5, decoded["num_questions"])
	assert.Contains(t, decoded, "latency")
}
