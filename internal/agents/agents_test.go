package agents

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"pgregory.net/rapid"

	"github.com/fyrsmithlabs/docqa/internal/llm"
	"github.com/fyrsmithlabs/docqa/internal/retrieval"
)

func TestHeuristic(t *testing.T) {
	tests := []struct {
		question string
		intent   retrieval.Intent
		strategy retrieval.Strategy
	}{
		{"What is the termination clause?", retrieval.IntentFactual, retrieval.StrategyHybrid},
		{"Compare the 2022 and 2023 revenue figures", retrieval.IntentComparison, retrieval.StrategyHybrid},
		{"Plan A vs plan B: which is better for small teams?", retrieval.IntentComparison, retrieval.StrategyHybrid},
		{"Why did operating costs increase last year?", retrieval.IntentReasoning, retrieval.StrategyHybrid},
		{"Explain the escalation process", retrieval.IntentReasoning, retrieval.StrategyHybrid},
		{"Find the supplier and then list its contracts", retrieval.IntentMultiHop, retrieval.StrategyHybrid},
		{`"force majeure"`, retrieval.IntentFactual, retrieval.StrategyKeywordOnly},
		{"INV-2023-001", retrieval.IntentFactual, retrieval.StrategyKeywordOnly},
		{"error ERR_404 meaning", retrieval.IntentFactual, retrieval.StrategyKeywordOnly},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			p := Heuristic(tt.question, 5)
			assert.Equal(t, tt.intent, p.Intent)
			assert.Equal(t, tt.strategy, p.Strategy)
			assert.Equal(t, retrieval.SourceHeuristic, p.Source)
			assert.NoError(t, p.Validate())
		})
	}
}

func TestAnalyzer_NoClientUsesHeuristic(t *testing.T) {
	a := NewAnalyzer(nil, AnalyzerConfig{DefaultTopK: 7}, nil)
	p, err := a.Analyze(context.Background(), "why is the sky blue")
	require.NoError(t, err)
	assert.Equal(t, retrieval.IntentReasoning, p.Intent)
	assert.Equal(t, 7, p.TopK)
}

func TestAnalyzer_ModelPlan(t *testing.T) {
	client := llm.NewScriptedClient("```json\n" + `{"intent":"comparison","strategy":"bm25","rewritten_query":"  Q3 vs Q4 revenue ","top_k":50}` + "\n```")
	a := NewAnalyzer(client, AnalyzerConfig{}, nil)

	p, err := a.Analyze(context.Background(), "How did revenue change between Q3 and Q4?")
	require.NoError(t, err)
	assert.Equal(t, retrieval.IntentComparison, p.Intent)
	assert.Equal(t, retrieval.StrategyKeywordOnly, p.Strategy)
	assert.Equal(t, "Q3 vs Q4 revenue", p.RewrittenQuery)
	assert.Equal(t, retrieval.MaxTopK, p.TopK, "top_k is clamped")
	assert.Equal(t, retrieval.SourceModel, p.Source)

	reqs := client.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "analyze", reqs[0].Stage)
	assert.Contains(t, reqs[0].Prompt, "How did revenue change")
}

func TestAnalyzer_UnknownIntentAndEchoedRewrite(t *testing.T) {
	client := llm.NewScriptedClient(`{"intent":"missing_data","strategy":"hybrid","rewritten_query":"what is the fee?","top_k":0}`)
	a := NewAnalyzer(client, AnalyzerConfig{}, nil)

	p, err := a.Analyze(context.Background(), "What is the fee?")
	require.NoError(t, err)
	assert.Equal(t, retrieval.IntentReasoning, p.Intent)
	assert.Empty(t, p.RewrittenQuery)
	assert.Equal(t, 1, p.TopK)
}

func TestAnalyzer_RetryThenFallback(t *testing.T) {
	t.Run("second attempt valid", func(t *testing.T) {
		client := llm.NewScriptedClient(`{"intent":"factual","strategy":"graph"}`, `{"intent":"factual","strategy":"vector_only"}`)
		a := NewAnalyzer(client, AnalyzerConfig{}, nil)
		p, err := a.Analyze(context.Background(), "q")
		require.NoError(t, err)
		assert.Equal(t, retrieval.StrategyVectorOnly, p.Strategy)
		assert.Equal(t, 5, p.TopK)

		reqs := client.Requests()
		require.Len(t, reqs, 2)
		assert.Contains(t, reqs[1].Prompt, "rejected")
		assert.Contains(t, reqs[1].Prompt, "strategy")
	})

	t.Run("both invalid", func(t *testing.T) {
		client := llm.NewScriptedClient("not json", `{"strategy":""}`)
		a := NewAnalyzer(client, AnalyzerConfig{}, nil)
		p, err := a.Analyze(context.Background(), "q")
		require.NoError(t, err)
		assert.Equal(t, retrieval.FallbackPlan(5), p)
	})

	t.Run("transport failure", func(t *testing.T) {
		client := llm.NewScriptedClient()
		client.Push(llm.Reply{Err: errors.New("connection refused")})
		a := NewAnalyzer(client, AnalyzerConfig{}, nil)
		p, err := a.Analyze(context.Background(), "q")
		require.NoError(t, err)
		assert.Equal(t, retrieval.SourceFallback, p.Source)
	})

	t.Run("deadline is returned", func(t *testing.T) {
		client := llm.NewScriptedClient()
		client.Push(llm.Reply{Text: `{"intent":"factual","strategy":"hybrid"}`, Delay: time.Second})
		a := NewAnalyzer(client, AnalyzerConfig{}, nil)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := a.Analyze(ctx, "q")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

var estimate = llm.NewTokenizer(llm.EstimateEncoding)

func evidence() []retrieval.Evidence {
	return []retrieval.Evidence{
		{ChunkID: "a:00002", DocumentID: "a", Source: "contract.pdf", Page: 3, Section: "Termination", Text: "Termination\n\nEither party may terminate with ninety days written notice. Notice must be in writing.", Score: 0.9},
		{ChunkID: "b:00000", DocumentID: "b", Source: "amendment.pdf", Page: 1, Text: "The notice period is reduced to thirty days.", Score: 0.8},
		{ChunkID: "a:00000", DocumentID: "a", Source: "contract.pdf", Page: 1, Section: "Introduction", Text: "This agreement is between Acme and Globex.", Score: 0.4},
	}
}

func TestAnswer_EmptyEvidence(t *testing.T) {
	client := llm.NewScriptedClient()
	a := NewAnswerAgent(client, estimate, AnswerConfig{}, nil)

	ans, err := a.Answer(context.Background(), "anything?", nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, ans.Confidence)
	assert.Equal(t, ModeInsufficient, ans.Mode)
	assert.NotNil(t, ans.Evidence)
	assert.Empty(t, ans.Evidence)
	assert.Empty(t, client.Requests(), "model is not called")
}

func TestAnswer_GroundedModelAnswer(t *testing.T) {
	client := llm.NewScriptedClient(`{"answer":"Ninety days, reduced to thirty by amendment.","citations":["b:00000","a:00002"],"confidence":0.8,"contradictions":[["b:00000","a:00002"]],"missing_information":""}`)
	a := NewAnswerAgent(client, estimate, AnswerConfig{}, nil)
	ev := evidence()
	candidates := []retrieval.Pair{{A: "a:00002", B: "b:00000"}}

	ans, err := a.Answer(context.Background(), "What is the notice period?", ev, candidates...)
	require.NoError(t, err)
	assert.Equal(t, ModeModel, ans.Mode)
	assert.False(t, ans.Degraded)
	assert.InDelta(t, 0.8, ans.Confidence, 1e-9)
	// Cited subset in input order.
	assert.Equal(t, []string{"a:00002", "b:00000"}, ans.Citations)
	require.Len(t, ans.Evidence, 2)
	assert.Equal(t, "a:00002", ans.Evidence[0].ChunkID)
	assert.Equal(t, candidates, ans.Contradictions)

	prompt := client.Requests()[0].Prompt
	assert.Contains(t, prompt, "[a:00002]")
	assert.Contains(t, prompt, "section: Termination")
	assert.Contains(t, prompt, "Candidate contradictions")
}

func TestAnswer_UnconfirmedContradictionDropped(t *testing.T) {
	client := llm.NewScriptedClient(`{"answer":"x","citations":["a:00002"],"confidence":0.5,"contradictions":[["a:00002","a:00000"]]}`)
	a := NewAnswerAgent(client, estimate, AnswerConfig{}, nil)

	ans, err := a.Answer(context.Background(), "q", evidence(), retrieval.Pair{A: "a:00002", B: "b:00000"})
	require.NoError(t, err)
	assert.Empty(t, ans.Contradictions)
}

func TestAnswer_ContradictionKeepsBothSides(t *testing.T) {
	client := llm.NewScriptedClient(`{"answer":"Ninety days.","citations":["a:00002"],"confidence":0.6,"contradictions":[["a:00002","b:00000"]]}`)
	a := NewAnswerAgent(client, estimate, AnswerConfig{}, nil)
	pair := retrieval.Pair{A: "a:00002", B: "b:00000"}

	ans, err := a.Answer(context.Background(), "What is the notice period?", evidence(), pair)
	require.NoError(t, err)
	assert.Equal(t, []retrieval.Pair{pair}, ans.Contradictions)
	assert.Equal(t, []string{"a:00002"}, ans.Citations)
	ids := make([]string, 0, len(ans.Evidence))
	for _, e := range ans.Evidence {
		ids = append(ids, e.ChunkID)
	}
	assert.Equal(t, []string{"a:00002", "b:00000"}, ids)
	assert.InDelta(t, 0.6, ans.Confidence, 1e-9)
}

// unavailableModel is a langchaingo model that always fails with a
// retryable status.
type unavailableModel struct {
	calls atomic.Int32
}

func (m *unavailableModel) GenerateContent(context.Context, []llms.MessageContent, ...llms.CallOption) (*llms.ContentResponse, error) {
	m.calls.Add(1)
	return nil, errors.New("API returned unexpected status code: 503")
}

func (m *unavailableModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestAgents_OneRetryPerStageWithDefaultClient(t *testing.T) {
	t.Run("answer", func(t *testing.T) {
		model := &unavailableModel{}
		a := NewAnswerAgent(llm.NewLangChainClient(model, "gpt", nil), estimate, AnswerConfig{}, nil)

		ans, err := a.Answer(context.Background(), "q", evidence())
		require.NoError(t, err)
		assert.True(t, ans.Degraded)
		assert.EqualValues(t, 2, model.calls.Load())
	})

	t.Run("analyze", func(t *testing.T) {
		model := &unavailableModel{}
		a := NewAnalyzer(llm.NewLangChainClient(model, "gpt", nil), AnalyzerConfig{}, nil)

		p, err := a.Analyze(context.Background(), "q")
		require.NoError(t, err)
		assert.Equal(t, retrieval.SourceFallback, p.Source)
		assert.EqualValues(t, 1, model.calls.Load(), "transport failures fall back without a second call")
	})
}

func TestAnswer_RetryOnFabricatedCitation(t *testing.T) {
	client := llm.NewScriptedClient(
		`{"answer":"x","citations":["ghost:00001"],"confidence":0.9}`,
		`{"answer":"Ninety days.","citations":["a:00002"],"confidence":0.7}`,
	)
	a := NewAnswerAgent(client, estimate, AnswerConfig{}, nil)

	ans, err := a.Answer(context.Background(), "q", evidence())
	require.NoError(t, err)
	assert.Equal(t, []string{"a:00002"}, ans.Citations)

	reqs := client.Requests()
	require.Len(t, reqs, 2)
	assert.Contains(t, reqs[1].Prompt, "CORRECTION")
	assert.Contains(t, reqs[1].Prompt, `"ghost:00001"`)
}

func TestAnswer_DegradesAfterTwoFailures(t *testing.T) {
	client := llm.NewScriptedClient(`{"answer":"x","confidence":1.7}`, "I think the answer is ninety days.")
	a := NewAnswerAgent(client, estimate, AnswerConfig{}, nil)
	ev := evidence()

	ans, err := a.Answer(context.Background(), "q", ev)
	require.NoError(t, err)
	assert.True(t, ans.Degraded)
	assert.Equal(t, ModeDegraded, ans.Mode)
	assert.Equal(t, 0.0, ans.Confidence)
	assert.Equal(t, ev, ans.Evidence, "evidence attached unmodified")
	assert.NotEmpty(t, ans.Text)
	require.Len(t, ans.Notes, 1)
}

func TestAnswer_UncitedAnswerHasZeroConfidence(t *testing.T) {
	client := llm.NewScriptedClient(`{"answer":"Probably ninety days.","citations":[],"confidence":0.6}`)
	a := NewAnswerAgent(client, estimate, AnswerConfig{}, nil)
	ev := evidence()

	ans, err := a.Answer(context.Background(), "q", ev)
	require.NoError(t, err)
	assert.Equal(t, 0.0, ans.Confidence)
	assert.Len(t, ans.Evidence, len(ev))
	assert.Empty(t, ans.Citations)
}

func TestAnswer_DeadlineReturned(t *testing.T) {
	client := llm.NewScriptedClient()
	client.Push(llm.Reply{Text: "{}", Delay: time.Second})
	a := NewAnswerAgent(client, estimate, AnswerConfig{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := a.Answer(ctx, "q", evidence())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAnswer_Extractive(t *testing.T) {
	a := NewAnswerAgent(nil, estimate, AnswerConfig{ExtractiveItems: 2}, nil)
	ev := evidence()

	ans, err := a.Answer(context.Background(), "What is the notice period?", ev)
	require.NoError(t, err)
	assert.Equal(t, ModeExtractive, ans.Mode)
	assert.Equal(t, []string{"a:00002", "b:00000"}, ans.Citations)
	assert.True(t, strings.HasPrefix(ans.Text, "Either party may terminate with ninety days written notice. [a:00002]"), ans.Text)
	assert.Contains(t, ans.Text, "[b:00000]")

	// avg(0.9, 0.8, 0.4) = 0.7; 0.7*0.85 + min(0.15, 0.09) = 0.685
	assert.InDelta(t, 0.685, ans.Confidence, 1e-9)
	assert.Empty(t, ans.MissingInformation)
}

func TestExtractiveConfidence(t *testing.T) {
	assert.Equal(t, 0.0, ExtractiveConfidence(nil))
	many := make([]retrieval.Evidence, 10)
	for i := range many {
		many[i].Score = 1
	}
	assert.Equal(t, 1.0, ExtractiveConfidence(many))
}

func TestAnswer_GroundingProperty(t *testing.T) {
	ev := evidence()
	ids := []string{"a:00002", "b:00000", "a:00000", "ghost:00009", "x:00001"}

	rapid.Check(t, func(t *rapid.T) {
		cites := rapid.SliceOfN(rapid.SampledFrom(ids), 0, 4).Draw(t, "citations")
		conf := rapid.Float64Range(-0.5, 1.5).Draw(t, "confidence")
		reply := func(cites []string, conf float64) string {
			quoted := make([]string, len(cites))
			for i, c := range cites {
				quoted[i] = `"` + c + `"`
			}
			return `{"answer":"text","citations":[` + strings.Join(quoted, ",") + `],"confidence":` + strconv.FormatFloat(conf, 'f', -1, 64) + `}`
		}
		client := llm.NewScriptedClient(reply(cites, conf), reply(cites, conf))
		a := NewAnswerAgent(client, estimate, AnswerConfig{}, nil)

		ans, err := a.Answer(context.Background(), "q", ev)
		if err != nil {
			t.Fatalf("answer: %v", err)
		}
		if ans.Confidence < 0 || ans.Confidence > 1 {
			t.Fatalf("confidence %f out of bounds", ans.Confidence)
		}
		known := map[string]bool{}
		for _, e := range ev {
			known[e.ChunkID] = true
		}
		for _, c := range ans.Citations {
			if !known[c] {
				t.Fatalf("fabricated citation %s", c)
			}
		}
		for _, e := range ans.Evidence {
			if !known[e.ChunkID] {
				t.Fatalf("fabricated evidence %s", e.ChunkID)
			}
		}
		if ans.Degraded && (ans.Confidence != 0 || len(ans.Evidence) != len(ev)) {
			t.Fatalf("degraded answer must have zero confidence and all evidence")
		}
	})
}

