package orchestrator

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/docqa/internal/agents"
	"github.com/fyrsmithlabs/docqa/internal/chunker"
	"github.com/fyrsmithlabs/docqa/internal/corpus"
	"github.com/fyrsmithlabs/docqa/internal/document"
	"github.com/fyrsmithlabs/docqa/internal/embeddings"
	"github.com/fyrsmithlabs/docqa/internal/keyword"
	"github.com/fyrsmithlabs/docqa/internal/llm"
	"github.com/fyrsmithlabs/docqa/internal/logging"
	"github.com/fyrsmithlabs/docqa/internal/retrieval"
	"github.com/fyrsmithlabs/docqa/internal/vectorstore"
)

// MockPlanner is a mock implementation of Planner
type MockPlanner struct {
	mock.Mock
}

func (m *MockPlanner) Analyze(ctx context.Context, question string) (retrieval.Plan, error) {
	args := m.Called(ctx, question)
	return args.Get(0).(retrieval.Plan), args.Error(1)
}

// funcHandler adapts a function to PhaseHandler and counts calls.
type funcHandler struct {
	phase Phase
	calls atomic.Int32
	fn    func(ctx context.Context, call int, resp *Response) (Output, error)
}

func (h *funcHandler) Phase() Phase { return h.phase }

func (h *funcHandler) Execute(ctx context.Context, resp *Response) (Output, error) {
	n := int(h.calls.Add(1))
	return h.fn(ctx, n, resp)
}

// stuck ignores its context, like a model call that cannot be canceled.
func stuck(d time.Duration) {
	time.Sleep(d)
}

type pipeline struct {
	corpus   *corpus.MemoryStore
	keyword  *keyword.Index
	vector   *vectorstore.ChromemStore
	embedder *embeddings.HashEmbedder
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	embedder := embeddings.NewHashEmbedder(embeddings.DefaultHashDimension)
	vs, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{Dimension: embedder.Dimension()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = vs.Close() })
	return &pipeline{corpus: corpus.NewMemoryStore(), keyword: keyword.New(), vector: vs, embedder: embedder}
}

func (p *pipeline) ingest(t *testing.T, name string, pages ...string) {
	t.Helper()
	ctx := context.Background()
	ps := make([]document.Page, len(pages))
	for i, text := range pages {
		ps[i] = document.Page{Number: i + 1, Text: text}
	}
	doc, err := document.New(name, "text/markdown", ps)
	require.NoError(t, err)
	chunks, err := chunker.New(chunker.DefaultConfig()).Chunk(doc)
	require.NoError(t, err)
	require.NoError(t, p.corpus.PutDocument(ctx, corpus.RecordFor(doc, chunks), chunks))
	require.NoError(t, p.keyword.Index(chunks))

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := p.embedder.EmbedDocuments(ctx, texts)
	require.NoError(t, err)
	records := make([]vectorstore.Record, len(chunks))
	for i, c := range chunks {
		records[i] = vectorstore.Record{ChunkID: c.ID, Vector: vecs[i], Metadata: c.Metadata()}
	}
	require.NoError(t, p.vector.Upsert(ctx, records))
}

func (p *pipeline) retriever() *retrieval.Agent {
	return retrieval.NewAgent(p.vector, p.keyword, p.embedder,
		retrieval.NewMerger(retrieval.DefaultMergerConfig(), p.corpus), retrieval.AgentConfig{}, nil)
}

func (p *pipeline) executor(cfg Config, client llm.Client) *Executor {
	tok := llm.NewTokenizer(llm.EstimateEncoding)
	return New(cfg,
		agents.NewAnalyzer(client, agents.AnalyzerConfig{}, nil),
		p.retriever(),
		agents.NewAnswerAgent(client, tok, agents.AnswerConfig{}, nil),
		p.corpus, nil)
}

func contract(t *testing.T, p *pipeline) {
	p.ingest(t, "contract.md",
		"# Introduction\n\nThis agreement describes the services provided by Acme to Globex in detail.",
		"# Payment Terms\n\nInvoices are payable within thirty days of receipt by the customer.",
		"# Termination\n\nTermination requires ninety days written notice from either party.",
		"# Confidentiality\n\nEach party keeps the other party's information confidential for five years.",
	)
}

func TestExecutor_EndToEnd(t *testing.T) {
	p := newPipeline(t)
	contract(t, p)
	exec := p.executor(DefaultConfig(), nil)

	var mu sync.Mutex
	var progress []PhaseProgress
	exec.OnProgress(func(pp PhaseProgress) {
		mu.Lock()
		defer mu.Unlock()
		progress = append(progress, pp)
	})

	resp, err := exec.Ask(context.Background(), "What is the termination clause?")
	require.NoError(t, err)
	require.NotNil(t, resp.Plan)
	assert.Equal(t, retrieval.SourceHeuristic, resp.Plan.Source)
	require.NotNil(t, resp.Retrieval)
	require.NotEmpty(t, resp.Evidence())
	assert.LessOrEqual(t, len(resp.Evidence()), resp.Plan.TopK)

	require.NotNil(t, resp.Answer)
	assert.Equal(t, agents.ModeExtractive, resp.Answer.Mode)
	assert.False(t, resp.Answer.Degraded)
	assert.Greater(t, resp.Answer.Confidence, 0.0)
	assert.LessOrEqual(t, resp.Answer.Confidence, 1.0)
	assert.NotEmpty(t, resp.RequestID)

	require.Len(t, resp.Phases, 3)
	for i, phase := range AllPhases() {
		assert.Equal(t, phase, resp.Phases[i].Phase)
		assert.Equal(t, StatusCompleted, resp.Phases[i].Status)
		assert.Equal(t, 1, resp.Phases[i].Attempts)
	}
	assert.Empty(t, resp.Violations)

	require.Len(t, progress, 6)
	assert.Equal(t, 0, progress[0].Percentage)
	assert.Equal(t, 100, progress[5].Percentage)
	assert.Equal(t, StatusCompleted, progress[5].Status)
}

var promptID = regexp.MustCompile(`\[([^\]]+)\] \(source`)

func TestExecutor_ModelPipeline(t *testing.T) {
	p := newPipeline(t)
	contract(t, p)

	client := llm.NewScriptedClient()
	client.Respond = func(req llm.Request) llm.Reply {
		if req.Stage == "analyze" {
			return llm.Reply{Text: `{"intent":"factual","strategy":"hybrid","rewritten_query":"termination notice period","top_k":3}`}
		}
		m := promptID.FindStringSubmatch(req.Prompt)
		if m == nil {
			return llm.Reply{Text: "no evidence"}
		}
		return llm.Reply{Text: `{"answer":"Ninety days written notice.","citations":["` + m[1] + `"],"confidence":0.9}`}
	}
	exec := p.executor(DefaultConfig(), client)

	resp, err := exec.Ask(context.Background(), "How much notice is needed to terminate?")
	require.NoError(t, err)
	assert.Equal(t, retrieval.SourceModel, resp.Plan.Source)
	assert.Equal(t, 3, resp.Plan.TopK)
	assert.Equal(t, "termination notice period", resp.Retrieval.Diagnostics.QueryUsed)
	require.NotEmpty(t, resp.Evidence())
	assert.LessOrEqual(t, len(resp.Evidence()), 3)

	assert.Equal(t, agents.ModeModel, resp.Answer.Mode)
	assert.InDelta(t, 0.9, resp.Answer.Confidence, 1e-9)
	assert.Equal(t, []string{resp.Evidence()[0].ChunkID}, resp.Answer.Citations)
	assert.Empty(t, resp.Violations)
	assert.Len(t, client.Requests(), 2)
}

func TestExecutor_EmptyIndex(t *testing.T) {
	p := newPipeline(t)
	exec := p.executor(DefaultConfig(), nil)

	resp, err := exec.Ask(context.Background(), "What is the notice period?")
	require.NoError(t, err)
	assert.Empty(t, resp.Evidence())
	assert.NotNil(t, resp.Answer.Evidence)
	assert.Empty(t, resp.Answer.Evidence)
	assert.Equal(t, 0.0, resp.Answer.Confidence)
	assert.Equal(t, agents.ModeInsufficient, resp.Answer.Mode)
}

func TestExecutor_EmptyQuestion(t *testing.T) {
	exec := NewExecutor(DefaultConfig(), nil)
	resp, err := exec.Ask(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyQuestion)
	assert.Nil(t, resp)
}

func TestExecutor_MissingHandler(t *testing.T) {
	planner := &MockPlanner{}
	planner.On("Analyze", mock.Anything, "q").Return(retrieval.FallbackPlan(5), nil)

	exec := NewExecutor(DefaultConfig(), nil)
	exec.RegisterHandler(NewAnalyzeHandler(planner))

	resp, err := exec.Ask(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no handler registered for phase retrieve")
	require.NotNil(t, resp)
	assert.True(t, resp.Answer.Degraded)
	planner.AssertExpectations(t)
}

func staticPlan() *funcHandler {
	return &funcHandler{phase: PhaseAnalyze, fn: func(context.Context, int, *Response) (Output, error) {
		plan := retrieval.Plan{Intent: retrieval.IntentFactual, Strategy: retrieval.StrategyHybrid, TopK: 2, Source: retrieval.SourceModel}
		return Output{Plan: &plan}, nil
	}}
}

func staticEvidence(ids ...string) *funcHandler {
	return &funcHandler{phase: PhaseRetrieve, fn: func(context.Context, int, *Response) (Output, error) {
		ev := make([]retrieval.Evidence, len(ids))
		for i, id := range ids {
			ev[i] = retrieval.Evidence{ChunkID: id, Score: 0.5, Text: "text " + id}
		}
		return Output{Retrieval: &retrieval.Result{Evidence: ev, Diagnostics: retrieval.Diagnostics{Notes: []string{"static"}}}}, nil
	}}
}

func citing(id string, conf float64) *funcHandler {
	return &funcHandler{phase: PhaseAnswer, fn: func(_ context.Context, _ int, resp *Response) (Output, error) {
		return Output{Answer: &agents.Answer{
			Text:       "answer",
			Evidence:   resp.Evidence(),
			Citations:  []string{id},
			Confidence: conf,
			Mode:       agents.ModeModel,
		}}, nil
	}}
}

func build(cfg Config, handlers ...PhaseHandler) *Executor {
	exec := NewExecutor(cfg, nil)
	for _, h := range handlers {
		exec.RegisterHandler(h)
	}
	exec.RegisterDefaultGates(nil)
	return exec
}

func TestExecutor_StageTimeoutRetried(t *testing.T) {
	slowOnce := &funcHandler{phase: PhaseAnswer, fn: func(_ context.Context, call int, resp *Response) (Output, error) {
		if call == 1 {
			stuck(200 * time.Millisecond)
		}
		return citing("a:00000", 0.7).fn(context.Background(), call, resp)
	}}
	exec := build(Config{StageTimeout: 30 * time.Millisecond, RequestTimeout: 5 * time.Second, StageRetries: 1},
		staticPlan(), staticEvidence("a:00000"), slowOnce)

	resp, err := exec.Ask(context.Background(), "q")
	require.NoError(t, err)
	assert.False(t, resp.Answer.Degraded)
	assert.InDelta(t, 0.7, resp.Answer.Confidence, 1e-9)

	res, ok := resp.Result(PhaseAnswer)
	require.True(t, ok)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, StatusCompleted, res.Status)
}

func TestExecutor_AnswerTimesOutTwice(t *testing.T) {
	slow := &funcHandler{phase: PhaseAnswer, fn: func(ctx context.Context, _ int, _ *Response) (Output, error) {
		<-ctx.Done()
		return Output{}, ctx.Err()
	}}
	exec := build(Config{StageTimeout: 20 * time.Millisecond, RequestTimeout: 5 * time.Second, StageRetries: 1},
		staticPlan(), staticEvidence("a:00000", "b:00001"), slow)

	resp, err := exec.Ask(context.Background(), "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Partial results survive.
	require.NotNil(t, resp.Plan)
	require.NotNil(t, resp.Retrieval)
	assert.Equal(t, []string{"static"}, resp.Retrieval.Diagnostics.Notes)

	require.NotNil(t, resp.Answer)
	assert.True(t, resp.Answer.Degraded)
	assert.Equal(t, 0.0, resp.Answer.Confidence)
	assert.Len(t, resp.Answer.Evidence, 2)
	require.NotEmpty(t, resp.Answer.Notes)
	assert.Contains(t, resp.Answer.Notes[0], "stage timeout during answer phase")

	res, _ := resp.Result(PhaseAnswer)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 2, res.Attempts)
	assert.NotEmpty(t, res.Error)
	assert.Equal(t, int32(2), slow.calls.Load())
}

func TestExecutor_RequestTimeout(t *testing.T) {
	blocked := &funcHandler{phase: PhaseRetrieve, fn: func(context.Context, int, *Response) (Output, error) {
		stuck(300 * time.Millisecond)
		return Output{Retrieval: &retrieval.Result{Evidence: []retrieval.Evidence{}}}, nil
	}}
	exec := build(Config{StageTimeout: time.Second, RequestTimeout: 50 * time.Millisecond, StageRetries: 1},
		staticPlan(), blocked, citing("a:00000", 0.5))

	start := time.Now()
	resp, err := exec.Ask(context.Background(), "q")
	assert.Less(t, time.Since(start), 250*time.Millisecond, "abandoned call must not be awaited")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamTimeout)
	assert.NotNil(t, resp.Plan)
	assert.Nil(t, resp.Retrieval)
	assert.True(t, resp.Answer.Degraded)
	assert.Contains(t, resp.Answer.Notes[0], "request timeout")

	ret, _ := resp.Result(PhaseRetrieve)
	assert.Equal(t, 1, ret.Attempts, "no retry once the request deadline passed")
	ans, ok := resp.Result(PhaseAnswer)
	require.True(t, ok)
	assert.Equal(t, StatusSkipped, ans.Status)
}

func TestExecutor_AnalyzeTimeoutUsesFallbackPlan(t *testing.T) {
	slow := &funcHandler{phase: PhaseAnalyze, fn: func(ctx context.Context, _ int, _ *Response) (Output, error) {
		<-ctx.Done()
		return Output{}, ctx.Err()
	}}
	exec := build(Config{StageTimeout: 10 * time.Millisecond, RequestTimeout: 5 * time.Second, DefaultTopK: 4},
		slow, staticEvidence("a:00000"), citing("a:00000", 0.6))

	resp, err := exec.Ask(context.Background(), "q")
	require.NoError(t, err)
	require.NotNil(t, resp.Plan)
	assert.Equal(t, retrieval.FallbackPlan(4), *resp.Plan)
	res, _ := resp.Result(PhaseAnalyze)
	assert.Equal(t, StatusDegraded, res.Status)
	assert.False(t, resp.Answer.Degraded)
}

func TestExecutor_IndexUnavailable(t *testing.T) {
	down := &funcHandler{phase: PhaseRetrieve, fn: func(context.Context, int, *Response) (Output, error) {
		return Output{}, errors.Join(retrieval.ErrIndexUnavailable, vectorstore.ErrIndexUnavailable)
	}}
	exec := build(DefaultConfig(), staticPlan(), down, citing("a:00000", 0.5))

	resp, err := exec.Ask(context.Background(), "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, retrieval.ErrIndexUnavailable)
	assert.NotErrorIs(t, err, ErrUpstreamTimeout)
	assert.True(t, resp.Answer.Degraded)
	assert.Equal(t, int32(1), down.calls.Load(), "permanent failures are not retried")
}

func TestExecutor_TransientErrorRetried(t *testing.T) {
	flaky := &funcHandler{phase: PhaseRetrieve, fn: func(ctx context.Context, call int, resp *Response) (Output, error) {
		if call == 1 {
			return Output{}, errors.New("upstream returned 503")
		}
		return staticEvidence("a:00000").fn(ctx, call, resp)
	}}
	exec := build(DefaultConfig(), staticPlan(), flaky, citing("a:00000", 0.5))

	resp, err := exec.Ask(context.Background(), "q")
	require.NoError(t, err)
	res, _ := resp.Result(PhaseRetrieve)
	assert.Equal(t, 2, res.Attempts)
}

func TestExecutor_HandlerPanic(t *testing.T) {
	boom := &funcHandler{phase: PhaseRetrieve, fn: func(context.Context, int, *Response) (Output, error) {
		panic("index corrupted")
	}}
	exec := build(DefaultConfig(), staticPlan(), boom, citing("a:00000", 0.5))

	resp, err := exec.Ask(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.True(t, resp.Answer.Degraded)
}

func TestExecutor_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancelling := &funcHandler{phase: PhaseRetrieve, fn: func(ctx context.Context, _ int, _ *Response) (Output, error) {
		cancel()
		<-ctx.Done()
		return Output{}, ctx.Err()
	}}
	exec := build(DefaultConfig(), staticPlan(), cancelling, citing("a:00000", 0.5))

	resp, err := exec.Ask(ctx, "q")
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, resp.Answer.Degraded)
}

func TestExecutor_RequestIDFromContext(t *testing.T) {
	exec := build(DefaultConfig(), staticPlan(), staticEvidence("a:00000"), citing("a:00000", 0.5))
	ctx := logging.WithRequestID(context.Background(), "req-42")

	resp, err := exec.Ask(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, "req-42", resp.RequestID)
}

func TestExecutor_LogsOutcome(t *testing.T) {
	logs := logging.NewCapture()
	exec := NewExecutor(DefaultConfig(), logs.Logger)
	exec.RegisterHandler(staticPlan())
	exec.RegisterHandler(staticEvidence("a:00000"))
	exec.RegisterHandler(citing("a:00000", 0.5))

	_, err := exec.Ask(context.Background(), "q")
	require.NoError(t, err)
	assert.True(t, logs.Logged(zapcore.InfoLevel, "question answered"))
	outcome, _ := logs.Field("question answered", "outcome")
	assert.Equal(t, "ok", outcome)
}
