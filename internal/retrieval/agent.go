package retrieval

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/docqa/internal/keyword"
	"github.com/fyrsmithlabs/docqa/internal/logging"
	"github.com/fyrsmithlabs/docqa/internal/vectorstore"
)

// VectorIndex is the subset of vectorstore.Store used for retrieval.
type VectorIndex interface {
	Query(ctx context.Context, vector []float32, k int) ([]vectorstore.Result, error)
	Healthy(ctx context.Context) bool
}

// KeywordIndex is the subset of *keyword.Index used for retrieval.
type KeywordIndex interface {
	Query(ctx context.Context, text string, k int) ([]keyword.Result, error)
	Healthy() bool
}

// QueryEmbedder embeds query text.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// AgentConfig configures the retrieval agent.
type AgentConfig struct {
	TopK int
	// CandidateMultiplier is how many candidates per evidence slot each
	// index is asked for before merging.
	CandidateMultiplier int
}

// Agent runs plans against the indexes. It never calls a reasoning model.
type Agent struct {
	vector   VectorIndex
	keyword  KeywordIndex
	embedder QueryEmbedder
	merger   *Merger
	cfg      AgentConfig
	logger   *logging.Logger
	tracer   trace.Tracer
}

// NewAgent wires the retrieval agent.
func NewAgent(vector VectorIndex, kw KeywordIndex, embedder QueryEmbedder, merger *Merger, cfg AgentConfig, logger *logging.Logger) *Agent {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.CandidateMultiplier <= 0 {
		cfg.CandidateMultiplier = 4
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Agent{
		vector:   vector,
		keyword:  kw,
		embedder: embedder,
		merger:   merger,
		cfg:      cfg,
		logger:   logger.Named("retrieval"),
		tracer:   otel.Tracer("docqa.retrieval"),
	}
}

// Result is the retrieval output.
type Result struct {
	Evidence    []Evidence  `json:"evidence"`
	Diagnostics Diagnostics `json:"diagnostics"`
}

// Retrieve executes plan for question and returns up to k evidence items.
// k <= 0 uses the plan's top_k, then the configured default. No matches is
// not an error.
func (a *Agent) Retrieve(ctx context.Context, plan Plan, question string, k int) (*Result, error) {
	query := strings.TrimSpace(plan.Query(question))
	strategy := plan.Strategy
	if !strategy.Valid() {
		strategy = StrategyHybrid
	}
	if k <= 0 {
		k = plan.TopK
	}
	if k <= 0 {
		k = a.cfg.TopK
	}

	ctx, span := a.tracer.Start(ctx, "retrieval.Retrieve", trace.WithAttributes(
		attribute.String("strategy", string(strategy)),
		attribute.Int("k", k),
	))
	defer span.End()

	diag := newDiagnostics(strategy, query)
	if query == "" {
		diag.Note("empty query")
		diag.MergeWeights = a.merger.WeightsFor(strategy)
		return &Result{Evidence: []Evidence{}, Diagnostics: diag}, nil
	}
	fetch := k * a.cfg.CandidateMultiplier

	runV := strategy != StrategyKeywordOnly
	runK := strategy != StrategyVectorOnly
	vres, kres, verr, kerr := a.run(ctx, query, fetch, runV, runK)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// A single-index strategy falls back to the other index when its own
	// index fails and the other one is healthy.
	switch {
	case strategy == StrategyVectorOnly && verr != nil && a.keyword != nil && a.keyword.Healthy():
		diag.Note("vector index unavailable, fell back to keyword index: %v", verr)
		_, kres, _, kerr = a.run(ctx, query, fetch, false, true)
		if kerr == nil {
			strategy = StrategyKeywordOnly
		}
	case strategy == StrategyKeywordOnly && kerr != nil && a.vector != nil && a.vector.Healthy(ctx):
		diag.Note("keyword index unavailable, fell back to vector index: %v", kerr)
		vres, _, verr, _ = a.run(ctx, query, fetch, true, false)
		if verr == nil {
			strategy = StrategyVectorOnly
		}
	case strategy == StrategyHybrid && verr != nil && kerr == nil:
		diag.Note("vector index unavailable, using keyword results only: %v", verr)
		strategy = StrategyKeywordOnly
	case strategy == StrategyHybrid && kerr != nil && verr == nil:
		diag.Note("keyword index unavailable, using vector results only: %v", kerr)
		strategy = StrategyVectorOnly
	}

	usable := (strategy == StrategyHybrid && verr == nil && kerr == nil) ||
		(strategy == StrategyVectorOnly && verr == nil) ||
		(strategy == StrategyKeywordOnly && kerr == nil)
	if !usable {
		err := errors.Join(ErrIndexUnavailable, verr, kerr)
		span.RecordError(err)
		a.logger.Warn(ctx, "no index could serve the query", zap.Error(err))
		return nil, err
	}
	diag.StrategyUsed = strategy

	if strategy == StrategyKeywordOnly {
		vres = nil
	}
	if strategy == StrategyVectorOnly {
		kres = nil
	}

	evidence, err := a.merger.Merge(ctx, vres, kres, strategy, k, &diag)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("evidence", len(evidence)), attribute.String("strategy_used", string(strategy)))
	a.logger.Debug(ctx, "retrieved evidence",
		zap.String("strategy_used", string(strategy)),
		zap.Int("vector_candidates", len(vres)),
		zap.Int("keyword_candidates", len(kres)),
		zap.Int("evidence", len(evidence)))
	return &Result{Evidence: evidence, Diagnostics: diag}, nil
}

// run queries the selected indexes concurrently. Index errors are returned
// separately rather than failing the group.
func (a *Agent) run(ctx context.Context, query string, fetch int, runV, runK bool) (vres, kres []Scored, verr, kerr error) {
	var g errgroup.Group
	if runV {
		g.Go(func() error {
			vres, verr = a.queryVector(ctx, query, fetch)
			return nil
		})
	}
	if runK {
		g.Go(func() error {
			kres, kerr = a.queryKeyword(ctx, query, fetch)
			return nil
		})
	}
	_ = g.Wait()
	return vres, kres, verr, kerr
}

func (a *Agent) queryVector(ctx context.Context, query string, fetch int) ([]Scored, error) {
	if a.vector == nil || a.embedder == nil {
		return nil, vectorstore.ErrIndexUnavailable
	}
	vec, err := a.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, errors.Join(vectorstore.ErrIndexUnavailable, err)
	}
	hits, err := a.vector.Query(ctx, vec, fetch)
	if err != nil {
		return nil, err
	}
	out := make([]Scored, len(hits))
	for i, h := range hits {
		out[i] = Scored{ChunkID: h.ChunkID, Score: h.Similarity}
	}
	return out, nil
}

func (a *Agent) queryKeyword(ctx context.Context, query string, fetch int) ([]Scored, error) {
	if a.keyword == nil {
		return nil, keyword.ErrIndexUnavailable
	}
	hits, err := a.keyword.Query(ctx, query, fetch)
	if err != nil {
		return nil, err
	}
	out := make([]Scored, len(hits))
	for i, h := range hits {
		out[i] = Scored{ChunkID: h.ChunkID, Score: h.Score}
	}
	return out, nil
}
