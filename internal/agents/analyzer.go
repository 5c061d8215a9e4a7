package agents

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docqa/internal/llm"
	"github.com/fyrsmithlabs/docqa/internal/logging"
	"github.com/fyrsmithlabs/docqa/internal/retrieval"
)

const analyzerSystemPrompt = `You are the query analyzer of a document question answering system.
Decide how retrieval should be done for the user's question. Never change the topic of the question and never introduce facts.

Intents: factual, reasoning, comparison, multi_hop.
Strategies: vector_only (paraphrased or conceptual questions), keyword_only (exact phrases, identifiers, codes), hybrid (everything else).
top_k is the number of evidence chunks to retrieve, between 1 and 20.
rewritten_query is optional: a clearer search query for the same question, or empty to reuse the question verbatim.

Respond with a single JSON object and nothing else:
{"intent": "...", "strategy": "...", "rewritten_query": "...", "top_k": 5}`

// planOutput is the JSON the analyzer model must produce. Intent is checked
// separately because an unknown intent maps to reasoning instead of failing.
type planOutput struct {
	Intent         string `json:"intent"`
	Strategy       string `json:"strategy" validate:"required,oneof=vector_only keyword_only hybrid"`
	RewrittenQuery string `json:"rewritten_query" validate:"max=2000"`
	TopK           *int   `json:"top_k"`
}

// AnalyzerConfig configures the query analyzer.
type AnalyzerConfig struct {
	DefaultTopK int
	Temperature float64
	MaxTokens   int
}

// Analyzer classifies questions into retrieval plans.
type Analyzer struct {
	client llm.Client
	cfg    AnalyzerConfig
	logger *logging.Logger
}

// NewAnalyzer creates an analyzer. A nil client selects the keyword
// heuristic.
func NewAnalyzer(client llm.Client, cfg AnalyzerConfig, logger *logging.Logger) *Analyzer {
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 5
	}
	cfg.DefaultTopK = clampTopK(cfg.DefaultTopK)
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 256
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Analyzer{client: client, cfg: cfg, logger: logger.Named("analyzer")}
}

// Analyze returns a valid plan for question. Invalid model output is retried
// once with a stricter instruction, then replaced by the fallback plan. Only
// context errors are returned.
func (a *Analyzer) Analyze(ctx context.Context, question string) (retrieval.Plan, error) {
	ctx, span := otel.Tracer("docqa.agents").Start(ctx, "analyzer.Analyze")
	defer span.End()

	question = strings.TrimSpace(question)
	if a.client == nil {
		plan := Heuristic(question, a.cfg.DefaultTopK)
		span.SetAttributes(attribute.String("source", string(plan.Source)))
		return plan, nil
	}

	prompt := "Question: " + question
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		req := llm.Request{
			Stage:       "analyze",
			System:      analyzerSystemPrompt,
			Prompt:      prompt,
			Temperature: a.cfg.Temperature,
			MaxTokens:   a.cfg.MaxTokens,
		}
		if attempt > 1 {
			req.Prompt = prompt + "\n\nYour previous response was rejected: " + lastErr.Error() +
				"\nReturn ONLY the JSON object with a valid strategy (vector_only, keyword_only or hybrid)."
		}

		raw, err := a.client.Complete(ctx, req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return retrieval.Plan{}, ctxErr
			}
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return retrieval.Plan{}, err
			}
			a.logger.Warn(ctx, "analyzer model call failed, using fallback plan", zap.Error(err))
			break
		}

		plan, verr := a.parse(raw, question, attempt)
		if verr == nil {
			span.SetAttributes(attribute.String("intent", string(plan.Intent)), attribute.Int("attempt", attempt))
			a.logger.Debug(ctx, "planned query",
				zap.String("intent", string(plan.Intent)),
				zap.String("strategy", string(plan.Strategy)),
				zap.Int("top_k", plan.TopK),
				zap.Bool("rewritten", plan.RewrittenQuery != ""))
			return plan, nil
		}
		lastErr = verr
		a.logger.Debug(ctx, "analyzer output rejected", zap.Int("attempt", attempt), zap.Error(verr))
	}

	span.SetAttributes(attribute.String("source", string(retrieval.SourceFallback)))
	return retrieval.FallbackPlan(a.cfg.DefaultTopK), nil
}

func (a *Analyzer) parse(raw, question string, attempt int) (retrieval.Plan, error) {
	var out planOutput
	if err := llm.DecodeJSON(raw, &out); err != nil {
		return retrieval.Plan{}, &SchemaValidationError{Stage: "analyze", Attempt: attempt, Problems: []string{err.Error()}}
	}
	out.Strategy = normalizeStrategy(out.Strategy)
	if err := validate.Struct(out); err != nil {
		return retrieval.Plan{}, &SchemaValidationError{Stage: "analyze", Attempt: attempt, Problems: problems(err)}
	}

	intent := retrieval.Intent(normalizeIntent(out.Intent))
	if !intent.Valid() {
		intent = retrieval.IntentReasoning
	}
	topK := a.cfg.DefaultTopK
	if out.TopK != nil {
		topK = clampTopK(*out.TopK)
	}
	return retrieval.Plan{
		Intent:         intent,
		Strategy:       retrieval.Strategy(out.Strategy),
		RewrittenQuery: cleanRewrite(out.RewrittenQuery, question),
		TopK:           topK,
		Source:         retrieval.SourceModel,
	}, nil
}

func normalizeStrategy(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "vector", "vector_only", "semantic":
		return string(retrieval.StrategyVectorOnly)
	case "bm25", "keyword", "keyword_only", "lexical":
		return string(retrieval.StrategyKeywordOnly)
	case "hybrid":
		return string(retrieval.StrategyHybrid)
	}
	return s
}

func normalizeIntent(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}

// cleanRewrite discards empty rewrites and rewrites equal to the question.
func cleanRewrite(rewrite, question string) string {
	rewrite = strings.TrimSpace(rewrite)
	if rewrite == "" || strings.EqualFold(rewrite, question) {
		return ""
	}
	return rewrite
}

func clampTopK(k int) int {
	return max(1, min(retrieval.MaxTopK, k))
}

var (
	comparisonCue = regexp.MustCompile(`\b(compare|compared|comparison|versus|vs\.?|difference|differences|differ)\b|which is better`)
	reasoningCue  = regexp.MustCompile(`\b(why|how|explain|cause|causes|reason|reasons)\b`)
	multiHopCue   = regexp.MustCompile(`\b(multi-step|multi-hop|multistep|multihop|chain)\b|and then`)
	quotedPhrase  = regexp.MustCompile(`"[^"]+"|'[^']+'|“[^”]+”`)
	identifier    = regexp.MustCompile(`^[A-Za-z]*[0-9_\-./#][A-Za-z0-9_\-./#]*$`)
)

// Heuristic plans without a model: keyword cues pick the intent, and very
// short lookups of quoted phrases or identifiers go to the keyword index.
func Heuristic(question string, topK int) retrieval.Plan {
	q := strings.ToLower(question)
	intent := retrieval.IntentFactual
	switch {
	case comparisonCue.MatchString(q):
		intent = retrieval.IntentComparison
	case multiHopCue.MatchString(q):
		intent = retrieval.IntentMultiHop
	case reasoningCue.MatchString(q):
		intent = retrieval.IntentReasoning
	}

	strategy := retrieval.StrategyHybrid
	words := strings.Fields(question)
	if len(words) > 0 && len(words) <= 4 {
		if quotedPhrase.MatchString(question) || hasIdentifier(words) {
			strategy = retrieval.StrategyKeywordOnly
		}
	}

	return retrieval.Plan{
		Intent:   intent,
		Strategy: strategy,
		TopK:     clampTopK(topK),
		Source:   retrieval.SourceHeuristic,
	}
}

func hasIdentifier(words []string) bool {
	for _, w := range words {
		w = strings.Trim(w, "?!,;:()")
		hasDigit := strings.ContainsAny(w, "0123456789")
		if len(w) >= 3 && (hasDigit || strings.ContainsAny(w, "_#")) && identifier.MatchString(w) {
			return true
		}
	}
	return false
}
