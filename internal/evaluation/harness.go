// Package evaluation replays a labeled question set through the question
// pipeline and reports answer quality.
//
// Per question the harness records latency, the embedding similarity of
// the generated answer to the expected one, retrieval precision and recall
// against the labeled sources, and whether the answer hallucinates. An
// answer hallucinates when one of its claim sentences is not supported by
// any cited evidence passage, or when it cites nothing yet reports
// confidence above zero. Metrics that cannot be computed are reported as
// "n/a".
package evaluation

import (
	"context"
	"math"
	"regexp"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/docqa/internal/agents"
	"github.com/fyrsmithlabs/docqa/internal/embeddings"
	"github.com/fyrsmithlabs/docqa/internal/logging"
	"github.com/fyrsmithlabs/docqa/internal/orchestrator"
	"github.com/fyrsmithlabs/docqa/internal/retrieval"
)

// DefaultHallucinationThreshold is the minimum similarity between a claim
// and its best supporting passage.
const DefaultHallucinationThreshold = 0.5

// Asker answers one question.
type Asker interface {
	Ask(ctx context.Context, question string) (*orchestrator.Response, error)
}

// Config controls a harness.
type Config struct {
	HallucinationThreshold float64
	Concurrency            int
}

// Record is the outcome for one labeled question.
type Record struct {
	Question            string   `json:"question"`
	ExpectedAnswer      string   `json:"expected_answer"`
	Answer              string   `json:"answer"`
	Mode                string   `json:"mode,omitempty"`
	Confidence          float64  `json:"confidence"`
	RetrievedSources    []string `json:"retrieved_sources"`
	LatencyS            float64  `json:"latency_s"`
	EmbeddingSimilarity Value    `json:"embedding_similarity"`
	RetrievalPrecision  Value    `json:"retrieval_precision"`
	RetrievalRecall     Value    `json:"retrieval_recall"`
	Hallucinated        bool     `json:"hallucinated"`
	UnsupportedClaims   []string `json:"unsupported_claims,omitempty"`
	Error               string   `json:"error,omitempty"`

	answered bool
}

// LatencyStats summarizes latency in seconds.
type LatencyStats struct {
	Avg Value `json:"avg"`
	Min Value `json:"min"`
	Max Value `json:"max"`
}

// SimilarityStats summarizes answer similarity.
type SimilarityStats struct {
	Mean Value `json:"mean"`
}

// Summary aggregates a run.
type Summary struct {
	HallucinationRate   Value           `json:"hallucination_rate"`
	Latency             LatencyStats    `json:"latency"`
	EmbeddingSimilarity SimilarityStats `json:"embedding_similarity"`
	RetrievalPrecision  Value           `json:"retrieval_precision"`
	RetrievalRecall     Value           `json:"retrieval_recall"`
	NumQuestions        int             `json:"num_questions"`
}

// EmptySummary is reported when there is nothing to evaluate.
func EmptySummary() Summary {
	return Summary{}
}

// Report is a summary plus the per-question records, in label order.
type Report struct {
	Summary
	Records []Record `json:"records"`
}

// Harness replays labels through an Asker.
type Harness struct {
	asker    Asker
	embedder embeddings.Embedder
	cfg      Config
	logger   *logging.Logger
}

// NewHarness creates a harness. The embedder scores answer similarity and
// claim support; without one those metrics are "n/a" and hallucination
// falls back to the citation check alone.
func NewHarness(asker Asker, embedder embeddings.Embedder, cfg Config, logger *logging.Logger) *Harness {
	if cfg.HallucinationThreshold <= 0 {
		cfg.HallucinationThreshold = DefaultHallucinationThreshold
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Harness{asker: asker, embedder: embedder, cfg: cfg, logger: logger.Named("evaluation")}
}

// Run evaluates every label. Questions run sequentially unless Concurrency
// is above one; records keep label order either way. A failing question is
// recorded, not returned; only cancellation aborts the run.
func (h *Harness) Run(ctx context.Context, labels []Label) (*Report, error) {
	ctx, span := otel.Tracer("docqa.evaluation").Start(ctx, "evaluation.Run")
	defer span.End()
	span.SetAttributes(attribute.Int("questions", len(labels)), attribute.Int("concurrency", h.cfg.Concurrency))

	if len(labels) == 0 {
		Runs.WithLabelValues("empty").Inc()
		return &Report{Summary: EmptySummary(), Records: []Record{}}, nil
	}

	records := make([]Record, len(labels))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.cfg.Concurrency)
	for i, label := range labels {
		g.Go(func() error {
			rec, err := h.evaluate(gctx, label)
			if err != nil {
				return err
			}
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		Runs.WithLabelValues("canceled").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	report := &Report{Summary: Summarize(records), Records: records}
	Runs.WithLabelValues("ok").Inc()
	if rate, ok := report.HallucinationRate.Get(); ok {
		HallucinationRate.Set(rate)
	}
	h.logger.Info(ctx, "evaluation finished",
		zap.Int("questions", report.NumQuestions),
		zap.Stringer("hallucination_rate", report.HallucinationRate),
		zap.Stringer("precision", report.RetrievalPrecision),
		zap.Stringer("recall", report.RetrievalRecall))
	return report, nil
}

func (h *Harness) evaluate(ctx context.Context, label Label) (Record, error) {
	rec := Record{
		Question:            label.Question,
		ExpectedAnswer:      label.ExpectedAnswer,
		RetrievedSources:    []string{},
		EmbeddingSimilarity: NA,
		RetrievalPrecision:  NA,
		RetrievalRecall:     NA,
	}

	start := time.Now()
	resp, err := h.asker.Ask(ctx, label.Question)
	elapsed := time.Since(start)
	rec.LatencyS = elapsed.Seconds()
	QuestionLatency.Observe(rec.LatencyS)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return rec, ctxErr
		}
		rec.Error = err.Error()
		h.logger.Warn(ctx, "evaluation question failed", zap.String("question", label.Question), zap.Error(err))
	}
	if resp == nil {
		return rec, nil
	}

	evidence := resp.Evidence()
	for _, e := range evidence {
		rec.RetrievedSources = append(rec.RetrievedSources, e.ChunkID)
	}
	rec.RetrievalPrecision, rec.RetrievalRecall = PrecisionRecall(evidence, label.RelevantSources)

	if resp.Answer == nil {
		return rec, nil
	}
	rec.answered = true
	rec.Answer = resp.Answer.Text
	rec.Mode = string(resp.Answer.Mode)
	rec.Confidence = resp.Answer.Confidence
	rec.EmbeddingSimilarity = h.similarity(ctx, rec.Answer, label.ExpectedAnswer)

	unsupported, hallucinated := h.hallucinations(ctx, resp.Answer)
	rec.Hallucinated = hallucinated
	rec.UnsupportedClaims = unsupported
	return rec, nil
}

func (h *Harness) similarity(ctx context.Context, actual, expected string) Value {
	if h.embedder == nil || strings.TrimSpace(actual) == "" || strings.TrimSpace(expected) == "" {
		return NA
	}
	vecs, err := h.embedder.EmbedDocuments(ctx, []string{actual, expected})
	if err != nil || len(vecs) != 2 {
		h.logger.Debug(ctx, "similarity unavailable", zap.Error(err))
		return NA
	}
	return Of(embeddings.Cosine(vecs[0], vecs[1]))
}

// hallucinations returns the claims no cited passage supports and whether
// the answer counts as hallucinated.
func (h *Harness) hallucinations(ctx context.Context, ans *agents.Answer) ([]string, bool) {
	if len(ans.Citations) == 0 {
		return nil, ans.Confidence > 0
	}
	if ans.Degraded || h.embedder == nil {
		return nil, false
	}

	cited := make(map[string]bool, len(ans.Citations))
	for _, id := range ans.Citations {
		cited[id] = true
	}
	var passages []string
	for _, e := range ans.Evidence {
		if cited[e.ChunkID] && strings.TrimSpace(e.Text) != "" {
			passages = append(passages, e.Text)
		}
	}
	claims := Claims(ans.Text)
	if len(claims) == 0 {
		return nil, false
	}
	if len(passages) == 0 {
		return claims, true
	}

	vecs, err := h.embedder.EmbedDocuments(ctx, append(slices.Clone(claims), passages...))
	if err != nil {
		h.logger.Debug(ctx, "claim support unavailable", zap.Error(err))
		return nil, false
	}
	claimVecs, passageVecs := vecs[:len(claims)], vecs[len(claims):]

	var unsupported []string
	for i, cv := range claimVecs {
		best := math.Inf(-1)
		for _, pv := range passageVecs {
			best = max(best, embeddings.Cosine(cv, pv))
		}
		if best < h.cfg.HallucinationThreshold {
			unsupported = append(unsupported, claims[i])
		}
	}
	return unsupported, len(unsupported) > 0
}

var (
	citationMarker = regexp.MustCompile(`\[[^\]]*\]`)
	sentenceEnd    = regexp.MustCompile(`[.!?]+(\s+|$)`)
)

// Claims splits an answer into sentences with citation markers removed.
// Fragments shorter than three words are not treated as claims.
func Claims(text string) []string {
	text = citationMarker.ReplaceAllString(text, " ")
	var claims []string
	for _, s := range sentenceEnd.Split(text, -1) {
		s = strings.Join(strings.Fields(s), " ")
		if len(strings.Fields(s)) >= 3 {
			claims = append(claims, s)
		}
	}
	return claims
}

// PrecisionRecall scores retrieved evidence against labeled sources. A
// label matches an evidence item by chunk id, document id or source name.
// Both are "n/a" when the label lists no sources.
func PrecisionRecall(evidence []retrieval.Evidence, relevant []string) (precision, recall Value) {
	if len(relevant) == 0 {
		return NA, NA
	}
	if len(evidence) == 0 {
		return Of(0), Of(0)
	}

	hit := 0
	for _, e := range evidence {
		for _, r := range relevant {
			if matches(e, r) {
				hit++
				break
			}
		}
	}
	found := 0
	for _, r := range relevant {
		for _, e := range evidence {
			if matches(e, r) {
				found++
				break
			}
		}
	}
	return Of(float64(hit) / float64(len(evidence))), Of(float64(found) / float64(len(relevant)))
}

func matches(e retrieval.Evidence, label string) bool {
	label = strings.TrimSpace(label)
	if label == "" {
		return false
	}
	return label == e.ChunkID || label == e.DocumentID || strings.EqualFold(label, e.Source)
}

// Summarize aggregates records. Hallucination rate counts only questions
// that produced an answer.
func Summarize(records []Record) Summary {
	if len(records) == 0 {
		return EmptySummary()
	}
	s := Summary{NumQuestions: len(records)}

	var sum float64
	lo, hi := math.Inf(1), math.Inf(-1)
	var sims, precisions, recalls []Value
	answered, hallucinated := 0, 0
	for _, r := range records {
		sum += r.LatencyS
		lo = min(lo, r.LatencyS)
		hi = max(hi, r.LatencyS)
		sims = append(sims, r.EmbeddingSimilarity)
		precisions = append(precisions, r.RetrievalPrecision)
		recalls = append(recalls, r.RetrievalRecall)
		if r.answered || r.Answer != "" {
			answered++
			if r.Hallucinated {
				hallucinated++
			}
		}
	}
	s.Latency = LatencyStats{Avg: Of(sum / float64(len(records))), Min: Of(lo), Max: Of(hi)}
	s.EmbeddingSimilarity.Mean = mean(sims)
	s.RetrievalPrecision = mean(precisions)
	s.RetrievalRecall = mean(recalls)
	s.HallucinationRate = NA
	if answered > 0 {
		s.HallucinationRate = Of(float64(hallucinated) / float64(answered))
	}
	return s
}
