package agents

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docqa/internal/llm"
	"github.com/fyrsmithlabs/docqa/internal/logging"
	"github.com/fyrsmithlabs/docqa/internal/retrieval"
)

// Mode records how an Answer was produced.
type Mode string

const (
	ModeModel        Mode = "model"
	ModeExtractive   Mode = "extractive"
	ModeInsufficient Mode = "insufficient_evidence"
	ModeDegraded     Mode = "degraded"
)

const (
	insufficientText = "Insufficient evidence: no relevant passages were found in the indexed documents."
	degradedText     = "The answer could not be grounded in the retrieved evidence. The evidence is attached for review."
)

// Answer is the final, evidence-grounded response.
type Answer struct {
	Text               string               `json:"answer_text"`
	Evidence           []retrieval.Evidence `json:"evidence"`
	Citations          []string             `json:"citations"`
	Confidence         float64              `json:"confidence"`
	Contradictions     []retrieval.Pair     `json:"contradictions"`
	MissingInformation string               `json:"missing_information,omitempty"`
	Degraded           bool                 `json:"degraded"`
	Mode               Mode                 `json:"mode"`
	Notes              []string             `json:"notes,omitempty"`
}

// Degraded builds a confidence-0 answer carrying evidence unmodified.
func Degraded(reason string, evidence []retrieval.Evidence) *Answer {
	if evidence == nil {
		evidence = []retrieval.Evidence{}
	}
	a := &Answer{
		Text:           degradedText,
		Evidence:       evidence,
		Citations:      []string{},
		Contradictions: []retrieval.Pair{},
		Degraded:       true,
		Mode:           ModeDegraded,
	}
	if reason != "" {
		a.Notes = []string{reason}
	}
	return a
}

// Insufficient is the answer for an empty evidence set.
func Insufficient() *Answer {
	return &Answer{
		Text:               insufficientText,
		Evidence:           []retrieval.Evidence{},
		Citations:          []string{},
		Contradictions:     []retrieval.Pair{},
		MissingInformation: "No matching passages; try a broader question or upload more documents.",
		Mode:               ModeInsufficient,
	}
}

// answerOutput is the JSON the answer model must produce.
type answerOutput struct {
	Answer             string     `json:"answer" validate:"required"`
	Citations          []string   `json:"citations" validate:"dive,required"`
	Confidence         *float64   `json:"confidence" validate:"required,gte=0,lte=1"`
	Contradictions     [][]string `json:"contradictions" validate:"omitempty,dive,len=2,dive,required"`
	MissingInformation string     `json:"missing_information"`
}

const answerSystemPrompt = `You are an expert analyst answering questions strictly from the evidence provided.
Every factual claim must be supported by at least one evidence item. Cite evidence by its chunk id exactly as given in square brackets. Never cite ids that are not listed.
If the evidence does not answer the question, say so and describe what is missing.
When candidate contradictions are listed, decide for each pair whether the two passages really make conflicting assertions and include only confirmed pairs.

Respond with a single JSON object and nothing else:
{"answer": "...", "citations": ["<chunk_id>", ...], "confidence": 0.0, "contradictions": [["<chunk_id>", "<chunk_id>"]], "missing_information": "..."}
confidence is a number between 0 and 1.`

// AnswerConfig configures the answer agent.
type AnswerConfig struct {
	// ContextTokens bounds the evidence text sent to the model.
	ContextTokens int
	Temperature   float64
	MaxTokens     int
	// ExtractiveItems is how many evidence items the extractive fallback
	// quotes.
	ExtractiveItems int
}

// AnswerAgent synthesizes answers from evidence.
type AnswerAgent struct {
	client    llm.Client
	tokenizer *llm.Tokenizer
	cfg       AnswerConfig
	logger    *logging.Logger
}

// NewAnswerAgent creates an answer agent. A nil client selects the
// extractive answer.
func NewAnswerAgent(client llm.Client, tokenizer *llm.Tokenizer, cfg AnswerConfig, logger *logging.Logger) *AnswerAgent {
	if tokenizer == nil {
		tokenizer = llm.NewTokenizer("")
	}
	if cfg.ContextTokens <= 0 {
		cfg.ContextTokens = 6000
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.ExtractiveItems <= 0 {
		cfg.ExtractiveItems = 3
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &AnswerAgent{client: client, tokenizer: tokenizer, cfg: cfg, logger: logger.Named("answer")}
}

// Answer produces a grounded answer for question from evidence. candidates
// are contradiction pairs flagged by retrieval for the model to judge.
//
// Output that fails validation is retried once with a correction naming the
// problems; a second failure yields a degraded answer. Only context errors
// are returned.
func (a *AnswerAgent) Answer(ctx context.Context, question string, evidence []retrieval.Evidence, candidates ...retrieval.Pair) (*Answer, error) {
	ctx, span := otel.Tracer("docqa.agents").Start(ctx, "answer.Answer")
	defer span.End()
	span.SetAttributes(attribute.Int("evidence", len(evidence)))

	if len(evidence) == 0 {
		return Insufficient(), nil
	}
	if a.client == nil {
		return a.extractive(evidence), nil
	}

	prompt := a.prompt(question, evidence, candidates)
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		req := llm.Request{
			Stage:       "answer",
			System:      answerSystemPrompt,
			Prompt:      prompt,
			Temperature: a.cfg.Temperature,
			MaxTokens:   a.cfg.MaxTokens,
		}
		var schemaErr *SchemaValidationError
		if attempt > 1 && errors.As(lastErr, &schemaErr) {
			req.Prompt = prompt + "\n\nCORRECTION: your previous response was rejected because " +
				strings.Join(schemaErr.Problems, "; ") +
				". Fix these problems and return ONLY the JSON object, citing only the chunk ids listed above."
		}

		raw, err := a.client.Complete(ctx, req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return nil, err
			}
			a.logger.Warn(ctx, "answer model call failed", zap.Int("attempt", attempt), zap.Error(err))
			lastErr = err
			continue
		}

		ans, verr := a.parse(raw, evidence, candidates, attempt)
		if verr == nil {
			span.SetAttributes(attribute.Float64("confidence", ans.Confidence), attribute.Int("attempt", attempt))
			return ans, nil
		}
		lastErr = verr
		a.logger.Debug(ctx, "answer output rejected", zap.Int("attempt", attempt), zap.Error(verr))
	}

	a.logger.Warn(ctx, "answer degraded", zap.Error(lastErr))
	span.SetAttributes(attribute.Bool("degraded", true))
	return Degraded(fmt.Sprintf("answer synthesis failed twice: %v", lastErr), evidence), nil
}

func (a *AnswerAgent) prompt(question string, evidence []retrieval.Evidence, candidates []retrieval.Pair) string {
	budget := max(a.cfg.ContextTokens/len(evidence), 32)

	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nEvidence:\n", question)
	for _, e := range evidence {
		text, cut := a.tokenizer.Truncate(e.Text, budget)
		if cut {
			text += " ..."
		}
		fmt.Fprintf(&b, "[%s] (source: %s, page %d", e.ChunkID, e.Source, e.Page)
		if e.Section != "" {
			fmt.Fprintf(&b, ", section: %s", e.Section)
		}
		fmt.Fprintf(&b, ", score %.3f)\n%s\n\n", e.Score, text)
	}
	if len(candidates) > 0 {
		b.WriteString("Candidate contradictions:\n")
		for _, p := range candidates {
			fmt.Fprintf(&b, "- [%s] vs [%s]\n", p.A, p.B)
		}
	}
	return b.String()
}

func (a *AnswerAgent) parse(raw string, evidence []retrieval.Evidence, candidates []retrieval.Pair, attempt int) (*Answer, error) {
	var out answerOutput
	if err := llm.DecodeJSON(raw, &out); err != nil {
		return nil, &SchemaValidationError{Stage: "answer", Attempt: attempt, Problems: []string{err.Error()}}
	}
	out.Answer = strings.TrimSpace(out.Answer)
	if err := validate.Struct(out); err != nil {
		return nil, &SchemaValidationError{Stage: "answer", Attempt: attempt, Problems: problems(err)}
	}

	known := make(map[string]bool, len(evidence))
	for _, e := range evidence {
		known[e.ChunkID] = true
	}
	var bad []string
	for _, id := range out.Citations {
		if !known[id] {
			bad = append(bad, fmt.Sprintf("citation %q is not in the evidence", id))
		}
	}
	for _, pair := range out.Contradictions {
		for _, id := range pair {
			if !known[id] {
				bad = append(bad, fmt.Sprintf("contradiction id %q is not in the evidence", id))
			}
		}
	}
	if len(bad) > 0 {
		return nil, &SchemaValidationError{Stage: "answer", Attempt: attempt, Problems: bad}
	}

	ans := &Answer{
		Text:               out.Answer,
		Confidence:         *out.Confidence,
		MissingInformation: strings.TrimSpace(out.MissingInformation),
		Contradictions:     confirmed(out.Contradictions, candidates),
		Mode:               ModeModel,
	}

	cited := make(map[string]bool, len(out.Citations))
	for _, id := range out.Citations {
		cited[id] = true
	}
	// Both sides of a confirmed contradiction stay attached even when the
	// answer cites only one of them.
	disputed := make(map[string]bool, 2*len(ans.Contradictions))
	for _, p := range ans.Contradictions {
		disputed[p.A], disputed[p.B] = true, true
	}
	for _, e := range evidence {
		if cited[e.ChunkID] {
			ans.Citations = append(ans.Citations, e.ChunkID)
		}
		if cited[e.ChunkID] || disputed[e.ChunkID] {
			ans.Evidence = append(ans.Evidence, e)
		}
	}
	if len(ans.Citations) == 0 {
		// An uncited answer carries all evidence but no confidence.
		ans.Evidence = slices.Clone(evidence)
		ans.Citations = []string{}
		ans.Confidence = 0
		ans.Notes = append(ans.Notes, "answer cited no evidence; confidence set to 0")
	}
	return ans, nil
}

// confirmed keeps the model's contradiction pairs that match a retrieval
// candidate, in either order.
func confirmed(pairs [][]string, candidates []retrieval.Pair) []retrieval.Pair {
	out := []retrieval.Pair{}
	for _, c := range candidates {
		for _, p := range pairs {
			if (p[0] == c.A && p[1] == c.B) || (p[0] == c.B && p[1] == c.A) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// extractive composes an answer from the top evidence excerpts without a
// model.
func (a *AnswerAgent) extractive(evidence []retrieval.Evidence) *Answer {
	n := min(a.cfg.ExtractiveItems, len(evidence))
	used := slices.Clone(evidence[:n])

	var b strings.Builder
	citations := make([]string, 0, n)
	for i, e := range used {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%s [%s]", leadSentence(e.Text), e.ChunkID)
		citations = append(citations, e.ChunkID)
	}

	ans := &Answer{
		Text:           b.String(),
		Evidence:       used,
		Citations:      citations,
		Confidence:     ExtractiveConfidence(evidence),
		Contradictions: []retrieval.Pair{},
		Mode:           ModeExtractive,
	}
	if len(evidence) < 3 {
		ans.MissingInformation = "Only a small number of supporting passages were found; the answer may be incomplete."
	}
	return ans
}

// ExtractiveConfidence is min(1, avg(score)*0.85 + min(0.15, 0.03*n)),
// rounded to three decimals.
func ExtractiveConfidence(evidence []retrieval.Evidence) float64 {
	if len(evidence) == 0 {
		return 0
	}
	var sum float64
	for _, e := range evidence {
		sum += e.Score
	}
	avg := max(0, min(1, sum/float64(len(evidence))))
	conf := min(1, avg*0.85+min(0.15, 0.03*float64(len(evidence))))
	return math.Round(conf*1000) / 1000
}

// leadSentence returns the first sentence of text, shortened to 400 runes.
func leadSentence(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		// Skip a leading heading line when the chunk starts with one.
		first, rest := strings.TrimSpace(text[:i]), strings.TrimSpace(text[i+1:])
		if rest != "" && !strings.ContainsAny(first, ".!?") {
			text = rest
		}
	}
	for i, r := range text {
		if (r == '.' || r == '!' || r == '?') && (i+1 == len(text) || text[i+1] == ' ' || text[i+1] == '\n') {
			text = text[:i+1]
			break
		}
	}
	text = strings.Join(strings.Fields(text), " ")
	if runes := []rune(text); len(runes) > 400 {
		text = string(runes[:397]) + "..."
	}
	return text
}
