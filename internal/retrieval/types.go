// Package retrieval executes execution plans against the keyword and vector
// indexes and fuses their results into a ranked evidence set.
package retrieval

import (
	"errors"
	"fmt"
)

// ErrIndexUnavailable is returned when no index could serve a query.
var ErrIndexUnavailable = errors.New("retrieval indexes unavailable")

// Intent classifies a question.
type Intent string

const (
	IntentFactual    Intent = "factual"
	IntentReasoning  Intent = "reasoning"
	IntentComparison Intent = "comparison"
	IntentMultiHop   Intent = "multi_hop"
)

// Valid reports whether i is one of the four intents.
func (i Intent) Valid() bool {
	switch i {
	case IntentFactual, IntentReasoning, IntentComparison, IntentMultiHop:
		return true
	}
	return false
}

// Strategy selects which indexes a query runs against.
type Strategy string

const (
	StrategyVectorOnly  Strategy = "vector_only"
	StrategyKeywordOnly Strategy = "keyword_only"
	StrategyHybrid      Strategy = "hybrid"
)

func (s Strategy) Valid() bool {
	switch s {
	case StrategyVectorOnly, StrategyKeywordOnly, StrategyHybrid:
		return true
	}
	return false
}

// PlanSource records who produced a plan.
type PlanSource string

const (
	SourceModel     PlanSource = "model"
	SourceHeuristic PlanSource = "heuristic"
	SourceFallback  PlanSource = "fallback"
)

// MaxTopK bounds the number of evidence items a plan may request.
const MaxTopK = 20

// Plan is the query analyzer's output.
type Plan struct {
	Intent         Intent     `json:"intent"`
	Strategy       Strategy   `json:"strategy"`
	RewrittenQuery string     `json:"rewritten_query,omitempty"`
	TopK           int        `json:"top_k"`
	Source         PlanSource `json:"source"`
}

// FallbackPlan is used when the analyzer cannot produce a valid plan.
func FallbackPlan(topK int) Plan {
	return Plan{Intent: IntentReasoning, Strategy: StrategyHybrid, TopK: topK, Source: SourceFallback}
}

// Validate checks enums and bounds.
func (p Plan) Validate() error {
	var errs []error
	if !p.Intent.Valid() {
		errs = append(errs, fmt.Errorf("unknown intent %q", p.Intent))
	}
	if !p.Strategy.Valid() {
		errs = append(errs, fmt.Errorf("unknown strategy %q", p.Strategy))
	}
	if p.TopK < 1 || p.TopK > MaxTopK {
		errs = append(errs, fmt.Errorf("top_k must be in [1, %d], got %d", MaxTopK, p.TopK))
	}
	return errors.Join(errs...)
}

// Query returns the text to search with.
func (p Plan) Query(question string) string {
	if p.RewrittenQuery != "" {
		return p.RewrittenQuery
	}
	return question
}

// Evidence is a retrieved chunk with its scores. VectorScore and
// KeywordScore are the raw index scores; Score is the fused score in [0,1].
type Evidence struct {
	ChunkID      string  `json:"chunk_id"`
	DocumentID   string  `json:"document_id"`
	Source       string  `json:"source"`
	Page         int     `json:"page"`
	Section      string  `json:"section"`
	Ordinal      int     `json:"ordinal"`
	Text         string  `json:"text_excerpt"`
	Score        float64 `json:"score"`
	VectorScore  float64 `json:"vector_score"`
	KeywordScore float64 `json:"keyword_score"`

	inVector  bool
	inKeyword bool
}

// Weights are the fusion weights; they sum to 1.
type Weights struct {
	Vector  float64 `json:"vector"`
	Keyword float64 `json:"keyword"`
}

// Pair is a contradiction candidate: two chunk ids from different documents
// that both scored above the contradiction threshold.
type Pair struct {
	A string `json:"a"`
	B string `json:"b"`
}

// Diagnostics explains how evidence was produced.
type Diagnostics struct {
	StrategyUsed            Strategy           `json:"strategy_used"`
	QueryUsed               string             `json:"query_used"`
	VectorScores            map[string]float64 `json:"vector_scores"`
	KeywordScores           map[string]float64 `json:"keyword_scores"`
	MergeWeights            Weights            `json:"merge_weights"`
	Notes                   []string           `json:"notes"`
	Contradictions          int                `json:"contradictions"`
	ContradictionCandidates []Pair             `json:"contradiction_candidates,omitempty"`
}

func newDiagnostics(strategy Strategy, query string) Diagnostics {
	return Diagnostics{
		StrategyUsed:  strategy,
		QueryUsed:     query,
		VectorScores:  map[string]float64{},
		KeywordScores: map[string]float64{},
		Notes:         []string{},
	}
}

// Note appends a diagnostic note.
func (d *Diagnostics) Note(format string, args ...any) {
	d.Notes = append(d.Notes, fmt.Sprintf(format, args...))
}

// Scored is a raw index hit.
type Scored struct {
	ChunkID string
	Score   float64
}
