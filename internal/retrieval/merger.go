package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/docqa/internal/chunker"
	"github.com/fyrsmithlabs/docqa/internal/config"
)

// ChunkResolver hydrates chunk ids. corpus.Store implements it.
type ChunkResolver interface {
	Chunks(ctx context.Context, ids []string) (map[string]chunker.Chunk, error)
}

// MergerConfig holds fusion parameters.
type MergerConfig struct {
	Weights                Weights
	ContradictionThreshold float64
}

// DefaultMergerConfig returns equal weights and a 0.8 threshold.
func DefaultMergerConfig() MergerConfig {
	return MergerConfig{Weights: Weights{Vector: 0.5, Keyword: 0.5}, ContradictionThreshold: 0.8}
}

// MergerConfigFrom maps the retrieval config section.
func MergerConfigFrom(app config.RetrievalConfig) MergerConfig {
	return MergerConfig{
		Weights:                Weights{Vector: app.VectorWeight, Keyword: app.KeywordWeight},
		ContradictionThreshold: app.ContradictionThreshold,
	}
}

// Merger fuses vector and keyword results. It holds no per-query state.
type Merger struct {
	cfg      MergerConfig
	resolver ChunkResolver
}

// NewMerger creates a Merger that hydrates evidence through resolver.
func NewMerger(cfg MergerConfig, resolver ChunkResolver) *Merger {
	if cfg.Weights.Vector < 0 || cfg.Weights.Keyword < 0 || cfg.Weights.Vector+cfg.Weights.Keyword == 0 {
		cfg.Weights = DefaultMergerConfig().Weights
	}
	if cfg.ContradictionThreshold <= 0 {
		cfg.ContradictionThreshold = DefaultMergerConfig().ContradictionThreshold
	}
	return &Merger{cfg: cfg, resolver: resolver}
}

// WeightsFor returns the renormalized weights for a strategy.
func (m *Merger) WeightsFor(s Strategy) Weights {
	w := m.cfg.Weights
	switch s {
	case StrategyVectorOnly:
		w.Keyword = 0
	case StrategyKeywordOnly:
		w.Vector = 0
	}
	sum := w.Vector + w.Keyword
	if sum == 0 {
		// A single-index strategy with that index weighted zero.
		if s == StrategyKeywordOnly {
			return Weights{Keyword: 1}
		}
		return Weights{Vector: 1}
	}
	return Weights{Vector: w.Vector / sum, Keyword: w.Keyword / sum}
}

// Normalize min-max scales scores to [0,1]. When every score is equal, each
// maps to 1.
func Normalize(in []Scored) map[string]float64 {
	out := make(map[string]float64, len(in))
	if len(in) == 0 {
		return out
	}
	lo, hi := in[0].Score, in[0].Score
	for _, s := range in[1:] {
		lo = min(lo, s.Score)
		hi = max(hi, s.Score)
	}
	for _, s := range in {
		if hi == lo {
			out[s.ChunkID] = 1
			continue
		}
		out[s.ChunkID] = (s.Score - lo) / (hi - lo)
	}
	return out
}

// Merge fuses the two result sets and returns the top k evidence items.
// diag must come from the caller so notes from index execution survive;
// Merge fills in scores, weights and contradiction candidates.
func (m *Merger) Merge(ctx context.Context, vector, keyword []Scored, strategy Strategy, k int, diag *Diagnostics) ([]Evidence, error) {
	weights := m.WeightsFor(strategy)
	diag.MergeWeights = weights
	for _, s := range vector {
		diag.VectorScores[s.ChunkID] = s.Score
	}
	for _, s := range keyword {
		diag.KeywordScores[s.ChunkID] = s.Score
	}
	if k <= 0 || len(vector)+len(keyword) == 0 {
		return []Evidence{}, nil
	}

	vn, kn := Normalize(vector), Normalize(keyword)
	ids := make([]string, 0, len(vn)+len(kn))
	for id := range vn {
		ids = append(ids, id)
	}
	for id := range kn {
		if _, dup := vn[id]; !dup {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	chunks, err := m.resolver.Chunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrating evidence: %w", err)
	}

	evidence := make([]Evidence, 0, len(ids))
	var dropped int
	for _, id := range ids {
		c, ok := chunks[id]
		if !ok {
			dropped++
			continue
		}
		v, inV := vn[id]
		kw, inK := kn[id]
		evidence = append(evidence, Evidence{
			ChunkID:      id,
			DocumentID:   c.DocumentID,
			Source:       c.Source,
			Page:         c.Page,
			Section:      c.Section,
			Ordinal:      c.Ordinal,
			Text:         c.Text,
			Score:        clamp01(weights.Vector*v + weights.Keyword*kw),
			VectorScore:  diag.VectorScores[id],
			KeywordScore: diag.KeywordScores[id],
			inVector:     inV,
			inKeyword:    inK,
		})
	}
	if dropped > 0 {
		diag.Note("dropped %d chunk ids unknown to the corpus", dropped)
	}

	sortEvidence(evidence)
	evidence, dupes := dedupeText(evidence)
	if dupes > 0 {
		diag.Note("collapsed %d chunks with duplicate text", dupes)
	}
	if len(evidence) > k {
		evidence = evidence[:k]
	}

	diag.ContradictionCandidates = m.contradictions(evidence)
	diag.Contradictions = len(diag.ContradictionCandidates)
	return evidence, nil
}

func sortEvidence(ev []Evidence) {
	sort.Slice(ev, func(i, j int) bool {
		a, b := ev[i], ev[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		ab, bb := a.inVector && a.inKeyword, b.inVector && b.inKeyword
		if ab != bb {
			return ab
		}
		if a.Ordinal != b.Ordinal {
			return a.Ordinal < b.Ordinal
		}
		return a.ChunkID < b.ChunkID
	})
}

func (m *Merger) contradictions(ev []Evidence) []Pair {
	var out []Pair
	for i := 0; i < len(ev); i++ {
		if ev[i].Score < m.cfg.ContradictionThreshold {
			continue
		}
		for j := i + 1; j < len(ev); j++ {
			if ev[j].Score >= m.cfg.ContradictionThreshold && ev[i].DocumentID != ev[j].DocumentID &&
				normalizeText(ev[i].Text) != normalizeText(ev[j].Text) {
				out = append(out, Pair{A: ev[i].ChunkID, B: ev[j].ChunkID})
			}
		}
	}
	return out
}

// dedupeText keeps the first item of each normalized text. ev must already
// be sorted best first, so the survivor has the highest fused score.
func dedupeText(ev []Evidence) ([]Evidence, int) {
	seen := make(map[string]bool, len(ev))
	out := ev[:0]
	for _, e := range ev {
		key := normalizeText(e.Text)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out, len(ev) - len(out)
}

// normalizeText folds case and whitespace.
func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func clamp01(x float64) float64 {
	return max(0, min(1, x))
}
