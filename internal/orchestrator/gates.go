package orchestrator

import (
	"context"
	"fmt"
	"math"

	"github.com/fyrsmithlabs/docqa/internal/agents"
	"github.com/fyrsmithlabs/docqa/internal/retrieval"
)

// Repairer is implemented by gates that can replace an invalid phase output
// with a valid fallback.
type Repairer interface {
	Repair(ctx context.Context, resp *Response, violations []Violation) error
}

// PlanGate validates the analyzer's plan.
type PlanGate struct {
	defaultTopK int
}

// NewPlanGate creates a plan gate whose fallback retrieves five chunks.
func NewPlanGate() *PlanGate {
	return &PlanGate{defaultTopK: 5}
}

// Name returns the gate identifier
func (g *PlanGate) Name() string {
	return "plan"
}

// Check validates enums and k bounds.
func (g *PlanGate) Check(_ context.Context, resp *Response) ([]Violation, error) {
	if resp.Plan == nil {
		return []Violation{g.violation("analyzer produced no plan")}, nil
	}
	if err := resp.Plan.Validate(); err != nil {
		return []Violation{g.violation(err.Error())}, nil
	}
	return []Violation{}, nil
}

// Repair replaces the plan with the fallback plan.
func (g *PlanGate) Repair(_ context.Context, resp *Response, _ []Violation) error {
	k := g.defaultTopK
	if resp.Plan != nil && resp.Plan.TopK >= 1 {
		k = min(resp.Plan.TopK, retrieval.MaxTopK)
	}
	plan := retrieval.FallbackPlan(k)
	resp.Plan = &plan
	return nil
}

func (g *PlanGate) violation(desc string) Violation {
	return Violation{Gate: g.Name(), Phase: PhaseAnalyze, Description: desc, Severity: SeverityError}
}

// EvidenceGate checks that retrieved evidence is bounded by k, free of
// duplicates and resolvable in the corpus.
type EvidenceGate struct {
	resolver retrieval.ChunkResolver
}

// NewEvidenceGate creates an evidence gate. A nil resolver skips the
// resolution check.
func NewEvidenceGate(resolver retrieval.ChunkResolver) *EvidenceGate {
	return &EvidenceGate{resolver: resolver}
}

// Name returns the gate identifier
func (g *EvidenceGate) Name() string {
	return "evidence"
}

// Check validates the evidence set.
func (g *EvidenceGate) Check(ctx context.Context, resp *Response) ([]Violation, error) {
	if resp.Retrieval == nil {
		return []Violation{g.violation(SeverityError, "retrieval produced no result")}, nil
	}

	var violations []Violation
	evidence := resp.Retrieval.Evidence
	if k := topK(resp); len(evidence) > k {
		violations = append(violations, g.violation(SeverityError, fmt.Sprintf("%d evidence items exceed top_k %d", len(evidence), k)))
	}

	seen := make(map[string]bool, len(evidence))
	ids := make([]string, 0, len(evidence))
	for _, e := range evidence {
		if seen[e.ChunkID] {
			violations = append(violations, g.violation(SeverityError, fmt.Sprintf("duplicate evidence id %s", e.ChunkID)))
			continue
		}
		seen[e.ChunkID] = true
		ids = append(ids, e.ChunkID)
		if e.Score < 0 || e.Score > 1 || math.IsNaN(e.Score) {
			violations = append(violations, g.violation(SeverityWarning, fmt.Sprintf("score %f of %s outside [0,1]", e.Score, e.ChunkID)))
		}
	}

	if g.resolver != nil && len(ids) > 0 {
		found, err := g.resolver.Chunks(ctx, ids)
		if err != nil {
			return violations, fmt.Errorf("resolving evidence: %w", err)
		}
		for _, id := range ids {
			if _, ok := found[id]; !ok {
				violations = append(violations, g.violation(SeverityError, fmt.Sprintf("evidence id %s does not resolve", id)))
			}
		}
	}
	if violations == nil {
		violations = []Violation{}
	}
	return violations, nil
}

// Repair drops duplicate and unresolvable evidence and truncates to k.
func (g *EvidenceGate) Repair(ctx context.Context, resp *Response, _ []Violation) error {
	if resp.Retrieval == nil {
		resp.Retrieval = &RetrievalOutput{Evidence: []retrieval.Evidence{}}
		resp.Retrieval.Diagnostics.Notes = []string{"retrieval produced no result"}
		return nil
	}

	evidence := resp.Retrieval.Evidence
	var found map[string]bool
	if g.resolver != nil && len(evidence) > 0 {
		ids := make([]string, len(evidence))
		for i, e := range evidence {
			ids[i] = e.ChunkID
		}
		chunks, err := g.resolver.Chunks(ctx, ids)
		if err != nil {
			return fmt.Errorf("resolving evidence: %w", err)
		}
		found = make(map[string]bool, len(chunks))
		for id := range chunks {
			found[id] = true
		}
	}

	k := topK(resp)
	kept := make([]retrieval.Evidence, 0, min(len(evidence), k))
	seen := make(map[string]bool, len(evidence))
	for _, e := range evidence {
		if len(kept) == k {
			break
		}
		if seen[e.ChunkID] || (found != nil && !found[e.ChunkID]) {
			continue
		}
		seen[e.ChunkID] = true
		kept = append(kept, e)
	}
	if dropped := len(evidence) - len(kept); dropped > 0 {
		resp.Retrieval.Diagnostics.Note("evidence gate dropped %d items", dropped)
	}
	resp.Retrieval.Evidence = kept
	return nil
}

func (g *EvidenceGate) violation(sev Severity, desc string) Violation {
	return Violation{Gate: g.Name(), Phase: PhaseRetrieve, Description: desc, Severity: sev}
}

func topK(resp *Response) int {
	if resp.Plan != nil && resp.Plan.TopK > 0 {
		return resp.Plan.TopK
	}
	return retrieval.MaxTopK
}

// AnswerGate checks confidence bounds and citation grounding.
type AnswerGate struct{}

// NewAnswerGate creates an answer gate.
func NewAnswerGate() *AnswerGate {
	return &AnswerGate{}
}

// Name returns the gate identifier
func (g *AnswerGate) Name() string {
	return "answer"
}

// Check validates the answer against the retrieved evidence.
func (g *AnswerGate) Check(_ context.Context, resp *Response) ([]Violation, error) {
	ans := resp.Answer
	if ans == nil {
		return []Violation{g.violation("answer agent produced no answer")}, nil
	}

	var violations []Violation
	if math.IsNaN(ans.Confidence) || ans.Confidence < 0 || ans.Confidence > 1 {
		violations = append(violations, g.violation(fmt.Sprintf("confidence %f outside [0,1]", ans.Confidence)))
	}
	if ans.Degraded && ans.Confidence != 0 {
		violations = append(violations, g.violation("degraded answer has non-zero confidence"))
	}

	known := make(map[string]bool)
	for _, e := range resp.Evidence() {
		known[e.ChunkID] = true
	}
	for _, id := range ans.Citations {
		if !known[id] {
			violations = append(violations, g.violation(fmt.Sprintf("citation %s is not in the evidence", id)))
		}
	}
	for _, e := range ans.Evidence {
		if !known[e.ChunkID] {
			violations = append(violations, g.violation(fmt.Sprintf("answer evidence %s was not retrieved", e.ChunkID)))
		}
	}
	for _, p := range ans.Contradictions {
		if !known[p.A] || !known[p.B] {
			violations = append(violations, g.violation(fmt.Sprintf("contradiction %s/%s is not in the evidence", p.A, p.B)))
		}
	}
	if violations == nil {
		violations = []Violation{}
	}
	return violations, nil
}

// Repair replaces the answer with a degraded one carrying all evidence.
func (g *AnswerGate) Repair(_ context.Context, resp *Response, violations []Violation) error {
	resp.Answer = agents.Degraded("answer failed validation: "+describeViolations(violations), resp.Evidence())
	return nil
}

func (g *AnswerGate) violation(desc string) Violation {
	return Violation{Gate: g.Name(), Phase: PhaseAnswer, Description: desc, Severity: SeverityError}
}

var (
	_ Repairer = (*PlanGate)(nil)
	_ Repairer = (*EvidenceGate)(nil)
	_ Repairer = (*AnswerGate)(nil)
)
