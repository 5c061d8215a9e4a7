package orchestrator

import (
	"context"

	"github.com/fyrsmithlabs/docqa/internal/agents"
	"github.com/fyrsmithlabs/docqa/internal/logging"
	"github.com/fyrsmithlabs/docqa/internal/retrieval"
)

// Planner produces retrieval plans.
type Planner interface {
	Analyze(ctx context.Context, question string) (retrieval.Plan, error)
}

// Retriever executes plans.
type Retriever interface {
	Retrieve(ctx context.Context, plan retrieval.Plan, question string, k int) (*retrieval.Result, error)
}

// Answerer synthesizes answers.
type Answerer interface {
	Answer(ctx context.Context, question string, evidence []retrieval.Evidence, candidates ...retrieval.Pair) (*agents.Answer, error)
}

type analyzeHandler struct{ planner Planner }

// NewAnalyzeHandler wraps the query analyzer.
func NewAnalyzeHandler(p Planner) PhaseHandler { return &analyzeHandler{planner: p} }

func (h *analyzeHandler) Phase() Phase { return PhaseAnalyze }

func (h *analyzeHandler) Execute(ctx context.Context, resp *Response) (Output, error) {
	plan, err := h.planner.Analyze(ctx, resp.Question)
	if err != nil {
		return Output{}, err
	}
	return Output{Plan: &plan}, nil
}

type retrieveHandler struct{ retriever Retriever }

// NewRetrieveHandler wraps the retrieval agent.
func NewRetrieveHandler(r Retriever) PhaseHandler { return &retrieveHandler{retriever: r} }

func (h *retrieveHandler) Phase() Phase { return PhaseRetrieve }

func (h *retrieveHandler) Execute(ctx context.Context, resp *Response) (Output, error) {
	plan := retrieval.FallbackPlan(0)
	if resp.Plan != nil {
		plan = *resp.Plan
	}
	res, err := h.retriever.Retrieve(ctx, plan, resp.Question, plan.TopK)
	if err != nil {
		return Output{}, err
	}
	return Output{Retrieval: res}, nil
}

type answerHandler struct{ answerer Answerer }

// NewAnswerHandler wraps the answer agent.
func NewAnswerHandler(a Answerer) PhaseHandler { return &answerHandler{answerer: a} }

func (h *answerHandler) Phase() Phase { return PhaseAnswer }

func (h *answerHandler) Execute(ctx context.Context, resp *Response) (Output, error) {
	var candidates []retrieval.Pair
	if resp.Retrieval != nil {
		candidates = resp.Retrieval.Diagnostics.ContradictionCandidates
	}
	ans, err := h.answerer.Answer(ctx, resp.Question, resp.Evidence(), candidates...)
	if err != nil {
		return Output{}, err
	}
	return Output{Answer: ans}, nil
}

// New wires the three agents into an executor with the default gates.
func New(cfg Config, planner Planner, retriever Retriever, answerer Answerer, resolver retrieval.ChunkResolver, logger *logging.Logger) *Executor {
	e := NewExecutor(cfg, logger)
	e.RegisterHandler(NewAnalyzeHandler(planner))
	e.RegisterHandler(NewRetrieveHandler(retriever))
	e.RegisterHandler(NewAnswerHandler(answerer))
	e.RegisterDefaultGates(resolver)
	return e
}
