package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/docqa/internal/agents"
	"github.com/fyrsmithlabs/docqa/internal/retrieval"
)

var (
	// ErrUpstreamTimeout is returned when a phase or the whole request runs
	// out of time. It wraps context.DeadlineExceeded.
	ErrUpstreamTimeout = &upstreamTimeout{}

	// ErrEmptyQuestion is returned for blank questions.
	ErrEmptyQuestion = errors.New("question is empty")
)

type upstreamTimeout struct{}

func (*upstreamTimeout) Error() string { return "upstream timeout" }
func (*upstreamTimeout) Unwrap() error { return context.DeadlineExceeded }

// Phase is a pipeline stage.
type Phase string

const (
	// PhaseAnalyze turns the question into a retrieval plan.
	PhaseAnalyze Phase = "analyze"

	// PhaseRetrieve executes the plan against the indexes.
	PhaseRetrieve Phase = "retrieve"

	// PhaseAnswer synthesizes the grounded answer.
	PhaseAnswer Phase = "answer"
)

// AllPhases returns all phases in execution order
func AllPhases() []Phase {
	return []Phase{PhaseAnalyze, PhaseRetrieve, PhaseAnswer}
}

// PhaseStatus represents the completion status of a phase
type PhaseStatus string

const (
	StatusPending    PhaseStatus = "pending"
	StatusInProgress PhaseStatus = "in_progress"
	StatusCompleted  PhaseStatus = "completed"
	// StatusDegraded means the phase produced a fallback output.
	StatusDegraded PhaseStatus = "degraded"
	StatusFailed   PhaseStatus = "failed"
	StatusSkipped  PhaseStatus = "skipped"
)

// PhaseResult captures the outcome of a phase execution
type PhaseResult struct {
	Phase      Phase       `json:"phase"`
	Status     PhaseStatus `json:"status"`
	StartedAt  time.Time   `json:"started_at"`
	DurationMS int64       `json:"duration_ms"`
	Attempts   int         `json:"attempts"`
	Error      string      `json:"error,omitempty"`
}

// Severity indicates how serious a violation is
type Severity string

const (
	// SeverityWarning is recorded but does not change the phase output.
	SeverityWarning Severity = "warning"
	// SeverityError causes the phase output to be repaired.
	SeverityError Severity = "error"
)

// Violation is a gate finding.
type Violation struct {
	Gate        string   `json:"gate"`
	Phase       Phase    `json:"phase"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
}

// RetrievalOutput is the retrieval phase's contribution to a Response.
type RetrievalOutput struct {
	Evidence    []retrieval.Evidence  `json:"evidence"`
	Diagnostics retrieval.Diagnostics `json:"diagnostics"`
}

// Response is the pipeline result. Fields are filled as phases complete, so
// a Response returned with an error still carries the partial state.
type Response struct {
	RequestID  string           `json:"request_id"`
	Question   string           `json:"question"`
	Plan       *retrieval.Plan  `json:"plan"`
	Retrieval  *RetrievalOutput `json:"retrieval"`
	Answer     *agents.Answer   `json:"answer"`
	Phases     []PhaseResult    `json:"phases"`
	Violations []Violation      `json:"violations,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	LatencyMS  int64            `json:"latency_ms"`
}

// Evidence returns the retrieved evidence, or an empty slice.
func (r *Response) Evidence() []retrieval.Evidence {
	if r.Retrieval == nil || r.Retrieval.Evidence == nil {
		return []retrieval.Evidence{}
	}
	return r.Retrieval.Evidence
}

// Result returns the recorded result for phase.
func (r *Response) Result(phase Phase) (PhaseResult, bool) {
	for _, pr := range r.Phases {
		if pr.Phase == phase {
			return pr, true
		}
	}
	return PhaseResult{}, false
}

// Output is what a handler hands back to the executor. Only the field for
// the handler's phase is read.
type Output struct {
	Plan      *retrieval.Plan
	Retrieval *retrieval.Result
	Answer    *agents.Answer
}

// PhaseHandler executes the work for a specific phase. Handlers read the
// Response but must not modify it; the executor applies their Output.
type PhaseHandler interface {
	// Phase returns the phase this handler manages
	Phase() Phase

	// Execute runs the phase work
	Execute(ctx context.Context, resp *Response) (Output, error)
}

// PhaseGate checks a phase's output before the next phase runs.
type PhaseGate interface {
	// Name returns the gate identifier
	Name() string

	// Check validates gate conditions, returning violations if any
	Check(ctx context.Context, resp *Response) ([]Violation, error)
}
