package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docqa/internal/agents"
	"github.com/fyrsmithlabs/docqa/internal/config"
	"github.com/fyrsmithlabs/docqa/internal/llm"
	"github.com/fyrsmithlabs/docqa/internal/logging"
	"github.com/fyrsmithlabs/docqa/internal/retrieval"
)

// PhaseProgress reports progress during execution
type PhaseProgress struct {
	RequestID  string      `json:"request_id"`
	Phase      Phase       `json:"phase"`
	Status     PhaseStatus `json:"status"`
	Message    string      `json:"message"`
	Percentage int         `json:"percentage"`
}

// ProgressCallback receives progress updates during execution. It is called
// synchronously from the request goroutine.
type ProgressCallback func(progress PhaseProgress)

// Config holds executor deadlines.
type Config struct {
	StageTimeout   time.Duration
	RequestTimeout time.Duration
	// StageRetries is the number of extra attempts for a phase that timed
	// out or failed transiently.
	StageRetries int
	// DefaultTopK sizes the fallback plan used when analysis times out.
	DefaultTopK int
}

// DefaultConfig matches the application defaults.
func DefaultConfig() Config {
	return Config{
		StageTimeout:   30 * time.Second,
		RequestTimeout: 90 * time.Second,
		StageRetries:   1,
		DefaultTopK:    5,
	}
}

// FromConfig converts the application config sections.
func FromConfig(c config.OrchestratorConfig, r config.RetrievalConfig) Config {
	return Config{
		StageTimeout:   c.StageTimeout.Duration(),
		RequestTimeout: c.RequestTimeout.Duration(),
		StageRetries:   c.StageRetries,
		DefaultTopK:    r.TopK,
	}
}

// Executor runs questions through the phases with gates.
type Executor struct {
	cfg              Config
	logger           *logging.Logger
	handlers         map[Phase]PhaseHandler
	gates            map[Phase][]PhaseGate
	progressCallback ProgressCallback
}

// NewExecutor creates an executor. Zero durations take the defaults.
func NewExecutor(cfg Config, logger *logging.Logger) *Executor {
	def := DefaultConfig()
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = def.StageTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = def.DefaultTopK
	}
	if cfg.StageRetries < 0 {
		cfg.StageRetries = 0
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Executor{
		cfg:      cfg,
		logger:   logger.Named("orchestrator"),
		handlers: make(map[Phase]PhaseHandler),
		gates:    make(map[Phase][]PhaseGate),
	}
}

// RegisterHandler registers a phase handler
func (e *Executor) RegisterHandler(handler PhaseHandler) {
	e.handlers[handler.Phase()] = handler
}

// RegisterGate registers a gate for a phase
func (e *Executor) RegisterGate(phase Phase, gate PhaseGate) {
	e.gates[phase] = append(e.gates[phase], gate)
}

// RegisterDefaultGates registers the plan, evidence and answer gates.
// resolver may be nil, in which case evidence ids are not resolved.
func (e *Executor) RegisterDefaultGates(resolver retrieval.ChunkResolver) {
	e.RegisterGate(PhaseAnalyze, NewPlanGate())
	e.RegisterGate(PhaseRetrieve, NewEvidenceGate(resolver))
	e.RegisterGate(PhaseAnswer, NewAnswerGate())
}

// OnProgress sets the progress callback
func (e *Executor) OnProgress(callback ProgressCallback) {
	e.progressCallback = callback
}

// Ask runs question through all phases. The returned Response is never nil
// once the question is accepted; on error it holds the partial result and a
// degraded answer.
func (e *Executor) Ask(ctx context.Context, question string) (*Response, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	requestID := logging.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
		ctx = logging.WithRequestID(ctx, requestID)
	}

	ctx, span := otel.Tracer("docqa.orchestrator").Start(ctx, "orchestrator.Ask")
	defer span.End()
	span.SetAttributes(attribute.String("request_id", requestID))

	resp := &Response{
		RequestID: requestID,
		Question:  question,
		Phases:    []PhaseResult{},
		StartedAt: time.Now(),
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	err := e.execute(ctx, reqCtx, resp)
	resp.LatencyMS = time.Since(resp.StartedAt).Milliseconds()

	outcome := "ok"
	switch {
	case errors.Is(err, ErrUpstreamTimeout):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	case resp.Answer != nil && resp.Answer.Degraded:
		outcome = "degraded"
	}
	Requests.WithLabelValues(outcome).Inc()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn(ctx, "question failed",
			zap.String("outcome", outcome),
			zap.Int64("latency_ms", resp.LatencyMS),
			zap.Error(err))
		return resp, err
	}
	e.logger.Info(ctx, "question answered",
		zap.String("outcome", outcome),
		zap.Float64("confidence", resp.Answer.Confidence),
		zap.Int("evidence", len(resp.Evidence())),
		zap.Int64("latency_ms", resp.LatencyMS))
	return resp, nil
}

func (e *Executor) execute(ctx, reqCtx context.Context, resp *Response) error {
	phases := AllPhases()
	for i, phase := range phases {
		handler, ok := e.handlers[phase]
		if !ok {
			resp.Answer = agents.Degraded("pipeline misconfigured", resp.Evidence())
			return fmt.Errorf("no handler registered for phase %s", phase)
		}

		e.reportProgress(PhaseProgress{
			RequestID:  resp.RequestID,
			Phase:      phase,
			Status:     StatusInProgress,
			Message:    fmt.Sprintf("Starting phase: %s", phase),
			Percentage: (i * 100) / len(phases),
		})

		out, result, err := e.runPhase(reqCtx, handler, resp)
		if err != nil {
			ferr := e.fail(ctx, reqCtx, phase, err, resp, &result)
			e.record(resp, result)
			if ferr != nil {
				e.skipRemaining(resp, phases[i+1:])
				return ferr
			}
		} else {
			e.apply(phase, out, resp)
			if e.checkGates(reqCtx, phase, resp) {
				result.Status = StatusDegraded
			}
			e.record(resp, result)
		}

		e.reportProgress(PhaseProgress{
			RequestID:  resp.RequestID,
			Phase:      phase,
			Status:     result.Status,
			Message:    fmt.Sprintf("Completed phase: %s", phase),
			Percentage: ((i + 1) * 100) / len(phases),
		})
	}
	return nil
}

// runPhase calls handler with the stage timeout, retrying once on timeout
// or transient failure while the request deadline allows.
func (e *Executor) runPhase(reqCtx context.Context, handler PhaseHandler, resp *Response) (Output, PhaseResult, error) {
	ctx, span := otel.Tracer("docqa.orchestrator").Start(reqCtx, "phase."+string(handler.Phase()))
	defer span.End()

	result := PhaseResult{Phase: handler.Phase(), Status: StatusInProgress, StartedAt: time.Now()}
	var (
		out Output
		err error
	)
	for attempt := 1; attempt <= 1+e.cfg.StageRetries; attempt++ {
		result.Attempts = attempt
		out, err = e.call(ctx, handler, resp)
		if err == nil || reqCtx.Err() != nil || !retryable(err) {
			break
		}
		if attempt <= e.cfg.StageRetries {
			e.logger.Warn(ctx, "retrying phase",
				zap.String("phase", string(handler.Phase())),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
	}

	elapsed := time.Since(result.StartedAt)
	result.DurationMS = elapsed.Milliseconds()
	result.Status = StatusCompleted
	if err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Int("attempts", result.Attempts))
	PhaseDuration.WithLabelValues(string(handler.Phase()), string(result.Status)).Observe(elapsed.Seconds())
	return out, result, err
}

// call runs one attempt. When the stage deadline passes first the handler
// is abandoned and its eventual result discarded.
func (e *Executor) call(ctx context.Context, handler PhaseHandler, resp *Response) (Output, error) {
	stageCtx, cancel := context.WithTimeout(ctx, e.cfg.StageTimeout)
	defer cancel()

	type outcome struct {
		out Output
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("phase %s panicked: %v", handler.Phase(), r)}
			}
		}()
		out, err := handler.Execute(stageCtx, resp)
		done <- outcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		return o.out, o.err
	case <-stageCtx.Done():
		return Output{}, stageCtx.Err()
	}
}

func retryable(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || llm.IsRetryable(err)
}

// fail decides what a failed phase means for the request. It returns nil
// when the pipeline can continue with a fallback output.
func (e *Executor) fail(ctx, reqCtx context.Context, phase Phase, err error, resp *Response, result *PhaseResult) error {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		resp.Answer = agents.Degraded("request canceled", resp.Evidence())
		return ctx.Err()
	}

	timedOut := reqCtx.Err() != nil || errors.Is(err, context.DeadlineExceeded)
	if timedOut && reqCtx.Err() == nil && phase == PhaseAnalyze {
		plan := retrieval.FallbackPlan(min(e.cfg.DefaultTopK, retrieval.MaxTopK))
		resp.Plan = &plan
		result.Status = StatusDegraded
		e.logger.Warn(ctx, "analyze phase timed out, using fallback plan", zap.Error(err))
		return nil
	}

	if timedOut {
		scope := "stage"
		if reqCtx.Err() != nil {
			scope = "request"
		}
		resp.Answer = agents.Degraded(fmt.Sprintf("%s timeout during %s phase; partial results attached", scope, phase), resp.Evidence())
		return fmt.Errorf("%s phase: %w", phase, ErrUpstreamTimeout)
	}

	resp.Answer = agents.Degraded(fmt.Sprintf("%s phase failed: %v", phase, err), resp.Evidence())
	return fmt.Errorf("%s phase: %w", phase, err)
}

func (e *Executor) apply(phase Phase, out Output, resp *Response) {
	switch phase {
	case PhaseAnalyze:
		resp.Plan = out.Plan
	case PhaseRetrieve:
		if out.Retrieval != nil {
			resp.Retrieval = &RetrievalOutput{Evidence: out.Retrieval.Evidence, Diagnostics: out.Retrieval.Diagnostics}
		}
	case PhaseAnswer:
		resp.Answer = out.Answer
	}
}

// checkGates runs the phase's gates and repairs the output when a gate
// reports an error. It reports whether a repair happened.
func (e *Executor) checkGates(ctx context.Context, phase Phase, resp *Response) bool {
	repaired := false
	for _, gate := range e.gates[phase] {
		violations, err := gate.Check(ctx, resp)
		if err != nil {
			violations = append(violations, Violation{
				Gate:        gate.Name(),
				Phase:       phase,
				Description: fmt.Sprintf("gate check failed: %v", err),
				Severity:    SeverityWarning,
			})
		}
		for _, v := range violations {
			GateViolations.WithLabelValues(v.Gate, string(v.Severity)).Inc()
			e.logger.Warn(ctx, "gate violation",
				zap.String("gate", v.Gate),
				zap.String("phase", string(v.Phase)),
				zap.String("severity", string(v.Severity)),
				zap.String("description", v.Description))
		}
		resp.Violations = append(resp.Violations, violations...)

		if !hasBlockingViolation(violations) {
			continue
		}
		if r, ok := gate.(Repairer); ok {
			if err := r.Repair(ctx, resp, violations); err != nil {
				e.logger.Error(ctx, "gate repair failed", zap.String("gate", gate.Name()), zap.Error(err))
				continue
			}
			repaired = true
		}
	}
	return repaired
}

func (e *Executor) record(resp *Response, result PhaseResult) {
	resp.Phases = append(resp.Phases, result)
}

func (e *Executor) skipRemaining(resp *Response, phases []Phase) {
	for _, p := range phases {
		resp.Phases = append(resp.Phases, PhaseResult{Phase: p, Status: StatusSkipped})
	}
}

// reportProgress sends progress updates to the callback
func (e *Executor) reportProgress(progress PhaseProgress) {
	if e.progressCallback != nil {
		e.progressCallback(progress)
	}
}

// hasBlockingViolation checks if any violation should block execution
func hasBlockingViolation(violations []Violation) bool {
	for _, v := range violations {
		if v.Severity == SeverityError {
			return true
		}
	}
	return false
}

// describeViolations creates a summary of violations
func describeViolations(violations []Violation) string {
	parts := make([]string, 0, len(violations))
	for _, v := range violations {
		parts = append(parts, fmt.Sprintf("[%s] %s", v.Gate, v.Description))
	}
	return strings.Join(parts, "; ")
}
