package mcp

import (
	"context"
	"errors"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docqa/internal/document"
	"github.com/fyrsmithlabs/docqa/internal/llm"
	"github.com/fyrsmithlabs/docqa/internal/logging"
	"github.com/fyrsmithlabs/docqa/internal/orchestrator"
	"github.com/fyrsmithlabs/docqa/internal/vectorstore"
)

const instrumentationName = "github.com/fyrsmithlabs/docqa/internal/mcp"

// Call outcomes.
const (
	outcomeOK      = "ok"
	outcomePartial = "partial"
	outcomeFailed  = "failed"
)

// ToolMetrics records tool calls. A nil instrument is skipped, so a meter
// that fails to create one never breaks a call.
type ToolMetrics struct {
	calls    metric.Int64Counter
	latency  metric.Float64Histogram
	failures metric.Int64Counter
	inFlight metric.Int64UpDownCounter
}

func newToolMetrics(meter metric.Meter, logger *logging.Logger) *ToolMetrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn(context.Background(), "creating instrument", zap.String("instrument", name), zap.Error(err))
		}
	}

	m := &ToolMetrics{}
	var err error
	m.calls, err = meter.Int64Counter("docqa.mcp.tool.calls_total",
		metric.WithDescription("MCP tool calls by tool and outcome"),
		metric.WithUnit("{call}"))
	warn("calls_total", err)

	m.latency, err = meter.Float64Histogram("docqa.mcp.tool.latency_seconds",
		metric.WithDescription("MCP tool call latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60))
	warn("latency_seconds", err)

	m.failures, err = meter.Int64Counter("docqa.mcp.tool.failures_total",
		metric.WithDescription("Failed MCP tool calls by reason"),
		metric.WithUnit("{call}"))
	warn("failures_total", err)

	m.inFlight, err = meter.Int64UpDownCounter("docqa.mcp.tool.in_flight",
		metric.WithDescription("MCP tool calls currently running"),
		metric.WithUnit("{call}"))
	warn("in_flight", err)
	return m
}

// start marks a call as running. The returned function records its result.
func (m *ToolMetrics) start(ctx context.Context, tool string) func(*mcp.CallToolResult, error) {
	began := time.Now()
	toolAttr := metric.WithAttributes(attribute.String("tool", tool))
	if m.inFlight != nil {
		m.inFlight.Add(ctx, 1, toolAttr)
	}

	return func(res *mcp.CallToolResult, err error) {
		if m.inFlight != nil {
			m.inFlight.Add(ctx, -1, toolAttr)
		}
		if m.latency != nil {
			m.latency.Record(ctx, time.Since(began).Seconds(), toolAttr)
		}

		outcome := callOutcome(res, err)
		if m.calls != nil {
			m.calls.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool", tool),
				attribute.String("outcome", outcome)))
		}
		if err != nil && m.failures != nil {
			m.failures.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool", tool),
				attribute.String("reason", failureReason(err))))
		}
	}
}

// callOutcome treats an error result that still carries content as partial.
func callOutcome(res *mcp.CallToolResult, err error) string {
	switch {
	case err != nil:
		return outcomeFailed
	case res != nil && res.IsError:
		return outcomePartial
	default:
		return outcomeOK
	}
}

func failureReason(err error) string {
	var ie *document.IngestionError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, errInvalidInput), errors.Is(err, orchestrator.ErrEmptyQuestion):
		return "invalid_input"
	case errors.Is(err, errFileNotFound):
		return "not_found"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &ie) && ie.IsClientError():
		return "rejected_document"
	case errors.As(err, &ie):
		return "ingest_error"
	case errors.Is(err, vectorstore.ErrIndexUnavailable):
		return "index_unavailable"
	case errors.Is(err, llm.ErrNotConfigured), errors.Is(err, llm.ErrEmptyResponse):
		return "model_error"
	default:
		return "internal_error"
	}
}
