package http

import (
	"context"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docqa/internal/logging"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/docqa/internal/http"

// Echo context keys handlers use to hand values to the metrics middleware.
const (
	answerModeKey  = "docqa.answer_mode"
	uploadBytesKey = "docqa.upload_bytes"
)

// RequestMetrics records per-request OpenTelemetry instruments. Besides the
// usual request counters it tracks answer modes for /query and accepted
// upload sizes for /upload.
type RequestMetrics struct {
	logger      *logging.Logger
	requests    metric.Int64Counter
	duration    metric.Float64Histogram
	inFlight    metric.Int64UpDownCounter
	answers     metric.Int64Counter
	uploadBytes metric.Int64Histogram
}

// NewRequestMetrics creates instruments on the global meter provider.
func NewRequestMetrics(logger *logging.Logger) *RequestMetrics {
	return newRequestMetrics(otel.Meter(httpInstrumentationName), logger)
}

func newRequestMetrics(meter metric.Meter, logger *logging.Logger) *RequestMetrics {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &RequestMetrics{logger: logger}
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn(context.Background(), "failed to create instrument", zap.String("instrument", name), zap.Error(err))
		}
	}

	var err error
	m.requests, err = meter.Int64Counter("docqa.http.requests_total",
		metric.WithDescription("HTTP requests by method, route and status class."),
		metric.WithUnit("{request}"))
	warn("requests_total", err)

	m.duration, err = meter.Float64Histogram("docqa.http.request_duration_seconds",
		metric.WithDescription("HTTP request latency. /query includes the whole analyze, retrieve and answer pipeline."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120))
	warn("request_duration_seconds", err)

	m.inFlight, err = meter.Int64UpDownCounter("docqa.http.active_requests",
		metric.WithDescription("Requests currently being served."),
		metric.WithUnit("{request}"))
	warn("active_requests", err)

	m.answers, err = meter.Int64Counter("docqa.http.answers_total",
		metric.WithDescription("Answers returned by /query, by answer mode."),
		metric.WithUnit("{answer}"))
	warn("answers_total", err)

	m.uploadBytes, err = meter.Int64Histogram("docqa.http.upload_size_bytes",
		metric.WithDescription("Size of accepted uploads."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(1<<10, 16<<10, 128<<10, 1<<20, 4<<20, 16<<20, 64<<20))
	warn("upload_size_bytes", err)
	return m
}

// Middleware records the request instruments. It must run outside the
// handler that writes error responses so the final status is visible.
func (m *RequestMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()
			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
				defer m.inFlight.Add(ctx, -1)
			}

			err := next(c)

			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("route", routeLabel(c.Path())),
				attribute.String("status_class", statusClass(c.Response().Status)),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if mode, ok := c.Get(answerModeKey).(string); ok && m.answers != nil {
				m.answers.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
			}
			if n, ok := c.Get(uploadBytesKey).(int64); ok && m.uploadBytes != nil {
				m.uploadBytes.Record(ctx, n)
			}
			return err
		}
	}
}

// routeLabel keeps unmatched paths in a single series.
func routeLabel(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
