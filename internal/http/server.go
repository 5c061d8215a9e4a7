// Package http serves the document question answering API.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docqa/internal/evaluation"
	"github.com/fyrsmithlabs/docqa/internal/ingest"
	"github.com/fyrsmithlabs/docqa/internal/logging"
)

// Ingester ingests one uploaded file.
type Ingester interface {
	Ingest(ctx context.Context, name string, data []byte) (*ingest.Result, error)
}

// Evaluator replays labeled questions.
type Evaluator interface {
	Run(ctx context.Context, labels []evaluation.Label) (*evaluation.Report, error)
}

// Deps are the services behind the routes. Evaluator and Health may be nil.
type Deps struct {
	Ingester  Ingester
	Asker     evaluation.Asker
	Evaluator Evaluator
	Health    *HealthReporter
}

// Config holds HTTP server configuration.
type Config struct {
	Host           string
	Port           int
	MaxUploadBytes int64
	LabelsPath     string
}

// Server provides HTTP endpoints for docqa.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *logging.Logger
	config *Config
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *logging.Logger, cfg *Config) (*Server, error) {
	if deps.Ingester == nil {
		return nil, fmt.Errorf("ingester cannot be nil")
	}
	if deps.Asker == nil {
		return nil, fmt.Errorf("asker cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8000,
		}
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 32 << 20
	}
	logger = logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Response().Header().Get(echo.HeaderXRequestID)
			c.SetRequest(c.Request().WithContext(logging.WithRequestID(c.Request().Context(), id)))
			return next(c)
		}
	})
	e.Use(NewRequestMetrics(logger).Middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			duration := time.Since(start)

			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
			)

			return nil
		}
	})
	e.Use(middleware.Recover())
	// Uploads enforce their own limit so that oversized files get a 400.
	e.Use(middleware.BodyLimitWithConfig(middleware.BodyLimitConfig{
		Limit:   "1M",
		Skipper: func(c echo.Context) bool { return c.Path() == "/upload" },
	}))

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: logger,
		config: cfg,
	}

	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.POST("/upload", s.handleUpload)
	s.echo.POST("/query", s.handleQuery)
	s.echo.GET("/evaluate", s.handleEvaluate)
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	if s.deps.Health == nil {
		return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Vector: VectorHealth{Count: -1}})
	}
	return c.JSON(http.StatusOK, s.deps.Health.Report(c.Request().Context()))
}

// handleUpload ingests the multipart field "file".
func (s *Server) handleUpload(c echo.Context) error {
	tooLarge := echo.NewHTTPError(http.StatusBadRequest,
		fmt.Sprintf("file exceeds the %d byte upload limit", s.config.MaxUploadBytes))

	// Multipart framing adds a little on top of the file itself.
	req := c.Request()
	req.Body = http.MaxBytesReader(c.Response(), req.Body, s.config.MaxUploadBytes+64<<10)
	fh, err := c.FormFile("file")
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return tooLarge
		}
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field \"file\" is required")
	}
	if fh.Size > s.config.MaxUploadBytes {
		return tooLarge
	}

	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read uploaded file")
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, s.config.MaxUploadBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read uploaded file")
	}
	if int64(len(data)) > s.config.MaxUploadBytes {
		return tooLarge
	}

	res, err := s.deps.Ingester.Ingest(c.Request().Context(), fh.Filename, data)
	if err != nil {
		return echo.NewHTTPError(statusFor(err), err.Error()).SetInternal(err)
	}
	c.Set(uploadBytesKey, int64(len(data)))
	return c.JSON(http.StatusOK, res)
}

// handleQuery runs the question pipeline. Failed requests still return
// the partial response when one exists.
func (s *Server) handleQuery(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Question) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question field is required")
	}

	ctx := c.Request().Context()
	resp, err := s.deps.Asker.Ask(ctx, req.Question)
	if resp != nil && resp.Answer != nil {
		c.Set(answerModeKey, string(resp.Answer.Mode))
	}
	if err != nil {
		status := statusFor(err)
		s.logger.Warn(ctx, "query failed", zap.Int("status", status), zap.Error(err))
		if resp == nil {
			return c.JSON(status, ErrorResponse{Error: err.Error(), RequestID: logging.RequestIDFromContext(ctx)})
		}
		body := newQueryResponse(resp)
		body.Error = err.Error()
		return c.JSON(status, body)
	}
	return c.JSON(http.StatusOK, newQueryResponse(resp))
}

// handleEvaluate replays the labeled set. ?labels names another file in the
// directory of the configured labels file; without any labels every metric
// is "n/a".
func (s *Server) handleEvaluate(c echo.Context) error {
	if s.deps.Evaluator == nil {
		return c.JSON(http.StatusOK, evaluation.EmptySummary())
	}
	path := s.config.LabelsPath
	if name := strings.TrimSpace(c.QueryParam("labels")); name != "" {
		resolved, err := s.labelsFile(name)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		path = resolved
	}

	ctx := c.Request().Context()
	labels, err := evaluation.LoadLabels(path)
	if errors.Is(err, evaluation.ErrNoLabels) {
		return c.JSON(http.StatusOK, evaluation.EmptySummary())
	}
	if err != nil {
		s.logger.Error(ctx, "loading labels", zap.String("path", path), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "labels file is unreadable").SetInternal(err)
	}

	report, err := s.deps.Evaluator.Run(ctx, labels)
	if err != nil {
		return echo.NewHTTPError(statusFor(err), err.Error()).SetInternal(err)
	}
	return c.JSON(http.StatusOK, report.Summary)
}

// labelsFile resolves a bare file name inside the labels directory. Paths
// and parent references are refused so a request cannot read other files.
func (s *Server) labelsFile(name string) (string, error) {
	if s.config.LabelsPath == "" {
		return "", errors.New("labels override requires a configured labels file")
	}
	if name != filepath.Base(name) || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("labels must be a file name, got %q", name)
	}
	return filepath.Join(filepath.Dir(s.config.LabelsPath), name), nil
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
