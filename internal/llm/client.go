// Package llm provides the reasoning model client used by the agents.
//
// Agents depend on the Client interface only. The production implementation
// talks to Azure OpenAI or OpenAI through langchaingo, throttled by a token
// bucket and optionally fronted by a response cache so that evaluation runs
// replay identical model outputs.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/fyrsmithlabs/docqa/internal/config"
	"github.com/fyrsmithlabs/docqa/internal/logging"
)

var (
	// ErrNotConfigured is returned when no model endpoint is configured.
	ErrNotConfigured = errors.New("llm: no model configured")

	// ErrEmptyResponse is returned when the model produced no content.
	ErrEmptyResponse = errors.New("llm: empty response")
)

// The agents own the retry budget of a stage (one correction retry), so
// the client makes a single call unless WithRetries says otherwise.
const (
	defaultMaxRetries  = 0
	defaultBaseBackoff = 500 * time.Millisecond
)

// Request is a single chat completion.
type Request struct {
	// Stage names the pipeline stage for logs and metrics.
	Stage       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Client completes prompts. Implementations are safe for concurrent use.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// LangChainClient calls a langchaingo model with rate limiting and
// optional retries on transient failures.
type LangChainClient struct {
	model      llms.Model
	modelName  string
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
	logger     *logging.Logger
}

// Option configures a LangChainClient.
type Option func(*LangChainClient)

// WithRetries overrides the retry count and base backoff.
func WithRetries(n int, backoff time.Duration) Option {
	return func(c *LangChainClient) {
		c.maxRetries = n
		c.backoff = backoff
	}
}

// WithLimiter replaces the token bucket.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *LangChainClient) { c.limiter = l }
}

// NewLangChainClient wraps an existing langchaingo model.
func NewLangChainClient(model llms.Model, modelName string, logger *logging.Logger, opts ...Option) *LangChainClient {
	if logger == nil {
		logger = logging.NewNop()
	}
	c := &LangChainClient{
		model:      model,
		modelName:  modelName,
		limiter:    rate.NewLimiter(rate.Inf, 1),
		maxRetries: defaultMaxRetries,
		backoff:    defaultBaseBackoff,
		logger:     logger.Named("llm"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// New builds a client for the configured provider. It returns
// ErrNotConfigured when the provider is "none".
func New(cfg config.LLMConfig, logger *logging.Logger) (*LangChainClient, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("%w: api key is not set", ErrNotConfigured)
	}

	opts := []openai.Option{openai.WithToken(cfg.APIKey.Value())}
	name := cfg.Model
	switch cfg.Provider {
	case "azure":
		if cfg.Endpoint == "" || cfg.Deployment == "" {
			return nil, fmt.Errorf("%w: azure requires endpoint and deployment", ErrNotConfigured)
		}
		name = cfg.Deployment
		opts = append(opts,
			openai.WithAPIType(openai.APITypeAzure),
			openai.WithBaseURL(cfg.Endpoint),
			openai.WithAPIVersion(cfg.APIVersion),
			openai.WithModel(cfg.Deployment),
		)
	case "openai":
		if cfg.Endpoint != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Endpoint))
		}
		opts = append(opts, openai.WithModel(cfg.Model))
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrNotConfigured, cfg.Provider)
	}

	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating %s model: %w", cfg.Provider, err)
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := max(cfg.Burst, 1)
	return NewLangChainClient(model, name, logger, WithLimiter(rate.NewLimiter(limit, burst))), nil
}

// ModelName returns the model or deployment name.
func (c *LangChainClient) ModelName() string { return c.modelName }

// Complete sends the request, waiting on the rate limiter. Transient
// failures are retried with exponential backoff only when WithRetries was
// given.
func (c *LangChainClient) Complete(ctx context.Context, req Request) (string, error) {
	ctx, span := otel.Tracer("docqa.llm").Start(ctx, "llm.Complete")
	defer span.End()
	span.SetAttributes(attribute.String("stage", req.Stage), attribute.String("model", c.modelName))

	start := time.Now()
	out, err := c.complete(ctx, req)
	RequestDuration.WithLabelValues(req.Stage).Observe(time.Since(start).Seconds())
	if err != nil {
		Requests.WithLabelValues(req.Stage, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn(ctx, "model call failed", zap.String("stage", req.Stage), zap.Error(err))
		return "", err
	}
	Requests.WithLabelValues(req.Stage, "ok").Inc()
	return out, nil
}

func (c *LangChainClient) complete(ctx context.Context, req Request) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	messages := make([]llms.MessageContent, 0, 2)
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	callOpts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(req.MaxTokens))
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.backoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		resp, err := c.model.GenerateContent(ctx, messages, callOpts...)
		if err == nil {
			if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
				return "", ErrEmptyResponse
			}
			return resp.Choices[0].Content, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return "", err
		}
		c.logger.Debug(ctx, "retrying model call", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	if c.maxRetries == 0 {
		return "", lastErr
	}
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

// IsRetryable reports whether err looks like a throttling or server-side
// failure. Context errors are never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "rate limit", "500", "502", "503", "504", "timeout", "connection reset", "eof"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

var _ Client = (*LangChainClient)(nil)
