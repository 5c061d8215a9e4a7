package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docqa/internal/config"
	"github.com/fyrsmithlabs/docqa/internal/logging"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Embedder produces vectors for documents and queries.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the vector length.
	Dimension() int
	Close() error
}

// NewProvider creates the embedder selected by cfg. Remote providers read
// their endpoint and key from the llm section.
func NewProvider(cfg config.EmbeddingsConfig, llm config.LLMConfig, logger *logging.Logger) (Embedder, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	var (
		e   Embedder
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case "hash", "":
		e = NewHashEmbedder(cfg.Dimension)
	case "azure", "openai":
		e, err = NewOpenAIEmbedder(cfg, llm)
	case "fastembed":
		e, err = NewFastEmbedProvider(FastEmbedConfig{Model: cfg.Model, CacheDir: cfg.CacheDir, BatchSize: cfg.BatchSize})
	default:
		return nil, fmt.Errorf("%w: unknown embeddings provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	logger.Info(context.Background(), "embeddings provider ready",
		zap.String("provider", cfg.Provider),
		zap.Int("dimension", e.Dimension()))
	return Instrument(e, modelName(cfg), NewMetrics(logger)), nil
}

func modelName(cfg config.EmbeddingsConfig) string {
	switch {
	case cfg.Provider == "hash" || cfg.Provider == "":
		return "hash"
	case cfg.Deployment != "":
		return cfg.Deployment
	default:
		return cfg.Model
	}
}

// detectDimensionFromModel returns the embedding dimension for a model name.
func detectDimensionFromModel(model string) int {
	if dim, ok := fastEmbedModelDimension(model); ok {
		return dim
	}
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "text-embedding-3-large"):
		return 3072
	case strings.Contains(m, "text-embedding-3-small"), strings.Contains(m, "ada-002"):
		return 1536
	case strings.Contains(m, "large"):
		return 1024
	case strings.Contains(m, "base"):
		return 768
	default:
		return 384
	}
}
