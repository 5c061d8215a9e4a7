package embeddings

import (
	"context"
	"fmt"
	"strings"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/fyrsmithlabs/docqa/internal/config"
)

// OpenAIEmbedder calls an OpenAI-compatible or Azure OpenAI embeddings
// endpoint through langchaingo.
type OpenAIEmbedder struct {
	embedder  *lcembeddings.EmbedderImpl
	dimension int
}

// NewOpenAIEmbedder creates a remote embedder. For Azure the deployment name
// is used as the model, taken from cfg.Deployment.
func NewOpenAIEmbedder(cfg config.EmbeddingsConfig, llm config.LLMConfig) (*OpenAIEmbedder, error) {
	if llm.Endpoint == "" && strings.EqualFold(cfg.Provider, "azure") {
		return nil, fmt.Errorf("%w: llm.endpoint required for azure embeddings", ErrInvalidConfig)
	}
	if !llm.APIKey.IsSet() {
		return nil, fmt.Errorf("%w: llm.api_key required for %s embeddings", ErrInvalidConfig, cfg.Provider)
	}

	model := cfg.Model
	opts := []openai.Option{openai.WithToken(llm.APIKey.Value())}
	if strings.EqualFold(cfg.Provider, "azure") {
		if cfg.Deployment == "" {
			return nil, fmt.Errorf("%w: embeddings.deployment required for azure", ErrInvalidConfig)
		}
		model = cfg.Deployment
		opts = append(opts,
			openai.WithAPIType(openai.APITypeAzure),
			openai.WithAPIVersion(llm.APIVersion),
			openai.WithBaseURL(strings.TrimRight(llm.Endpoint, "/")),
		)
	} else if llm.Endpoint != "" {
		opts = append(opts, openai.WithBaseURL(llm.Endpoint))
	}
	opts = append(opts, openai.WithEmbeddingModel(model))

	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating embeddings client: %w", err)
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 32
	}
	embedder, err := lcembeddings.NewEmbedder(client,
		lcembeddings.WithBatchSize(batch),
		lcembeddings.WithStripNewLines(true),
	)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	dim := cfg.Dimension
	if dim <= 0 {
		dim = detectDimensionFromModel(cfg.Model)
	}
	return &OpenAIEmbedder{embedder: embedder, dimension: dim}, nil
}

func (o *OpenAIEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	vecs, err := o.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	return vecs, nil
}

func (o *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vec, err := o.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	return vec, nil
}

func (o *OpenAIEmbedder) Dimension() int { return o.dimension }

func (o *OpenAIEmbedder) Close() error { return nil }
