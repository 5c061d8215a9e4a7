package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/docqa/internal/config"
	"github.com/fyrsmithlabs/docqa/internal/logging"
)

// NewStore creates the backend selected by cfg. dim is the embedder's
// vector length.
func NewStore(ctx context.Context, cfg config.VectorStoreConfig, dim int, logger *logging.Logger) (Store, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "chromem":
		return NewChromemStore(ChromemConfig{
			Path:       cfg.ChromemPath,
			Compress:   cfg.ChromemCompress,
			Collection: cfg.Collection,
			Dimension:  dim,
		}, logger)
	case "qdrant":
		return NewQdrantStore(ctx, QdrantConfig{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			APIKey:     cfg.QdrantAPIKey.Value(),
			UseTLS:     cfg.QdrantUseTLS,
			Collection: cfg.Collection,
			Dimension:  dim,
		}, logger)
	default:
		return nil, fmt.Errorf("%w: unknown vector store provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
