//go:build !cgo

package embeddings

import (
	"errors"
	"fmt"
)

// ErrFastEmbedNotAvailable is returned by binaries built without cgo.
var ErrFastEmbedNotAvailable = errors.New("fastembed requires a cgo build")

// NewFastEmbedProvider always fails: the ONNX runtime needs cgo. The model
// name is still checked so a bad config reports the more useful error.
func NewFastEmbedProvider(cfg FastEmbedConfig) (Embedder, error) {
	if cfg.Model == "" {
		cfg.Model = defaultFastEmbedModel
	}
	if _, ok := fastEmbedModelDimension(cfg.Model); !ok {
		return nil, fmt.Errorf("%w: unsupported fastembed model %q", ErrInvalidConfig, cfg.Model)
	}
	return nil, fmt.Errorf("%w; use the hash or azure provider", ErrFastEmbedNotAvailable)
}
