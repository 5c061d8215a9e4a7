package http

import (
	"context"

	"github.com/fyrsmithlabs/docqa/internal/corpus"
	"github.com/fyrsmithlabs/docqa/internal/keyword"
	"github.com/fyrsmithlabs/docqa/internal/telemetry"
	"github.com/fyrsmithlabs/docqa/internal/vectorstore"
)

// HealthReporter gathers index and corpus state for GET /health.
type HealthReporter struct {
	Corpus    corpus.Store
	Keyword   *keyword.Index
	Vector    vectorstore.Store
	Version   string
	Telemetry *telemetry.Telemetry
}

// Report returns the current health. Status is "degraded" when either
// index is unhealthy and "ok" otherwise.
func (h *HealthReporter) Report(ctx context.Context) HealthResponse {
	resp := HealthResponse{Status: "ok", Version: h.Version, Vector: VectorHealth{Count: -1}}

	if h.Corpus != nil {
		if stats, err := h.Corpus.Stats(ctx); err == nil {
			resp.Documents = stats.Documents
			resp.Chunks = stats.Chunks
		}
	}
	if h.Keyword != nil {
		stats := h.Keyword.Stats()
		resp.Keyword = KeywordHealth{
			Healthy:   h.Keyword.Healthy(),
			Documents: stats.Documents,
			Chunks:    stats.Chunks,
			Terms:     stats.Terms,
		}
	}
	if h.Vector != nil {
		resp.Vector.Healthy = h.Vector.Healthy(ctx)
		if n, err := h.Vector.Count(ctx); err == nil {
			resp.Vector.Count = n
		}
	}

	if h.Telemetry != nil {
		th := h.Telemetry.Health()
		resp.Telemetry = &th
	}

	if !resp.Keyword.Healthy || !resp.Vector.Healthy {
		resp.Status = "degraded"
	}
	return resp
}
