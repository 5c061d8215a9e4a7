package http

import (
	"github.com/fyrsmithlabs/docqa/internal/agents"
	"github.com/fyrsmithlabs/docqa/internal/orchestrator"
	"github.com/fyrsmithlabs/docqa/internal/retrieval"
	"github.com/fyrsmithlabs/docqa/internal/telemetry"
)

// QueryRequest is the body of POST /query. Form and JSON encodings are
// both accepted.
type QueryRequest struct {
	Question string `json:"question" form:"question" query:"question"`
}

// ChunkMetadata describes where a retrieved chunk came from.
type ChunkMetadata struct {
	Text       string `json:"text"`
	Source     string `json:"source"`
	Page       int    `json:"page"`
	Section    string `json:"section"`
	DocumentID string `json:"document_id"`
}

// RetrievedChunk is one evidence item as returned by POST /query.
type RetrievedChunk struct {
	ID           string        `json:"id"`
	Score        float64       `json:"score"`
	VectorScore  float64       `json:"vector_score"`
	KeywordScore float64       `json:"keyword_score"`
	Metadata     ChunkMetadata `json:"metadata"`
}

// RetrievalView is the retrieval section of a query response.
type RetrievalView struct {
	Chunks      []RetrievedChunk       `json:"chunks"`
	Diagnostics *retrieval.Diagnostics `json:"diagnostics"`
}

// QueryResponse is the response body for POST /query. On pipeline errors
// it carries whatever the pipeline produced plus Error.
type QueryResponse struct {
	RequestID  string                     `json:"request_id"`
	Question   string                     `json:"question"`
	Answer     *agents.Answer             `json:"answer"`
	Plan       *retrieval.Plan            `json:"plan"`
	Retrieval  RetrievalView              `json:"retrieval"`
	Phases     []orchestrator.PhaseResult `json:"phases"`
	Violations []orchestrator.Violation   `json:"violations,omitempty"`
	LatencyMS  int64                      `json:"latency_ms"`
	Error      string                     `json:"error,omitempty"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string        `json:"status"`
	Version   string        `json:"version,omitempty"`
	Documents int           `json:"documents"`
	Chunks    int           `json:"chunks"`
	Keyword   KeywordHealth `json:"keyword"`
	Vector    VectorHealth  `json:"vector"`

	// Telemetry is informational and never degrades Status.
	Telemetry *telemetry.HealthStatus `json:"telemetry,omitempty"`
}

// KeywordHealth reports keyword index state.
type KeywordHealth struct {
	Healthy   bool `json:"healthy"`
	Documents int  `json:"documents"`
	Chunks    int  `json:"chunks"`
	Terms     int  `json:"terms"`
}

// VectorHealth reports vector index state. Count is -1 when the index
// cannot be reached.
type VectorHealth struct {
	Healthy bool `json:"healthy"`
	Count   int  `json:"count"`
}

// ErrorResponse is the body of a failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func newQueryResponse(resp *orchestrator.Response) QueryResponse {
	out := QueryResponse{
		RequestID:  resp.RequestID,
		Question:   resp.Question,
		Answer:     resp.Answer,
		Plan:       resp.Plan,
		Phases:     resp.Phases,
		Violations: resp.Violations,
		LatencyMS:  resp.LatencyMS,
		Retrieval:  RetrievalView{Chunks: []RetrievedChunk{}},
	}
	if resp.Retrieval != nil {
		out.Retrieval.Diagnostics = &resp.Retrieval.Diagnostics
	}
	for _, e := range resp.Evidence() {
		out.Retrieval.Chunks = append(out.Retrieval.Chunks, RetrievedChunk{
			ID:           e.ChunkID,
			Score:        e.Score,
			VectorScore:  e.VectorScore,
			KeywordScore: e.KeywordScore,
			Metadata: ChunkMetadata{
				Text:       e.Text,
				Source:     e.Source,
				Page:       e.Page,
				Section:    e.Section,
				DocumentID: e.DocumentID,
			},
		})
	}
	return out
}
