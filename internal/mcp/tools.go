package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docqa/internal/orchestrator"
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	s.registerAskTool()
	if s.ingester != nil {
		s.registerIngestTool()
	}
}

var (
	errInvalidInput = errors.New("invalid input")
	errFileNotFound = errors.New("file not found")
)

// instrument records metrics and logs for a tool handler.
func instrument[In, Out any](s *Server, name string, h mcp.ToolHandlerFor[In, Out]) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcp.CallToolRequest, args In) (*mcp.CallToolResult, Out, error) {
		start := time.Now()
		done := s.metrics.start(ctx, name)

		res, out, err := h(ctx, req, args)
		done(res, err)
		if err != nil {
			s.logger.Warn(ctx, "tool failed", zap.String("tool", name), zap.Error(err))
		} else {
			s.logger.Debug(ctx, "tool completed", zap.String("tool", name), zap.Duration("duration", time.Since(start)))
		}
		return res, out, err
	}
}

// ===== ASK =====

type askInput struct {
	Question string `json:"question" jsonschema:"Question to answer from the ingested documents"`
}

type evidenceOutput struct {
	ChunkID string  `json:"chunk_id"`
	Source  string  `json:"source"`
	Page    int     `json:"page"`
	Section string  `json:"section"`
	Score   float64 `json:"score"`
	Excerpt string  `json:"excerpt"`
}

type contradictionOutput struct {
	A string `json:"a"`
	B string `json:"b"`
}

type phaseOutput struct {
	Phase      string `json:"phase"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	Attempts   int    `json:"attempts"`
}

type askOutput struct {
	RequestID          string                `json:"request_id"`
	Answer             string                `json:"answer"`
	Mode               string                `json:"mode"`
	Confidence         float64               `json:"confidence"`
	Degraded           bool                  `json:"degraded"`
	Citations          []string              `json:"citations"`
	MissingInformation string                `json:"missing_information,omitempty"`
	Contradictions     []contradictionOutput `json:"contradictions"`
	Evidence           []evidenceOutput      `json:"evidence"`
	Phases             []phaseOutput         `json:"phases"`
	Error              string                `json:"error,omitempty"`
}

func (s *Server) registerAskTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ask_documents",
		Description: "Answer a question using only the ingested documents. Returns the answer with chunk citations, a confidence in [0,1], the supporting evidence and per-phase status. Confidence 0 with degraded=true means no grounded answer could be produced.",
	}, instrument(s, "ask_documents", func(ctx context.Context, req *mcp.CallToolRequest, args askInput) (*mcp.CallToolResult, askOutput, error) {
		if strings.TrimSpace(args.Question) == "" {
			return nil, askOutput{}, fmt.Errorf("%w: question is required", errInvalidInput)
		}

		resp, err := s.asker.Ask(ctx, args.Question)
		if resp == nil {
			if err == nil {
				err = errors.New("pipeline returned no response")
			}
			return nil, askOutput{}, err
		}

		out := newAskOutput(resp)
		summary := fmt.Sprintf("%s (confidence %.2f, %d citations)", out.Answer, out.Confidence, len(out.Citations))
		result := &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: summary}}}
		if err != nil {
			// Partial results are still useful to the caller.
			out.Error = err.Error()
			result.IsError = true
			result.Content = []mcp.Content{&mcp.TextContent{Text: "Question failed: " + err.Error()}}
		}
		return result, out, nil
	}))
}

func newAskOutput(resp *orchestrator.Response) askOutput {
	out := askOutput{
		RequestID:      resp.RequestID,
		Citations:      []string{},
		Contradictions: []contradictionOutput{},
		Evidence:       []evidenceOutput{},
		Phases:         []phaseOutput{},
	}
	if a := resp.Answer; a != nil {
		out.Answer = a.Text
		out.Mode = string(a.Mode)
		out.Confidence = a.Confidence
		out.Degraded = a.Degraded
		out.MissingInformation = a.MissingInformation
		out.Citations = append(out.Citations, a.Citations...)
		for _, p := range a.Contradictions {
			out.Contradictions = append(out.Contradictions, contradictionOutput{A: p.A, B: p.B})
		}
	}
	for _, e := range resp.Evidence() {
		out.Evidence = append(out.Evidence, evidenceOutput{
			ChunkID: e.ChunkID,
			Source:  e.Source,
			Page:    e.Page,
			Section: e.Section,
			Score:   e.Score,
			Excerpt: e.Text,
		})
	}
	for _, p := range resp.Phases {
		out.Phases = append(out.Phases, phaseOutput{
			Phase:      string(p.Phase),
			Status:     string(p.Status),
			DurationMS: p.DurationMS,
			Attempts:   p.Attempts,
		})
	}
	return out
}

// ===== INGEST =====

type ingestInput struct {
	Path string `json:"path" jsonschema:"Path to a local PDF, text, Markdown or HTML file"`
}

type ingestOutput struct {
	DocumentID  string  `json:"document_id"`
	Source      string  `json:"source"`
	Pages       int     `json:"pages"`
	ChunkCount  int     `json:"chunk_count"`
	Redactions  int     `json:"redactions"`
	Replaced    bool    `json:"replaced"`
	IngestTimeS float64 `json:"ingest_time_s"`
}

func (s *Server) registerIngestTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ingest_document",
		Description: "Extract, chunk and index a local document so that ask_documents can use it. Re-ingesting the same file replaces its previous chunks.",
	}, instrument(s, "ingest_document", func(ctx context.Context, req *mcp.CallToolRequest, args ingestInput) (*mcp.CallToolResult, ingestOutput, error) {
		path, err := validatePath(args.Path)
		if err != nil {
			return nil, ingestOutput{}, err
		}

		res, err := s.ingester.IngestFile(ctx, path)
		if err != nil {
			return nil, ingestOutput{}, err
		}

		out := ingestOutput{
			DocumentID:  res.DocumentID,
			Source:      res.Source,
			Pages:       res.Pages,
			ChunkCount:  res.ChunkCount,
			Redactions:  res.Redactions,
			Replaced:    res.Replaced,
			IngestTimeS: res.IngestTimeS,
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Ingested %s: %d chunks (document %s)", out.Source, out.ChunkCount, out.DocumentID)},
			},
		}, out, nil
	}))
}

// validatePath cleans path and requires a regular file.
func validatePath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("%w: path is required", errInvalidInput)
	}
	path = filepath.Clean(path)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", errFileNotFound, path)
		}
		return "", fmt.Errorf("invalid path: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("invalid path: %s is not a regular file", path)
	}
	return path, nil
}
