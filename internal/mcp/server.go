package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/docqa/internal/ingest"
	"github.com/fyrsmithlabs/docqa/internal/logging"
	"github.com/fyrsmithlabs/docqa/internal/orchestrator"
)

// Asker answers a question through the pipeline.
type Asker interface {
	Ask(ctx context.Context, question string) (*orchestrator.Response, error)
}

// FileIngester ingests a file from the local filesystem.
type FileIngester interface {
	IngestFile(ctx context.Context, path string) (*ingest.Result, error)
}

// Server is an MCP server backed by the question pipeline.
type Server struct {
	mcp      *mcp.Server
	asker    Asker
	ingester FileIngester
	metrics  *ToolMetrics
	logger   *logging.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "docqa")
	Name string

	// Version is the server version (default: "0.1.0")
	Version string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "docqa",
		Version: "0.1.0",
	}
}

// NewServer creates a new MCP server. The ingester is optional; without it
// ingest_document is not offered.
func NewServer(cfg *Config, asker Asker, ingester FileIngester, logger *logging.Logger) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if asker == nil {
		return nil, fmt.Errorf("asker is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("mcp")

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:      mcpServer,
		asker:    asker,
		ingester: ingester,
		metrics:  newToolMetrics(nil, logger),
		logger:   logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves on the stdio transport until ctx is done or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "starting MCP server on stdio transport")
	transport := &mcp.StdioTransport{}
	if err := s.mcp.Run(ctx, transport); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves a single session on t. It is mostly useful with in-memory
// transports.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}
