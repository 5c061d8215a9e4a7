package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/docqa/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the ask_documents and ingest_document tools over stdio MCP",
	Long: `Run a Model Context Protocol server on stdin/stdout. Logs go to stderr.

Example client configuration:
  {"command": "docqa", "args": ["mcp"]}`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return withApp(ctx, os.Stderr, func(ctx context.Context, a *app) error {
			cfg := mcp.DefaultConfig()
			if version != "dev" {
				cfg.Version = version
			}
			server, err := mcp.NewServer(cfg, a.executor, a.ingest, a.logger)
			if err != nil {
				return fmt.Errorf("creating mcp server: %w", err)
			}
			return server.Run(ctx)
		})
	},
}
