package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/docqa/internal/ingest"
)

var ingestJSON bool

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Ingest documents into the corpus",
	Long: `Ingest one or more documents. Re-ingesting a file replaces its previous chunks.

Examples:
  docqa ingest contract.pdf notes.md
  docqa ingest --json handbook.html`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), os.Stderr, func(ctx context.Context, a *app) error {
			return runIngest(ctx, cmd, a.ingest, args)
		})
	},
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "print results as JSON")
}

// fileIngester is the part of ingest.Service the command uses.
type fileIngester interface {
	IngestFile(ctx context.Context, path string) (*ingest.Result, error)
}

// runIngest ingests every path and keeps going past failures; the returned
// error joins every failure.
func runIngest(ctx context.Context, cmd *cobra.Command, svc fileIngester, paths []string) error {
	out := cmd.OutOrStdout()
	results := make([]*ingest.Result, 0, len(paths))
	var errs []error
	for _, path := range paths {
		res, err := svc.IngestFile(ctx, path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			fmt.Fprintf(cmd.ErrOrStderr(), "✗ %s: %v\n", path, err)
			continue
		}
		results = append(results, res)
		if !ingestJSON {
			verb := "ingested"
			if res.Replaced {
				verb = "replaced"
			}
			fmt.Fprintf(out, "✓ %s %s: %d chunks, %d pages, %d redactions (%s)\n",
				verb, res.Source, res.ChunkCount, res.Pages, res.Redactions, res.DocumentID)
		}
	}
	if ingestJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}
