package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpserver "github.com/fyrsmithlabs/docqa/internal/http"
	"github.com/fyrsmithlabs/docqa/internal/ingest"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API (/upload, /query, /evaluate, /health, /metrics).

When ingest.inbox_dir is configured, files dropped into that directory are
ingested automatically and moved to processed/ or failed/.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides server.port)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return withApp(ctx, os.Stdout, serve)
}

// serve blocks until ctx is cancelled or the listener fails.
func serve(ctx context.Context, a *app) error {
	cfg := a.cfg
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	server, err := httpserver.NewServer(httpserver.Deps{
		Ingester:  a.ingest,
		Asker:     a.executor,
		Evaluator: a.evaluator,
		Health: &httpserver.HealthReporter{
			Corpus:    a.corpus,
			Keyword:   a.keyword,
			Vector:    a.vector,
			Version:   version,
			Telemetry: a.telemetry,
		},
	}, a.logger, &httpserver.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		LabelsPath:     cfg.Evaluation.LabelsPath,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	if dir := cfg.Ingest.InboxDir; dir != "" {
		watcher, err := ingest.NewInboxWatcher(dir, a.ingest, 0, a.logger)
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		defer watcher.Stop()
		go drainInbox(ctx, a, watcher)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info(context.Background(), "received shutdown signal, shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Or(10*time.Second))
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	a.logger.Info(shutdownCtx, "server shutdown complete")
	return nil
}

// drainInbox logs inbox outcomes until ctx is done.
func drainInbox(ctx context.Context, a *app, w *ingest.InboxWatcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-w.Events():
			if ev.Err != nil || ev.Result == nil {
				continue
			}
			a.logger.Debug(ctx, "inbox file ingested",
				zap.String("path", ev.Path),
				zap.String("document_id", ev.Result.DocumentID))
		}
	}
}
