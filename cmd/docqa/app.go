package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docqa/internal/agents"
	"github.com/fyrsmithlabs/docqa/internal/chunker"
	"github.com/fyrsmithlabs/docqa/internal/config"
	"github.com/fyrsmithlabs/docqa/internal/corpus"
	"github.com/fyrsmithlabs/docqa/internal/document"
	"github.com/fyrsmithlabs/docqa/internal/embeddings"
	"github.com/fyrsmithlabs/docqa/internal/evaluation"
	"github.com/fyrsmithlabs/docqa/internal/ingest"
	"github.com/fyrsmithlabs/docqa/internal/keyword"
	"github.com/fyrsmithlabs/docqa/internal/llm"
	"github.com/fyrsmithlabs/docqa/internal/logging"
	"github.com/fyrsmithlabs/docqa/internal/orchestrator"
	"github.com/fyrsmithlabs/docqa/internal/retrieval"
	"github.com/fyrsmithlabs/docqa/internal/secrets"
	"github.com/fyrsmithlabs/docqa/internal/telemetry"
	"github.com/fyrsmithlabs/docqa/internal/vectorstore"
)

// app holds every component of the question answering pipeline.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry

	corpus   corpus.Store
	keyword  *keyword.Index
	embedder embeddings.Embedder
	vector   vectorstore.Store
	cache    llm.Cache

	ingest    *ingest.Service
	executor  *orchestrator.Executor
	evaluator *evaluation.Harness
}

// newApp loads configuration and wires the pipeline. Logs go to logOut;
// commands that print results use stderr so stdout stays clean. The keyword
// index is rebuilt from the corpus before returning.
func newApp(ctx context.Context, logOut io.Writer) (*app, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	a := &app{cfg: cfg}
	ready := false
	defer func() {
		if !ready {
			_ = a.Close(context.Background())
		}
	}()

	telCfg := telemetry.FromAppConfig(cfg.Telemetry)
	if version != "dev" {
		telCfg.ServiceVersion = version
	}
	if a.telemetry, err = telemetry.New(ctx, telCfg); err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	logCfg, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		return nil, err
	}
	if a.logger, err = logging.NewLoggerTo(logCfg, logOut, a.telemetry.LoggerProvider()); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	if a.corpus, err = corpus.NewStore(cfg.Corpus); err != nil {
		return nil, fmt.Errorf("opening corpus: %w", err)
	}
	a.keyword = keyword.New()

	if a.embedder, err = embeddings.NewProvider(cfg.Embeddings, cfg.LLM, a.logger); err != nil {
		return nil, fmt.Errorf("initializing embeddings: %w", err)
	}
	if a.vector, err = vectorstore.NewStore(ctx, cfg.VectorStore, a.embedder.Dimension(), a.logger); err != nil {
		return nil, fmt.Errorf("opening vector store: %w", err)
	}

	client, tokenizer, err := a.reasoningModel()
	if err != nil {
		return nil, err
	}

	scrubber, err := secrets.New(secrets.FromAppConfig(cfg.Secrets))
	if err != nil {
		return nil, fmt.Errorf("initializing scrubber: %w", err)
	}
	a.ingest, err = ingest.NewService(ingest.Deps{
		Registry: document.NewRegistry(cfg.Ingest.AllowedExtensions, document.WithMaxSize(cfg.Server.MaxUploadBytes)),
		Scrubber: scrubber,
		Chunker:  chunker.New(chunker.FromAppConfig(cfg.Chunking)),
		Corpus:   a.corpus,
		Keyword:  a.keyword,
		Vector:   a.vector,
		Embedder: a.embedder,
	}, ingest.Config{
		BatchSize:   cfg.Embeddings.BatchSize,
		Concurrency: cfg.Embeddings.Concurrency,
	}, a.logger)
	if err != nil {
		return nil, err
	}

	analyzer := agents.NewAnalyzer(client, agents.AnalyzerConfig{
		DefaultTopK: cfg.Retrieval.TopK,
		Temperature: cfg.Agents.Temperature,
		MaxTokens:   cfg.Agents.MaxTokens,
	}, a.logger)
	retriever := retrieval.NewAgent(a.vector, a.keyword, a.embedder,
		retrieval.NewMerger(retrieval.MergerConfigFrom(cfg.Retrieval), a.corpus),
		retrieval.AgentConfig{TopK: cfg.Retrieval.TopK, CandidateMultiplier: cfg.Retrieval.CandidateMultiplier},
		a.logger)
	answerer := agents.NewAnswerAgent(client, tokenizer, agents.AnswerConfig{
		ContextTokens: cfg.Agents.ContextTokens,
		Temperature:   cfg.Agents.Temperature,
		MaxTokens:     cfg.Agents.MaxTokens,
	}, a.logger)
	a.executor = orchestrator.New(orchestrator.FromConfig(cfg.Orchestrator, cfg.Retrieval),
		analyzer, retriever, answerer, a.corpus, a.logger)

	a.evaluator = evaluation.NewHarness(a.executor, a.embedder, evaluation.Config{
		HallucinationThreshold: cfg.Evaluation.HallucinationThreshold,
		Concurrency:            cfg.Evaluation.Concurrency,
	}, a.logger)

	if _, err = a.ingest.Rebuild(ctx); err != nil {
		return nil, err
	}
	ready = true
	return a, nil
}

// reasoningModel returns the model client, or a nil client when no model is
// configured so the agents use their heuristic paths.
func (a *app) reasoningModel() (llm.Client, *llm.Tokenizer, error) {
	if !a.cfg.LLM.Enabled() {
		a.logger.Info(context.Background(), "no reasoning model configured, using heuristic agents")
		return nil, llm.NewTokenizer(llm.EstimateEncoding), nil
	}

	model, err := llm.New(a.cfg.LLM, a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing reasoning model: %w", err)
	}
	if a.cache, err = llm.NewCache(a.cfg.Cache); err != nil {
		return nil, nil, fmt.Errorf("initializing response cache: %w", err)
	}

	var client llm.Client = model
	if a.cache != nil {
		client = llm.WithCache(model, a.cache, model.ModelName(), a.logger)
	}
	a.logger.Info(context.Background(), "reasoning model ready",
		zap.String("provider", a.cfg.LLM.Provider),
		zap.String("model", model.ModelName()),
		zap.String("cache", a.cfg.Cache.Provider))
	return client, llm.NewTokenizer(""), nil
}

// Close releases stores and flushes telemetry.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.vector != nil {
		errs = append(errs, a.vector.Close())
	}
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	if a.corpus != nil {
		errs = append(errs, a.corpus.Close())
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// withApp runs fn against a freshly wired app and closes it afterwards.
func withApp(ctx context.Context, logOut io.Writer, fn func(context.Context, *app) error) error {
	a, err := newApp(ctx, logOut)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(context.Background()); cerr != nil {
			fmt.Fprintf(os.Stderr, "shutdown: %v\n", cerr)
		}
	}()
	return fn(ctx, a)
}
