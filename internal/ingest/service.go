// Package ingest turns uploaded files into indexed chunks.
//
// A document flows through extraction, credential scrubbing, chunking,
// embedding and finally the vector index, keyword index and corpus store.
// Embedding happens before any index is touched, and a failed write is
// rolled back, so a failed upload leaves the previous state of the document
// in place. Writes for the same
// document id are serialized; different documents ingest concurrently.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docqa/internal/chunker"
	"github.com/fyrsmithlabs/docqa/internal/corpus"
	"github.com/fyrsmithlabs/docqa/internal/document"
	"github.com/fyrsmithlabs/docqa/internal/embeddings"
	"github.com/fyrsmithlabs/docqa/internal/logging"
	"github.com/fyrsmithlabs/docqa/internal/secrets"
	"github.com/fyrsmithlabs/docqa/internal/vectorstore"
)

// KeywordIndex is the write side of the keyword index.
type KeywordIndex interface {
	Index(chunks []chunker.Chunk) error
	Remove(documentID string) error
}

// Config controls embedding fan-out.
type Config struct {
	BatchSize   int
	Concurrency int
}

// Result describes one ingested document.
type Result struct {
	Status      string        `json:"status"`
	DocumentID  string        `json:"document_id"`
	Source      string        `json:"source"`
	Pages       int           `json:"pages"`
	ChunkCount  int           `json:"chunk_count"`
	Redactions  int           `json:"redactions"`
	Replaced    bool          `json:"replaced"`
	Duration    time.Duration `json:"-"`
	IngestTimeS float64       `json:"ingest_time_s"`
}

// Service runs the ingestion pipeline.
type Service struct {
	registry *document.Registry
	scrubber secrets.Scrubber
	chunker  *chunker.Chunker
	corpus   corpus.Store
	keyword  KeywordIndex
	vector   vectorstore.Store
	embedder embeddings.Embedder
	cfg      Config
	logger   *logging.Logger
	locks    *keyedMutex
}

// Deps bundles the collaborators of a Service.
type Deps struct {
	Registry *document.Registry
	Scrubber secrets.Scrubber
	Chunker  *chunker.Chunker
	Corpus   corpus.Store
	Keyword  KeywordIndex
	Vector   vectorstore.Store
	Embedder embeddings.Embedder
}

// NewService creates an ingestion service. Registry, Scrubber and Chunker
// default to the built-in formats, no scrubbing and the default chunker.
func NewService(deps Deps, cfg Config, logger *logging.Logger) (*Service, error) {
	if deps.Corpus == nil || deps.Keyword == nil || deps.Vector == nil || deps.Embedder == nil {
		return nil, errors.New("ingest: corpus, keyword, vector and embedder are required")
	}
	if deps.Registry == nil {
		deps.Registry = document.NewRegistry(nil)
	}
	if deps.Scrubber == nil {
		deps.Scrubber = secrets.NoopScrubber{}
	}
	if deps.Chunker == nil {
		deps.Chunker = chunker.New(chunker.DefaultConfig())
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		registry: deps.Registry,
		scrubber: deps.Scrubber,
		chunker:  deps.Chunker,
		corpus:   deps.Corpus,
		keyword:  deps.Keyword,
		vector:   deps.Vector,
		embedder: deps.Embedder,
		cfg:      cfg,
		logger:   logger.Named("ingest"),
		locks:    newKeyedMutex(),
	}, nil
}

// Supports reports whether name has an accepted extension.
func (s *Service) Supports(name string) bool {
	return s.registry.Supports(name)
}

// Extensions lists the accepted extensions.
func (s *Service) Extensions() []string {
	return s.registry.Extensions()
}

// IngestFile reads and ingests the file at path.
func (s *Service) IngestFile(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &document.IngestionError{Source: filepath.Base(path), Reason: "read failed", Err: err}
	}
	return s.Ingest(ctx, filepath.Base(path), data)
}

// Ingest extracts, chunks, embeds and indexes one upload. Re-ingesting the
// same file replaces its chunks. Every failure is an *IngestionError except
// context cancellation.
func (s *Service) Ingest(ctx context.Context, name string, data []byte) (*Result, error) {
	start := time.Now()
	ctx, span := otel.Tracer("docqa.ingest").Start(ctx, "ingest.Ingest")
	defer span.End()
	span.SetAttributes(attribute.String("source", filepath.Base(name)), attribute.Int("bytes", len(data)))

	res, err := s.ingest(ctx, name, data)
	elapsed := time.Since(start)
	Duration.Observe(elapsed.Seconds())
	if err != nil {
		Documents.WithLabelValues(outcome(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn(ctx, "ingestion failed", zap.String("source", filepath.Base(name)), zap.Error(err))
		return nil, err
	}

	res.Duration = elapsed
	res.IngestTimeS = elapsed.Seconds()
	Documents.WithLabelValues("ok").Inc()
	Chunks.Add(float64(res.ChunkCount))
	Redactions.Add(float64(res.Redactions))
	s.logger.Info(logging.WithDocumentID(ctx, res.DocumentID), "document ingested",
		zap.String("source", res.Source),
		zap.Int("pages", res.Pages),
		zap.Int("chunks", res.ChunkCount),
		zap.Int("redactions", res.Redactions),
		zap.Bool("replaced", res.Replaced),
		zap.Duration("duration", elapsed))
	return res, nil
}

func (s *Service) ingest(ctx context.Context, name string, data []byte) (*Result, error) {
	doc, err := s.registry.Extract(ctx, name, data)
	if err != nil {
		return nil, err
	}
	doc, scrubbed := s.scrubber.ScrubDocument(doc)

	chunks, err := s.chunker.Chunk(doc)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := embeddings.EmbedBatched(ctx, s.embedder, texts, s.cfg.BatchSize, s.cfg.Concurrency)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &document.IngestionError{Source: doc.SourceName, Reason: "embedding failed", Err: err}
	}

	unlock := s.locks.Lock(doc.ID)
	defer unlock()

	prev, err := s.previous(ctx, doc.ID)
	if err == nil {
		err = s.write(ctx, doc, chunks, vectors, prev)
	}
	if err != nil {
		return nil, &document.IngestionError{Source: doc.SourceName, Reason: "indexing failed", Err: err}
	}

	return &Result{
		Status:     "ok",
		DocumentID: doc.ID,
		Source:     doc.SourceName,
		Pages:      len(doc.Pages),
		ChunkCount: len(chunks),
		Redactions: scrubbed.Total(),
		Replaced:   prev != nil,
	}, nil
}

// storedDocument is the version of a document that a write replaces.
type storedDocument struct {
	record corpus.DocumentRecord
	chunks []chunker.Chunk
}

// previous returns the stored version of a document, or nil when it is new.
func (s *Service) previous(ctx context.Context, id string) (*storedDocument, error) {
	rec, err := s.corpus.Document(ctx, id)
	if errors.Is(err, corpus.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("corpus: %w", err)
	}
	chunks, err := s.corpus.ChunksByDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("corpus: %w", err)
	}
	return &storedDocument{record: rec, chunks: chunks}, nil
}

// write updates the vector index, the keyword index and the corpus in that
// order. When a step fails, every step taken so far is undone in reverse and
// prev, if any, is put back.
func (s *Service) write(ctx context.Context, doc *document.Document, chunks []chunker.Chunk, vectors [][]float32, prev *storedDocument) (err error) {
	var undo []func(context.Context) error
	defer func() {
		if err == nil {
			return
		}
		rctx := context.WithoutCancel(ctx)
		var rerr error
		for i := len(undo) - 1; i >= 0; i-- {
			rerr = errors.Join(rerr, undo[i](rctx))
		}
		if rerr != nil {
			s.logger.Error(rctx, "rolling back document write", zap.String("document_id", doc.ID), zap.Error(rerr))
		}
	}()

	undo = append(undo, func(ctx context.Context) error {
		if err := s.vector.DeleteDocument(ctx, doc.ID); err != nil {
			return fmt.Errorf("vector delete: %w", err)
		}
		if prev == nil {
			return nil
		}
		return s.restoreVectors(ctx, prev.chunks)
	})
	if prev != nil {
		if err := s.vector.DeleteDocument(ctx, doc.ID); err != nil {
			return fmt.Errorf("vector delete: %w", err)
		}
	}
	if err := s.vector.Upsert(ctx, vectorRecords(chunks, vectors)); err != nil {
		return fmt.Errorf("vector upsert: %w", err)
	}

	undo = append(undo, func(context.Context) error {
		if err := s.keyword.Remove(doc.ID); err != nil {
			return fmt.Errorf("keyword remove: %w", err)
		}
		if prev == nil {
			return nil
		}
		return s.keyword.Index(prev.chunks)
	})
	if prev != nil {
		if err := s.keyword.Remove(doc.ID); err != nil {
			return fmt.Errorf("keyword remove: %w", err)
		}
	}
	if err := s.keyword.Index(chunks); err != nil {
		return fmt.Errorf("keyword index: %w", err)
	}

	undo = append(undo, func(ctx context.Context) error {
		if prev != nil {
			return s.corpus.PutDocument(ctx, prev.record, prev.chunks)
		}
		if err := s.corpus.DeleteDocument(ctx, doc.ID); err != nil && !errors.Is(err, corpus.ErrNotFound) {
			return err
		}
		return nil
	})
	if err := s.corpus.PutDocument(ctx, corpus.RecordFor(doc, chunks), chunks); err != nil {
		return fmt.Errorf("corpus: %w", err)
	}
	return nil
}

// restoreVectors re-embeds chunks of a replaced document. The vector stores
// keep no copy of the old vectors.
func (s *Service) restoreVectors(ctx context.Context, chunks []chunker.Chunk) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := embeddings.EmbedBatched(ctx, s.embedder, texts, s.cfg.BatchSize, s.cfg.Concurrency)
	if err != nil {
		return fmt.Errorf("re-embed previous chunks: %w", err)
	}
	if err := s.vector.Upsert(ctx, vectorRecords(chunks, vectors)); err != nil {
		return fmt.Errorf("vector restore: %w", err)
	}
	return nil
}

func vectorRecords(chunks []chunker.Chunk, vectors [][]float32) []vectorstore.Record {
	records := make([]vectorstore.Record, len(chunks))
	for i, c := range chunks {
		records[i] = vectorstore.Record{ChunkID: c.ID, Vector: vectors[i], Metadata: c.Metadata()}
	}
	return records
}

// Delete removes a document from every store.
func (s *Service) Delete(ctx context.Context, documentID string) error {
	unlock := s.locks.Lock(documentID)
	defer unlock()

	if _, err := s.corpus.Document(ctx, documentID); err != nil {
		return err
	}
	return errors.Join(
		s.keyword.Remove(documentID),
		s.vector.DeleteDocument(ctx, documentID),
		s.corpus.DeleteDocument(ctx, documentID),
	)
}

// Rebuild loads every stored chunk into the keyword index. The keyword
// index lives in memory, so a persistent corpus needs this at startup.
func (s *Service) Rebuild(ctx context.Context) (int, error) {
	chunks, err := s.corpus.AllChunks(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading corpus: %w", err)
	}
	if err := s.keyword.Index(chunks); err != nil {
		return 0, fmt.Errorf("keyword index: %w", err)
	}
	s.logger.Info(ctx, "keyword index rebuilt", zap.Int("chunks", len(chunks)))
	return len(chunks), nil
}

func outcome(err error) string {
	var ie *document.IngestionError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.As(err, &ie) && ie.IsClientError():
		return "rejected"
	default:
		return "error"
	}
}

// keyedMutex serializes work per key and frees idle entries.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
