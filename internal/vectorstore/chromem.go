package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docqa/internal/logging"
)

var chromemTracer = otel.Tracer("docqa.vectorstore.chromem")

// tieSlack extra candidates are fetched so equal similarities at the cut can
// be ordered by ordinal before truncation.
const tieSlack = 16

// ChromemConfig configures the embedded chromem-go store.
type ChromemConfig struct {
	// Path enables persistence to gob files. Empty keeps everything in memory.
	Path       string
	Compress   bool
	Collection string
	// Dimension is the expected vector length; 0 accepts any length but the
	// first upsert fixes it.
	Dimension int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "docqa_chunks"
	}
}

// ChromemStore implements Store on chromem-go.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	config     ChromemConfig
	logger     *logging.Logger
	dim        atomic.Int64
	closed     atomic.Bool
}

// NewChromemStore opens the store described by cfg.
func NewChromemStore(cfg ChromemConfig, logger *logging.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	cfg.ApplyDefaults()
	if err := ValidateCollectionName(cfg.Collection); err != nil {
		return nil, err
	}
	if cfg.Dimension < 0 {
		return nil, fmt.Errorf("%w: dimension cannot be negative", ErrInvalidConfig)
	}

	var (
		db  *chromem.DB
		err error
	)
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		path, perr := expandPath(cfg.Path)
		if perr != nil {
			return nil, fmt.Errorf("expanding path: %w", perr)
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
		cfg.Path = path
	}

	col, err := db.GetOrCreateCollection(cfg.Collection, nil, rejectTextQueries)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", cfg.Collection, err)
	}

	s := &ChromemStore{db: db, collection: col, config: cfg, logger: logger}
	s.dim.Store(int64(cfg.Dimension))

	logger.Info(context.Background(), "chromem store initialized",
		zap.String("path", cfg.Path),
		zap.Bool("compress", cfg.Compress),
		zap.String("collection", cfg.Collection),
		zap.Int("documents", col.Count()),
	)
	return s, nil
}

// rejectTextQueries is the collection's embedding function. Vectors are
// always supplied by the caller.
func rejectTextQueries(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem store embeds nothing itself")
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

func (s *ChromemStore) Upsert(ctx context.Context, records []Record) (err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()
	span.SetAttributes(attribute.Int("records", len(records)))

	start := time.Now()
	defer func() { observe("chromem", "upsert", start, err) }()

	if s.closed.Load() {
		return unavailable("upsert", errors.New("store closed"))
	}
	if len(records) == 0 {
		return nil
	}

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		if r.ChunkID == "" {
			return fmt.Errorf("record %d: chunk id is required", i)
		}
		if s.dim.Load() == 0 {
			s.dim.CompareAndSwap(0, int64(len(r.Vector)))
		}
		if err := checkDimension(int(s.dim.Load()), r.Vector); err != nil {
			return fmt.Errorf("record %s: %w", r.ChunkID, err)
		}
		if isZero(r.Vector) {
			return fmt.Errorf("record %s: zero vector", r.ChunkID)
		}
		vec := make([]float32, len(r.Vector))
		copy(vec, r.Vector)
		docs[i] = chromem.Document{ID: r.ChunkID, Metadata: r.Metadata, Embedding: vec}
	}

	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return unavailable("upsert", err)
	}
	s.logger.Debug(ctx, "upserted vectors", zap.Int("count", len(docs)))
	return nil
}

func (s *ChromemStore) Query(ctx context.Context, vector []float32, k int) (results []Result, err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Query")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k))

	start := time.Now()
	defer func() { observe("chromem", "query", start, err) }()

	if s.closed.Load() {
		return nil, unavailable("query", errors.New("store closed"))
	}
	if err := checkDimension(int(s.dim.Load()), vector); err != nil {
		return nil, err
	}

	count := s.collection.Count()
	if count == 0 || k <= 0 || isZero(vector) {
		return []Result{}, nil
	}
	n := min(k+tieSlack, count)

	hits, err := s.collection.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, unavailable("query", err)
	}

	results = make([]Result, len(hits))
	for i, h := range hits {
		results[i] = Result{ChunkID: h.ID, Similarity: float64(h.Similarity), Metadata: h.Metadata}
	}
	sortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

func (s *ChromemStore) DeleteDocument(ctx context.Context, documentID string) (err error) {
	start := time.Now()
	defer func() { observe("chromem", "delete", start, err) }()

	if s.closed.Load() {
		return unavailable("delete", errors.New("store closed"))
	}
	if err := s.collection.Delete(ctx, map[string]string{MetaDocumentID: documentID}, nil); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

func (s *ChromemStore) Count(context.Context) (int, error) {
	if s.closed.Load() {
		return 0, unavailable("count", errors.New("store closed"))
	}
	return s.collection.Count(), nil
}

func (s *ChromemStore) Healthy(context.Context) bool {
	ok := !s.closed.Load()
	recordHealth("chromem", ok)
	return ok
}

// Close marks the store unavailable. Persistent data is already on disk.
func (s *ChromemStore) Close() error {
	s.closed.Store(true)
	return nil
}
