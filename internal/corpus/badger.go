package corpus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"github.com/fyrsmithlabs/docqa/internal/chunker"
)

type storedDocument struct {
	ID          string
	SourceName  string
	ContentType string
	Pages       int
	ChunkCount  int
	IngestedAt  time.Time
}

type storedChunk struct {
	ID         string
	DocumentID string `badgerhold:"index"`
	Source     string
	Text       string
	Page       int
	Section    string
	Ordinal    int
	Summary    string
	Quality    float64
}

// BadgerStore persists the corpus in an embedded Badger database.
type BadgerStore struct {
	store *badgerhold.Store
}

// NewBadgerStore opens (or creates) a store under dir. An empty dir opens an
// in-memory database.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badgerhold.DefaultOptions
	if dir == "" {
		opts.Options = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create corpus directory: %w", err)
		}
		opts.Dir = dir
		opts.ValueDir = dir
	}
	opts.Logger = nil

	store, err := badgerhold.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open corpus store: %w", err)
	}
	return &BadgerStore{store: store}, nil
}

func (s *BadgerStore) PutDocument(ctx context.Context, rec DocumentRecord, chunks []chunker.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.store.Badger().Update(func(tx *badger.Txn) error {
		if err := s.store.TxDeleteMatching(tx, &storedChunk{}, byDocument(rec.ID)); err != nil {
			return fmt.Errorf("delete previous chunks: %w", err)
		}
		if err := s.store.TxUpsert(tx, rec.ID, storedDocument(rec)); err != nil {
			return fmt.Errorf("store document %s: %w", rec.ID, err)
		}
		for _, c := range chunks {
			if err := s.store.TxUpsert(tx, c.ID, toStored(c)); err != nil {
				return fmt.Errorf("store chunk %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

func (s *BadgerStore) Document(_ context.Context, id string) (DocumentRecord, error) {
	var d storedDocument
	if err := s.store.Get(id, &d); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return DocumentRecord{}, ErrNotFound
		}
		return DocumentRecord{}, fmt.Errorf("get document %s: %w", id, err)
	}
	return DocumentRecord(d), nil
}

func (s *BadgerStore) Documents(_ context.Context) ([]DocumentRecord, error) {
	var docs []storedDocument
	if err := s.store.Find(&docs, nil); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	out := make([]DocumentRecord, len(docs))
	for i, d := range docs {
		out[i] = DocumentRecord(d)
	}
	sortDocuments(out)
	return out, nil
}

func (s *BadgerStore) DeleteDocument(_ context.Context, id string) error {
	return s.store.Badger().Update(func(tx *badger.Txn) error {
		if err := s.store.TxDelete(tx, id, &storedDocument{}); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("delete document %s: %w", id, err)
		}
		return s.store.TxDeleteMatching(tx, &storedChunk{}, byDocument(id))
	})
}

func (s *BadgerStore) Chunk(_ context.Context, id string) (chunker.Chunk, error) {
	var c storedChunk
	if err := s.store.Get(id, &c); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return chunker.Chunk{}, ErrNotFound
		}
		return chunker.Chunk{}, fmt.Errorf("get chunk %s: %w", id, err)
	}
	return fromStored(c), nil
}

func (s *BadgerStore) Chunks(ctx context.Context, ids []string) (map[string]chunker.Chunk, error) {
	out := make(map[string]chunker.Chunk, len(ids))
	for _, id := range ids {
		c, err := s.Chunk(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = c
	}
	return out, nil
}

func (s *BadgerStore) ChunksByDocument(ctx context.Context, documentID string) ([]chunker.Chunk, error) {
	if _, err := s.Document(ctx, documentID); err != nil {
		return nil, err
	}
	var stored []storedChunk
	if err := s.store.Find(&stored, byDocument(documentID)); err != nil {
		return nil, fmt.Errorf("find chunks for %s: %w", documentID, err)
	}
	return fromStoredAll(stored), nil
}

func (s *BadgerStore) AllChunks(_ context.Context) ([]chunker.Chunk, error) {
	var stored []storedChunk
	if err := s.store.Find(&stored, nil); err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	return fromStoredAll(stored), nil
}

func (s *BadgerStore) Stats(_ context.Context) (Stats, error) {
	docs, err := s.store.Count(&storedDocument{}, nil)
	if err != nil {
		return Stats{}, fmt.Errorf("count documents: %w", err)
	}
	chunks, err := s.store.Count(&storedChunk{}, nil)
	if err != nil {
		return Stats{}, fmt.Errorf("count chunks: %w", err)
	}
	return Stats{Documents: int(docs), Chunks: int(chunks)}, nil
}

func (s *BadgerStore) Close() error {
	return s.store.Close()
}

func byDocument(id string) *badgerhold.Query {
	return badgerhold.Where("DocumentID").Eq(id).Index("DocumentID")
}

func toStored(c chunker.Chunk) storedChunk {
	return storedChunk{
		ID:         c.ID,
		DocumentID: c.DocumentID,
		Source:     c.Source,
		Text:       c.Text,
		Page:       c.Page,
		Section:    c.Section,
		Ordinal:    c.Ordinal,
		Summary:    c.Summary,
		Quality:    c.Quality,
	}
}

func fromStored(c storedChunk) chunker.Chunk {
	return chunker.Chunk{
		ID:         c.ID,
		DocumentID: c.DocumentID,
		Source:     c.Source,
		Text:       c.Text,
		Page:       c.Page,
		Section:    c.Section,
		Ordinal:    c.Ordinal,
		Summary:    c.Summary,
		Quality:    c.Quality,
	}
}

func fromStoredAll(stored []storedChunk) []chunker.Chunk {
	out := make([]chunker.Chunk, len(stored))
	for i, c := range stored {
		out[i] = fromStored(c)
	}
	sortChunks(out)
	return out
}
