// Package corpus is the authoritative registry of ingested documents and
// their chunks. Retrieval results are hydrated from it, so evidence can only
// reference chunks that exist here.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/docqa/internal/chunker"
	"github.com/fyrsmithlabs/docqa/internal/config"
	"github.com/fyrsmithlabs/docqa/internal/document"
)

// ErrNotFound is returned for unknown document or chunk ids.
var ErrNotFound = errors.New("not found")

// DocumentRecord describes an ingested document without its text.
type DocumentRecord struct {
	ID          string    `json:"id"`
	SourceName  string    `json:"source_name"`
	ContentType string    `json:"content_type"`
	Pages       int       `json:"pages"`
	ChunkCount  int       `json:"chunk_count"`
	IngestedAt  time.Time `json:"ingested_at"`
}

// RecordFor summarizes doc and its chunks.
func RecordFor(doc *document.Document, chunks []chunker.Chunk) DocumentRecord {
	return DocumentRecord{
		ID:          doc.ID,
		SourceName:  doc.SourceName,
		ContentType: doc.ContentType,
		Pages:       len(doc.Pages),
		ChunkCount:  len(chunks),
		IngestedAt:  doc.IngestedAt,
	}
}

// Stats reports corpus size.
type Stats struct {
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
}

// Store persists documents and chunks. Implementations are safe for
// concurrent use.
type Store interface {
	// PutDocument stores a document and replaces any chunks it had before.
	PutDocument(ctx context.Context, rec DocumentRecord, chunks []chunker.Chunk) error
	Document(ctx context.Context, id string) (DocumentRecord, error)
	Documents(ctx context.Context) ([]DocumentRecord, error)
	DeleteDocument(ctx context.Context, id string) error

	Chunk(ctx context.Context, id string) (chunker.Chunk, error)
	// Chunks resolves ids; unknown ids are absent from the result.
	Chunks(ctx context.Context, ids []string) (map[string]chunker.Chunk, error)
	ChunksByDocument(ctx context.Context, documentID string) ([]chunker.Chunk, error)
	// AllChunks returns every chunk ordered by document then ordinal.
	AllChunks(ctx context.Context) ([]chunker.Chunk, error)

	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// NewStore creates the store selected by the corpus config section.
func NewStore(cfg config.CorpusConfig) (Store, error) {
	switch cfg.Provider {
	case "", "memory":
		return NewMemoryStore(), nil
	case "badger":
		return NewBadgerStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown corpus provider %q", cfg.Provider)
	}
}
