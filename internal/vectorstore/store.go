// Package vectorstore stores chunk embeddings and answers cosine similarity
// queries. Backends are chromem-go (embedded, default) and Qdrant (gRPC).
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
)

var (
	// ErrIndexUnavailable wraps every failure to reach the backend.
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrDimensionMismatch is returned when a vector has the wrong length.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrInvalidCollectionName indicates a collection name outside ^[a-z0-9_]{1,64}$.
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

// Metadata keys written for every record.
const (
	MetaDocumentID = "document_id"
	MetaSource     = "source"
	MetaPage       = "page"
	MetaSection    = "section"
	MetaOrdinal    = "ordinal"
)

// Record is a chunk embedding.
type Record struct {
	ChunkID  string
	Vector   []float32
	Metadata map[string]string
}

// Result is a query hit. Similarity is cosine similarity, higher is better.
type Result struct {
	ChunkID    string
	Similarity float64
	Metadata   map[string]string
}

// Store is a vector index. Implementations are safe for concurrent use.
type Store interface {
	// Upsert inserts or replaces records by chunk id.
	Upsert(ctx context.Context, records []Record) error
	// Query returns up to k nearest records. k larger than the collection
	// is clamped; an empty collection yields an empty slice.
	Query(ctx context.Context, vector []float32, k int) ([]Result, error)
	// DeleteDocument removes every record of a document.
	DeleteDocument(ctx context.Context, documentID string) error
	Count(ctx context.Context) (int, error)
	Healthy(ctx context.Context) bool
	Close() error
}

var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName checks name against ^[a-z0-9_]{1,64}$.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrIndexUnavailable, err)
}

func ordinalOf(md map[string]string) int {
	n, err := strconv.Atoi(md[MetaOrdinal])
	if err != nil {
		return int(^uint(0) >> 1)
	}
	return n
}

// sortResults orders by similarity descending, then ordinal ascending, then
// chunk id.
func sortResults(rs []Result) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].Similarity != rs[j].Similarity {
			return rs[i].Similarity > rs[j].Similarity
		}
		oi, oj := ordinalOf(rs[i].Metadata), ordinalOf(rs[j].Metadata)
		if oi != oj {
			return oi < oj
		}
		return rs[i].ChunkID < rs[j].ChunkID
	})
}

func checkDimension(dim int, v []float32) error {
	if dim > 0 && len(v) != dim {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, dim, len(v))
	}
	return nil
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
