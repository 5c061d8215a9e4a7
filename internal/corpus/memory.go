package corpus

import (
	"context"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/docqa/internal/chunker"
)

// MemoryStore keeps the corpus in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	documents map[string]DocumentRecord
	chunks    map[string]chunker.Chunk
	byDoc     map[string][]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]DocumentRecord),
		chunks:    make(map[string]chunker.Chunk),
		byDoc:     make(map[string][]string),
	}
}

func (s *MemoryStore) PutDocument(_ context.Context, rec DocumentRecord, chunks []chunker.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteLocked(rec.ID)
	s.documents[rec.ID] = rec
	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		s.chunks[c.ID] = c
		ids = append(ids, c.ID)
	}
	s.byDoc[rec.ID] = ids
	return nil
}

func (s *MemoryStore) Document(_ context.Context, id string) (DocumentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.documents[id]
	if !ok {
		return DocumentRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) Documents(_ context.Context) ([]DocumentRecord, error) {
	s.mu.RLock()
	out := make([]DocumentRecord, 0, len(s.documents))
	for _, rec := range s.documents {
		out = append(out, rec)
	}
	s.mu.RUnlock()
	sortDocuments(out)
	return out, nil
}

func (s *MemoryStore) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[id]; !ok {
		return ErrNotFound
	}
	s.deleteLocked(id)
	return nil
}

func (s *MemoryStore) deleteLocked(id string) {
	for _, cid := range s.byDoc[id] {
		delete(s.chunks, cid)
	}
	delete(s.byDoc, id)
	delete(s.documents, id)
}

func (s *MemoryStore) Chunk(_ context.Context, id string) (chunker.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chunks[id]
	if !ok {
		return chunker.Chunk{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) Chunks(_ context.Context, ids []string) (map[string]chunker.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]chunker.Chunk, len(ids))
	for _, id := range ids {
		if c, ok := s.chunks[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func (s *MemoryStore) ChunksByDocument(_ context.Context, documentID string) ([]chunker.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids, ok := s.byDoc[documentID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]chunker.Chunk, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.chunks[id])
	}
	sortChunks(out)
	return out, nil
}

func (s *MemoryStore) AllChunks(_ context.Context) ([]chunker.Chunk, error) {
	s.mu.RLock()
	out := make([]chunker.Chunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		out = append(out, c)
	}
	s.mu.RUnlock()
	sortChunks(out)
	return out, nil
}

func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Documents: len(s.documents), Chunks: len(s.chunks)}, nil
}

func (s *MemoryStore) Close() error { return nil }

func sortChunks(cs []chunker.Chunk) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].DocumentID != cs[j].DocumentID {
			return cs[i].DocumentID < cs[j].DocumentID
		}
		return cs[i].Ordinal < cs[j].Ordinal
	})
}

func sortDocuments(ds []DocumentRecord) {
	sort.Slice(ds, func(i, j int) bool {
		if !ds[i].IngestedAt.Equal(ds[j].IngestedAt) {
			return ds[i].IngestedAt.Before(ds[j].IngestedAt)
		}
		return ds[i].ID < ds[j].ID
	})
}
