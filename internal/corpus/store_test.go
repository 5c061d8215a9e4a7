package corpus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docqa/internal/chunker"
	"github.com/fyrsmithlabs/docqa/internal/config"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	disk, err := NewBadgerStore(t.TempDir())
	require.NoError(t, err)
	mem, err := NewBadgerStore("")
	require.NoError(t, err)
	stores := map[string]Store{
		"memory":          NewMemoryStore(),
		"badger":          disk,
		"badger-inmemory": mem,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func sampleChunks(docID string, texts ...string) []chunker.Chunk {
	out := make([]chunker.Chunk, len(texts))
	for i, text := range texts {
		out[i] = chunker.Chunk{
			ID:         chunker.ChunkID(docID, i),
			DocumentID: docID,
			Source:     docID + ".md",
			Text:       text,
			Page:       1,
			Section:    "Terms",
			Ordinal:    i,
			Summary:    text,
			Quality:    0.9,
		}
	}
	return out
}

func record(id string, chunks int, at time.Time) DocumentRecord {
	return DocumentRecord{ID: id, SourceName: id + ".md", ContentType: "text/markdown", Pages: 1, ChunkCount: chunks, IngestedAt: at}
}

func TestStore_PutAndGet(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			chunks := sampleChunks("doc-a", "first clause", "second clause", "third clause")
			require.NoError(t, s.PutDocument(ctx, record("doc-a", 3, at), chunks))

			rec, err := s.Document(ctx, "doc-a")
			require.NoError(t, err)
			assert.Equal(t, 3, rec.ChunkCount)
			assert.True(t, at.Equal(rec.IngestedAt))

			c, err := s.Chunk(ctx, chunks[1].ID)
			require.NoError(t, err)
			assert.Equal(t, chunks[1], c)

			got, err := s.ChunksByDocument(ctx, "doc-a")
			require.NoError(t, err)
			assert.Equal(t, chunks, got)

			resolved, err := s.Chunks(ctx, []string{chunks[0].ID, "missing:00000"})
			require.NoError(t, err)
			assert.Len(t, resolved, 1)
			assert.Contains(t, resolved, chunks[0].ID)
		})
	}
}

func TestStore_ReplaceDropsStaleChunks(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.PutDocument(ctx, record("doc-a", 3, time.Now()), sampleChunks("doc-a", "a", "b", "c")))
			require.NoError(t, s.PutDocument(ctx, record("doc-a", 1, time.Now()), sampleChunks("doc-a", "only")))

			got, err := s.ChunksByDocument(ctx, "doc-a")
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "only", got[0].Text)

			_, err = s.Chunk(ctx, chunker.ChunkID("doc-a", 2))
			assert.ErrorIs(t, err, ErrNotFound)

			stats, err := s.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, Stats{Documents: 1, Chunks: 1}, stats)
		})
	}
}

func TestStore_DeleteDocument(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.PutDocument(ctx, record("doc-a", 2, time.Now()), sampleChunks("doc-a", "a", "b")))
			require.NoError(t, s.PutDocument(ctx, record("doc-b", 1, time.Now()), sampleChunks("doc-b", "c")))

			require.NoError(t, s.DeleteDocument(ctx, "doc-a"))
			assert.ErrorIs(t, s.DeleteDocument(ctx, "doc-a"), ErrNotFound)

			_, err := s.Document(ctx, "doc-a")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.ChunksByDocument(ctx, "doc-a")
			assert.ErrorIs(t, err, ErrNotFound)

			all, err := s.AllChunks(ctx)
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.Equal(t, "doc-b", all[0].DocumentID)
		})
	}
}

func TestStore_ListingOrder(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.PutDocument(ctx, record("doc-b", 2, base), sampleChunks("doc-b", "b0", "b1")))
			require.NoError(t, s.PutDocument(ctx, record("doc-a", 1, base.Add(time.Hour)), sampleChunks("doc-a", "a0")))

			docs, err := s.Documents(ctx)
			require.NoError(t, err)
			require.Len(t, docs, 2)
			assert.Equal(t, "doc-b", docs[0].ID)
			assert.Equal(t, "doc-a", docs[1].ID)

			all, err := s.AllChunks(ctx)
			require.NoError(t, err)
			ids := make([]string, len(all))
			for i, c := range all {
				ids[i] = c.ID
			}
			assert.Equal(t, []string{"doc-a:00000", "doc-b:00000", "doc-b:00001"}, ids)
		})
	}
}

func TestBadgerStore_Reopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewBadgerStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.PutDocument(ctx, record("doc-a", 1, time.Now()), sampleChunks("doc-a", "persisted")))
	require.NoError(t, s.Close())

	s, err = NewBadgerStore(dir)
	require.NoError(t, err)
	defer s.Close()

	c, err := s.Chunk(ctx, "doc-a:00000")
	require.NoError(t, err)
	assert.Equal(t, "persisted", c.Text)
}

func TestNewStore(t *testing.T) {
	s, err := NewStore(config.CorpusConfig{Provider: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = NewStore(config.CorpusConfig{Provider: "badger", Path: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &BadgerStore{}, s)
	require.NoError(t, s.Close())

	_, err = NewStore(config.CorpusConfig{Provider: "sqlite"})
	assert.Error(t, err)
}
