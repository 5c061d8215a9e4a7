// Package keyword implements an in-memory BM25 index over chunks.
//
// Writers build a new immutable snapshot from the current one and publish it
// with an atomic pointer swap. Readers never lock and always see a complete
// snapshot.
package keyword

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fyrsmithlabs/docqa/internal/chunker"
)

const (
	// K1 is the BM25 term frequency saturation parameter.
	K1 = 1.5
	// B is the BM25 length normalization parameter.
	B = 0.75
)

// ErrIndexUnavailable is returned by a closed index.
var ErrIndexUnavailable = errors.New("keyword index unavailable")

// Result is a scored chunk.
type Result struct {
	ChunkID string
	Score   float64
}

// Stats describes the current snapshot.
type Stats struct {
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
	Terms     int `json:"terms"`
}

type entry struct {
	documentID string
	ordinal    int
	length     int
	terms      map[string]int
}

// snapshot is never modified after it is published.
type snapshot struct {
	chunks     map[string]*entry
	postings   map[string]map[string]int
	byDocument map[string][]string
	totalLen   int
}

func emptySnapshot() *snapshot {
	return &snapshot{
		chunks:     map[string]*entry{},
		postings:   map[string]map[string]int{},
		byDocument: map[string][]string{},
	}
}

// clone copies the top-level maps only. Posting lists are shared until a
// writer touches them.
func (s *snapshot) clone() *snapshot {
	n := &snapshot{
		chunks:     make(map[string]*entry, len(s.chunks)),
		postings:   make(map[string]map[string]int, len(s.postings)),
		byDocument: make(map[string][]string, len(s.byDocument)),
		totalLen:   s.totalLen,
	}
	for k, v := range s.chunks {
		n.chunks[k] = v
	}
	for k, v := range s.postings {
		n.postings[k] = v
	}
	for k, v := range s.byDocument {
		n.byDocument[k] = v
	}
	return n
}

// Index is a BM25 keyword index. It is safe for concurrent use.
type Index struct {
	writeMu sync.Mutex
	current atomic.Pointer[snapshot]
	closed  atomic.Bool
}

// New returns an empty index.
func New() *Index {
	idx := &Index{}
	idx.current.Store(emptySnapshot())
	return idx
}

// Index adds chunks to the index. A chunk id that is already present is
// replaced.
func (idx *Index) Index(chunks []chunker.Chunk) error {
	if idx.closed.Load() {
		return ErrIndexUnavailable
	}
	if len(chunks) == 0 {
		return nil
	}

	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	next := idx.current.Load().clone()
	copied := map[string]bool{}
	for _, c := range chunks {
		if old, ok := next.chunks[c.ID]; ok {
			next.removeChunk(c.ID, old, copied)
		}
		next.addChunk(c, copied)
	}
	idx.current.Store(next)
	recordSnapshot(next)
	return nil
}

// Remove drops every chunk of a document. Unknown ids are ignored.
func (idx *Index) Remove(documentID string) error {
	if idx.closed.Load() {
		return ErrIndexUnavailable
	}

	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	cur := idx.current.Load()
	ids, ok := cur.byDocument[documentID]
	if !ok {
		return nil
	}
	next := cur.clone()
	copied := map[string]bool{}
	for _, id := range ids {
		next.removeChunk(id, next.chunks[id], copied)
	}
	idx.current.Store(next)
	recordSnapshot(next)
	return nil
}

// postingsFor returns a writable posting list for term, copying the shared
// one on first use within a write.
func (s *snapshot) postingsFor(term string, copied map[string]bool) map[string]int {
	old, ok := s.postings[term]
	if ok && copied[term] {
		return old
	}
	p := make(map[string]int, len(old)+1)
	for k, v := range old {
		p[k] = v
	}
	s.postings[term] = p
	copied[term] = true
	return p
}

func (s *snapshot) addChunk(c chunker.Chunk, copied map[string]bool) {
	tokens := Tokenize(c.Text)
	terms := make(map[string]int, len(tokens))
	for _, t := range tokens {
		terms[t]++
	}
	for t, tf := range terms {
		s.postingsFor(t, copied)[c.ID] = tf
	}
	s.chunks[c.ID] = &entry{documentID: c.DocumentID, ordinal: c.Ordinal, length: len(tokens), terms: terms}
	s.totalLen += len(tokens)

	ids := s.byDocument[c.DocumentID]
	next := make([]string, len(ids), len(ids)+1)
	copy(next, ids)
	s.byDocument[c.DocumentID] = append(next, c.ID)
}

func (s *snapshot) removeChunk(id string, e *entry, copied map[string]bool) {
	if e == nil {
		return
	}
	for t := range e.terms {
		p := s.postingsFor(t, copied)
		delete(p, id)
		if len(p) == 0 {
			delete(s.postings, t)
		}
	}
	delete(s.chunks, id)
	s.totalLen -= e.length

	ids := s.byDocument[e.documentID]
	kept := make([]string, 0, len(ids))
	for _, other := range ids {
		if other != id {
			kept = append(kept, other)
		}
	}
	if len(kept) == 0 {
		delete(s.byDocument, e.documentID)
	} else {
		s.byDocument[e.documentID] = kept
	}
}

// Query scores chunks against text with BM25 and returns the top k, ordered
// by score descending, then ordinal ascending, then chunk id. An empty query
// or index yields an empty result.
func (idx *Index) Query(ctx context.Context, text string, k int) ([]Result, error) {
	if idx.closed.Load() {
		return nil, ErrIndexUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { QueryDuration.Observe(time.Since(start).Seconds()) }()

	s := idx.current.Load()
	n := len(s.chunks)
	if n == 0 || k <= 0 {
		return []Result{}, nil
	}

	seen := map[string]bool{}
	scores := map[string]float64{}
	avgLen := float64(s.totalLen) / float64(n)
	if avgLen == 0 {
		avgLen = 1
	}
	for _, term := range Tokenize(text) {
		if seen[term] {
			continue
		}
		seen[term] = true
		postings := s.postings[term]
		if len(postings) == 0 {
			continue
		}
		idf := IDF(n, len(postings))
		for id, tf := range postings {
			e := s.chunks[id]
			f := float64(tf)
			norm := K1 * (1 - B + B*float64(e.length)/avgLen)
			scores[id] += idf * f * (K1 + 1) / (f + norm)
		}
	}
	if len(scores) == 0 {
		return []Result{}, nil
	}

	out := make([]Result, 0, len(scores))
	for id, score := range scores {
		out = append(out, Result{ChunkID: id, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		oi, oj := s.chunks[out[i].ChunkID].ordinal, s.chunks[out[j].ChunkID].ordinal
		if oi != oj {
			return oi < oj
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// IDF is the BM25 inverse document frequency with the +1 smoothing that
// keeps it positive.
func IDF(n, df int) float64 {
	return math.Log((float64(n)-float64(df)+0.5)/(float64(df)+0.5) + 1)
}

// Stats reports the size of the current snapshot.
func (idx *Index) Stats() Stats {
	s := idx.current.Load()
	return Stats{Documents: len(s.byDocument), Chunks: len(s.chunks), Terms: len(s.postings)}
}

// Healthy reports whether the index accepts queries.
func (idx *Index) Healthy() bool {
	return !idx.closed.Load()
}

// Close marks the index unavailable.
func (idx *Index) Close() error {
	idx.closed.Store(true)
	return nil
}
