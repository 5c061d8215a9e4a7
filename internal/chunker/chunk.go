// Package chunker splits extracted documents into ordered, deterministic,
// section-bounded chunks.
package chunker

import (
	"fmt"
	"strconv"
	"strings"
)

// Chunk is a contiguous excerpt of one page of one document. Created once
// at ingestion and never mutated.
type Chunk struct {
	ID         string  `json:"id"`
	DocumentID string  `json:"document_id"`
	Source     string  `json:"source"`
	Text       string  `json:"text"`
	Page       int     `json:"page"`
	Section    string  `json:"section"`
	Ordinal    int     `json:"ordinal"`
	Summary    string  `json:"summary,omitempty"`
	Quality    float64 `json:"quality"`
}

// ChunkID returns the id of the chunk at ordinal within a document.
func ChunkID(documentID string, ordinal int) string {
	return fmt.Sprintf("%s:%05d", documentID, ordinal)
}

// ParseChunkID splits a chunk id into document id and ordinal.
func ParseChunkID(id string) (documentID string, ordinal int, err error) {
	i := strings.LastIndexByte(id, ':')
	if i <= 0 || i == len(id)-1 {
		return "", 0, fmt.Errorf("malformed chunk id %q", id)
	}
	ordinal, err = strconv.Atoi(id[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("malformed chunk id %q: %w", id, err)
	}
	return id[:i], ordinal, nil
}

// Metadata flattens the chunk's descriptive fields for index backends.
func (c Chunk) Metadata() map[string]string {
	return map[string]string{
		"document_id": c.DocumentID,
		"source":      c.Source,
		"page":        strconv.Itoa(c.Page),
		"section":     c.Section,
		"ordinal":     strconv.Itoa(c.Ordinal),
	}
}
