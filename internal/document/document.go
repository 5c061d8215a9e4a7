// Package document turns uploaded files into page-addressed plain text.
package document

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrEmptyDocument is returned when no page yields any text.
	ErrEmptyDocument = errors.New("document has no extractable text")

	// ErrUnsupportedFormat is returned for file types no extractor handles.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrTooLarge is returned when the upload exceeds the configured size.
	ErrTooLarge = errors.New("document exceeds maximum size")
)

// IngestionError reports a document that could not be turned into chunks.
// It is fatal to that document only.
type IngestionError struct {
	Source string
	Reason string
	Err    error
}

func (e *IngestionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ingest %s: %s: %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("ingest %s: %s", e.Source, e.Reason)
}

func (e *IngestionError) Unwrap() error { return e.Err }

// IsClientError reports whether the failure was caused by the input itself
// (empty, unsupported or oversized) rather than by extraction machinery.
func (e *IngestionError) IsClientError() bool {
	return errors.Is(e.Err, ErrEmptyDocument) ||
		errors.Is(e.Err, ErrUnsupportedFormat) ||
		errors.Is(e.Err, ErrTooLarge)
}

// Page is one 1-based page of extracted text.
type Page struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// Document is an extracted upload. Immutable once created.
type Document struct {
	ID          string    `json:"id"`
	SourceName  string    `json:"source_name"`
	ContentType string    `json:"content_type"`
	RawText     string    `json:"raw_text"`
	Pages       []Page    `json:"pages"`
	IngestedAt  time.Time `json:"ingested_at"`
}

// idNamespace scopes document UUIDs.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/fyrsmithlabs/docqa/document"))

// NewID returns the deterministic id for a source name and its text.
func NewID(sourceName, rawText string) string {
	return uuid.NewSHA1(idNamespace, []byte(sourceName+"\x00"+rawText)).String()
}

// New builds a Document from extracted pages. Page text is cleaned and
// pages are renumbered 1..n in order. Fails with ErrEmptyDocument when
// every page is blank.
func New(sourceName, contentType string, pages []Page) (*Document, error) {
	cleaned := make([]Page, 0, len(pages))
	var raw strings.Builder
	hasText := false
	for i, p := range pages {
		text := CleanText(p.Text)
		if text != "" {
			hasText = true
		}
		if i > 0 {
			raw.WriteString("\n\n")
		}
		raw.WriteString(text)
		cleaned = append(cleaned, Page{Number: i + 1, Text: text})
	}
	if !hasText {
		return nil, &IngestionError{Source: sourceName, Reason: "no text extracted", Err: ErrEmptyDocument}
	}

	rawText := raw.String()
	return &Document{
		ID:          NewID(sourceName, rawText),
		SourceName:  sourceName,
		ContentType: contentType,
		RawText:     rawText,
		Pages:       cleaned,
		IngestedAt:  time.Now().UTC(),
	}, nil
}

// WithPages returns a copy of d with its pages replaced and RawText rebuilt.
// The id is kept so that post-processing (secret scrubbing) does not change
// document identity.
func (d *Document) WithPages(pages []Page) *Document {
	out := *d
	out.Pages = make([]Page, len(pages))
	copy(out.Pages, pages)
	texts := make([]string, len(pages))
	for i, p := range pages {
		texts[i] = p.Text
	}
	out.RawText = strings.Join(texts, "\n\n")
	return &out
}
