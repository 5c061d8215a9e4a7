package document

import (
	"context"
	"errors"
	"mime"
	"path/filepath"
	"sort"
	"strings"
)

// Extractor turns raw file bytes into pages.
type Extractor interface {
	Extract(ctx context.Context, name string, data []byte) ([]Page, error)
}

// Registry dispatches extraction by file extension.
type Registry struct {
	byExt   map[string]Extractor
	maxSize int64
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxSize rejects uploads larger than n bytes. Zero disables the check.
func WithMaxSize(n int64) Option {
	return func(r *Registry) { r.maxSize = n }
}

// WithExtractor registers (or replaces) the extractor for ext.
func WithExtractor(ext string, e Extractor) Option {
	return func(r *Registry) { r.byExt[normalizeExt(ext)] = e }
}

// NewRegistry creates a registry restricted to the allowed extensions.
// An empty allowed list enables every built-in format.
func NewRegistry(allowed []string, opts ...Option) *Registry {
	markdown := NewMarkdownExtractor()
	builtin := map[string]Extractor{
		".pdf":      NewPDFExtractor(""),
		".txt":      TextExtractor{},
		".text":     TextExtractor{},
		".md":       markdown,
		".markdown": markdown,
		".html":     NewHTMLExtractor(markdown),
		".htm":      NewHTMLExtractor(markdown),
	}

	r := &Registry{byExt: make(map[string]Extractor)}
	if len(allowed) == 0 {
		r.byExt = builtin
	} else {
		for _, ext := range allowed {
			ext = normalizeExt(ext)
			if e, ok := builtin[ext]; ok {
				r.byExt[ext] = e
			}
		}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// Supports reports whether a file name has a registered extension.
func (r *Registry) Supports(name string) bool {
	_, ok := r.byExt[normalizeExt(filepath.Ext(name))]
	return ok
}

// Extensions lists the registered extensions in sorted order.
func (r *Registry) Extensions() []string {
	out := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Extract runs the matching extractor and builds a Document. Every failure
// is an *IngestionError.
func (r *Registry) Extract(ctx context.Context, name string, data []byte) (*Document, error) {
	source := filepath.Base(name)
	ext := normalizeExt(filepath.Ext(name))

	e, ok := r.byExt[ext]
	if !ok {
		return nil, &IngestionError{Source: source, Reason: "extension " + quoteExt(ext), Err: ErrUnsupportedFormat}
	}
	if len(data) == 0 {
		return nil, &IngestionError{Source: source, Reason: "empty file", Err: ErrEmptyDocument}
	}
	if r.maxSize > 0 && int64(len(data)) > r.maxSize {
		return nil, &IngestionError{Source: source, Reason: "file too large", Err: ErrTooLarge}
	}

	pages, err := e.Extract(ctx, source, data)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &IngestionError{Source: source, Reason: "extraction failed", Err: err}
	}
	return New(source, contentType(ext), pages)
}

func quoteExt(ext string) string {
	if ext == "" {
		return "(none)"
	}
	return ext
}

func contentType(ext string) string {
	switch ext {
	case ".md", ".markdown":
		return "text/markdown"
	case ".txt", ".text":
		return "text/plain"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
