package document

import (
	"context"
	"fmt"

	md "github.com/JohannesKaufmann/html-to-markdown"
)

// HTMLExtractor converts HTML to Markdown and renders that as text, so
// <h1>..<h6> become section headings.
type HTMLExtractor struct {
	markdown *MarkdownExtractor
}

// NewHTMLExtractor creates an HTML extractor.
func NewHTMLExtractor(markdown *MarkdownExtractor) *HTMLExtractor {
	return &HTMLExtractor{markdown: markdown}
}

func (e *HTMLExtractor) Extract(ctx context.Context, _ string, data []byte) ([]Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	converter := md.NewConverter("", true, nil)
	converter.Remove("script", "style", "noscript", "nav")
	converted, err := converter.ConvertString(string(data))
	if err != nil {
		return nil, fmt.Errorf("html to markdown: %w", err)
	}
	return []Page{{Number: 1, Text: e.markdown.Render([]byte(converted))}}, nil
}
