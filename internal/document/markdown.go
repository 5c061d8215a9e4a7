package document

import (
	"bytes"
	"context"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownExtractor renders Markdown to plain text while keeping headings
// as "#" lines so the chunker can see section boundaries. The whole file is
// a single page.
type MarkdownExtractor struct {
	md goldmark.Markdown
}

// NewMarkdownExtractor creates a Markdown extractor with table and
// strikethrough support.
func NewMarkdownExtractor() *MarkdownExtractor {
	return &MarkdownExtractor{
		md: goldmark.New(goldmark.WithExtensions(extension.Table, extension.Strikethrough)),
	}
}

func (e *MarkdownExtractor) Extract(ctx context.Context, _ string, data []byte) ([]Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []Page{{Number: 1, Text: e.Render(data)}}, nil
}

// Render converts Markdown source to block-separated plain text.
func (e *MarkdownExtractor) Render(source []byte) string {
	doc := e.md.Parser().Parse(text.NewReader(source))
	r := &textRenderer{source: source}
	_ = ast.Walk(doc, r.walk)
	return strings.TrimSpace(r.out.String())
}

type textRenderer struct {
	source []byte
	out    strings.Builder
}

func (r *textRenderer) block(s string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return
	}
	if r.out.Len() > 0 {
		r.out.WriteString("\n\n")
	}
	r.out.WriteString(s)
}

func (r *textRenderer) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	switch n.Kind() {
	case ast.KindHeading:
		h := n.(*ast.Heading)
		r.block(strings.Repeat("#", h.Level) + " " + r.inline(n))
		return ast.WalkSkipChildren, nil
	case ast.KindParagraph, ast.KindTextBlock:
		r.block(r.inline(n))
		return ast.WalkSkipChildren, nil
	case ast.KindListItem:
		r.block("- " + r.listItem(n))
		return ast.WalkSkipChildren, nil
	case ast.KindFencedCodeBlock, ast.KindCodeBlock:
		r.block(r.lines(n))
		return ast.WalkSkipChildren, nil
	case ast.KindHTMLBlock, ast.KindThematicBreak:
		return ast.WalkSkipChildren, nil
	case extast.KindTable:
		r.block(r.table(n))
		return ast.WalkSkipChildren, nil
	}
	return ast.WalkContinue, nil
}

// listItem flattens nested blocks of a list item onto one line.
func (r *textRenderer) listItem(n ast.Node) string {
	parts := make([]string, 0, 2)
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch c.Kind() {
		case ast.KindList:
			for item := c.FirstChild(); item != nil; item = item.NextSibling() {
				parts = append(parts, r.listItem(item))
			}
		case ast.KindFencedCodeBlock, ast.KindCodeBlock:
			parts = append(parts, r.lines(c))
		default:
			parts = append(parts, r.inline(c))
		}
	}
	return strings.Join(parts, " ")
}

func (r *textRenderer) lines(n ast.Node) string {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(r.source))
	}
	return buf.String()
}

func (r *textRenderer) table(n ast.Node) string {
	rows := make([]string, 0)
	for row := n.FirstChild(); row != nil; row = row.NextSibling() {
		cells := make([]string, 0)
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, strings.TrimSpace(r.inline(cell)))
		}
		rows = append(rows, strings.Join(cells, " | "))
	}
	return strings.Join(rows, "\n")
}

// inline collects the text of inline descendants.
func (r *textRenderer) inline(n ast.Node) string {
	var sb strings.Builder
	var visit func(ast.Node)
	visit = func(node ast.Node) {
		for c := node.FirstChild(); c != nil; c = c.NextSibling() {
			switch t := c.(type) {
			case *ast.Text:
				sb.Write(t.Segment.Value(r.source))
				if t.HardLineBreak() {
					sb.WriteString("\n")
				} else if t.SoftLineBreak() {
					sb.WriteString(" ")
				}
			case *ast.String:
				sb.Write(t.Value)
			case *ast.AutoLink:
				sb.Write(t.Label(r.source))
			case *ast.RawHTML:
				// dropped
			default:
				visit(c)
			}
		}
	}
	visit(n)
	return sb.String()
}
