package document

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var contentPageFile = regexp.MustCompile(`_Content_page_(\d+)`)

// PDFExtractor extracts per-page text with pdfcpu. pdfcpu writes the raw
// content stream of each page, which is then decoded by decodeContentStream.
type PDFExtractor struct {
	tempDir string
}

// NewPDFExtractor creates a PDF extractor. An empty tempDir uses the OS default.
func NewPDFExtractor(tempDir string) *PDFExtractor {
	return &PDFExtractor{tempDir: tempDir}
}

func (e *PDFExtractor) Extract(ctx context.Context, name string, data []byte) ([]Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conf := model.NewDefaultConfiguration()
	pdfCtx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	pageCount := pdfCtx.PageCount

	outDir, err := os.MkdirTemp(e.tempDir, "docqa-pdf-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	base := stemOf(name)
	if err := api.ExtractContent(bytes.NewReader(data), outDir, base, nil, conf); err != nil {
		return nil, fmt.Errorf("extract pdf content: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	files, err := os.ReadDir(outDir)
	if err != nil {
		return nil, fmt.Errorf("read extracted content: %w", err)
	}
	pageTexts := make(map[int]string, len(files))
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		m := contentPageFile.FindStringSubmatch(f.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(outDir, f.Name()))
		if err != nil {
			return nil, fmt.Errorf("read page %d content: %w", n, err)
		}
		pageTexts[n] = decodeContentStream(raw)
	}

	pages := make([]Page, 0, pageCount)
	for n := 1; n <= pageCount; n++ {
		pages = append(pages, Page{Number: n, Text: pageTexts[n]})
	}
	return pages, nil
}

func stemOf(name string) string {
	base := filepath.Base(name)
	if ext := filepath.Ext(base); ext != "" {
		base = base[:len(base)-len(ext)]
	}
	if base == "" || base == "." {
		return "document"
	}
	return base
}
