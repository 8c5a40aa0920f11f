package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/ledongthuc/pdf"
)

// PDFExtractor extracts plain text from PDF documents, one page at a
// time. Pages are joined with newlines.
type PDFExtractor struct {
	logger hclog.Logger
}

// NewPDFExtractor creates a PDF extractor.
func NewPDFExtractor(logger hclog.Logger) *PDFExtractor {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &PDFExtractor{logger: logger.Named("pdf")}
}

// Extensions returns the extensions served by this extractor.
func (e *PDFExtractor) Extensions() []string {
	return []string{".pdf"}
}

// Extract returns the concatenated page text. A corrupted document
// yields an empty string and a warning, not an error. Cancellation is
// checked between pages.
func (e *PDFExtractor) Extract(ctx context.Context, r io.Reader, filename string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", filename, err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		e.logger.Warn("failed to open PDF, returning empty text",
			"filename", filename,
			"error", err,
		)
		return "", nil
	}

	var pages []string
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			e.logger.Warn("failed to extract PDF page text",
				"filename", filename,
				"page", pageNum,
				"error", err,
			)
			continue
		}
		if strings.TrimSpace(text) != "" {
			pages = append(pages, text)
		}
	}

	return strings.Join(pages, "\n"), nil
}
