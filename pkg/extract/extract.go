// Package extract produces plain UTF-8 text from document byte streams.
// Extractors are selected by lowercased filename extension; when multiple
// extractors claim the same extension the first registered wins, which
// keeps dispatch deterministic.
package extract

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// ErrUnsupported is returned when no registered extractor claims the
// file's extension. The indexer treats it as "skip this document".
var ErrUnsupported = errors.New("unsupported file type")

// Extractor converts one family of file formats to plain text.
type Extractor interface {
	// Extensions returns the lowercased extensions (with leading dot)
	// this extractor serves.
	Extensions() []string

	// Extract reads the stream and returns plain UTF-8 text with
	// paragraph boundaries preserved as newlines. Corrupted input yields
	// an empty string, not an error.
	Extract(ctx context.Context, r io.Reader, filename string) (string, error)
}

// Registry dispatches extraction by filename extension.
type Registry struct {
	byExt  map[string]Extractor
	logger hclog.Logger
}

// NewRegistry creates a registry with the built-in extractors
// registered: plain text, DOCX and PDF.
func NewRegistry(logger hclog.Logger) *Registry {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	r := &Registry{
		byExt:  make(map[string]Extractor),
		logger: logger.Named("extract"),
	}

	r.Register(&PlainTextExtractor{})
	r.Register(NewDocxExtractor(r.logger))
	r.Register(NewPDFExtractor(r.logger))

	return r
}

// Register adds an extractor for its declared extensions. Extensions
// already claimed by an earlier registration are left untouched.
func (r *Registry) Register(e Extractor) {
	for _, ext := range e.Extensions() {
		ext = strings.ToLower(ext)
		if _, taken := r.byExt[ext]; taken {
			continue
		}
		r.byExt[ext] = e
	}
}

// Supported reports whether the filename's extension is claimed by a
// registered extractor.
func (r *Registry) Supported(filename string) bool {
	_, ok := r.byExt[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// ExtractText extracts plain text from the stream, dispatching on the
// filename's extension. Returns ErrUnsupported for unclaimed extensions.
func (r *Registry) ExtractText(ctx context.Context, rd io.Reader, filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	e, ok := r.byExt[ext]
	if !ok {
		return "", ErrUnsupported
	}

	text, err := e.Extract(ctx, rd, filename)
	if err != nil {
		return "", err
	}
	return text, nil
}
