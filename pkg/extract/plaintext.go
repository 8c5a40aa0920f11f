package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// PlainTextExtractor returns text-format files verbatim, stripping a
// UTF-8 byte order mark when present.
type PlainTextExtractor struct{}

// Extensions returns the text-format extensions served verbatim.
func (e *PlainTextExtractor) Extensions() []string {
	return []string{
		".txt", ".md", ".csv", ".log", ".json", ".xml", ".yaml", ".yml",
		".sql", ".sh", ".bat", ".toml", ".ini", ".conf", ".html", ".htm",
		".go", ".py", ".js", ".ts",
	}
}

// Extract decodes the stream as UTF-8 with BOM detection and returns the
// contents verbatim.
func (e *PlainTextExtractor) Extract(ctx context.Context, r io.Reader, filename string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", filename, err)
	}

	data = bytes.TrimPrefix(data, utf8BOM)
	return string(data), nil
}
