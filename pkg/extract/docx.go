package extract

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/nguyenthenguyen/docx"
)

// DocxExtractor extracts paragraph text from OpenXML word documents.
// Paragraphs are concatenated with newlines; empty paragraphs are
// skipped.
type DocxExtractor struct {
	logger hclog.Logger
}

// NewDocxExtractor creates a DOCX extractor.
func NewDocxExtractor(logger hclog.Logger) *DocxExtractor {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &DocxExtractor{logger: logger.Named("docx")}
}

// Extensions returns the extensions served by this extractor.
func (e *DocxExtractor) Extensions() []string {
	return []string{".docx"}
}

// Extract unpacks the OpenXML package and returns the concatenated
// paragraph text. A corrupted package yields an empty string and a
// warning, not an error.
func (e *DocxExtractor) Extract(ctx context.Context, r io.Reader, filename string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", filename, err)
	}

	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		e.logger.Warn("failed to open DOCX package, returning empty text",
			"filename", filename,
			"error", err,
		)
		return "", nil
	}
	defer doc.Close()

	text, err := paragraphsFromDocumentXML(ctx, doc.Editable().GetContent())
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		e.logger.Warn("failed to parse DOCX document XML, returning empty text",
			"filename", filename,
			"error", err,
		)
		return "", nil
	}
	return text, nil
}

// paragraphsFromDocumentXML walks word/document.xml and joins the text
// runs of each w:p element with newlines. Cancellation is checked
// between paragraphs.
func paragraphsFromDocumentXML(ctx context.Context, documentXML string) (string, error) {
	decoder := xml.NewDecoder(strings.NewReader(documentXML))

	var (
		out       strings.Builder
		paragraph strings.Builder
		inText    bool
	)

	flush := func() {
		if strings.TrimSpace(paragraph.String()) != "" {
			if out.Len() > 0 {
				out.WriteByte('\n')
			}
			out.WriteString(paragraph.String())
		}
		paragraph.Reset()
	}

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("malformed document XML: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				paragraph.WriteByte('\t')
			case "br":
				paragraph.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				flush()
				if err := ctx.Err(); err != nil {
					return "", err
				}
			}
		case xml.CharData:
			if inText {
				paragraph.Write(t)
			}
		}
	}
	flush()

	return out.String(), nil
}
