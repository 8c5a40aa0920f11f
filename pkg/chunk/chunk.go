// Package chunk splits extracted text into fixed-width overlapping
// segments suitable for embedding. The split is a pure function of the
// input text and the chunker parameters: identical inputs always produce
// identical chunk counts, offsets and texts.
package chunk

import (
	"fmt"
	"strings"
)

const (
	// DefaultSize is the default chunk width in code points.
	DefaultSize = 1000

	// DefaultOverlap is the default overlap between adjacent chunks in
	// code points.
	DefaultOverlap = 200
)

// Segment is one emitted chunk of text. CharStart and CharEnd are
// half-open rune offsets into the source text.
type Segment struct {
	ChunkNum  int
	Text      string
	CharStart int
	CharEnd   int
}

// Chunker slices text into overlapping fixed-size segments. Units are
// code points, not bytes.
type Chunker struct {
	Size    int
	Overlap int
}

// New returns a chunker with the given parameters, substituting defaults
// for zero values.
func New(size, overlap int) *Chunker {
	if size == 0 {
		size = DefaultSize
	}
	return &Chunker{Size: size, Overlap: overlap}
}

// validate reports configuration errors. They are surfaced when the
// chunker is first exercised rather than at construction so that
// settings loaded from the database fail on the document, not the
// process.
func (c *Chunker) validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.Size)
	}
	if c.Overlap < 0 {
		return fmt.Errorf("chunk overlap must be non-negative, got %d", c.Overlap)
	}
	if c.Overlap >= c.Size {
		return fmt.Errorf("chunk overlap %d must be less than chunk size %d", c.Overlap, c.Size)
	}
	return nil
}

// Chunk splits the text into segments. Starting at position 0 it emits
// text[p : min(p+size, len)] and advances p by size−overlap until p
// passes the end of the text. Empty or whitespace-only input yields zero
// segments.
func (c *Chunker) Chunk(text string) ([]Segment, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}

	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	runes := []rune(text)
	step := c.Size - c.Overlap

	var segments []Segment
	for p := 0; p < len(runes); p += step {
		end := p + c.Size
		if end > len(runes) {
			end = len(runes)
		}
		segments = append(segments, Segment{
			ChunkNum:  len(segments),
			Text:      string(runes[p:end]),
			CharStart: p,
			CharEnd:   end,
		})
	}
	return segments, nil
}
