package models

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Vector is a pgvector embedding column. It serializes to the pgvector
// text format ("[0.1,0.2,...]") on write and parses it back on read.
type Vector []float32

// Value implements driver.Valuer interface for database writes.
func (v Vector) Value() (driver.Value, error) {
	if len(v) == 0 {
		return nil, nil
	}
	return FormatVector(v), nil
}

// Scan implements sql.Scanner interface for database reads.
func (v *Vector) Scan(value interface{}) error {
	if value == nil {
		*v = nil
		return nil
	}

	var s string
	switch raw := value.(type) {
	case []byte:
		s = string(raw)
	case string:
		s = raw
	default:
		return errors.New("failed to scan vector value: unsupported type")
	}

	parsed, err := ParseVector(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FormatVector converts a float slice to the pgvector text format.
// Example: [0.1, 0.2, 0.3] -> "[0.1,0.2,0.3]"
func FormatVector(vec []float32) string {
	if len(vec) == 0 {
		return "[]"
	}

	var b strings.Builder
	b.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// ParseVector parses the pgvector text format into a float slice.
func ParseVector(s string) (Vector, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("invalid vector literal: %q", s)
	}
	s = strings.Trim(s, "[]")
	if s == "" {
		return Vector{}, nil
	}

	parts := strings.Split(s, ",")
	vec := make(Vector, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector element %d: %w", i, err)
		}
		vec[i] = float32(f)
	}
	return vec, nil
}
