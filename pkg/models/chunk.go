package models

import (
	"time"
)

// Chunk is a contiguous text segment of a document stored with its
// embedding. The (document_id, chunk_num) pair is unique; chunk numbers
// are dense and sequential from zero after a successful index.
type Chunk struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`

	// DocumentID identifies the owning document within its provider.
	DocumentID string `gorm:"type:varchar(1024);not null;uniqueIndex:docs_chunks_doc_chunk,priority:1" json:"document_id"`

	// Filename is the owning document's display name, denormalized for
	// citation rendering.
	Filename string `gorm:"type:varchar(1024)" json:"filename"`

	// ProviderType and ProviderName attribute the chunk to its source.
	ProviderType string `gorm:"type:varchar(50)" json:"provider_type"`
	ProviderName string `gorm:"type:varchar(255)" json:"provider_name"`

	// ChunkNum is the 0-based position of this segment in the document.
	ChunkNum int `gorm:"not null;uniqueIndex:docs_chunks_doc_chunk,priority:2" json:"chunk_num"`

	// Text is the chunk content.
	Text string `gorm:"column:text;type:text" json:"text"`

	// Metadata carries provider attribution and file tracking fields
	// (char offsets, etag, last_modified, relative_path).
	Metadata JSON `gorm:"type:jsonb" json:"metadata,omitempty"`

	// Embedding is the chunk's vector, pgvector column of the configured
	// dimension.
	Embedding Vector `gorm:"type:vector" json:"-"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for GORM.
func (Chunk) TableName() string {
	return "docs_chunks"
}
