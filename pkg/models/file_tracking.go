package models

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FileTracking records the last successfully indexed version of a
// document. A row exists iff the document's content has been indexed at
// least once; its etag equals the value observed at that indexing.
type FileTracking struct {
	// DocumentID is the provider's stable identifier for the document.
	DocumentID string `gorm:"primaryKey;type:varchar(1024)" json:"document_id"`

	// ProviderType and ProviderName scope the document to its source.
	ProviderType string `gorm:"primaryKey;type:varchar(50)" json:"provider_type"`
	ProviderName string `gorm:"primaryKey;type:varchar(255)" json:"provider_name"`

	// Filename is the document's display name.
	Filename string `gorm:"type:varchar(1024)" json:"filename"`

	// ETag is the opaque version token observed at indexing time.
	// Equality implies identical content for indexing purposes.
	ETag string `gorm:"column:etag;type:varchar(1024)" json:"etag"`

	// LastModified is the provider-reported modification time.
	LastModified time.Time `json:"last_modified"`

	// RelativePath is the document's path within the provider, when the
	// provider has a path concept.
	RelativePath string `gorm:"type:varchar(2048)" json:"relative_path,omitempty"`
}

// TableName specifies the table name for GORM.
func (FileTracking) TableName() string {
	return "docs_files"
}

// Upsert inserts or overwrites the tracking row for the document.
func (f *FileTracking) Upsert(db *gorm.DB) error {
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "document_id"}, {Name: "provider_type"}, {Name: "provider_name"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"filename", "etag", "last_modified", "relative_path",
		}),
	}).Create(f).Error
}
