package models

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Provider represents a registered document source in the provider
// registry. The (provider_type, provider_name) pair is the ownership
// domain for every document and chunk in the store.
type Provider struct {
	// ProviderType is the stable short tag naming the kind of source
	// ("local", "s3", "onedrive").
	ProviderType string `gorm:"primaryKey;type:varchar(50)" json:"provider_type"`

	// ProviderName is the operator-chosen instance label.
	ProviderName string `gorm:"primaryKey;type:varchar(255)" json:"provider_name"`

	// Enabled indicates whether the provider participates in indexer runs.
	Enabled bool `json:"enabled"`

	// RegisteredAt is when the provider was first registered.
	RegisteredAt time.Time `json:"registered_at"`

	// LastSyncAt is when an indexer run last completed for this provider.
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`

	// Metadata holds provider-reported details (account type, root path,
	// bucket, etc.) from Describe().
	Metadata JSON `gorm:"type:jsonb" json:"metadata,omitempty"`
}

// TableName specifies the table name for GORM.
func (Provider) TableName() string {
	return "providers"
}

// Providers is a slice of provider registry entries.
type Providers []Provider

// Upsert registers the provider or refreshes its metadata, preserving
// registered_at and enabled on conflict.
func (p *Provider) Upsert(db *gorm.DB) error {
	if p.RegisteredAt.IsZero() {
		p.RegisteredAt = time.Now().UTC()
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_type"}, {Name: "provider_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"enabled", "metadata"}),
	}).Create(p).Error
}

// Get retrieves the registry entry for the provider pair.
func (p *Provider) Get(db *gorm.DB) error {
	return db.First(p, "provider_type = ? AND provider_name = ?",
		p.ProviderType, p.ProviderName).Error
}

// StampLastSync records the completion time of an indexer run.
func (p *Provider) StampLastSync(db *gorm.DB, at time.Time) error {
	p.LastSyncAt = &at
	return db.Model(p).
		Where("provider_type = ? AND provider_name = ?", p.ProviderType, p.ProviderName).
		Update("last_sync_at", at).Error
}

// FindAll retrieves all registry entries ordered by registration time.
func (ps *Providers) FindAll(db *gorm.DB) error {
	return db.Order("registered_at, provider_type, provider_name").Find(ps).Error
}

// FindEnabled retrieves all enabled registry entries.
func (ps *Providers) FindEnabled(db *gorm.DB) error {
	return db.Where("enabled = ?", true).
		Order("registered_at, provider_type, provider_name").Find(ps).Error
}
