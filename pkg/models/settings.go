package models

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AiSettingsKey is the well-known singleton key for the AI settings row.
const AiSettingsKey = "default"

// ProviderSetting is the opaque per-provider-pair configuration blob.
// It is the authoritative source for whether a provider is enabled and
// how it authenticates.
type ProviderSetting struct {
	ProviderType string `gorm:"primaryKey;type:varchar(50)" json:"provider_type"`
	ProviderName string `gorm:"primaryKey;type:varchar(255)" json:"provider_name"`

	// Settings is the structured settings map for this provider pair.
	Settings JSON `gorm:"type:jsonb" json:"settings"`

	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (ProviderSetting) TableName() string {
	return "provider_settings"
}

// ProviderSettings is a slice of provider settings rows.
type ProviderSettings []ProviderSetting

// FindAll retrieves all provider settings rows in a stable order.
func (ps *ProviderSettings) FindAll(db *gorm.DB) error {
	return db.Order("provider_type, provider_name").Find(ps).Error
}

// Upsert inserts or overwrites the settings blob for the pair.
func (p *ProviderSetting) Upsert(db *gorm.DB) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_type"}, {Name: "provider_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"settings", "updated_at"}),
	}).Create(p).Error
}

// AiSetting is the singleton blob holding model identifiers, base URL,
// API key and prompt strings.
type AiSetting struct {
	Key       string    `gorm:"primaryKey;type:varchar(50)" json:"key"`
	Settings  JSON      `gorm:"type:jsonb" json:"settings"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (AiSetting) TableName() string {
	return "ai_settings"
}

// Get retrieves the singleton AI settings row.
func (a *AiSetting) Get(db *gorm.DB) error {
	if a.Key == "" {
		a.Key = AiSettingsKey
	}
	return db.First(a, "key = ?", a.Key).Error
}

// Upsert inserts or overwrites the singleton AI settings row.
func (a *AiSetting) Upsert(db *gorm.DB) error {
	if a.Key == "" {
		a.Key = AiSettingsKey
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"settings", "updated_at"}),
	}).Create(a).Error
}
