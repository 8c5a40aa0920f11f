package indexer

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/docfoundry/docfoundry/pkg/models"
)

// GormRegistry is the database-backed provider registry.
type GormRegistry struct {
	db *gorm.DB
}

// NewGormRegistry creates a registry over the providers table.
func NewGormRegistry(db *gorm.DB) *GormRegistry {
	return &GormRegistry{db: db}
}

// Register upserts the registry entry, preserving registered_at for
// already-known providers.
func (r *GormRegistry) Register(ctx context.Context, providerType, providerName string, metadata map[string]any) error {
	blob, err := models.JSONFromMap(metadata)
	if err != nil {
		return fmt.Errorf("failed to encode provider metadata: %w", err)
	}

	row := models.Provider{
		ProviderType: providerType,
		ProviderName: providerName,
		Enabled:      true,
		Metadata:     blob,
	}
	if err := row.Upsert(r.db.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to register provider %s/%s: %w", providerType, providerName, err)
	}
	return nil
}

// StampLastSync records the completion time of a provider run.
func (r *GormRegistry) StampLastSync(ctx context.Context, providerType, providerName string, at time.Time) error {
	row := models.Provider{
		ProviderType: providerType,
		ProviderName: providerName,
	}
	if err := row.StampLastSync(r.db.WithContext(ctx), at); err != nil {
		return fmt.Errorf("failed to stamp last_sync_at for %s/%s: %w", providerType, providerName, err)
	}
	return nil
}
