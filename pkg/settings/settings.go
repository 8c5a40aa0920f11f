// Package settings serves provider and AI model configuration from the
// persistent settings tables to both the indexer and the query service.
// Loads produce an immutable snapshot; in-flight requests keep the
// snapshot they captured on entry.
package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/mapstructure"
	"gorm.io/gorm"

	"github.com/docfoundry/docfoundry/pkg/models"
	"github.com/docfoundry/docfoundry/pkg/provider"
)

// LocalPathEnvVar seeds a ("local", "default") provider entry on first
// load when set and no such row exists yet.
const LocalPathEnvVar = "DOCFOUNDRY_LOCAL_PATH"

// AiConfig is the decoded ai_settings blob.
type AiConfig struct {
	EmbeddingModel      string `mapstructure:"embedding_model"`
	EmbeddingDimensions int    `mapstructure:"embedding_dimensions"`
	EmbeddingBatchSize  int    `mapstructure:"embedding_batch_size"`

	// CompletionModel answers questions; SmallModel handles the cheap
	// auxiliary calls (refine, answerability).
	CompletionModel string `mapstructure:"completion_model"`
	SmallModel      string `mapstructure:"small_model"`

	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`

	DefaultTopK int `mapstructure:"default_top_k"`
	MaxTopK     int `mapstructure:"max_top_k"`

	Prompts PromptConfig `mapstructure:"prompts"`
}

// PromptConfig carries the prompt strings, overridable per deployment.
type PromptConfig struct {
	QuerySystem   string `mapstructure:"query_system"`
	Refine        string `mapstructure:"refine"`
	Answerability string `mapstructure:"answerability"`
	ChatAnswer    string `mapstructure:"chat_answer"`
}

// SetDefaults fills unset fields.
func (c *AiConfig) SetDefaults() {
	if c.EmbeddingModel == "" {
		c.EmbeddingModel = "text-embedding-3-small"
	}
	if c.EmbeddingDimensions == 0 {
		c.EmbeddingDimensions = 1536
	}
	if c.EmbeddingBatchSize == 0 {
		c.EmbeddingBatchSize = 16
	}
	if c.CompletionModel == "" {
		c.CompletionModel = "gpt-4o-mini"
	}
	if c.SmallModel == "" {
		c.SmallModel = c.CompletionModel
	}
	if c.DefaultTopK == 0 {
		c.DefaultTopK = 5
	}
	if c.MaxTopK == 0 {
		c.MaxTopK = 20
	}
	if c.Prompts.QuerySystem == "" {
		c.Prompts.QuerySystem = DefaultQuerySystemPrompt
	}
	if c.Prompts.Refine == "" {
		c.Prompts.Refine = DefaultRefinePrompt
	}
	if c.Prompts.Answerability == "" {
		c.Prompts.Answerability = DefaultAnswerabilityPrompt
	}
	if c.Prompts.ChatAnswer == "" {
		c.Prompts.ChatAnswer = DefaultChatAnswerPrompt
	}
}

// Validate validates the AI configuration.
func (c AiConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.EmbeddingModel, validation.Required),
		validation.Field(&c.EmbeddingDimensions, validation.Min(1)),
		validation.Field(&c.CompletionModel, validation.Required),
		validation.Field(&c.DefaultTopK, validation.Min(1)),
		validation.Field(&c.MaxTopK, validation.Min(c.DefaultTopK)),
	)
}

// EnabledProvider is one provider entry whose blob has enabled == true.
type EnabledProvider struct {
	ProviderType string
	ProviderName string
	Settings     map[string]any
}

// snapshot is one immutable load of the settings tables.
type snapshot struct {
	ai        AiConfig
	providers []EnabledProvider
	byPair    map[string]map[string]any
	loadedAt  time.Time
}

// Service reads the settings tables and hands out snapshots.
type Service struct {
	db     *gorm.DB
	logger hclog.Logger

	seedOnce sync.Once

	mu   sync.RWMutex
	snap *snapshot
}

// NewService creates a settings service. Call Load before first use.
func NewService(db *gorm.DB, logger hclog.Logger) *Service {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Service{
		db:     db,
		logger: logger.Named("settings"),
	}
}

// Load seeds well-known entries on the first call, then reads both
// settings tables into a fresh snapshot. A missing AI settings singleton
// is fatal.
func (s *Service) Load(ctx context.Context) error {
	var seedErr error
	s.seedOnce.Do(func() {
		seedErr = s.seedFromEnv(ctx)
	})
	if seedErr != nil {
		return seedErr
	}

	db := s.db.WithContext(ctx)

	var aiRow models.AiSetting
	if err := aiRow.Get(db); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("ai_settings singleton %q is missing; seed it before starting", models.AiSettingsKey)
		}
		return fmt.Errorf("failed to read ai_settings: %w", err)
	}

	aiBlob, err := aiRow.Settings.AsMap()
	if err != nil {
		return fmt.Errorf("failed to decode ai_settings blob: %w", err)
	}
	ai, err := DecodeAiConfig(aiBlob)
	if err != nil {
		return err
	}

	var rows models.ProviderSettings
	if err := rows.FindAll(db); err != nil {
		return fmt.Errorf("failed to read provider_settings: %w", err)
	}

	snap := &snapshot{
		ai:       ai,
		byPair:   make(map[string]map[string]any, len(rows)),
		loadedAt: time.Now().UTC(),
	}
	s.collectProviders(snap, rows)

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()

	s.logger.Info("settings loaded",
		"providers", len(rows),
		"enabled", len(snap.providers),
		"embedding_model", ai.EmbeddingModel,
		"completion_model", ai.CompletionModel,
	)
	return nil
}

// collectProviders fills the snapshot from the provider_settings rows.
// Undecodable blobs and blobs failing the type-specific validation are
// skipped with a warning and stay absent from the snapshot.
func (s *Service) collectProviders(snap *snapshot, rows models.ProviderSettings) {
	for _, row := range rows {
		blob, err := row.Settings.AsMap()
		if err != nil {
			s.logger.Warn("skipping provider with undecodable settings",
				"provider_type", row.ProviderType,
				"provider_name", row.ProviderName,
				"error", err,
			)
			continue
		}
		if err := provider.ValidateSettings(row.ProviderType, blob); err != nil {
			s.logger.Warn("skipping provider with invalid settings",
				"provider_type", row.ProviderType,
				"provider_name", row.ProviderName,
				"error", err,
			)
			continue
		}
		snap.byPair[pairKey(row.ProviderType, row.ProviderName)] = blob
		if BlobEnabled(blob) {
			snap.providers = append(snap.providers, EnabledProvider{
				ProviderType: row.ProviderType,
				ProviderName: row.ProviderName,
				Settings:     blob,
			})
		}
	}
}

// Reload re-reads the settings tables. Takes effect on the next pipeline
// invocation; in-flight requests keep their captured snapshot.
func (s *Service) Reload(ctx context.Context) error {
	return s.Load(ctx)
}

// LoadedAt returns the timestamp of the current snapshot, zero before the
// first Load. Clients caching derived resources compare and rebuild on
// mismatch.
func (s *Service) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return time.Time{}
	}
	return s.snap.loadedAt
}

// GetAiSettings returns the model and prompt configuration from the
// current snapshot.
func (s *Service) GetAiSettings() AiConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		var c AiConfig
		c.SetDefaults()
		return c
	}
	return s.snap.ai
}

// ListEnabledProviders returns enabled providers in declaration order.
func (s *Service) ListEnabledProviders() []EnabledProvider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return nil
	}
	out := make([]EnabledProvider, len(s.snap.providers))
	copy(out, s.snap.providers)
	return out
}

// GetProviderSettings returns the settings blob for the pair, or false
// when absent, undecodable, or invalid for its provider type.
func (s *Service) GetProviderSettings(providerType, providerName string) (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return nil, false
	}
	blob, ok := s.snap.byPair[pairKey(providerType, providerName)]
	return blob, ok
}

// seedFromEnv inserts an enabled local provider entry when the path env
// var is set and no row exists yet. Idempotent.
func (s *Service) seedFromEnv(ctx context.Context) error {
	path := os.Getenv(LocalPathEnvVar)
	if path == "" {
		return nil
	}

	db := s.db.WithContext(ctx)

	var existing models.ProviderSetting
	err := db.First(&existing,
		"provider_type = ? AND provider_name = ?", provider.TypeLocal, "default").Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to check for seeded provider: %w", err)
	}

	blob, err := models.JSONFromMap(map[string]any{
		"enabled": true,
		"path":    path,
	})
	if err != nil {
		return err
	}

	row := models.ProviderSetting{
		ProviderType: provider.TypeLocal,
		ProviderName: "default",
		Settings:     blob,
		UpdatedAt:    time.Now().UTC(),
	}
	if err := row.Upsert(db); err != nil {
		return fmt.Errorf("failed to seed local provider settings: %w", err)
	}

	s.logger.Info("seeded local provider from environment", "path", path)
	return nil
}

// DecodeAiConfig maps an ai_settings blob onto AiConfig, applying
// defaults and validating the result.
func DecodeAiConfig(blob map[string]any) (AiConfig, error) {
	var cfg AiConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return AiConfig{}, fmt.Errorf("failed to create ai settings decoder: %w", err)
	}
	if err := decoder.Decode(blob); err != nil {
		return AiConfig{}, fmt.Errorf("invalid ai settings blob: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return AiConfig{}, fmt.Errorf("invalid ai settings: %w", err)
	}
	return cfg, nil
}

// BlobEnabled reports whether a provider settings blob opts the provider
// into indexing.
func BlobEnabled(blob map[string]any) bool {
	enabled, ok := blob["enabled"].(bool)
	return ok && enabled
}

func pairKey(providerType, providerName string) string {
	return providerType + "/" + providerName
}
