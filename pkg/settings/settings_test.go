package settings

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docfoundry/docfoundry/pkg/models"
)

func TestDecodeAiConfig_Defaults(t *testing.T) {
	cfg, err := DecodeAiConfig(map[string]any{
		"api_key": "sk-test",
	})
	require.NoError(t, err)

	assert.Equal(t, "text-embedding-3-small", cfg.EmbeddingModel)
	assert.Equal(t, 1536, cfg.EmbeddingDimensions)
	assert.Equal(t, 16, cfg.EmbeddingBatchSize)
	assert.Equal(t, "gpt-4o-mini", cfg.CompletionModel)
	assert.Equal(t, cfg.CompletionModel, cfg.SmallModel, "small model falls back to completion model")
	assert.Equal(t, 5, cfg.DefaultTopK)
	assert.Equal(t, 20, cfg.MaxTopK)
	assert.Equal(t, "sk-test", cfg.APIKey)
	assert.NotEmpty(t, cfg.Prompts.QuerySystem)
	assert.NotEmpty(t, cfg.Prompts.Refine)
	assert.NotEmpty(t, cfg.Prompts.Answerability)
	assert.NotEmpty(t, cfg.Prompts.ChatAnswer)
}

func TestDecodeAiConfig_Overrides(t *testing.T) {
	cfg, err := DecodeAiConfig(map[string]any{
		"embedding_model":      "text-embedding-3-large",
		"embedding_dimensions": 3072,
		"completion_model":     "gpt-4o",
		"small_model":          "gpt-4o-mini",
		"base_url":             "http://localhost:8081/v1",
		"default_top_k":        8,
		"max_top_k":            32,
		"prompts": map[string]any{
			"refine": "custom refine",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "text-embedding-3-large", cfg.EmbeddingModel)
	assert.Equal(t, 3072, cfg.EmbeddingDimensions)
	assert.Equal(t, "gpt-4o", cfg.CompletionModel)
	assert.Equal(t, "gpt-4o-mini", cfg.SmallModel)
	assert.Equal(t, "http://localhost:8081/v1", cfg.BaseURL)
	assert.Equal(t, 8, cfg.DefaultTopK)
	assert.Equal(t, 32, cfg.MaxTopK)
	assert.Equal(t, "custom refine", cfg.Prompts.Refine)
	assert.Equal(t, DefaultQuerySystemPrompt, cfg.Prompts.QuerySystem, "unset prompts keep defaults")
}

func TestDecodeAiConfig_WeakTyping(t *testing.T) {
	// JSON blobs arrive with numbers as float64.
	cfg, err := DecodeAiConfig(map[string]any{
		"embedding_dimensions": float64(768),
		"default_top_k":        float64(3),
	})
	require.NoError(t, err)
	assert.Equal(t, 768, cfg.EmbeddingDimensions)
	assert.Equal(t, 3, cfg.DefaultTopK)
}

func TestDecodeAiConfig_Invalid(t *testing.T) {
	_, err := DecodeAiConfig(map[string]any{
		"default_top_k": 10,
		"max_top_k":     2,
	})
	require.Error(t, err, "max_top_k below default_top_k should fail validation")
}

func TestCollectProviders_InvalidBlobsAbsent(t *testing.T) {
	svc := NewService(nil, nil)
	snap := &snapshot{
		byPair:   make(map[string]map[string]any),
		loadedAt: time.Now(),
	}

	rows := models.ProviderSettings{
		{
			ProviderType: "local",
			ProviderName: "docs",
			Settings:     models.JSON(`{"enabled": true, "path": "/srv/docs"}`),
		},
		{
			// Fails the local config validation: no path.
			ProviderType: "local",
			ProviderName: "broken",
			Settings:     models.JSON(`{"enabled": true}`),
		},
		{
			// Unknown types are not validated here; the factory rejects
			// them at construction time.
			ProviderType: "ftp",
			ProviderName: "legacy",
			Settings:     models.JSON(`{"enabled": false}`),
		},
	}
	svc.collectProviders(snap, rows)

	_, ok := snap.byPair[pairKey("local", "docs")]
	assert.True(t, ok)
	_, ok = snap.byPair[pairKey("local", "broken")]
	assert.False(t, ok, "invalid blob is absent")
	_, ok = snap.byPair[pairKey("ftp", "legacy")]
	assert.True(t, ok)

	require.Len(t, snap.providers, 1)
	assert.Equal(t, "docs", snap.providers[0].ProviderName)
}

func TestBlobEnabled(t *testing.T) {
	assert.True(t, BlobEnabled(map[string]any{"enabled": true}))
	assert.False(t, BlobEnabled(map[string]any{"enabled": false}))
	assert.False(t, BlobEnabled(map[string]any{"enabled": "true"}))
	assert.False(t, BlobEnabled(map[string]any{}))
}
