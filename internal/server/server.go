// Package server holds the query service's shared state: database
// handle, chunk store, settings, and the model clients derived from
// them.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/docfoundry/docfoundry/pkg/chunkstore"
	"github.com/docfoundry/docfoundry/pkg/llm"
	"github.com/docfoundry/docfoundry/pkg/models"
	"github.com/docfoundry/docfoundry/pkg/settings"
)

// Server contains the query service's long-lived dependencies. HTTP
// handlers receive it and capture per-request snapshots of the AI
// settings.
type Server struct {
	// DB is the database handle shared by the store and the settings
	// service.
	DB *gorm.DB

	// Store is the pgvector chunk store.
	Store *chunkstore.Store

	// Settings serves provider and AI configuration snapshots.
	Settings *settings.Service

	// Logger is the logger for the server.
	Logger hclog.Logger

	mu       sync.Mutex
	loadedAt time.Time
	client   *llm.Client
	embedder *llm.BatchEmbedder
}

// Components returns the model client and embedder for the current
// settings snapshot, rebuilding them when the snapshot has changed
// since the last request.
func (s *Server) Components() (*llm.Client, *llm.BatchEmbedder, settings.AiConfig, error) {
	cfg := s.Settings.GetAiSettings()
	loadedAt := s.Settings.LoadedAt()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil || !loadedAt.Equal(s.loadedAt) {
		client := llm.NewClient(llm.Config{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Logger:  s.Logger,
		})
		embedder, err := llm.NewBatchEmbedder(llm.BatchEmbedderConfig{
			Client:     client,
			Model:      cfg.EmbeddingModel,
			Dimensions: cfg.EmbeddingDimensions,
			BatchSize:  cfg.EmbeddingBatchSize,
			Logger:     s.Logger,
		})
		if err != nil {
			return nil, nil, cfg, err
		}
		s.client = client
		s.embedder = embedder
		s.loadedAt = loadedAt
	}

	return s.client, s.embedder, cfg, nil
}

// ListEnabled returns the enabled provider registry entries.
func (s *Server) ListEnabled(ctx context.Context) ([]models.Provider, error) {
	var providers models.Providers
	if err := providers.FindEnabled(s.DB.WithContext(ctx)); err != nil {
		return nil, err
	}
	return providers, nil
}
