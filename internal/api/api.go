// Package api implements the query service HTTP surface: health,
// provider listing, single-shot query, multi-turn chat with optional
// step streaming, and document-level search.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/docfoundry/docfoundry/pkg/models"
	"github.com/docfoundry/docfoundry/pkg/rag"
	"github.com/docfoundry/docfoundry/pkg/settings"
)

// Store is the chunk store surface the handlers read from.
type Store interface {
	rag.Searcher
	CountChunks(ctx context.Context) (int64, error)
	CountDocuments(ctx context.Context) (int64, error)
}

// ProviderLister lists the enabled provider registry entries.
type ProviderLister interface {
	ListEnabled(ctx context.Context) ([]models.Provider, error)
}

// ComponentsFunc returns the model clients and the AI settings snapshot
// for the current request.
type ComponentsFunc func() (rag.Embedder, rag.Completer, settings.AiConfig, error)

// RouterConfig wires the handler dependencies.
type RouterConfig struct {
	Store      Store
	Providers  ProviderLister
	Components ComponentsFunc
	LoadedAt   func() time.Time
	Logger     hclog.Logger
}

type handlers struct {
	store      Store
	providers  ProviderLister
	components ComponentsFunc
	loadedAt   func() time.Time
	logger     hclog.Logger
}

// NewRouter builds the HTTP handler tree.
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = hclog.NewNullLogger()
	}
	h := &handlers{
		store:      cfg.Store,
		providers:  cfg.Providers,
		components: cfg.Components,
		loadedAt:   cfg.LoadedAt,
		logger:     log.Named("api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /providers", h.listProviders)
	mux.HandleFunc("POST /query", h.query)
	mux.HandleFunc("POST /chat", h.chat)
	mux.HandleFunc("POST /docsearch", h.docSearch)

	return h.withRequestLog(mux)
}

// withRequestLog tags each request with an id and logs its outcome.
func (h *handlers) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-Id", requestID)

		started := time.Now()
		next.ServeHTTP(w, r)

		h.logger.Debug("request served",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"elapsed", time.Since(started),
		)
	})
}
