package api

import (
	"net/http"
	"strings"

	"github.com/docfoundry/docfoundry/pkg/rag"
)

type docSearchResponse struct {
	Documents []rag.DocumentMatch `json:"documents"`
}

// docSearch returns the document-level view of a similarity search.
func (h *handlers) docSearch(w http.ResponseWriter, r *http.Request) {
	var req rag.QueryRequest
	if err := decodeRequest(r, &req); err != nil {
		respondError(w, h.logger, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		respondError(w, h.logger, http.StatusBadRequest, "question must not be empty", nil)
		return
	}

	embedder, completer, cfg, err := h.components()
	if err != nil {
		respondError(w, h.logger, http.StatusInternalServerError, "model configuration unavailable", err)
		return
	}

	pipeline := rag.NewQueryPipeline(embedder, h.store, completer, cfg, h.logger)
	matches, err := pipeline.DocSearch(r.Context(), req)
	if err != nil {
		respondError(w, h.logger, http.StatusInternalServerError, "document search failed", err)
		return
	}
	if matches == nil {
		matches = []rag.DocumentMatch{}
	}
	respondJSON(w, http.StatusOK, docSearchResponse{Documents: matches})
}
