package api

import (
	"net/http"
	"strings"

	"github.com/docfoundry/docfoundry/pkg/rag"
)

// query answers a single standalone question.
func (h *handlers) query(w http.ResponseWriter, r *http.Request) {
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
	result, err := pipeline.Query(r.Context(), req)
	if err != nil {
		respondError(w, h.logger, http.StatusInternalServerError, "query failed", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
