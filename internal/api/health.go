package api

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status            string     `json:"status"`
	Chunks            int64      `json:"chunks"`
	Documents         int64      `json:"documents"`
	SettingsLoadedAt  *time.Time `json:"settings_loaded_at,omitempty"`
	SettingsAgeSecond float64    `json:"settings_age_seconds,omitempty"`
}

// health reports store statistics and the settings snapshot age.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	chunks, err := h.store.CountChunks(r.Context())
	if err != nil {
		respondError(w, h.logger, http.StatusInternalServerError, "store unavailable", err)
		return
	}
	documents, err := h.store.CountDocuments(r.Context())
	if err != nil {
		respondError(w, h.logger, http.StatusInternalServerError, "store unavailable", err)
		return
	}

	resp := healthResponse{
		Status:    "ok",
		Chunks:    chunks,
		Documents: documents,
	}
	if loadedAt := h.loadedAt(); !loadedAt.IsZero() {
		resp.SettingsLoadedAt = &loadedAt
		resp.SettingsAgeSecond = time.Since(loadedAt).Seconds()
	}
	respondJSON(w, http.StatusOK, resp)
}
