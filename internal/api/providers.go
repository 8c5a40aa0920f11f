package api

import (
	"net/http"

	"github.com/docfoundry/docfoundry/pkg/models"
)

type providersResponse struct {
	Providers []models.Provider `json:"providers"`
}

// listProviders returns the enabled provider registry entries.
func (h *handlers) listProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.providers.ListEnabled(r.Context())
	if err != nil {
		respondError(w, h.logger, http.StatusInternalServerError, "failed to list providers", err)
		return
	}
	if providers == nil {
		providers = []models.Provider{}
	}
	respondJSON(w, http.StatusOK, providersResponse{Providers: providers})
}
