package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-hclog"
)

// errorResponse is the JSON body for every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

// respondJSON writes a JSON response with the given status.
func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// respondError writes a JSON error body and logs server-side failures.
func respondError(w http.ResponseWriter, log hclog.Logger, status int, msg string, err error) {
	if err != nil && status >= http.StatusInternalServerError {
		log.Error(msg, "error", err)
	}
	respondJSON(w, status, errorResponse{Error: msg})
}

// decodeRequest parses a JSON request body into out.
func decodeRequest(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
