package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/docfoundry/docfoundry/pkg/rag"
)

// chatRequest is rag.ChatRequest plus the transport-level streaming
// flag.
type chatRequest struct {
	rag.ChatRequest
	StreamSteps bool `json:"stream_steps,omitempty"`
}

// streamEvent is one line of the NDJSON chat stream.
type streamEvent struct {
	Type    string              `json:"type"`
	Message string              `json:"message,omitempty"`
	Files   []rag.DocumentMatch `json:"files,omitempty"`
	Final   *rag.ChatResult     `json:"final,omitempty"`
}

// streamFailureAnswer terminates a stream whose pipeline failed after
// events were already written.
const streamFailureAnswer = "I am sorry, something went wrong while answering. Please try again."

// chat runs the multi-turn pipeline, either streaming NDJSON step
// events or returning a single JSON body.
func (h *handlers) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeRequest(r, &req); err != nil {
		respondError(w, h.logger, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, h.logger, http.StatusBadRequest, "message must not be empty", nil)
		return
	}

	embedder, completer, cfg, err := h.components()
	if err != nil {
		respondError(w, h.logger, http.StatusInternalServerError, "model configuration unavailable", err)
		return
	}
	pipeline := rag.NewChatPipeline(embedder, h.store, completer, cfg, h.logger)

	if !req.StreamSteps {
		result, err := pipeline.Chat(r.Context(), req.ChatRequest, nil)
		if err != nil {
			respondError(w, h.logger, http.StatusInternalServerError, "chat failed", err)
			return
		}
		respondJSON(w, http.StatusOK, result)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)
	writeEvent := func(ev streamEvent) {
		_ = enc.Encode(ev)
		if flusher != nil {
			flusher.Flush()
		}
	}

	result, err := pipeline.Chat(r.Context(), req.ChatRequest, func(msg string) {
		writeEvent(streamEvent{Type: "step", Message: msg})
	})
	if err != nil {
		// The status line is already on the wire; the stream contract
		// still requires exactly one terminal event.
		h.logger.Error("chat failed mid-stream", "error", err)
		result = rag.ChatResult{
			Answer:  streamFailureAnswer,
			Steps:   []string{},
			Files:   []rag.DocumentMatch{},
			Sources: []rag.Source{},
			History: req.History,
		}
	}
	writeEvent(streamEvent{Type: "final", Files: result.Files, Final: &result})
}
