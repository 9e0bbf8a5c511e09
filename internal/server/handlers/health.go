package handlers

import (
	"encoding/json"
	"net/http"
)

// Health returns the server health status and the current run status.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	snap := h.state.Snapshot()

	if err := json.NewEncoder(w).Encode(map[string]string{
		"status":   "ok",
		"pipeline": string(snap.Status),
	}); err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}
}
