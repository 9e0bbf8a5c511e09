package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/codersbrain/refi-ready/internal/pipeline"
)

// TriggerRun starts a pipeline run in the background and returns the initial
// run snapshot.
func (h *Handlers) TriggerRun(w http.ResponseWriter, r *http.Request) {
	snap, err := h.runner.Trigger()
	switch {
	case errors.Is(err, pipeline.ErrAlreadyRunning):
		h.writeError(w, http.StatusConflict, "pipeline is already running", nil)
		return
	case errors.Is(err, pipeline.ErrNoSourceData):
		h.writeError(w, http.StatusNotFound, "source data directory not found", err)
		return
	case err != nil:
		h.writeError(w, http.StatusInternalServerError, "failed to start pipeline", err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		h.logger.Error("failed to encode run snapshot", "error", err)
	}
}

// Status returns a read-only snapshot of the current or most recent run.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	snap := h.state.Snapshot()
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		h.logger.Error("failed to encode run snapshot", "error", err)
	}
}
