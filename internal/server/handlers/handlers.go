// Package handlers implements HTTP request handlers for the Refi-Ready API.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/codersbrain/refi-ready/internal/pipeline"
	"github.com/codersbrain/refi-ready/internal/reconcile"
)

// Handlers contains all HTTP handler dependencies.
type Handlers struct {
	runner     *pipeline.Runner
	state      *pipeline.RunState
	reconciler *reconcile.Reconciler
	logger     *slog.Logger
}

// New creates a new Handlers instance.
func New(runner *pipeline.Runner, state *pipeline.RunState, rec *reconcile.Reconciler) *Handlers {
	return &Handlers{
		runner:     runner,
		state:      state,
		reconciler: rec,
		logger:     slog.Default(),
	}
}

// SetLogger overrides the default logger.
func (h *Handlers) SetLogger(l *slog.Logger) {
	if l != nil {
		h.logger = l
	}
}

// writeError logs the internal error and returns a sanitized JSON error to
// the client. The request ID echoed by the router middleware ties the log
// line to the response.
func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string, err error) {
	if err != nil {
		h.logger.Error(msg, "error", err, "status", status, "request_id", w.Header().Get("X-Request-ID"))
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
