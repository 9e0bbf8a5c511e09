package server

import (
	"expvar"

	"github.com/go-chi/chi/v5"

	"github.com/codersbrain/refi-ready/internal/server/handlers"
)

func (s *Server) registerRoutes(r chi.Router) {
	h := handlers.New(s.runner, s.state, s.reconciler)

	r.Route("/api", func(r chi.Router) {
		// Health
		r.Get("/health", h.Health)

		// Pipeline control
		r.Post("/pipeline/run", h.TriggerRun)
		r.Get("/pipeline/status", h.Status)

		// Reconciled dataset
		r.Get("/leads", h.Leads)
	})

	r.Mount("/debug/vars", expvar.Handler())
}
