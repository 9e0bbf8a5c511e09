// Package server implements the Refi-Ready HTTP API server.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/codersbrain/refi-ready/internal/pipeline"
	"github.com/codersbrain/refi-ready/internal/reconcile"
)

// Server is the Refi-Ready HTTP API server.
type Server struct {
	runner     *pipeline.Runner
	state      *pipeline.RunState
	reconciler *reconcile.Reconciler
	router     chi.Router
	addr       string
	srv        *http.Server
}

// New creates a new HTTP server. An empty apiKey disables authentication; a
// zero maxBody disables the request-body limit.
func New(addr string, runner *pipeline.Runner, state *pipeline.RunState, rec *reconcile.Reconciler, apiKey string, maxBody int64) *Server {
	s := &Server{
		runner:     runner,
		state:      state,
		reconciler: rec,
		addr:       addr,
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SetHeader("Content-Type", "application/json"))
	if apiKey != "" {
		r.Use(APIKeyMiddleware(apiKey))
	}
	if maxBody > 0 {
		r.Use(MaxBodyMiddleware(maxBody))
	}

	s.router = r
	s.registerRoutes(r)
	return s
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	fmt.Printf("Refi-Ready server listening on %s\n", s.addr)
	return s.srv.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}
