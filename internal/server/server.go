// Package server exposes the run controller over a small REST API: target
// listing, run history, and run lifecycle (start, cancel, force-cancel).
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/studentutu/shipyard/internal/runctl"
	"github.com/studentutu/shipyard/internal/store"
)

// Server is the shipyard control API server.
type Server struct {
	router     chi.Router
	logger     *slog.Logger
	addr       string
	startTime  time.Time
	controller *runctl.Controller
	store      store.Store
	httpServer *http.Server
}

// New creates a Server with all routes registered.
func New(addr string, ctrl *runctl.Controller, st store.Store, logger *slog.Logger) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		logger:     logger.With("component", "server"),
		addr:       addr,
		startTime:  time.Now(),
		controller: ctrl,
		store:      st,
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving. Blocks until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("server listening", "addr", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Get("/targets", s.handleListTargets)

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Post("/", s.handleStartRun)
			r.Get("/{id}", s.handleGetRun)
			r.Put("/cancel", s.handleCancelRun)
			r.Put("/force-cancel", s.handleForceCancelRun)
		})
	})
}
