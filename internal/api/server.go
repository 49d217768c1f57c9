package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ewyt/proximity-pipeline/internal/config"
	"github.com/ewyt/proximity-pipeline/internal/storage"
)

// Server represents the query API server
type Server struct {
	config   config.ServerConfig
	handlers *Handlers
	router   *chi.Mux
	server   *http.Server
}

// NewServer creates a new API server backed by the CSV store.
func NewServer(cfg config.ServerConfig, store *storage.Store) *Server {
	handlers := NewHandlers(store)
	return &Server{
		config:   cfg,
		handlers: handlers,
		router:   SetupRoutes(handlers),
	}
}

// Handlers exposes the handler set so main can wire Postgres repositories.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
