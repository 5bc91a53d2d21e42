// Package api provides the collector's HTTP operations API: alert listing,
// acknowledge/resolve actions, and rule inspection.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/good-yellow-bee/agentwatch/internal/storage"
)

// Config contains HTTP API server configuration.
type Config struct {
	Address      string
	QueryTimeout time.Duration
	Verbose      bool
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 10 * time.Second
	}
}

// Server is the HTTP operations API server.
type Server struct {
	config *Config
	store  *storage.Store
	server *http.Server
}

// New creates a new API server over the given store.
func New(cfg *Config, store *storage.Store) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	cfg.SetDefaults()

	s := &Server{
		config: cfg,
		store:  store,
	}
	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s, nil
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if s.config.Verbose {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Timeout(s.config.QueryTimeout))

	r.Get("/healthz", s.handleHealthz)
	r.Route("/api", func(r chi.Router) {
		r.Get("/alerts", s.handleListAlerts)
		r.Post("/alerts/{id}/acknowledge", s.handleAcknowledgeAlert)
		r.Post("/alerts/{id}/resolve", s.handleResolveAlert)
		r.Get("/rules", s.handleListRules)
		r.Get("/agents", s.handleListAgents)
	})
	return r
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	ln := s.server.Addr
	go func() {
		log.Printf("[api] listening on %s", ln)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[api] server error: %v", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}
