package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/engagex/internal/config"
)

// Server is the HTTP front of the dispatch tier.
type Server struct {
	config  config.ServerConfig
	handler http.Handler
	server  *http.Server
}

// NewServer builds the router from deps.
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	if deps.AllowedOrigins == nil {
		deps.AllowedOrigins = cfg.AllowedOrigins
	}
	return &Server{config: cfg, handler: NewRouter(deps)}
}

// ListenAndServe starts the HTTP server on addr.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.handler,
		// synchronous dispatch of a large audience can take minutes
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.handler
}
