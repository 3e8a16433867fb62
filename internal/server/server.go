// Package server implements the HTTP front door. Clients authenticate
// with a static key or a bearer token, POST chat content, and get the
// assistant's reply text back synchronously. A small command surface
// (:list_modules, :select_modules) adjusts which modules are consulted
// for a client's subsequent requests.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kibitzhq/kibitz/internal/auth"
	"github.com/kibitzhq/kibitz/internal/chat"
	"github.com/kibitzhq/kibitz/internal/dispatch"
	"github.com/kibitzhq/kibitz/internal/ratelimit"
)

// Server is the front-door HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Config holds all dependencies and settings for creating a Server.
type Config struct {
	Front      *chat.HTTPFront
	Dispatcher *dispatch.Dispatcher
	JWTMgr     *auth.JWTManager
	Logger     *slog.Logger

	// Keys maps registered client names to Argon2id key hashes.
	Keys map[string]string

	// ModuleNames lists the modules available to :select_modules.
	ModuleNames []string

	Limiter ratelimit.Limiter

	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Version      string
}

// New creates a server with all routes configured.
func New(cfg Config) *Server {
	h := newHandlers(cfg)

	chatRL := ratelimit.Middleware(cfg.Limiter, clientKeyFunc)
	authRL := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc)

	mux := http.NewServeMux()
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.handleAuthToken)))
	mux.Handle("POST /v1/chat", chatRL(http.HandlerFunc(h.handleChat)))
	mux.HandleFunc("GET /health", h.handleHealth)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// clientKeyFunc rate-limits authenticated clients by name, anonymous
// requests by IP.
func clientKeyFunc(r *http.Request) string {
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		return "client:" + claims.Name
	}
	return ratelimit.IPKeyFunc(r)
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
