package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dogshouse/dogshouse/internal/config"
	apperrors "github.com/dogshouse/dogshouse/internal/errors"
	"github.com/dogshouse/dogshouse/internal/metrics"
	"github.com/dogshouse/dogshouse/internal/observability"
	"github.com/dogshouse/dogshouse/internal/ratelimit"
	"github.com/dogshouse/dogshouse/internal/server/handlers"
	servermw "github.com/dogshouse/dogshouse/internal/server/middleware"
)

// Server represents the HTTP server
type Server struct {
	router   *chi.Mux
	server   *http.Server
	host     string
	port     int
	timeouts config.ServerConfig

	limiter servermw.Decider
	stats   ratelimit.StatsStore
	dogs    handlers.DogStore
	health  bool

	activeConns atomic.Int64
}

// Option configures a Server.
type Option func(*Server)

// WithLimiter gates every request through limiter. Without it the server
// builds one limiter from ratelimit.DefaultConfig.
func WithLimiter(limiter servermw.Decider) Option {
	return func(s *Server) { s.limiter = limiter }
}

// WithStatsStore records every rate-limit decision in stats.
func WithStatsStore(stats ratelimit.StatsStore) Option {
	return func(s *Server) { s.stats = stats }
}

// WithDogStore enables the /dogs and /dog endpoints.
func WithDogStore(store handlers.DogStore) Option {
	return func(s *Server) { s.dogs = store }
}

// WithHealthEndpoints toggles the /health routes. They are on by default.
func WithHealthEndpoints(enabled bool) Option {
	return func(s *Server) { s.health = enabled }
}

// WithTimeouts sets the http.Server timeouts. Zero values keep the defaults.
func WithTimeouts(cfg config.ServerConfig) Option {
	return func(s *Server) {
		if cfg.ReadTimeout > 0 {
			s.timeouts.ReadTimeout = cfg.ReadTimeout
		}
		if cfg.WriteTimeout > 0 {
			s.timeouts.WriteTimeout = cfg.WriteTimeout
		}
		if cfg.IdleTimeout > 0 {
			s.timeouts.IdleTimeout = cfg.IdleTimeout
		}
	}
}

// New creates a new HTTP server instance. The client address is taken from
// the connection and X-Forwarded-For only, so RemoteAddr is never rewritten.
func New(host string, port int, opts ...Option) (*Server, error) {
	s := &Server{
		router: chi.NewRouter(),
		host:   host,
		port:   port,
		health: true,
		timeouts: config.ServerConfig{
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.limiter == nil {
		limiter, err := ratelimit.New(ratelimit.DefaultConfig())
		if err != nil {
			return nil, fmt.Errorf("create rate limiter: %w", err)
		}
		s.limiter = limiter
	}

	var rateLimitOpts []servermw.RateLimitOption
	if s.stats != nil {
		rateLimitOpts = append(rateLimitOpts, servermw.WithStatsStore(s.stats))
	}

	r := s.router
	r.Use(servermw.RequestID)                              // 1. correlation
	r.Use(servermw.RequestMetrics)                         // 2. measures rejections too
	r.Use(servermw.RateLimit(s.limiter, rateLimitOpts...)) // 3. gate before any handler
	r.Use(servermw.Recovery)                               // 4. panics in handlers

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	// Ensure handlers use the centralized error responder
	handlers.SetHTTPErrorResponder(HandleError)

	s.registerRoutes()

	return s, nil
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.timeouts.ReadTimeout,
		WriteTimeout: s.timeouts.WriteTimeout,
		IdleTimeout:  s.timeouts.IdleTimeout,
		ConnState:    s.trackConnState,
	}

	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Starting HTTP server",
			zap.String("host", s.host),
			zap.Int("port", s.port),
			zap.String("addr", addr))
	}

	return s.server.ListenAndServe()
}

// trackConnState keeps the active connection gauge current.
func (s *Server) trackConnState(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		metrics.SetActiveConnections(s.activeConns.Add(1))
	case http.StateClosed, http.StateHijacked:
		metrics.SetActiveConnections(s.activeConns.Add(-1))
	}
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Shutting down HTTP server")
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the server port for testing
func (s *Server) Port() int {
	return s.port
}
