package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/server/handlers"
	"mercator-hq/tollgate/pkg/server/middleware"
	"mercator-hq/tollgate/pkg/telemetry/health"
	"mercator-hq/tollgate/pkg/telemetry/logging"
)

// Server is the HTTP server.
type Server struct {
	config  config.ServerConfig
	api     *handlers.Handler
	ingress http.Handler
	health  *health.Checker
	version health.VersionInfo
	metrics http.Handler
	mpath   string
	logger  *slog.Logger

	httpServer   *http.Server
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
	addr         net.Addr
}

// Option configures a Server.
type Option func(*Server)

// WithIngress mounts h, the steering middleware wrapped around the
// provider proxy, at POST /v1/chat/completions.
func WithIngress(h http.Handler) Option {
	return func(s *Server) { s.ingress = h }
}

// WithHealth serves /health, /ready and /version from checker.
func WithHealth(checker *health.Checker, version health.VersionInfo) Option {
	return func(s *Server) {
		s.health = checker
		s.version = version
	}
}

// WithMetrics serves h at path, or /metrics when path is empty.
func WithMetrics(path string, h http.Handler) Option {
	return func(s *Server) {
		if path == "" {
			path = "/metrics"
		}
		s.mpath = path
		s.metrics = h
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logging.Component(logger, "server") }
}

// New creates a server for api.
func New(cfg config.ServerConfig, api *handlers.Handler, opts ...Option) *Server {
	s := &Server{
		config:       cfg,
		api:          api,
		logger:       logging.Component(nil, "server"),
		shutdownChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start listens and serves until ctx is cancelled, a termination signal
// arrives, Shutdown is called or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}

	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
	s.addr = ln.Addr()
	s.isRunning = true
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "address", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.shutdown(context.Background())
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		return s.shutdown(context.Background())
	case err := <-errChan:
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return err
	case <-s.shutdownChan:
		return s.shutdown(context.Background())
	}
}

// Shutdown asks a running Start to stop and return.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdownChan) })
}

func (s *Server) shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return nil
	}

	s.logger.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	var err error
	if shutdownErr := s.httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		s.logger.Error("error during server shutdown", "error", shutdownErr)
		err = fmt.Errorf("server shutdown error: %w", shutdownErr)
	}
	s.isRunning = false
	s.logger.Info("server stopped")
	return err
}

// IsRunning reports whether Start is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Addr returns the bound listen address while running.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Handler returns the routed handler with its middleware chain.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(s.logger))
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging(s.logger))

	if s.health != nil {
		r.Get("/health", s.health.LivenessHandler())
		r.Get("/ready", s.health.ReadinessHandler())
		r.Get("/version", health.VersionHandler(s.version.Version, s.version.Commit, s.version.BuildTime))
	}
	if s.metrics != nil {
		r.Method(http.MethodGet, s.mpath, s.metrics)
	}
	if s.ingress != nil {
		r.Method(http.MethodPost, "/v1/chat/completions", s.ingress)
	}

	if s.api != nil {
		r.Group(func(r chi.Router) {
			if s.config.RequestTimeout > 0 {
				r.Use(chimw.Timeout(s.config.RequestTimeout))
			}
			s.api.Register(r)
		})
	}
	return r
}
