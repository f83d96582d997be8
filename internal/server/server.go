// Package server is the operator HTTP endpoint: health, Prometheus metrics
// and a small read-mostly API over positions and cycles.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/tradecycle/internal/server/handler"
	"github.com/alanyoungcy/tradecycle/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Addr string
	// APIKey protects /api routes; empty disables auth.
	APIKey string
}

// Handlers aggregates the route handlers. Positions and Cycle are optional.
type Handlers struct {
	Health    *handler.HealthHandler
	Positions *handler.PositionHandler
	Cycle     *handler.CycleHandler
}

// Server wraps http.Server with the tradecycle routes.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewRouter builds the route table.
func NewRouter(cfg Config, h Handlers, logger *slog.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Logging(logger))

	r.HandleFunc("/healthz", h.Health.HealthCheck).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.Auth(cfg.APIKey))
	if h.Positions != nil {
		api.HandleFunc("/positions", h.Positions.ListPositions).Methods(http.MethodGet)
		api.HandleFunc("/positions/{ticker}/history", h.Positions.History).Methods(http.MethodGet)
	}
	if h.Cycle != nil {
		api.HandleFunc("/cycle/last", h.Cycle.Last).Methods(http.MethodGet)
		api.HandleFunc("/cycle/trigger", h.Cycle.Trigger).Methods(http.MethodPost)
	}
	return r
}

// New creates a Server listening on cfg.Addr.
func New(cfg Config, h Handlers, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))
	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           NewRouter(cfg, h, logger),
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server: listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server: listen: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	s.logger.Info("server: stopped")
	return nil
}
