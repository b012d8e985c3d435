package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/luminousstack/lumen-heal/internal/engine"
)

// EngineControl is the engine surface the admin API needs.
type EngineControl interface {
	RunCycle(ctx context.Context) []engine.Record
	Status() engine.Status
	History(limit int) []engine.Record
}

// Server exposes the operator HTTP surface: status, history, and a manual
// heal-now trigger.
type Server struct {
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer constructs the admin HTTP server.
func NewServer(address string, eng EngineControl, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	h := &handlers{logger: logger, engine: eng}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.health)
	mux.HandleFunc("/api/v1/status", h.status)
	mux.HandleFunc("/api/v1/history", h.history)
	mux.HandleFunc("/api/v1/heal", h.heal)

	return &Server{
		logger: logger,
		httpServer: &http.Server{
			Addr:         address,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
	}
}

// Start serves requests until Shutdown is invoked.
func (s *Server) Start() error {
	s.logger.Info("admin server listening", slog.String("address", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) {
	if err := s.httpServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Warn("admin server shutdown", slog.Any("error", err))
	}
}
