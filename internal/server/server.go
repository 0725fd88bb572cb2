// Package server exposes metrics, health and delivery status over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/imedwei/offsite-vault/internal/health"
	"github.com/imedwei/offsite-vault/internal/replication"
)

// StatusSource provides the delivery state served under /status.
type StatusSource interface {
	health.ReportSource
	ResumeContexts(ctx context.Context) ([]replication.ResumeContext, error)
}

// Server represents the HTTP server for metrics, health checks and status.
type Server struct {
	server  *http.Server
	logger  *slog.Logger
	checker *health.Checker
}

// Config holds server configuration.
type Config struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Port:            8080,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// New creates a new HTTP server. status may be nil, in which case /status is
// not served.
func New(config Config, checker *health.Checker, status StatusSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if checker == nil {
		checker = health.NewChecker(nil, logger)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", checker.Handler())
	mux.HandleFunc("GET /ready", health.ReadinessHandler())
	mux.HandleFunc("GET /live", health.LivenessHandler())
	if status != nil {
		mux.HandleFunc("GET /status", statusHandler(status, logger))
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      otelhttp.NewHandler(mux, "vault.http"),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return &Server{
		server:  server,
		logger:  logger,
		checker: checker,
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// RegisterHealthCheck registers a health check function.
func (s *Server) RegisterHealthCheck(name string, checkFunc health.CheckFunc) {
	s.checker.RegisterCheck(name, checkFunc)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

type statusResponse struct {
	LastReport     *replication.DeliveryReport `json:"last_report"`
	ResumeContexts []replication.ResumeContext `json:"resume_contexts"`
}

func statusHandler(source StatusSource, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		report, err := source.LastReport(ctx)
		if err != nil {
			logger.Error("Failed to load last report", "error", err)
			http.Error(w, "failed to load status", http.StatusInternalServerError)
			return
		}
		contexts, err := source.ResumeContexts(ctx)
		if err != nil {
			logger.Error("Failed to load resume contexts", "error", err)
			http.Error(w, "failed to load status", http.StatusInternalServerError)
			return
		}
		if contexts == nil {
			contexts = []replication.ResumeContext{}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(statusResponse{LastReport: report, ResumeContexts: contexts}); err != nil {
			logger.Warn("Failed to write status response", "error", err)
		}
	}
}
