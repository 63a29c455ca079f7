// Package server provides the HTTP server for the submission service.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/tzomaik-art/form-builder/internal/config"
	apierrors "github.com/tzomaik-art/form-builder/internal/errors"
	"github.com/tzomaik-art/form-builder/internal/handler"
	"github.com/tzomaik-art/form-builder/internal/health"
	"github.com/tzomaik-art/form-builder/internal/metrics"
	"github.com/tzomaik-art/form-builder/internal/middleware"
)

// Server represents the HTTP server.
type Server struct {
	router      *mux.Router
	httpServer  *http.Server
	handlers    *handler.Handlers
	healthCheck *health.HealthCheck
	metrics     *metrics.Metrics
	logger      *zap.Logger
	cfg         *config.Config
}

// NewServer creates a new HTTP server with routes configured.
func NewServer(
	cfg *config.Config,
	handlers *handler.Handlers,
	healthCheck *health.HealthCheck,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Server {
	router := mux.NewRouter()

	s := &Server{
		router:      router,
		handlers:    handlers,
		healthCheck: healthCheck,
		metrics:     m,
		logger:      logger,
		cfg:         cfg,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	chain := []func(http.Handler) http.Handler{
		middleware.Recovery(s.logger),
		middleware.RequestID,
		middleware.Logging(s.logger, s.metrics),
		middleware.CORS(s.cfg.Server.AllowedOrigins),
	}
	if s.cfg.RateLimit.GlobalRPS > 0 {
		limiter := middleware.NewRateLimiter(s.cfg.RateLimit.GlobalRPS, s.cfg.RateLimit.GlobalBurst, s.logger)
		chain = append(chain, limiter.Limit)
	}
	if s.cfg.Server.MaxBodyBytes > 0 {
		chain = append(chain, middleware.MaxBodySize(s.cfg.Server.MaxBodyBytes))
	}
	s.router.Use(mux.MiddlewareFunc(middleware.Chain(chain...)))

	s.router.HandleFunc("/health/live", s.healthCheck.LivenessHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/health/ready", s.healthCheck.ReadinessHandler).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/tenants/{tenant_id}/forms/{slug}", s.handlers.GetForm).Methods(http.MethodGet, http.MethodOptions)
	v1.HandleFunc("/tenants/{tenant_id}/forms/{slug}/submissions", s.handlers.Submit).Methods(http.MethodPost, http.MethodOptions)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeRouteError(w, r, http.StatusNotFound, apierrors.ErrCodeNotFound, "endpoint not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeRouteError(w, r, http.StatusMethodNotAllowed, apierrors.ErrCodeValidation, "method not allowed")
	})
}

func writeRouteError(w http.ResponseWriter, r *http.Request, status int, code apierrors.ErrorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(handler.ErrorResponse{
		Error:     message,
		Code:      code,
		RequestID: r.Header.Get(middleware.RequestIDHeader),
	})
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.Int("port", s.cfg.Server.Port))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the routed http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// NewMetricsServer serves the Prometheus registry on its own port.
func NewMetricsServer(cfg config.MetricsConfig, m *metrics.Metrics) *http.Server {
	serveMux := http.NewServeMux()
	serveMux.Handle(cfg.Path, m.Handler())
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           serveMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
