package http_api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/core-coin/hashrent/internal/config"
	"github.com/core-coin/hashrent/internal/engine"
	"github.com/core-coin/hashrent/internal/models"
	"github.com/core-coin/hashrent/pkg/logger"
	"github.com/gin-gonic/gin"
)

const (
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout = 10 * time.Second
)

// SettingsStore is the admin view of the system settings.
type SettingsStore interface {
	List(ctx context.Context) ([]*models.Setting, error)
	Update(ctx context.Context, key, value string) (*models.Setting, error)
	UpdateMany(ctx context.Context, values map[string]string) ([]*models.Setting, error)
}

// AccrualRunner triggers accrual passes and lists their history.
type AccrualRunner interface {
	models.Accruer
	ListRuns(ctx context.Context, limit int) ([]*models.AccrualRun, error)
}

// HTTPServer is the HTTP server struct that will serve the API
type HTTPServer struct {
	// logger is the logger instance
	logger *logger.Logger
	config *config.Config

	// router is the HTTP router
	router *gin.Engine
	// server is the underlying HTTP server
	server *http.Server

	engine   *engine.Engine
	settings SettingsStore
	accrual  AccrualRunner
}

// NewHTTPServer creates a new HTTP server instance
func NewHTTPServer(
	engine *engine.Engine,
	settings SettingsStore,
	accrual AccrualRunner,
	config *config.Config,
	logger *logger.Logger,
) *HTTPServer {
	if !config.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metricsMiddleware())
	router.Use(corsMiddleware(config.CORSOrigins))
	router.Use(newRateLimiter(config.RateLimitRPS, config.RateLimitBurst).middleware())

	server := &HTTPServer{
		router:   router,
		engine:   engine,
		settings: settings,
		accrual:  accrual,
		config:   config,
		logger:   logger.With("component", "http_api"),
	}

	// Define routes
	server.routes()

	return server
}

// Handler returns the router, used by tests and embedding servers.
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *HTTPServer) Start() {
	addr := fmt.Sprintf("0.0.0.0:%v", s.config.APIPort)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "address", addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Fatal("Failed to start the HTTP server", "error", err)
	}
}

// Shutdown gracefully shuts down the HTTP server
func (s *HTTPServer) Shutdown() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP server...")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}

	s.logger.Info("HTTP server shut down successfully")
	return nil
}
