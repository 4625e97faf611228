package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/michaelpoluektov/dspd/internal/application/orchestrator"
)

// Server represents the HTTP API server
type Server struct {
	router       *gin.Engine
	server       *http.Server
	orchestrator *orchestrator.Manager
	logger       *zap.Logger

	maxUploadBytes int64
}

// Config holds HTTP server configuration
type Config struct {
	Port           int
	Orchestrator   *orchestrator.Manager
	Logger         *zap.Logger
	MaxUploadBytes int64
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(cfg.Logger))
	router.Use(corsMiddleware())

	s := &Server{
		router:         router,
		orchestrator:   cfg.Orchestrator,
		logger:         cfg.Logger,
		maxUploadBytes: cfg.MaxUploadBytes,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", s.handleHealth)

	// Metrics
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1, behind the identity header set by the fronting gateway
	v1 := s.router.Group("/api/v1")
	v1.Use(AuthMiddleware())
	{
		// Session endpoints
		v1.POST("/sessions/:id", s.handleCreateSession)
		v1.GET("/sessions/:id", s.handleGetSession)
		v1.GET("/sessions", s.handleListSessions)
		v1.DELETE("/sessions/:id", s.handleDeleteSession)

		// Graph endpoints
		v1.GET("/sessions/:id/graph", s.handleGetGraph)
		v1.POST("/sessions/:id/graph", s.handleSetGraph)
		v1.POST("/sessions/:id/graph/params", s.handleSetParameters)

		// Execution endpoints
		v1.POST("/sessions/:id/audio", s.handleRunAudio)
		v1.GET("/sessions/:id/source", s.handleExportSource)

		// Schema endpoints
		v1.GET("/schema/graph", s.handleGraphSchema)
		v1.GET("/schema/params", s.handleParamSchemas)
	}
}

// SetupWebSocket adds the live update handler to the server
func (s *Server) SetupWebSocket(handler interface {
	HandleSessionUpdates(*gin.Context)
}) {
	s.router.GET("/api/v1/sessions/:id/updates", AuthMiddleware(), handler.HandleSessionUpdates)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}

// requestLogger is a middleware for request logging
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		duration := time.Since(start)

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", duration),
			zap.String("client_ip", c.ClientIP()))
	}
}
