package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/costwise/costwise/internal/application/health"
	"github.com/costwise/costwise/internal/application/orchestrator"
	"github.com/costwise/costwise/internal/ports"
)

// Server is the HTTP API surface over the orchestration entry point.
type Server struct {
	router     *gin.Engine
	server     *http.Server
	entryPoint *orchestrator.EntryPoint
	snapshots  ports.SnapshotStore
	monitor    *health.Monitor
	logger     *zap.Logger
}

// Config holds HTTP server configuration.
type Config struct {
	Port       int
	EntryPoint *orchestrator.EntryPoint
	Snapshots  ports.SnapshotStore
	Monitor    *health.Monitor
	Logger     *zap.Logger
}

// NewServer creates the HTTP server.
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(cfg.Logger))
	router.Use(corsMiddleware())

	s := &Server{
		router:     router,
		entryPoint: cfg.EntryPoint,
		snapshots:  cfg.Snapshots,
		monitor:    cfg.Monitor,
		logger:     cfg.Logger,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/optimize", s.handleOptimize)
		v1.GET("/executions/:account/latest", s.handleLatestExecution)
		v1.GET("/executions/:account/:id", s.handleGetExecution)
	}
}

// SetupWebSocket mounts the progress stream handler.
func (s *Server) SetupWebSocket(handler interface {
	HandleExecutionStream(*gin.Context)
}) {
	s.router.GET("/api/v1/executions/:account/:id/ws", handler.HandleExecutionStream)
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}

// requestLogger logs every request. Header values never reach the log;
// only structural request data does.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if id := c.Writer.Header().Get("correlation-id"); id != "" {
			fields = append(fields, zap.String("correlation_id", id))
		}
		logger.Info("HTTP request", fields...)
	}
}
