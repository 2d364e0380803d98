package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/isectech/security-logging/pkg/logging"
	"github.com/isectech/security-logging/pkg/metrics"
	"github.com/isectech/security-logging/services/siem-logging/config"
)

// APIPrefix is the versioned route group
const APIPrefix = "/api/v1"

// HTTPServer serves the security logging API
type HTTPServer struct {
	server   *http.Server
	router   *gin.Engine
	handlers *Handlers
	config   config.ServerConfig
	logger   *logging.Logger
	metrics  *metrics.Collector
}

// NewHTTPServer builds the router and the underlying http.Server
func NewHTTPServer(cfg config.ServerConfig, handlers *Handlers, logger *logging.Logger, collector *metrics.Collector) *HTTPServer {
	if logger == nil {
		logger = logging.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &HTTPServer{
		router:   gin.New(),
		handlers: handlers,
		config:   cfg,
		logger:   logger.WithComponent("http"),
		metrics:  collector,
	}
	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Address(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *HTTPServer) setupMiddleware() {
	s.router.Use(Recovery(s.logger))
	s.router.Use(RequestID())
	s.router.Use(RequestLogger(s.logger))
	s.router.Use(Metrics(s.metrics))
}

func (s *HTTPServer) setupRoutes() {
	s.router.GET("/health/live", s.handlers.Liveness)
	s.router.GET("/health/ready", s.handlers.Readiness)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.CreateHandler()))
	}

	security := s.router.Group(APIPrefix + "/security")
	{
		ingest := security.Group("", IngestRateLimit(s.config.IngestRatePerSecond, s.config.IngestBurst))
		ingest.POST("/events", s.handlers.LogSecurityEvent)
		ingest.POST("/audit", s.handlers.LogAuditEvent)

		security.GET("/compliance/report", s.handlers.ComplianceReport)
		security.GET("/health", s.handlers.Health)

		security.GET("/alerts", s.handlers.ListAlerts)
		security.GET("/alerts/:id", s.handlers.GetAlert)
		security.POST("/alerts/:id/acknowledge", s.handlers.AcknowledgeAlert)
		security.POST("/alerts/:id/assign", s.handlers.AssignAlert)
	}
}

// Handler exposes the router for tests
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called
func (s *HTTPServer) Start() error {
	s.logger.Info("Starting HTTP server", logging.String("address", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}
