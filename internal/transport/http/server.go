package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"logpipe/internal/config"
	"logpipe/internal/transport/http/handlers"
	"logpipe/internal/transport/http/middleware"
)

// Server is the HTTP ingress (§6): POST /v1/logs, GET /v1/workers/stream,
// and the health/metrics surface. No authentication or rate limiting lives
// in this layer — both are assumed handled at the infrastructure edge
// (load balancer, API gateway), per spec Non-goals.
type Server struct {
	config   *config.Config
	logger   *logrus.Logger
	server   *http.Server
	handlers *handlers.Handlers
	engine   *gin.Engine
}

func NewServer(cfg *config.Config, logger *logrus.Logger, h *handlers.Handlers) *Server {
	return &Server{
		config:   cfg,
		logger:   logger,
		handlers: h,
	}
}

// Start builds the route table and serves until Shutdown is called or the
// listener errors. Blocking; run from a goroutine.
func (s *Server) Start() error {
	if s.config.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	s.engine = gin.New()

	corsConfig := cors.DefaultConfig()
	if len(s.config.Server.CORSAllowedOrigins) == 0 {
		return errors.New("invalid CORS configuration: no origins specified")
	}
	corsConfig.AllowOrigins = s.config.Server.CORSAllowedOrigins
	corsConfig.AllowMethods = s.config.Server.CORSAllowedMethods
	corsConfig.AllowHeaders = s.config.Server.CORSAllowedHeaders
	corsConfig.AllowCredentials = false
	corsConfig.MaxAge = 5 * time.Minute
	s.engine.Use(cors.New(corsConfig))

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:      s.engine,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	s.logger.WithField("port", s.config.Server.Port).Info("starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) setupRoutes() {
	s.engine.Use(middleware.RequestID())
	s.engine.Use(middleware.Logger(s.logger))
	s.engine.Use(middleware.Recovery(s.logger))
	s.engine.Use(middleware.Metrics())

	s.engine.GET("/health", s.handlers.Health.Check)
	s.engine.HEAD("/health", s.handlers.Health.Check)
	s.engine.GET("/health/ready", s.handlers.Health.Ready)
	s.engine.HEAD("/health/ready", s.handlers.Health.Ready)
	s.engine.GET("/health/live", s.handlers.Health.Live)
	s.engine.HEAD("/health/live", s.handlers.Health.Live)

	s.engine.GET("/metrics", s.handlers.Metrics.Handler)

	v1 := s.engine.Group("/v1")
	v1.Use(s.handlers.Idem.Enforce())
	v1.POST("/logs", s.handlers.Ingest.HandleCoalesced(s.handlers.Coalesce))

	s.engine.GET("/v1/workers/stream", s.handlers.Stream.Handle)
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
