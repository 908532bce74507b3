package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vsariola/kantele"
	"github.com/vsariola/kantele/engine"
	"github.com/vsariola/kantele/events"
	"github.com/vsariola/kantele/report"
	"go.uber.org/zap"
)

// Performance is the part of the engine the API drives. *engine.Engine
// implements it.
type Performance interface {
	SubmitCompile(text string) (uuid.UUID, error)
	SubmitScoreAppend(events []kantele.ScoreEvent) (uuid.UUID, error)
	SubmitScoreText(text string) (uuid.UUID, error)
	Status() engine.Status
	Instruments() []engine.InstrumentInfo
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	server      *http.Server
	performance Performance
	bus         events.Bus
	reporter    *report.Reporter
	logger      *zap.Logger
}

// Config holds HTTP server configuration
type Config struct {
	Addr        string
	Performance Performance
	// Bus is streamed to websocket clients; nil disables the stream.
	Bus    events.Bus
	Logger *zap.Logger
	// Gatherer serves /metrics; nil means the default registry.
	Gatherer prometheus.Gatherer
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware())

	s := &Server{
		router:      router,
		performance: cfg.Performance,
		bus:         cfg.Bus,
		logger:      logger,
	}
	if r, err := report.New(); err != nil {
		logger.Error("listing templates unavailable", zap.Error(err))
	} else {
		s.reporter = r
	}

	s.setupRoutes(cfg.Gatherer)

	s.server = &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}

	return s
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	s.router.GET("/health", s.handleHealth)

	if gatherer == nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	} else {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/compile", s.handleCompile)
		v1.POST("/score", s.handleScore)
		v1.GET("/status", s.handleStatus)
		v1.GET("/instruments", s.handleListInstruments)
		v1.GET("/instruments/:id", s.handleGetInstrument)
		if s.reporter != nil {
			v1.GET("/listing", s.handleListing)
		}
		if s.bus != nil {
			v1.GET("/notifications/ws", s.handleNotificationStream)
		}
	}
}

// Handler returns the router, for serving without Start.
func (s *Server) Handler() http.Handler {
	return s.router
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
