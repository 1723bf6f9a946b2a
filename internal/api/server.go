package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/qualitystack/quality-core/internal/config"
)

// Server wraps the HTTP server and lifecycle helpers.
type Server struct {
	cfg        config.ServerConfig
	httpServer *http.Server
}

// NewServer constructs an HTTP server with the API routes registered.
func NewServer(cfg config.ServerConfig, handler *Handler) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", handler.Health)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/agents/:agent/reports/:period", handler.GetWeeklyReport)
		v1.GET("/agents/:agent/tracking", handler.GetTrackingRecord)
		v1.GET("/agents/:agent/flag-count", handler.GetConsecutiveFlagCount)
		v1.GET("/tracking/underperforming", handler.ListUnderperforming)
		v1.POST("/agents/:agent/tracking/resolve", handler.ResolveTracking)
		v1.POST("/agents/:agent/tracking/escalate", handler.EscalateTracking)
		v1.POST("/admin/batch/:period", handler.RunBatch)
	}

	return &Server{
		cfg: cfg,
		httpServer: &http.Server{
			Addr:         cfg.Address,
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
	}
}

// Start serves incoming requests until Shutdown is invoked.
func (s *Server) Start() error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown attempts a graceful shutdown within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// GracefulTimeout returns the configured graceful timeout duration.
func (s *Server) GracefulTimeout() time.Duration {
	return s.cfg.GracefulTimeout
}
