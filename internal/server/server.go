// Package server exposes the engine over HTTP for editor integrations.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	clog "github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/climateandtech/carbonara-sub000/internal/engine"
)

// Server serves the engine's HTTP API.
type Server struct {
	Addr   string
	Engine *engine.Engine
	Logger *clog.Logger
}

// Start serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.Addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	s.logger().Info("api server listening", "addr", s.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	api := r.Group("/api")
	api.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	api.GET("/version", versionHandler)
	api.GET("/registry", s.registryHandler)
	api.GET("/tools", s.listHandler)
	api.POST("/refresh", s.refreshHandler)
	api.GET("/tools/:id", s.statusHandler)
	api.POST("/tools/:id/install", s.installHandler)
	api.POST("/tools/:id/result", s.resultHandler)
	api.PUT("/tools/:id/override", s.overrideHandler)
	api.DELETE("/tools/:id/override", s.resetHandler)
	api.POST("/tools/:id/prerequisites/:name/install", s.prereqHandler)

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Engine.Metrics(), promhttp.HandlerOpts{})))
	r.NoRoute(func(c *gin.Context) { c.JSON(http.StatusNotFound, gin.H{"error": "not found"}) })
	return r
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger().Debug("request", "method", c.Request.Method, "path", c.FullPath(), "status", c.Writer.Status(), "took", time.Since(start).Round(time.Millisecond))
	}
}

func (s *Server) logger() *clog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return clog.Default()
}
