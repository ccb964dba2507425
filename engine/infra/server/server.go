// Package server exposes the operational HTTP surface of a running engine:
// the Prometheus scrape endpoint and a store health probe.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/examforge/examforge/engine/infra/monitoring"
	"github.com/examforge/examforge/pkg/logger"
	"github.com/examforge/examforge/pkg/version"
	"github.com/gin-gonic/gin"
)

const (
	readHeaderTimeout     = 5 * time.Second
	serverShutdownTimeout = 5 * time.Second
	healthCheckTimeout    = 2 * time.Second
)

// HealthFunc reports whether a dependency is usable.
type HealthFunc func(ctx context.Context) error

type Config struct {
	Addr string
}

// Server is safe to Shutdown whether or not Start succeeded.
type Server struct {
	cfg      Config
	router   *gin.Engine
	srv      *http.Server
	listener net.Listener
	done     chan struct{}
}

func New(ctx context.Context, cfg Config, mon *monitoring.Service, health HealthFunc) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", healthHandler(health))
	if mon != nil && mon.IsInitialized() {
		r.GET(mon.Path(), gin.WrapH(mon.ExporterHandler()))
	}
	logger.FromContext(ctx).Debug("Ops router built", "metrics", mon != nil && mon.IsInitialized())
	return &Server{cfg: cfg, router: r}
}

func (s *Server) Handler() http.Handler { return s.router }

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.srv = &http.Server{Handler: s.router, ReadHeaderTimeout: readHeaderTimeout}
	s.done = make(chan struct{})
	log := logger.FromContext(ctx)
	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Ops server stopped", "error", err)
		}
	}()
	log.Info("Ops server listening", "addr", ln.Addr().String())
	return nil
}

// Addr is the bound address, useful when Config.Addr used port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	<-s.done
	return nil
}

func healthHandler(health HealthFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if health == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Get().Version})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		defer cancel()
		if err := health(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Get().Version})
	}
}
