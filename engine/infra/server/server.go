package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/compozy/knowledgebase/engine/infra/monitoring"
	"github.com/compozy/knowledgebase/engine/infra/server/router"
	"github.com/compozy/knowledgebase/pkg/logger"
)

const (
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 15 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Server hosts a gin engine with graceful shutdown.
type Server struct {
	cfg        Config
	engine     *gin.Engine
	monitoring *monitoring.Service
	onShutdown []func(context.Context) error
}

// New builds the engine with recovery, request ids, logging and HTTP metrics.
func New(ctx context.Context, cfg Config, mon *monitoring.Service) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if mon == nil {
		mon = monitoring.NewMonitoringServiceWithFallback(ctx, nil)
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(router.RequestID(logger.FromContext(ctx)))
	engine.Use(router.LoggerMiddleware())
	engine.Use(mon.GinMiddleware())
	if mon.IsInitialized() {
		engine.GET(mon.Path(), gin.WrapH(mon.ExporterHandler()))
	}
	return &Server{cfg: cfg, engine: engine, monitoring: mon}
}

// Engine exposes the router for route registration.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// OnShutdown registers a hook run after the listener stops, in registration order.
func (s *Server) OnShutdown(fn func(context.Context) error) {
	s.onShutdown = append(s.onShutdown, fn)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.cfg.Address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run over an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	log := logger.FromContext(ctx)
	srv := &http.Server{
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "address", fmt.Sprintf("http://%s", ln.Addr()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server: serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Debug("Received shutdown signal, initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	errs := []error{}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown failed: %w", err))
	}
	for _, fn := range s.onShutdown {
		if err := fn(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.monitoring.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		log.Info("Server shutdown completed successfully")
	}
	return errors.Join(errs...)
}
