// Package status serves a small local HTTP view of a running bot: health,
// session statistics and prometheus metrics.
package status

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Health is the snapshot rendered by /healthz and /stats.
type Health struct {
	State     string    `json:"state"`
	Connected bool      `json:"connected"`
	Self      string    `json:"self,omitempty"`
	Session   string    `json:"session,omitempty"`
	Sessions  int       `json:"sessions"`
	Started   time.Time `json:"started"`
	Version   string    `json:"version"`
}

// Provider supplies the current Health.
type Provider interface {
	Health() Health
}

// StartOpts holds configuration for the status server.
type StartOpts struct {
	Addr     string
	Provider Provider
	Registry *prometheus.Registry // optional; enables /metrics
	Logger   *zap.Logger
}

// Start launches the status HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Provider == nil {
		return fmt.Errorf("status: provider is required")
	}
	if opts.Addr == "" {
		return fmt.Errorf("status: listen address is required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("status")

	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return fmt.Errorf("status: listen %s: %w", opts.Addr, err)
	}
	return serve(ctx, ln, opts, log)
}

func serve(ctx context.Context, ln net.Listener, opts StartOpts, log *zap.Logger) error {
	srv := &http.Server{
		Handler:           newRouter(opts.Provider, opts.Registry),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Graceful shutdown on context cancellation.
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown", zap.Error(err))
		}
	}()

	log.Info("status server listening", zap.String("addr", ln.Addr().String()))
	err := srv.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status: %w", err)
	}
	<-done
	return nil
}

func newRouter(p Provider, reg *prometheus.Registry) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, p, reg)
	return router
}
