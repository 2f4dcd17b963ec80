package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/amaumene/mediasync/internal/api/handlers"
	"github.com/amaumene/mediasync/internal/api/middleware"
	"github.com/amaumene/mediasync/internal/config"
	"github.com/amaumene/mediasync/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Scheduler is what the server needs from the daemon loop
type Scheduler interface {
	handlers.Schedule
	handlers.Trigger
}

// Server represents the daemon HTTP server
type Server struct {
	server *http.Server
	logger *logrus.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg config.ServerConfig, runs handlers.RunLister, sched Scheduler, progress *metrics.Progress, logger *logrus.Logger) *Server {
	s := &Server{logger: logger}

	s.server = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      middleware.Logging(Routes(runs, sched, progress, logger), logger, "/health", "/metrics"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Routes builds the request multiplexer
func Routes(runs handlers.RunLister, sched Scheduler, progress *metrics.Progress, logger *logrus.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/health", handlers.NewHealthHandler(progress, logger))
	mux.Handle("/status", handlers.NewStatusHandler(runs, sched, logger))
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/api/sync", handlers.NewSyncHandler(sched, logger))
	return mux
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithField("addr", s.server.Addr).Info("Starting HTTP server")

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
