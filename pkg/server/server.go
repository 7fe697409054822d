// Package server exposes locator memory, the healing engine and metrics
// over HTTP for inspection and for runners in other processes.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devicelab-dev/selfheal/pkg/heal"
	"github.com/devicelab-dev/selfheal/pkg/logger"
	"github.com/devicelab-dev/selfheal/pkg/memory"
	"github.com/devicelab-dev/selfheal/pkg/vms"
)

const shutdownTimeout = 5 * time.Second

// Server is the diagnostics server.
type Server struct {
	archive memory.Archive
	engine  *heal.Engine
	index   *vms.Index
	router  *chi.Mux
	started time.Time

	strategies []heal.Strategy
}

// Option configures a Server.
type Option func(*Server)

// WithEngine enables POST /resolve.
func WithEngine(e *heal.Engine) Option {
	return func(s *Server) { s.engine = e }
}

// WithStrategies sets the strategies a resolve request gets when it names
// none. Nil enables all of them.
func WithStrategies(enabled []heal.Strategy) Option {
	return func(s *Server) { s.strategies = enabled }
}

// WithIndex reports the visual memory size on /healthz.
func WithIndex(ix *vms.Index) Option {
	return func(s *Server) { s.index = ix }
}

// New creates a server over archive.
func New(archive memory.Archive, opts ...Option) *Server {
	s := &Server{archive: archive, started: time.Now()}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/memory", func(r chi.Router) {
		r.Get("/", s.handleMemoryList)
		r.Get("/export", s.handleMemoryExport)
		r.Get("/{name}", s.handleMemoryEntry)
	})
	r.Post("/resolve", s.handleResolve)

	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server: listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	logger.Info("server: shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
