// Package httpserver runs the API with health, drain and metrics endpoints.
package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/atomic"

	"objectmap/pkg/platform/httputil"
	"objectmap/pkg/platform/middleware/metadata"
	request "objectmap/pkg/platform/middleware/request"
)

// HealthCheck reports whether a dependency can serve traffic.
type HealthCheck func(ctx context.Context) error

type Config struct {
	ListenAddr      string
	Log             *slog.Logger
	DrainDuration   time.Duration
	ShutdownTimeout time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	// MetricsHandler serves /metrics. Defaults to the global Prometheus registry.
	MetricsHandler http.Handler
	// Checks must all pass for /readyz to report ready.
	Checks map[string]HealthCheck
}

// Server owns the HTTP listener and the readiness latch toggled by /drain.
type Server struct {
	cfg     Config
	log     *slog.Logger
	isReady atomic.Bool
	srv     *http.Server
}

// New builds the server. mount registers application routes on the shared router.
func New(cfg Config, mount func(r chi.Router)) *Server {
	if cfg.Log == nil {
		cfg.Log = slog.New(slog.DiscardHandler)
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = promhttp.Handler()
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{cfg: cfg, log: cfg.Log}
	s.isReady.Store(true)
	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router(mount),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
	return s
}

func (s *Server) router(mount func(r chi.Router)) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(request.RequestID)
	r.Use(request.Time)
	r.Use(metadata.ClientMetadata)

	r.Get("/livez", s.handleLivenessCheck)
	r.Get("/readyz", s.handleReadinessCheck)
	r.Get("/drain", s.handleDrain)
	r.Get("/undrain", s.handleUndrain)
	r.Handle("/metrics", s.cfg.MetricsHandler)

	r.Group(func(r chi.Router) {
		r.Use(s.httpLogger)
		if mount != nil {
			mount(r)
		}
	})
	return r
}

func (s *Server) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(s.log, next)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) IsReady() bool {
	return s.isReady.Load()
}

func (s *Server) handleLivenessCheck(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if !s.isReady.Load() {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
		return
	}
	failed := map[string]string{}
	for name, check := range s.cfg.Checks {
		if err := check(r.Context()); err != nil {
			s.log.WarnContext(r.Context(), "readiness check failed", "check", name, "error", err)
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "failed": failed})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleDrain(w http.ResponseWriter, _ *http.Request) {
	if !s.isReady.Swap(false) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "already draining"})
		return
	}
	s.log.Info("server marked as not ready")
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "draining"})
}

func (s *Server) handleUndrain(w http.ResponseWriter, _ *http.Request) {
	if s.isReady.Swap(true) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "already ready"})
		return
	}
	s.log.Info("server marked as ready")
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Run serves until ctx is cancelled, then drains and shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting HTTP server", "listenAddress", s.cfg.ListenAddr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// Let load balancers see /readyz fail before connections are refused.
	if s.isReady.Swap(false) && s.cfg.DrainDuration > 0 {
		s.log.Info("draining before shutdown", "duration", s.cfg.DrainDuration)
		time.Sleep(s.cfg.DrainDuration)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.log.Error("graceful HTTP server shutdown failed", "err", err)
		return err
	}
	s.log.Info("HTTP server gracefully stopped")
	return <-errCh
}
