// Package server exposes the HTTP surface: the Feishu webhook endpoint and
// a health probe.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"gracebot/internal/infra/config"
)

// Server wraps the HTTP listener.
type Server struct {
	http   *http.Server
	logger *slog.Logger
}

// New builds the router and server. webhook handles POST /webhook/event.
func New(cfg config.ServerConfig, webhook http.Handler, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(rateLimit(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","timestamp":%d}`, time.Now().UnixMilli())
	})
	r.Post("/webhook/event", webhook.ServeHTTP)

	return &Server{
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start listens until the server is shut down. It returns nil after a
// graceful Shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// rateLimit applies one global token bucket to every request. Feishu's
// retry storms get a 429 instead of stacking goroutines.
func rateLimit(rps rate.Limit, burst int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rps, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
