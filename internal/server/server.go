// Package server exposes the run lifecycle engine over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jamesturk/bobsled/internal/app"
)

// Per-user request limits applied after authentication.
const (
	requestsPerSecond = 10
	requestBurst      = 20
)

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
}

// New creates the API server. metricsHandler serves /metrics when
// non-nil (the promhttp handler from observability.InitMetrics).
func New(addr string, a *app.App, metricsHandler http.Handler) *Server {
	h := newHandlers(a)
	authMW := basicAuth(a)
	limitMW := rateLimit(requestsPerSecond, requestBurst)
	protect := func(handler http.HandlerFunc) http.Handler {
		return authMW(limitMW(handler))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.health)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	mux.Handle("POST /tasks/{name}/run", protect(h.startRun))
	mux.Handle("GET /tasks", protect(h.listTasks))
	mux.Handle("GET /runs", protect(h.listRuns))
	mux.Handle("GET /runs/{id}", protect(h.getRun))
	mux.Handle("GET /runs/{id}/logs", protect(h.getLogs))
	mux.Handle("DELETE /runs/{id}", protect(h.stopRun))
	mux.Handle("POST /cleanup", protect(h.cleanup))

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      requestID(mux),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// Run starts the HTTP server. It blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
