package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// OpsServer serves /healthz and /metrics on the metrics port.
type OpsServer struct {
	server *http.Server
}

// NewOpsServer creates the ops HTTP server. check may be nil; gatherer may be
// nil to omit /metrics.
func NewOpsServer(addr string, gatherer prometheus.Gatherer, check HealthCheck) *OpsServer {
	return &OpsServer{server: &http.Server{
		Addr:              addr,
		Handler:           NewOpsRouter(gatherer, check),
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// NewOpsRouter builds the ops routes.
func NewOpsRouter(gatherer prometheus.Gatherer, check HealthCheck) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if check != nil {
			if err := check(req.Context()); err != nil {
				http.Error(w, fmt.Sprintf("unhealthy: %v", err), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	}
	return r
}

// Start listens and serves until Shutdown.
func (s *OpsServer) Start() error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.server.Addr, err)
	}
	if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *OpsServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
