// Package observability provides the metrics HTTP server and Pushgateway push.
package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rs/zerolog/log"
)

// Server provides HTTP endpoints for observability.
type Server struct {
	server *http.Server
	addr   string
}

// NewRouter constructs the observability router.
func NewRouter(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	return r
}

// NewServer creates a new observability HTTP server serving the default registry.
func NewServer(addr string) *Server {
	return NewServerWithGatherer(addr, prometheus.DefaultGatherer)
}

// NewServerWithGatherer creates a server exposing the metrics of gatherer.
func NewServerWithGatherer(addr string, gatherer prometheus.Gatherer) *Server {
	return &Server{
		addr: addr,
		server: &http.Server{
			Addr:         addr,
			Handler:      NewRouter(gatherer),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start binds the listener and serves in a goroutine. Bind errors are returned
// so a bad METRICS_ADDR fails fast.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	go func() {
		log.Info().Str("addr", lis.Addr().String()).Msg("Starting observability HTTP server")
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Observability HTTP server error")
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down observability HTTP server")
	return s.server.Shutdown(ctx)
}

// Push sends the gathered metrics to a Prometheus Pushgateway. A one-shot
// client exits before any scraper would see it, so this is how its metrics
// leave the process.
func Push(ctx context.Context, url, job string, gatherer prometheus.Gatherer) error {
	return push.New(url, job).
		Gatherer(gatherer).
		PushContext(ctx)
}
