package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"visitor-relay/internal/queue"
	"visitor-relay/internal/service/tracking"
	"visitor-relay/internal/websocket"

	"github.com/prometheus/client_golang/prometheus"
)

type RouteRegistrar func(mux *http.ServeMux, s *APIServer)

// Dependencies are the components routers may pull from the server. Each
// binary fills in only what its routes need.
type Dependencies struct {
	Tracking       *tracking.Service
	Configs        *tracking.ConfigCache
	KeyIndex       *tracking.RedisKeyIndex
	Handler        *websocket.Handler
	AllowedOrigins []string
	Registerer     prometheus.Registerer
	Gatherer       prometheus.Gatherer
	Logger         *slog.Logger
}

type APIServer struct {
	listenAddr          string
	requestQueueManager *queue.RequestQueueManager
	deps                Dependencies
	routeRegistrars     []RouteRegistrar
	metrics             *metrics
	logger              *slog.Logger
}

const shutdownTimeout = 10 * time.Second

func NewAPIServer(listenAddr string, rqm *queue.RequestQueueManager, deps Dependencies, registrars ...RouteRegistrar) *APIServer {
	if deps.Registerer == nil {
		deps.Registerer = prometheus.DefaultRegisterer
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Configs == nil && deps.Tracking != nil {
		deps.Configs = deps.Tracking.Configs()
	}

	return &APIServer{
		listenAddr:          listenAddr,
		requestQueueManager: rqm,
		deps:                deps,
		routeRegistrars:     registrars,
		metrics:             newMetrics(deps.Registerer, deps.Gatherer, listenAddr, rqm),
		logger:              deps.Logger.With("component", "api", "listen_addr", listenAddr),
	}
}

// Routes builds the instrumented handler with every registered route and
// /metrics.
func (s *APIServer) Routes() http.Handler {
	mux := http.NewServeMux()

	for _, reg := range s.routeRegistrars {
		reg(mux, s)
	}

	mux.Handle("/metrics", s.metrics.metricsHandler())

	return s.metrics.instrument(mux)
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *APIServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listenAddr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", fmt.Sprintf("http://localhost%s", s.listenAddr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api: serve %s: %w", s.listenAddr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api: shutdown %s: %w", s.listenAddr, err)
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *APIServer) Tracking() *tracking.Service {
	return s.deps.Tracking
}

func (s *APIServer) Configs() *tracking.ConfigCache {
	return s.deps.Configs
}

func (s *APIServer) KeyIndex() *tracking.RedisKeyIndex {
	return s.deps.KeyIndex
}

func (s *APIServer) Handler() *websocket.Handler {
	return s.deps.Handler
}

func (s *APIServer) Logger() *slog.Logger {
	return s.deps.Logger
}
