package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edgepulse/pulse/internal/runtime"
	logpkg "github.com/edgepulse/pulse/pkg/log"
)

// Server is the ops HTTP server.
type Server struct {
	rt     *runtime.Runtime
	logger logpkg.Logger
	router *mux.Router
	srv    *http.Server
}

// New builds the server and its routes.
func New(rt *runtime.Runtime, logger logpkg.Logger) *Server {
	s := &Server{
		rt:     rt,
		logger: logger.WithComponent("http"),
		router: mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.rt.Monitor().Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/metrics", s.handleExport).Methods(http.MethodGet)
	v1.HandleFunc("/metrics/history", s.handleHistory).Methods(http.MethodGet)
	v1.HandleFunc("/metrics/batcher", s.handleBatcherMetrics).Methods(http.MethodGet)
	v1.HandleFunc("/traces", s.handleTraces).Methods(http.MethodGet)
	v1.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)
	v1.HandleFunc("/alerts/rules", s.handleListRules).Methods(http.MethodGet)
	v1.HandleFunc("/alerts/rules", s.handleAddRule).Methods(http.MethodPost)
	v1.HandleFunc("/alerts/rules/{id}", s.handleRemoveRule).Methods(http.MethodDelete)
	v1.HandleFunc("/alerts/{id}/resolve", s.handleResolveAlert).Methods(http.MethodPost)
	v1.HandleFunc("/health/check", s.handleManualHealthCheck).Methods(http.MethodPost)
	v1.HandleFunc("/queues", s.handleQueues).Methods(http.MethodGet)
	v1.HandleFunc("/events", s.handleAddEvent).Methods(http.MethodPost)
	v1.HandleFunc("/flush", s.handleFlush).Methods(http.MethodPost)
	v1.HandleFunc("/config", s.handleGetConfig).Methods(http.MethodGet)
	v1.HandleFunc("/config", s.handleUpdateConfig).Methods(http.MethodPut)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.logger.Info("http server listening", logpkg.Str("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
