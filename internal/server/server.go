// Package server exposes the run orchestration engine over HTTP: run
// submission and inspection, cancellation, provider health, and Prometheus
// metrics.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"devflow/pkg/config"
	"devflow/pkg/llm"
	"devflow/pkg/logx"
	"devflow/pkg/metrics"
	"devflow/pkg/persistence"
	"devflow/pkg/tools"
	"devflow/pkg/workflow"
)

// ModelRouter is the slice of the llm router the server needs. Tests
// substitute fakes.
type ModelRouter interface {
	Route(ctx context.Context, step, modelType string, req llm.CompletionRequest) (llm.RouteResult, error)
	HealthCheck(ctx context.Context) map[string]bool
}

// Server is the HTTP server managing workflow runs.
type Server struct {
	cfg      *config.Config
	store    *persistence.Store
	router   ModelRouter
	recorder workflow.StepMetrics
	registry *RunRegistry
	queries  *metrics.QueryService
	baseCtx  context.Context
	cancel   context.CancelFunc
	httpSrv  *http.Server
	logger   *logx.Logger

	// newGateway is swappable for tests.
	newGateway func(repoPath string) (workflow.ToolGateway, error)
}

// New creates a server. recorder may be nil to disable workflow metrics.
func New(cfg *config.Config, store *persistence.Store, router ModelRouter, recorder workflow.StepMetrics) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		store:    store,
		router:   router,
		recorder: recorder,
		registry: NewRunRegistry(),
		baseCtx:  ctx,
		cancel:   cancel,
		logger:   logx.NewLogger("server"),
	}
	s.newGateway = func(repoPath string) (workflow.ToolGateway, error) {
		info, err := os.Stat(repoPath)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("not a directory: %s", repoPath)
		}
		return tools.NewGateway(repoPath, cfg), nil
	}

	if cfg.Metrics.PrometheusURL != "" {
		qs, err := metrics.NewQueryService(cfg.Metrics.PrometheusURL)
		if err != nil {
			s.logger.Warn("metrics query service disabled: %v", err)
		} else {
			s.queries = qs
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/metrics/usage", s.handleUsage)
	mux.HandleFunc("POST /api/runs", s.handleCreateRun)
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /api/runs/{id}/artifacts", s.handleGetArtifacts)
	mux.HandleFunc("GET /api/runs/{id}/steps", s.handleGetSteps)
	mux.HandleFunc("POST /api/runs/{id}/cancel", s.handleCancelRun)
	mux.HandleFunc("DELETE /api/runs/{id}", s.handleDeleteRun)

	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	return s
}

// ListenAndServe starts the server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		s.logger.Info("received %s, shutting down", sig)
		s.Shutdown()
	}()

	s.logger.Info("listening on %s", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown cancels all active runs and drains HTTP connections.
func (s *Server) Shutdown() {
	s.registry.CancelAll("server shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = s.httpSrv.Shutdown(shutdownCtx)

	s.cancel()
}
