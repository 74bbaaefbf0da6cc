package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Health statuses, from best to worst.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckResult is one component's health.
type CheckResult struct {
	Status string
	Detail any
}

// Check reports the health of one component.
type Check func(ctx context.Context) CheckResult

// Config holds server configuration.
type Config struct {
	Addr         string        // Listen address (default: ":9090")
	Path         string        // Metrics path (default: "/metrics")
	CheckTimeout time.Duration // Bound on all health checks (default: 5s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         ":9090",
		Path:         "/metrics",
		CheckTimeout: 5 * time.Second,
	}
}

// Server serves Prometheus metrics and health checks.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	registry *prometheus.Registry
	srv      *http.Server

	mu     sync.RWMutex
	checks map[string]Check
}

// NewServer creates a Server with Go runtime and process collectors
// registered.
func NewServer(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &Server{
		cfg:      cfg,
		logger:   logger.With("component", "metrics"),
		registry: reg,
		checks:   make(map[string]Check),
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/health", s.handleHealth)

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Register adds a collector to the server's registry.
func (s *Server) Register(c prometheus.Collector) error {
	if err := s.registry.Register(c); err != nil {
		return fmt.Errorf("register collector: %w", err)
	}
	return nil
}

// AddCheck registers a named health check.
func (s *Server) AddCheck(name string, c Check) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = c
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Serve listens and blocks until ctx is cancelled, then shuts down within
// 10 seconds.
func (s *Server) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen metrics: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("metrics server starting", "addr", lis.Addr().String(), "path", s.cfg.Path)
		if err := s.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("metrics shutdown error", "error", err)
	}
	s.logger.Info("metrics server stopped")
	return nil
}

type healthResponse struct {
	Status     string         `json:"status"`
	Components map[string]any `json:"components"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.CheckTimeout)
	defer cancel()

	s.mu.RLock()
	checks := make(map[string]Check, len(s.checks))
	for name, c := range s.checks {
		checks[name] = c
	}
	s.mu.RUnlock()

	health := healthResponse{
		Status:     StatusHealthy,
		Components: make(map[string]any, len(checks)),
	}
	for name, check := range checks {
		res := check(ctx)
		health.Components[name] = map[string]any{
			"status": res.Status,
			"detail": res.Detail,
		}
		health.Status = worse(health.Status, res.Status)
	}

	w.Header().Set("Content-Type", "application/json")
	if health.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.logger.Debug("write health response", "error", err)
	}
}

func worse(a, b string) string {
	rank := func(s string) int {
		switch s {
		case StatusHealthy:
			return 0
		case StatusDegraded:
			return 1
		default:
			return 2
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}
