package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/playforge/arcadia/internal/logger"
)

// Config holds metrics endpoint settings.
type Config struct {
	// Enabled turns metrics collection and the scrape endpoint on.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the scrape endpoint port.
	Port int `mapstructure:"port" validate:"gte=0,lte=65535" yaml:"port"`

	// Path is the scrape endpoint path.
	Path string `mapstructure:"path" yaml:"path"`
}

// DefaultConfig returns the standard metrics settings.
func DefaultConfig() Config {
	return Config{
		Enabled: false,
		Port:    9091,
		Path:    "/metrics",
	}
}

// Server exposes the registry over HTTP for Prometheus scrapes.
type Server struct {
	cfg     Config
	httpSrv *http.Server
}

// NewServer creates the scrape endpoint server. Returns nil when metrics
// are disabled.
func NewServer(cfg Config) *Server {
	if !cfg.Enabled || !IsEnabled() {
		return nil
	}
	return &Server{cfg: cfg}
}

// Start binds the scrape endpoint and serves in the background. Nil-safe.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, promhttp.HandlerFor(GetRegistry(), promhttp.HandlerOpts{}))

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics: listen on %s: %w", addr, err)
	}

	s.httpSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.InfoCtx(ctx, "metrics endpoint listening", "addr", addr, "path", s.cfg.Path)
		if err := s.httpSrv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics endpoint stopped", logger.KeyError, err.Error())
		}
	}()
	return nil
}

// Stop shuts the scrape endpoint down. Nil-safe.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
