// Package metricsserver exposes the gateway's Prometheus metrics and a
// health endpoint over HTTP.
package metricsserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bft-labs/sensorship/pkg/gateway"
	"github.com/bft-labs/sensorship/pkg/log"
)

// Config holds configuration options for the metrics server plugin.
type Config struct {
	// Addr is the listen address.
	// Default: ":9100"
	Addr string

	// Path serves the metrics.
	// Default: "/metrics"
	Path string

	// ShutdownTimeout bounds the graceful HTTP shutdown.
	// Default: 5 seconds
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Addr:            ":9100",
		Path:            "/metrics",
		ShutdownTimeout: 5 * time.Second,
	}
}

// Plugin serves /metrics and /healthz while the gateway runs.
type Plugin struct {
	cfg Config

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

// New creates a metrics server plugin.
func New(cfg Config) *Plugin {
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	return &Plugin{cfg: cfg}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "metricsserver"
}

// Initialize binds the listen address and starts serving.
func (p *Plugin) Initialize(_ context.Context, cfg gateway.PluginConfig) error {
	if cfg.Gatherer == nil {
		return errors.New("metricsserver: no metrics gatherer")
	}

	ln, err := net.Listen("tcp", p.cfg.Addr)
	if err != nil {
		return fmt.Errorf("metricsserver: listen %s: %w", p.cfg.Addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle(p.cfg.Path, promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", healthHandler(cfg.Status))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	done := make(chan struct{})

	p.mu.Lock()
	p.server = srv
	p.listener = ln
	p.done = done
	p.mu.Unlock()

	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cfg.Logger.Error("metrics server stopped", log.Err(err))
		}
	}()

	cfg.Logger.Info("metrics server listening",
		log.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, useful when listening on port 0.
func (p *Plugin) Addr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

// Shutdown stops the HTTP server.
func (p *Plugin) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	srv, done := p.server, p.done
	p.server = nil
	p.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(ctx)
	<-done
	return err
}

// healthHandler answers 200 while the gateway runs and 503 otherwise.
func healthHandler(status func() gateway.State) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		state := gateway.StateRunning
		if status != nil {
			state = status()
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if state != gateway.StateRunning {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_, _ = fmt.Fprintln(w, state.String())
	}
}

// Ensure Plugin implements gateway.Plugin.
var _ gateway.Plugin = (*Plugin)(nil)
