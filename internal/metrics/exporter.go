package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/churnwatch/churnwatch/pkg/logger"
)

// Exporter handles the HTTP server for Prometheus metrics
type Exporter struct {
	collector *Collector
	logger    *logger.Logger
	server    *http.Server
	host      string
	port      int
	path      string

	mu       sync.Mutex
	listener net.Listener
}

// NewExporter creates a new Prometheus exporter
func NewExporter(collector *Collector, host string, port int, path string, logger *logger.Logger) *Exporter {
	if path == "" {
		path = "/metrics"
	}
	if port == 0 {
		port = 9090
	}

	return &Exporter{
		collector: collector,
		logger:    logger,
		host:      host,
		port:      port,
		path:      path,
	}
}

// Handler returns the exporter's routes without starting a server.
func (e *Exporter) Handler() http.Handler {
	mux := http.NewServeMux()

	handler := promhttp.HandlerFor(
		e.collector.Registry(),
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			Timeout:           10 * time.Second,
			ErrorLog:          zap.NewStdLog(e.logger.Logger),
		},
	)
	mux.Handle(e.path, handler)
	mux.HandleFunc("/health", e.healthHandler)
	mux.HandleFunc("/ready", e.readyHandler)

	return mux
}

// Start binds the listener and serves in the background. Bind errors are
// returned; serve errors are logged.
func (e *Exporter) Start() error {
	addr := net.JoinHostPort(e.host, fmt.Sprint(e.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	e.mu.Lock()
	e.listener = ln
	e.server = &http.Server{
		Handler:      e.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	server := e.server
	e.mu.Unlock()

	e.logger.Info("starting prometheus exporter",
		zap.String("addr", ln.Addr().String()),
		zap.String("path", e.path))

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("prometheus exporter error", zap.Error(err))
		}
	}()

	return nil
}

// Addr returns the bound address once started
func (e *Exporter) Addr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listener == nil {
		return ""
	}
	return e.listener.Addr().String()
}

// Stop stops the Prometheus HTTP server
func (e *Exporter) Stop() error {
	e.mu.Lock()
	server := e.server
	e.mu.Unlock()

	if server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		e.logger.Error("failed to shutdown prometheus exporter gracefully", zap.Error(err))
		return err
	}

	e.logger.Info("prometheus exporter stopped")
	return nil
}

func (e *Exporter) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

func (e *Exporter) readyHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if !e.collector.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"not_ready","message":"no snapshot observed yet"}`))
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status":      "ready",
		"last_update": e.collector.LastUpdate(),
	})
}
