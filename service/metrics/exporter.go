package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter serves a Prometheus scrape endpoint for the lifetime of a command.
type Exporter struct {
	server *http.Server
	logger *slog.Logger
}

// NewExporter builds an exporter for the given gatherer on addr (e.g. ":9102").
// If gatherer is nil, prometheus.DefaultGatherer is used.
func NewExporter(addr string, gatherer prometheus.Gatherer, logger *slog.Logger) *Exporter {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return &Exporter{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves in the background until Shutdown is called.
func (e *Exporter) Start() {
	go func() {
		e.logger.Info("metrics exporter listening", "addr", e.server.Addr)
		if err := e.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("metrics exporter failed", "error", err)
		}
	}()
}

// Shutdown stops the exporter.
func (e *Exporter) Shutdown(ctx context.Context) error {
	if err := e.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown metrics exporter: %w", err)
	}
	return nil
}
