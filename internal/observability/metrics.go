// Package observability exposes the Prometheus metrics of the player.
package observability

import (
	"fmt"
	stdlog "log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/go-playback/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry *prometheus.Registry
	Playback *metrics.PlaybackMetrics
	Output   *metrics.OutputMetrics
	Metadata *metrics.MetadataMetrics
}

// NewMetrics creates a registry with the Go runtime and process collectors
// and the playback, output and metadata metrics.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	playbackMetrics, err := metrics.NewPlaybackMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create playback metrics: %w", err)
	}

	outputMetrics, err := metrics.NewOutputMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create output metrics: %w", err)
	}

	metadataMetrics, err := metrics.NewMetadataMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata metrics: %w", err)
	}

	return &Metrics{
		registry: registry,
		Playback: playbackMetrics,
		Output:   outputMetrics,
		Metadata: metadataMetrics,
	}, nil
}

// Registry returns the registry backing the metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterHandlers registers the metrics endpoint with the provided http.ServeMux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      stdlog.New(os.Stderr, "metrics handler: ", stdlog.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	}))
}
