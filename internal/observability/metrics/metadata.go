package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// MetadataMetrics contains Prometheus metrics for tag parsing and the
// metadata cache. It implements Recorder; a nil *MetadataMetrics records
// nothing.
type MetadataMetrics struct {
	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter
	CacheEntries  prometheus.Gauge
	Operations    *prometheus.CounterVec
	Errors        *prometheus.CounterVec
	Duration      *prometheus.HistogramVec
	registry      *prometheus.Registry
}

// NewMetadataMetrics creates and registers metadata metrics
func NewMetadataMetrics(registry *prometheus.Registry) (*MetadataMetrics, error) {
	m := &MetadataMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register metadata metrics: %w", err)
	}
	return m, nil
}

func (m *MetadataMetrics) initMetrics() {
	m.CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "metadata_cache_hits_total",
		Help: "Total number of metadata cache hits.",
	})
	m.CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "metadata_cache_misses_total",
		Help: "Total number of metadata cache misses.",
	})
	m.CacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "metadata_cache_entries",
		Help: "Number of parsed tracks held in the metadata cache.",
	})
	m.Operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metadata_operations_total",
			Help: "Metadata operations by status.",
		},
		[]string{"operation", "status"},
	)
	m.Errors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metadata_errors_total",
			Help: "Metadata errors by type.",
		},
		[]string{"operation", "error_type"},
	)
	m.Duration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "metadata_operation_duration_seconds",
			Help:    "Duration of metadata operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount12),
		},
		[]string{"operation"},
	)
}

// RecordOperation implements Recorder. Cache lookups also feed the hit and
// miss counters.
func (m *MetadataMetrics) RecordOperation(operation, status string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, status).Inc()
	if operation != OpCacheGet {
		return
	}
	switch status {
	case StatusHit:
		m.CacheHits.Inc()
	case StatusMiss:
		m.CacheMisses.Inc()
	}
}

// RecordDuration implements Recorder
func (m *MetadataMetrics) RecordDuration(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.Duration.WithLabelValues(operation).Observe(seconds)
}

// RecordError implements Recorder
func (m *MetadataMetrics) RecordError(operation, errorType string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(operation, errorType).Inc()
}

// SetCacheEntries updates the cache size gauge
func (m *MetadataMetrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}
	m.CacheEntries.Set(float64(n))
}

// Collect implements the prometheus.Collector interface
func (m *MetadataMetrics) Collect(ch chan<- prometheus.Metric) {
	m.CacheHits.Collect(ch)
	m.CacheMisses.Collect(ch)
	m.CacheEntries.Collect(ch)
	m.Operations.Collect(ch)
	m.Errors.Collect(ch)
	m.Duration.Collect(ch)
}

// Describe implements the prometheus.Collector interface
func (m *MetadataMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.CacheHits.Describe(ch)
	m.CacheMisses.Describe(ch)
	m.CacheEntries.Describe(ch)
	m.Operations.Describe(ch)
	m.Errors.Describe(ch)
	m.Duration.Describe(ch)
}

var _ Recorder = (*MetadataMetrics)(nil)
