// Package metrics provides playback engine metrics for observability
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PlaybackMetrics contains Prometheus metrics for the playback engine. A nil
// *PlaybackMetrics is valid and records nothing.
type PlaybackMetrics struct {
	registry *prometheus.Registry

	// Ring buffer metrics
	bufferUsedBytes  prometheus.Gauge
	bufferedTracks   prometheus.Gauge
	watermarkBytes   prometheus.Gauge
	fillBytesTotal   *prometheus.CounterVec
	fillCyclesTotal  prometheus.Counter
	rebuffersTotal   *prometheus.CounterVec
	windsTotal       *prometheus.CounterVec
	decoderStarved   prometheus.Counter
	codecLoadsTotal  *prometheus.CounterVec
	trackChanges     *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
	contextSwaps     prometheus.Counter
	seekRoundTrips   *prometheus.CounterVec
	fillStepDuration prometheus.Histogram

	// collectors is a slice of all collectors for easier iteration
	collectors []prometheus.Collector
}

// NewPlaybackMetrics creates and registers new playback metrics
func NewPlaybackMetrics(registry *prometheus.Registry) (*PlaybackMetrics, error) {
	m := &PlaybackMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// initMetrics initializes all Prometheus metrics
func (m *PlaybackMetrics) initMetrics() {
	m.bufferUsedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "playback_buffer_used_bytes",
		Help: "Bytes buffered ahead of the decoder",
	})
	m.bufferedTracks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "playback_buffered_tracks",
		Help: "Number of tracks held in the track slot ring",
	})
	m.watermarkBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "playback_watermark_bytes",
		Help: "Current refill watermark",
	})
	m.fillBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_fill_bytes_total",
			Help: "Bytes copied into the ring buffer",
		},
		[]string{"kind"}, // audio, codec
	)
	m.fillCyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playback_fill_cycles_total",
		Help: "Completed buffer fill cycles",
	})
	m.rebuffersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_rebuffers_total",
			Help: "Full rebuffers by cause",
		},
		[]string{"reason"},
	)
	m.windsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_buffer_winds_total",
			Help: "In-memory track skips by direction and result",
		},
		[]string{"direction", "result"},
	)
	m.decoderStarved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playback_decoder_starved_total",
		Help: "Times the decoder waited for buffered data",
	})
	m.codecLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_codec_loads_total",
			Help: "Decoder loads by source and status",
		},
		[]string{"source", "status"},
	)
	m.trackChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_track_changes_total",
			Help: "Track transitions by kind",
		},
		[]string{"kind"}, // manual, automatic, directory
	)
	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_errors_total",
			Help: "Playback errors by kind",
		},
		[]string{"kind"},
	)
	m.contextSwaps = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playback_context_swaps_total",
		Help: "Decoder execution context swaps",
	})
	m.seekRoundTrips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_seek_roundtrips_total",
			Help: "Seeks that needed a rebuffer by result",
		},
		[]string{"result"},
	)
	m.fillStepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "playback_fill_step_duration_seconds",
		Help:    "Time spent in one fill step",
		Buckets: prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount14), // 100us to ~1.6s
	})

	m.collectors = []prometheus.Collector{
		m.bufferUsedBytes,
		m.bufferedTracks,
		m.watermarkBytes,
		m.fillBytesTotal,
		m.fillCyclesTotal,
		m.rebuffersTotal,
		m.windsTotal,
		m.decoderStarved,
		m.codecLoadsTotal,
		m.trackChanges,
		m.errorsTotal,
		m.contextSwaps,
		m.seekRoundTrips,
		m.fillStepDuration,
	}
}

// Describe implements the Collector interface
func (m *PlaybackMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *PlaybackMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// SetBufferState records ring usage and buffered track count
func (m *PlaybackMetrics) SetBufferState(used, tracks int) {
	if m == nil {
		return
	}
	m.bufferUsedBytes.Set(float64(used))
	m.bufferedTracks.Set(float64(tracks))
}

// SetWatermark records the refill watermark
func (m *PlaybackMetrics) SetWatermark(bytes int) {
	if m == nil {
		return
	}
	m.watermarkBytes.Set(float64(bytes))
}

// RecordFill counts bytes copied into the ring
func (m *PlaybackMetrics) RecordFill(kind string, bytes int) {
	if m == nil || bytes <= 0 {
		return
	}
	m.fillBytesTotal.WithLabelValues(kind).Add(float64(bytes))
}

// RecordFillCycle counts a completed fill cycle
func (m *PlaybackMetrics) RecordFillCycle() {
	if m == nil {
		return
	}
	m.fillCyclesTotal.Inc()
}

// ObserveFillStep records the duration of one fill step in seconds
func (m *PlaybackMetrics) ObserveFillStep(seconds float64) {
	if m == nil {
		return
	}
	m.fillStepDuration.Observe(seconds)
}

// RecordRebuffer counts a full rebuffer
func (m *PlaybackMetrics) RecordRebuffer(reason string) {
	if m == nil {
		return
	}
	m.rebuffersTotal.WithLabelValues(reason).Inc()
}

// RecordWind counts a winding attempt
func (m *PlaybackMetrics) RecordWind(direction string, accepted bool) {
	if m == nil {
		return
	}
	result := "rejected"
	if accepted {
		result = "accepted"
	}
	m.windsTotal.WithLabelValues(direction, result).Inc()
}

// RecordDecoderStarved counts a decoder wait for data
func (m *PlaybackMetrics) RecordDecoderStarved() {
	if m == nil {
		return
	}
	m.decoderStarved.Inc()
}

// RecordCodecLoad counts a decoder load
func (m *PlaybackMetrics) RecordCodecLoad(source, status string) {
	if m == nil {
		return
	}
	m.codecLoadsTotal.WithLabelValues(source, status).Inc()
}

// RecordTrackChange counts a track transition
func (m *PlaybackMetrics) RecordTrackChange(kind string) {
	if m == nil {
		return
	}
	m.trackChanges.WithLabelValues(kind).Inc()
}

// RecordError counts a playback error
func (m *PlaybackMetrics) RecordError(kind string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordContextSwap counts a completed decoder context swap
func (m *PlaybackMetrics) RecordContextSwap() {
	if m == nil {
		return
	}
	m.contextSwaps.Inc()
}

// RecordSeekRoundTrip counts a rebuffering seek
func (m *PlaybackMetrics) RecordSeekRoundTrip(ok bool) {
	if m == nil {
		return
	}
	result := "failed"
	if ok {
		result = "complete"
	}
	m.seekRoundTrips.WithLabelValues(result).Inc()
}
