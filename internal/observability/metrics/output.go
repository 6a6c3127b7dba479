package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OutputMetrics contains Prometheus metrics for the PCM output stage. A nil
// *OutputMetrics is valid and records nothing.
type OutputMetrics struct {
	registry *prometheus.Registry

	bytesTotal       *prometheus.CounterVec
	underrunsTotal   prometheus.Counter
	sinkErrorsTotal  prometheus.Counter
	crossfadesTotal  *prometheus.CounterVec
	utilizationGauge *prometheus.GaugeVec

	collectors []prometheus.Collector
}

// NewOutputMetrics creates and registers output stage metrics
func NewOutputMetrics(registry *prometheus.Registry) (*OutputMetrics, error) {
	m := &OutputMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *OutputMetrics) initMetrics() {
	m.bytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "output_bytes_total",
			Help: "PCM bytes accepted by the output stage per lane",
		},
		[]string{"lane"}, // music, voice
	)
	m.underrunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "output_underruns_total",
		Help: "Times the music lane ran dry while playing",
	})
	m.sinkErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "output_sink_errors_total",
		Help: "Failed writes to the output sink",
	})
	m.crossfadesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "output_crossfades_total",
			Help: "Crossfades started by trigger",
		},
		[]string{"trigger"}, // manual, automatic
	)
	m.utilizationGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "output_buffer_utilization_percent",
			Help: "Output lane fill level in percent",
		},
		[]string{"lane"},
	)

	m.collectors = []prometheus.Collector{
		m.bytesTotal,
		m.underrunsTotal,
		m.sinkErrorsTotal,
		m.crossfadesTotal,
		m.utilizationGauge,
	}
}

// Describe implements the Collector interface
func (m *OutputMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *OutputMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordBytes counts PCM accepted on lane
func (m *OutputMetrics) RecordBytes(lane string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesTotal.WithLabelValues(lane).Add(float64(n))
}

// RecordUnderrun counts a music lane underrun
func (m *OutputMetrics) RecordUnderrun() {
	if m == nil {
		return
	}
	m.underrunsTotal.Inc()
}

// RecordSinkError counts a failed sink write
func (m *OutputMetrics) RecordSinkError() {
	if m == nil {
		return
	}
	m.sinkErrorsTotal.Inc()
}

// RecordCrossfade counts a started crossfade
func (m *OutputMetrics) RecordCrossfade(manual bool) {
	if m == nil {
		return
	}
	trigger := "automatic"
	if manual {
		trigger = "manual"
	}
	m.crossfadesTotal.WithLabelValues(trigger).Inc()
}

// UpdateUtilization records a lane's fill level as a ratio of its capacity
func (m *OutputMetrics) UpdateUtilization(lane string, ratio float64) {
	if m == nil {
		return
	}
	m.utilizationGauge.WithLabelValues(lane).Set(ratio * PercentageFactor)
}
