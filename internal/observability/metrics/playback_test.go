package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaybackMetricsRecord(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	m, err := NewPlaybackMetrics(registry)
	require.NoError(t, err)

	m.SetBufferState(4096, 3)
	m.SetWatermark(1024)
	m.RecordFill("audio", 512)
	m.RecordFill("audio", 0)
	m.RecordFill("codec", 64)
	m.RecordWind("forward", true)
	m.RecordWind("backward", false)
	m.RecordCodecLoad("ring", "ok")
	m.RecordSeekRoundTrip(false)
	m.RecordError("buffer_desync")

	assert.InDelta(t, 4096, testutil.ToFloat64(m.bufferUsedBytes), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.bufferedTracks), 0)
	assert.InDelta(t, 1024, testutil.ToFloat64(m.watermarkBytes), 0)
	assert.InDelta(t, 512, testutil.ToFloat64(m.fillBytesTotal.WithLabelValues("audio")), 0)
	assert.InDelta(t, 64, testutil.ToFloat64(m.fillBytesTotal.WithLabelValues("codec")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.windsTotal.WithLabelValues("forward", "accepted")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.windsTotal.WithLabelValues("backward", "rejected")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.codecLoadsTotal.WithLabelValues("ring", "ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.seekRoundTrips.WithLabelValues("failed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.errorsTotal.WithLabelValues("buffer_desync")), 0)
}

func TestPlaybackMetricsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	_, err := NewPlaybackMetrics(registry)
	require.NoError(t, err)
	_, err = NewPlaybackMetrics(registry)
	assert.Error(t, err)
}

func TestNilPlaybackMetricsIsNoop(t *testing.T) {
	t.Parallel()

	var m *PlaybackMetrics
	assert.NotPanics(t, func() {
		m.SetBufferState(1, 1)
		m.SetWatermark(1)
		m.RecordFill("audio", 1)
		m.RecordFillCycle()
		m.ObserveFillStep(0.1)
		m.RecordRebuffer("seek")
		m.RecordWind("forward", true)
		m.RecordDecoderStarved()
		m.RecordCodecLoad("disk", "ok")
		m.RecordTrackChange("manual")
		m.RecordError("open_failure")
		m.RecordContextSwap()
		m.RecordSeekRoundTrip(true)
	})
}
