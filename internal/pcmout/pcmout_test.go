package pcmout

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/go-playback/internal/codec"
	"github.com/tphakala/go-playback/internal/observability/metrics"
	pbtest "github.com/tphakala/go-playback/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type captureSink struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *captureSink) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *captureSink) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Len()
}

func (c *captureSink) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.buf.Bytes())
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Format = codec.Format{SampleRate: 8000, Channels: 1, BitsPerSample: 16}
	cfg.BufferDuration = 100 * time.Millisecond
	cfg.VoiceDuration = 100 * time.Millisecond
	cfg.Realtime = false
	return cfg
}

func samples(values ...int16) []byte {
	out := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}

func TestNewRejectsInvalidFormat(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Format.BitsPerSample = 24
	_, err := New(cfg, nil)
	require.Error(t, err)

	cfg = testConfig()
	cfg.Format.Channels = 0
	_, err = New(cfg, nil)
	require.Error(t, err)
}

func TestWriteAcceptsWholeFrames(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Format.Channels = 2
	b, err := New(cfg, nil)
	require.NoError(t, err)

	assert.Equal(t, 4, b.Write(make([]byte, 7)))
	assert.Equal(t, 0, b.Write(make([]byte, 3)))

	full := make([]byte, b.music.Capacity()*2)
	n := b.Write(full)
	assert.Less(t, n, len(full))
	assert.Equal(t, 100, b.Usage())
}

func TestConsumerDrainsToSink(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	b, err := New(testConfig(), sink)
	require.NoError(t, err)
	b.Start(t.Context())
	defer func() { require.NoError(t, b.Close()) }()

	data := samples(1, 2, 3, 4, 5, 6)
	require.Equal(t, len(data), b.Write(data))

	require.Eventually(t, func() bool { return sink.Len() == len(data) }, time.Second, time.Millisecond)
	assert.Equal(t, data, sink.Bytes())
	assert.False(t, b.Playing())
}

func TestAtBoundaryFiresAfterQueuedAudio(t *testing.T) {
	t.Parallel()

	b, err := New(testConfig(), nil)
	require.NoError(t, err)

	called := 0
	b.AtBoundary(func() { called++ })
	assert.Equal(t, 1, called, "drained ring fires immediately")

	b.Write(samples(1, 2, 3))
	fired := make(chan struct{})
	b.AtBoundary(func() { close(fired) })

	ctx, cancel := context.WithCancel(t.Context())
	b.Start(ctx)
	pbtest.WaitForChannel(t, fired, pbtest.DefaultTestTimeout, "boundary callback not fired")
	cancel()
	require.NoError(t, b.Close())
}

func TestStopDropsPendingBoundaries(t *testing.T) {
	t.Parallel()

	b, err := New(testConfig(), nil)
	require.NoError(t, err)

	b.Write(samples(1, 2))
	called := false
	b.AtBoundary(func() { called = true })
	b.Stop()

	assert.Equal(t, 0, b.Usage())
	assert.False(t, called)
	assert.Empty(t, b.pending)
}

func TestVoiceMixSaturates(t *testing.T) {
	t.Parallel()

	b, err := New(testConfig(), nil)
	require.NoError(t, err)

	b.Write(samples(30000, -30000, 100))
	b.WriteVoice(samples(10000, -10000, 50))

	out, _ := b.pull(make([]byte, 64))
	assert.Equal(t, samples(32767, -32768, 150), out)
	assert.Equal(t, 100, b.MixFree())
}

func TestVoiceOnlyOutput(t *testing.T) {
	t.Parallel()

	b, err := New(testConfig(), nil)
	require.NoError(t, err)

	b.WriteVoice(samples(7, 8))
	out, _ := b.pull(make([]byte, 64))
	assert.Equal(t, samples(7, 8), out)
}

func TestPauseHoldsAudio(t *testing.T) {
	t.Parallel()

	b, err := New(testConfig(), nil)
	require.NoError(t, err)

	b.Write(samples(1, 2))
	b.Pause(true)
	b.Pause(true)
	out, _ := b.pull(make([]byte, 64))
	assert.Empty(t, out)
	assert.True(t, b.Paused())
	assert.True(t, b.Playing())
	assert.False(t, b.IsLowData(), "paused output is never low")

	b.Pause(false)
	out, _ = b.pull(make([]byte, 64))
	assert.Len(t, out, 4)
}

func TestLatencyAndLowData(t *testing.T) {
	t.Parallel()

	b, err := New(testConfig(), nil)
	require.NoError(t, err)

	assert.False(t, b.IsLowData(), "nothing written yet")
	b.Write(make([]byte, 800)) // 400 samples at 8 kHz
	assert.Equal(t, 50*time.Millisecond, b.Latency())
	assert.True(t, b.IsLowData())
}

func TestMetricsRecordLanesAndUnderruns(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	m, err := metrics.NewOutputMetrics(registry)
	require.NoError(t, err)

	b, err := New(testConfig(), nil)
	require.NoError(t, err)
	b.SetMetrics(m)

	b.Write(samples(1, 2, 3, 4))
	b.WriteVoice(samples(5, 6))
	b.StartCrossfade(true)

	buf := make([]byte, 64)
	b.pull(buf)
	b.pull(buf)

	expected := `
# HELP output_bytes_total PCM bytes accepted by the output stage per lane
# TYPE output_bytes_total counter
output_bytes_total{lane="music"} 8
output_bytes_total{lane="voice"} 4
# HELP output_crossfades_total Crossfades started by trigger
# TYPE output_crossfades_total counter
output_crossfades_total{trigger="manual"} 1
# HELP output_underruns_total Times the music lane ran dry while playing
# TYPE output_underruns_total counter
output_underruns_total 1
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected),
		"output_bytes_total", "output_crossfades_total", "output_underruns_total"))
}

func TestManualCrossfadeWithoutFadeCutsHard(t *testing.T) {
	t.Parallel()

	b, err := New(testConfig(), nil)
	require.NoError(t, err)

	b.Write(samples(1, 2, 3, 4))
	fired := false
	b.AtBoundary(func() { fired = true })
	b.StartCrossfade(true)

	assert.Equal(t, 0, b.Usage())
	assert.False(t, b.CrossfadeActive())
	_, due := b.pull(make([]byte, 16))
	require.Len(t, due, 1)
	due[0]()
	assert.True(t, fired)
}

func TestCrossfadeRampsDown(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Crossfade = true
	b, err := New(cfg, nil)
	require.NoError(t, err)

	b.Write(samples(1000, 1000, 1000, 1000))
	b.StartCrossfade(false)
	assert.True(t, b.CrossfadeActive())
	assert.True(t, b.IsLowData())

	out, _ := b.pull(make([]byte, 64))
	require.Len(t, out, 8)
	assert.Equal(t, int16(1000), int16(binary.LittleEndian.Uint16(out[0:])))
	assert.Equal(t, int16(250), int16(binary.LittleEndian.Uint16(out[6:])))
	assert.False(t, b.CrossfadeActive())
}

func TestWAVSink(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out", "capture.wav")
	sink, err := NewWAVSink(path, codec.Format{SampleRate: 8000, Channels: 1, BitsPerSample: 16})
	require.NoError(t, err)

	n, err := sink.Write(samples(1, -1, 300))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	_, err = sink.Write(samples(1))
	require.ErrorIs(t, err, os.ErrClosed)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, []int{1, -1, 300}, buf.Data)
	assert.Equal(t, 8000, int(dec.SampleRate))
}
