package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModuleLoggerWritesModuleAndFields(t *testing.T) {
	var buf bytes.Buffer
	cl := NewSlogLogger(&buf, LogLevelDebug)

	log := cl.Module("playback").Module("decode").With(String("session", "abc"))
	log.Info("track loaded", Int("slot", 3), Duration("elapsed", 1500*time.Millisecond))

	out := buf.String()
	assert.Contains(t, out, "level=INFO")
	assert.Contains(t, out, "module=playback.decode")
	assert.Contains(t, out, "session=abc")
	assert.Contains(t, out, "slot=3")
	assert.Contains(t, out, "elapsed=1.5s")
	assert.NotContains(t, out, "time=")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	cl := NewSlogLogger(&buf, LogLevelWarn)
	log := cl.Module("ringbuf")

	log.Debug("hidden")
	log.Info("hidden too")
	log.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestTraceLevelName(t *testing.T) {
	var buf bytes.Buffer
	cl := NewSlogLogger(&buf, LogLevelTrace)
	cl.Module("x").Trace("deep")

	assert.Contains(t, buf.String(), "level=TRACE")
}

func TestModuleLevelOverride(t *testing.T) {
	cl := NewSlogLogger(&bytes.Buffer{}, LogLevelInfo)
	cl.moduleLevels["playback"] = parseLogLevel("debug")
	cl.moduleLevels["playback.overlay"] = parseLogLevel("error")

	assert.Equal(t, parseLogLevel("debug"), cl.levelFor("playback.decode"))
	assert.Equal(t, parseLogLevel("error"), cl.levelFor("playback.overlay"))
	assert.Equal(t, parseLogLevel("info"), cl.levelFor("playlist"))
}

func TestWithContextTraceID(t *testing.T) {
	var buf bytes.Buffer
	cl := NewSlogLogger(&buf, LogLevelInfo)

	ctx := WithTraceID(context.Background(), "t-1")
	cl.Module("cmd").WithContext(ctx).Info("hello")

	assert.Contains(t, buf.String(), "trace_id=t-1")
}

func TestFileOutputIsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "playback.log")
	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "info",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: false},
		FileOutput:   &FileOutput{Enabled: true, Path: path, Level: "info"},
	})
	require.NoError(t, err)

	cl.Module("playback").Warn("rebuffer", Int64("position", 4096))
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &record))
	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, "playback", record["module"])
	assert.InDelta(t, 4096, record["position"], 0)
	assert.True(t, strings.HasSuffix(record["time"].(string), "Z"))
}

func TestInvalidTimezone(t *testing.T) {
	_, err := NewCentralLogger(&LoggingConfig{Timezone: "Mars/Olympus"})
	assert.Error(t, err)
}

func TestBufferedWriterCloseIsIdempotent(t *testing.T) {
	w, err := NewBufferedFileWriter(filepath.Join(t.TempDir(), "a.log"), time.Hour)
	require.NoError(t, err)

	_, err = w.Write([]byte("line\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err = w.Write([]byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)
}
