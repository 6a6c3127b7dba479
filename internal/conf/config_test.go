package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/go-playback/internal/errors"
	"github.com/tphakala/go-playback/internal/playback"
)

// isolate resets the global viper state and points config discovery at an
// empty directory
func isolate(t *testing.T) string {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	return dir
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 0, s.Playback.BufferSize)
	assert.Equal(t, playback.DefaultWatermark, s.Playback.Watermark)
	assert.Equal(t, CrossfadeOff, s.Playback.Crossfade)
	assert.Equal(t, playback.DefaultIdleWake, s.Playback.IdleWake)
	assert.Equal(t, 44100, s.Output.SampleRate)
	assert.Equal(t, 2*time.Second, s.Output.Buffer)
	assert.Equal(t, SinkWAV, s.Output.Sink)
	assert.Equal(t, "codecs", s.Codecs.Dir)
	require.NotNil(t, s.Logging.Console)
	assert.True(t, s.Logging.Console.Enabled)
	assert.Same(t, s, GetSettings())
}

func TestLoadFile(t *testing.T) {
	dir := isolate(t)
	path := writeConfig(t, dir, `
debug: true
playback:
  buffersize: 4194304
  buffermargin: 3
  crossfade: manual
  voice: true
  idlewake: 250ms
output:
  samplerate: 48000
  channels: 1
  buffer: 3s
  sink: "null"
playlist:
  path: /music
  watch: true
logging:
  module_levels:
    playback: debug
`)

	s, err := Load(path)
	require.NoError(t, err)

	assert.True(t, s.Debug)
	assert.Equal(t, 4<<20, s.Playback.BufferSize)
	assert.Equal(t, 3, s.Playback.BufferMargin)
	assert.Equal(t, CrossfadeManual, s.Playback.Crossfade)
	assert.True(t, s.Playback.Voice)
	assert.Equal(t, 250*time.Millisecond, s.Playback.IdleWake)
	assert.Equal(t, 48000, s.Output.SampleRate)
	assert.Equal(t, 1, s.Output.Channels)
	assert.Equal(t, 3*time.Second, s.Output.Buffer)
	assert.Equal(t, SinkNull, s.Output.Sink)
	assert.Equal(t, "/music", s.Playlist.Path)
	assert.True(t, s.Playlist.Watch)
	assert.Equal(t, "debug", s.Logging.ModuleLevels["playback"])
	assert.Equal(t, path, ConfigFileUsed())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	dir := isolate(t)

	_, err := Load(filepath.Join(dir, "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	dir := isolate(t)
	path := writeConfig(t, dir, `
output:
  channels: 6
playback:
  crossfade: sometimes
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output.channels")
	assert.Contains(t, err.Error(), "sometimes")
}

func TestEnvironmentOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("GOPLAYBACK_PLAYBACK_CROSSFADE", "always")
	t.Setenv("GOPLAYBACK_OUTPUT_SAMPLERATE", "22050")
	t.Setenv("GOPLAYBACK_PLAYLIST_RECURSIVE", "false")

	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, CrossfadeAlways, s.Playback.Crossfade)
	assert.Equal(t, 22050, s.Output.SampleRate)
	assert.False(t, s.Playlist.Recursive, "keys without an explicit binding follow AutomaticEnv")
}

func TestFlagsOverrideFile(t *testing.T) {
	dir := isolate(t)
	path := writeConfig(t, dir, `
playback:
  crossfade: always
codecs:
  dir: /from/file
`)

	root := &cobra.Command{Use: "root"}
	root.PersistentFlags().String("codecs", "", "")
	MapFlag(root, "codecs", "codecs.dir")
	sub := &cobra.Command{Use: "play", Run: func(*cobra.Command, []string) {}}
	sub.Flags().String("crossfade", "", "")
	sub.Flags().Bool("voice", false, "")
	MapFlag(sub, "crossfade", "playback.crossfade")
	MapFlag(sub, "voice", "playback.voice")
	root.AddCommand(sub)

	root.SetArgs([]string{"play", "--crossfade", "manual"})
	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return BindFlags(cmd)
	}
	require.NoError(t, root.Execute())

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, CrossfadeManual, s.Playback.Crossfade, "set flag wins over the file")
	assert.Equal(t, "/from/file", s.Codecs.Dir, "unset flag keeps the file value")
	assert.False(t, s.Playback.Voice)
}

func TestBindEnvVarsReportsInvalidValues(t *testing.T) {
	isolate(t)
	t.Setenv("GOPLAYBACK_PLAYBACK_BUFFERMARGIN", "42")
	t.Setenv("GOPLAYBACK_OUTPUT_SINK", "speaker")

	err := bindEnvVars()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GOPLAYBACK_PLAYBACK_BUFFERMARGIN")
	assert.Contains(t, err.Error(), "GOPLAYBACK_OUTPUT_SINK")
}

func TestSaveYAMLRoundTrip(t *testing.T) {
	dir := isolate(t)

	s := Defaults()
	s.Playback.Crossfade = CrossfadeAlways
	s.Playback.YieldTick = 20 * time.Millisecond
	s.Codecs.Dir = "/opt/codecs"
	s.Metrics.Enabled = true

	path := filepath.Join(dir, "nested", "config.yaml")
	require.NoError(t, SaveYAML(path, s))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary file removed")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, CrossfadeAlways, loaded.Playback.Crossfade)
	assert.Equal(t, 20*time.Millisecond, loaded.Playback.YieldTick)
	assert.Equal(t, "/opt/codecs", loaded.Codecs.Dir)
	assert.True(t, loaded.Metrics.Enabled)
	assert.Equal(t, s.Output, loaded.Output)
}

func TestValidateSettings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		modify func(*Settings)
		want   string
	}{
		{"defaults", func(*Settings) {}, ""},
		{"negative buffer", func(s *Settings) { s.Playback.BufferSize = -1 }, "playback.buffersize"},
		{"guard too large", func(s *Settings) {
			s.Playback.BufferSize = 1024
			s.Playback.GuardSize = 1024
		}, "playback.guardsize"},
		{"one track slot", func(s *Settings) { s.Playback.MaxTracks = 1 }, "playback.maxtracks"},
		{"margin out of range", func(s *Settings) { s.Playback.BufferMargin = playback.MarginCount }, "playback.buffermargin"},
		{"bad crossfade", func(s *Settings) { s.Playback.Crossfade = "later" }, "crossfade"},
		{"24 bit output", func(s *Settings) { s.Output.BitsPerSample = 24 }, "output.bitspersample"},
		{"wav sink without path", func(s *Settings) { s.Output.Path = "" }, "output.path"},
		{"null sink without path", func(s *Settings) {
			s.Output.Sink = SinkNull
			s.Output.Path = ""
		}, ""},
		{"unknown sink", func(s *Settings) { s.Output.Sink = "alsa" }, "output.sink"},
		{"no codec dir", func(s *Settings) { s.Codecs.Dir = "" }, "codecs.dir"},
		{"metrics without address", func(s *Settings) {
			s.Metrics.Enabled = true
			s.Metrics.Listen = ""
		}, "metrics.listen"},
		{"sentry without dsn", func(s *Settings) { s.Sentry.Enabled = true }, "sentry.dsn"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := Defaults()
			tt.modify(s)
			err := ValidateSettings(s)
			if tt.want == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
		})
	}
}

func TestParseCrossfade(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want playback.CrossfadeMode
		ok   bool
	}{
		{"", playback.CrossfadeOff, true},
		{"off", playback.CrossfadeOff, true},
		{" Always ", playback.CrossfadeAlways, true},
		{"manual", playback.CrossfadeManualOnly, true},
		{"fade", playback.CrossfadeOff, false},
	}
	for _, tt := range tests {
		got, err := ParseCrossfade(tt.in)
		if !tt.ok {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestBufferSizeFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, MinAutoBufferSize, bufferSizeFor(0))
	assert.Equal(t, MinAutoBufferSize, bufferSizeFor(64<<20))
	assert.Equal(t, 8<<20, bufferSizeFor(512<<20))
	assert.Equal(t, MaxAutoBufferSize, bufferSizeFor(64<<30))

	size := AutoBufferSize()
	assert.GreaterOrEqual(t, size, playback.DefaultBufferSize)
	assert.LessOrEqual(t, size, MaxAutoBufferSize)
}

func TestEngineConfigs(t *testing.T) {
	t.Parallel()

	s := Defaults()
	s.Playback.BufferSize = 1 << 20
	s.Playback.Crossfade = CrossfadeManual
	s.Playback.ID3v1First = true
	s.Output.Channels = 1
	s.Output.Realtime = false

	pc, err := s.PlaybackConfig()
	require.NoError(t, err)
	assert.Equal(t, 1<<20, pc.BufferSize)
	assert.Equal(t, playback.CrossfadeManualOnly, pc.Crossfade)
	assert.True(t, pc.V1First)

	oc := s.OutputConfig()
	assert.Equal(t, 1, oc.Format.Channels)
	assert.Equal(t, 44100, oc.Format.SampleRate)
	assert.True(t, oc.Crossfade)
	assert.False(t, oc.Realtime)

	s.Playback.BufferSize = 0
	pc, err = s.PlaybackConfig()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, pc.BufferSize, MinAutoBufferSize)

	s.Playback.Crossfade = "bogus"
	_, err = s.PlaybackConfig()
	require.Error(t, err)
	assert.False(t, s.OutputConfig().Crossfade)
}
