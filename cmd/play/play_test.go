package play

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/go-playback/internal/conf"
	"github.com/tphakala/go-playback/internal/errors"
	"github.com/tphakala/go-playback/internal/playback"
	"github.com/tphakala/go-playback/internal/testutil"
)

// testSettings plays from dir without pacing so runs finish quickly
func testSettings(t *testing.T, dir string) *conf.Settings {
	t.Helper()
	s := conf.Defaults()
	s.Playlist.Path = dir
	s.Codecs.Dir = filepath.Join(t.TempDir(), "codecs")
	s.Playback.BufferSize = playback.DefaultBufferSize
	s.Output.Sink = conf.SinkNull
	s.Output.Realtime = false
	return s
}

func TestRunPlaysDirectoryToWAV(t *testing.T) {
	music := t.TempDir()
	testutil.WriteTone(t, filepath.Join(music, "a", "one.wav"), 4000)
	testutil.WriteTone(t, filepath.Join(music, "b", "two.wav"), 2000)

	s := testSettings(t, music)
	s.Output.Sink = conf.SinkWAV
	s.Output.Path = filepath.Join(t.TempDir(), "out", "mix.wav")

	ctx, cancel := context.WithTimeout(t.Context(), testutil.LongTestTimeout)
	defer cancel()

	require.NoError(t, run(ctx, s, options{}, strings.NewReader(""), io.Discard))
	require.NoError(t, ctx.Err(), "run returned because the playlist ended")

	info, err := os.Stat(s.Output.Path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(44), "sink holds audio after the header")

	images, err := os.ReadDir(s.Codecs.Dir)
	require.NoError(t, err)
	assert.NotEmpty(t, images, "decoder images installed")
}

func TestRunInteractiveQuit(t *testing.T) {
	music := t.TempDir()
	testutil.WriteTone(t, filepath.Join(music, "long.wav"), 8000*30)

	s := testSettings(t, music)
	s.Output.Realtime = true

	ctx, cancel := context.WithTimeout(t.Context(), testutil.LongTestTimeout)
	defer cancel()

	in := strings.NewReader("status\nquit\n")
	var out strings.Builder
	require.NoError(t, run(ctx, s, options{interactive: true}, in, &out))
	require.NoError(t, ctx.Err(), "quit ended the run before the track finished")
	assert.Contains(t, out.String(), "long")
}

func TestRunEmptyPlaylist(t *testing.T) {
	s := testSettings(t, t.TempDir())

	err := run(t.Context(), s, options{}, strings.NewReader(""), io.Discard)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryPlaylist))
}

func TestRunStartOutOfRange(t *testing.T) {
	music := t.TempDir()
	testutil.WriteTone(t, filepath.Join(music, "one.wav"), 800)
	s := testSettings(t, music)

	err := run(t.Context(), s, options{start: 5}, strings.NewReader(""), io.Discard)
	require.Error(t, err)
}

func TestRunMissingAnnounceClip(t *testing.T) {
	music := t.TempDir()
	testutil.WriteTone(t, filepath.Join(music, "one.wav"), 800)
	s := testSettings(t, music)
	s.Playback.Voice = true

	err := run(t.Context(), s, options{announce: filepath.Join(music, "absent.mp3")}, strings.NewReader(""), io.Discard)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))
}
