package play

import (
	"bytes"
	"context"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/go-playback/internal/errors"
	"github.com/tphakala/go-playback/internal/metadata"
	"github.com/tphakala/go-playback/internal/playback"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeTransport records the calls made by the controller
type fakeTransport struct {
	mu     sync.Mutex
	calls  []string
	seekMs int64
	margin int
	clips  [][]byte
	status playback.Status
	track  *metadata.Track
}

func (f *fakeTransport) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return nil
}

func (f *fakeTransport) Next() error                { return f.record("next") }
func (f *fakeTransport) Prev() error                { return f.record("prev") }
func (f *fakeTransport) NextDir() error             { return f.record("nextdir") }
func (f *fakeTransport) PrevDir() error             { return f.record("prevdir") }
func (f *fakeTransport) Pause() error               { return f.record("pause") }
func (f *fakeTransport) Resume() error              { return f.record("resume") }
func (f *fakeTransport) Stop(context.Context) error { return f.record("stop") }
func (f *fakeTransport) StopVoice()                 { _ = f.record("stopvoice") }

func (f *fakeTransport) Seek(ms int64) error {
	f.seekMs = ms
	return f.record("seek")
}

func (f *fakeTransport) SetBufferMargin(index int) {
	f.margin = index
	_ = f.record("margin")
}

func (f *fakeTransport) PlayVoice(clip []byte, _ func() []byte) {
	f.clips = append(f.clips, clip)
	_ = f.record("voice")
}

func (f *fakeTransport) Status() playback.Status        { return f.status }
func (f *fakeTransport) CurrentTrack() *metadata.Track { return f.track }

func (f *fakeTransport) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func TestControllerDispatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line string
		want string
	}{
		{"next", "next"},
		{"n", "next"},
		{"PREV", "prev"},
		{"nextdir", "nextdir"},
		{"prevdir", "prevdir"},
		{"pause", "pause"},
		{"resume", "resume"},
		{"stop", "stop"},
		{"hush", "stopvoice"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			t.Parallel()
			player := &fakeTransport{}
			ctrl := NewController(player, &bytes.Buffer{})
			require.NoError(t, ctrl.Exec(t.Context(), tt.line))
			assert.Equal(t, []string{tt.want}, player.Calls())
		})
	}
}

func TestControllerSeekConvertsSeconds(t *testing.T) {
	t.Parallel()

	player := &fakeTransport{}
	ctrl := NewController(player, &bytes.Buffer{})

	require.NoError(t, ctrl.Exec(t.Context(), "seek 12.5"))
	assert.Equal(t, int64(12500), player.seekMs)

	for _, line := range []string{"seek", "seek -1", "seek soon", "seek 1 2"} {
		err := ctrl.Exec(t.Context(), line)
		require.Error(t, err, line)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation), line)
	}
	assert.Equal(t, []string{"seek"}, player.Calls())
}

func TestControllerMargin(t *testing.T) {
	t.Parallel()

	player := &fakeTransport{}
	var out bytes.Buffer
	ctrl := NewController(player, &out)

	require.NoError(t, ctrl.Exec(t.Context(), "margin 2"))
	assert.Equal(t, 2, player.margin)
	assert.Contains(t, out.String(), "buffer margin")

	require.Error(t, ctrl.Exec(t.Context(), "margin -1"))
	require.Error(t, ctrl.Exec(t.Context(), "margin 99"))
	assert.Equal(t, []string{"margin"}, player.Calls())
}

func TestControllerSayReadsClip(t *testing.T) {
	t.Parallel()

	player := &fakeTransport{}
	ctrl := NewController(player, &bytes.Buffer{})
	ctrl.readFile = func(path string) ([]byte, error) {
		if path == "hello.mp3" {
			return []byte("clip"), nil
		}
		return nil, os.ErrNotExist
	}

	require.NoError(t, ctrl.Exec(t.Context(), "say hello.mp3"))
	assert.Equal(t, [][]byte{[]byte("clip")}, player.clips)

	err := ctrl.Exec(t.Context(), "say missing.mp3")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestControllerStatus(t *testing.T) {
	t.Parallel()

	player := &fakeTransport{
		status: playback.Status{Playing: true, Tracks: 2, BufferedBytes: 4096, Watermark: 2048},
		track: &metadata.Track{
			Title:   "Song",
			Codec:   metadata.CodecPCM,
			Elapsed: 61000,
			Length:  185000,
		},
	}
	var out bytes.Buffer
	ctrl := NewController(player, &out)

	require.NoError(t, ctrl.Exec(t.Context(), "status"))
	assert.Contains(t, out.String(), "playing: 2 tracks, 4 KiB buffered, watermark 2 KiB")
	assert.Contains(t, out.String(), "1:01 / 3:05")
	assert.Contains(t, out.String(), "Song")
}

func TestControllerRunReportsErrorsAndQuits(t *testing.T) {
	t.Parallel()

	player := &fakeTransport{}
	var out bytes.Buffer
	ctrl := NewController(player, &out)

	in := strings.NewReader("next\n\nbogus\npause\nquit\nresume\n")
	require.NoError(t, ctrl.Run(t.Context(), in))

	assert.Equal(t, []string{"next", "pause"}, player.Calls(), "commands after quit are ignored")
	assert.Contains(t, out.String(), `unknown command "bogus"`)
}

func TestControllerRunEndsWithInput(t *testing.T) {
	t.Parallel()

	player := &fakeTransport{}
	ctrl := NewController(player, &bytes.Buffer{})

	require.NoError(t, ctrl.Run(t.Context(), strings.NewReader("next")))
	assert.Equal(t, []string{"next"}, player.Calls())
}
