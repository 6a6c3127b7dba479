package playlist

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/time/rate"

	"github.com/tphakala/go-playback/internal/errors"
	"github.com/tphakala/go-playback/internal/metadata"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestListNavigation(t *testing.T) {
	t.Parallel()

	l := New("a.mp3", "b.mp3", "c.mp3")

	path, ok := l.Peek(1)
	assert.True(t, ok)
	assert.Equal(t, "b.mp3", path)
	_, ok = l.Peek(-1)
	assert.False(t, ok)

	assert.True(t, l.Check(2))
	assert.False(t, l.Check(3))

	require.NoError(t, l.Advance(2))
	assert.Equal(t, 2, l.Index())
	path, _ = l.Peek(0)
	assert.Equal(t, "c.mp3", path)

	err := l.Advance(1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.True(t, errors.IsCategory(err, errors.CategoryPlaylist))
	assert.Equal(t, 2, l.Index(), "failed advance leaves the cursor")
}

func TestSkipEntry(t *testing.T) {
	t.Parallel()

	l := New("a", "b", "c", "d")
	require.NoError(t, l.Advance(2))

	l.SkipEntry(1)
	assert.Equal(t, []string{"a", "b", "c"}, l.Entries())
	assert.Equal(t, 2, l.Index())

	l.SkipEntry(-2)
	assert.Equal(t, []string{"b", "c"}, l.Entries())
	path, _ := l.Peek(0)
	assert.Equal(t, "c", path, "removing an earlier entry keeps the playing one")

	l.SkipEntry(5)
	assert.Equal(t, 2, l.Len())
}

func TestNextDir(t *testing.T) {
	t.Parallel()

	entries := []string{
		"/m/a/1.mp3", "/m/a/2.mp3",
		"/m/b/1.mp3",
		"/m/c/1.mp3", "/m/c/2.mp3", "/m/c/3.mp3",
	}

	tests := []struct {
		name      string
		start     int
		direction int
		want      int
		wantOK    bool
	}{
		{name: "forward from first dir", start: 1, direction: 1, want: 2, wantOK: true},
		{name: "forward from middle", start: 2, direction: 1, want: 3, wantOK: true},
		{name: "forward from last dir", start: 4, direction: 1, want: 4, wantOK: false},
		{name: "back from inside last dir", start: 5, direction: -1, want: 2, wantOK: true},
		{name: "back to first dir", start: 2, direction: -1, want: 0, wantOK: true},
		{name: "back from first dir", start: 1, direction: -1, want: 1, wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			l := New(entries...)
			require.NoError(t, l.Seek(tt.start))
			assert.Equal(t, tt.wantOK, l.NextDir(tt.direction))
			assert.Equal(t, tt.want, l.Index())
		})
	}

	assert.False(t, New().NextDir(1))
}

func TestResume(t *testing.T) {
	t.Parallel()

	l := New("a")
	_, ok := l.Resume()
	assert.False(t, ok)

	l.SetResume(&metadata.Track{Path: "a"})
	path, ok := l.Resume()
	assert.True(t, ok)
	assert.Equal(t, "a", path)

	l.SetResume(nil)
	path, ok = l.Resume()
	assert.True(t, ok)
	assert.Empty(t, path, "end of playlist clears the resume point")
}

func TestReloadKeepsPlayingEntry(t *testing.T) {
	t.Parallel()

	l := New("a", "b", "c")
	require.NoError(t, l.Advance(1))

	l.Reload([]string{"new", "a", "b", "x"})
	assert.Equal(t, 2, l.Index())
	path, _ := l.Peek(1)
	assert.Equal(t, "x", path)

	l.Reload([]string{"y"})
	assert.Equal(t, 0, l.Index(), "cursor clamped when the playing entry is gone")

	l.Replace([]string{"p", "q"})
	assert.Equal(t, 0, l.Index())
	assert.True(t, l.SeekPath("q"))
	assert.Equal(t, 1, l.Index())
	assert.False(t, l.SeekPath("missing"))
}

func TestListConcurrentAccess(t *testing.T) {
	t.Parallel()

	l := New("a", "b", "c", "d", "e")
	var wg sync.WaitGroup
	for range 4 {
		wg.Go(func() {
			for range 100 {
				l.Peek(1)
				l.Check(2)
				_ = l.Entries()
			}
		})
	}
	wg.Go(func() {
		for i := range 100 {
			l.Reload([]string{"a", "b", "c", "d", "e"}[:1+i%5])
		}
	})
	wg.Wait()
}

func TestParseM3U(t *testing.T) {
	t.Parallel()

	src := "\ufeff#EXTM3U\n#EXTINF:123,Artist - Title\nsong one.mp3\n\n  /abs/two.flac  \nsub\\three.wav\n"
	entries, err := ParseM3U(strings.NewReader(src), "/music")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join("/music", "song one.mp3"),
		"/abs/two.flac",
		filepath.Join("/music", "sub", "three.wav"),
	}, entries)
}

func TestWriteM3URoundTrip(t *testing.T) {
	t.Parallel()

	var b bytes.Buffer
	require.NoError(t, WriteM3U(&b, []string{"/a/1.mp3", "/a/2.mp3"}))
	assert.True(t, strings.HasPrefix(b.String(), "#EXTM3U\n"))

	entries, err := ParseM3U(&b, "/")
	require.NoError(t, err)
	assert.Equal(t, []string{"/a/1.mp3", "/a/2.mp3"}, entries)
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestScanDirAndLoad(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	touch(t, filepath.Join(root, "b.mp3"))
	touch(t, filepath.Join(root, "a.flac"))
	touch(t, filepath.Join(root, "notes.txt"))
	touch(t, filepath.Join(root, "sub", "c.wav"))
	touch(t, filepath.Join(root, ".hidden", "d.mp3"))

	flat, err := ScanDir(root, false)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "a.flac"), filepath.Join(root, "b.mp3")}, flat)

	deep, err := Load(root, true)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "a.flac"),
		filepath.Join(root, "b.mp3"),
		filepath.Join(root, "sub", "c.wav"),
	}, deep)

	m3u := filepath.Join(root, "list.m3u")
	require.NoError(t, os.WriteFile(m3u, []byte("sub/c.wav\nb.mp3\n"), 0o644))
	entries, err := Load(m3u, false)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "sub", "c.wav"), filepath.Join(root, "b.mp3")}, entries)

	single, err := Load(filepath.Join(root, "b.mp3"), false)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "b.mp3")}, single)

	_, err = Load(filepath.Join(root, "missing"), false)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))
}

func TestWatcherReloadsDirectory(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	touch(t, filepath.Join(root, "a.mp3"))

	var mu sync.Mutex
	var got [][]string
	w, err := NewWatcher(root, true, 20*time.Millisecond, func(entries []string) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, entries)
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	ctx, cancel := context.WithCancel(t.Context())
	go func() { done <- w.Run(ctx) }()

	touch(t, filepath.Join(root, "b.mp3"))
	touch(t, filepath.Join(root, "ignored.txt"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0 && len(got[len(got)-1]) == 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestWatcherFollowsPlaylistFile(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	m3u := filepath.Join(root, "list.m3u")
	require.NoError(t, os.WriteFile(m3u, []byte("one.mp3\n"), 0o644))

	reloads := make(chan []string, 4)
	w, err := NewWatcher(m3u, false, 20*time.Millisecond, func(entries []string) {
		reloads <- entries
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, os.WriteFile(m3u, []byte("one.mp3\ntwo.mp3\n"), 0o644))

	select {
	case entries := <-reloads:
		assert.Equal(t, []string{filepath.Join(root, "one.mp3"), filepath.Join(root, "two.mp3")}, entries)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after the playlist file changed")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestWatcherDueSpacesReloads(t *testing.T) {
	t.Parallel()

	w := &Watcher{limiter: rate.NewLimiter(rate.Every(time.Hour), 1)}
	assert.Zero(t, w.due(), "first reload runs at once")

	wait := w.due()
	assert.Greater(t, wait, 59*time.Minute)
	assert.LessOrEqual(t, wait, time.Hour)

	// asking again must not push the next token further out
	assert.InDelta(t, float64(wait), float64(w.due()), float64(time.Second))
}

func TestWatcherDefersReloadsWhileSourceChurns(t *testing.T) {
	t.Parallel()

	const interval = 400 * time.Millisecond

	root := t.TempDir()
	m3u := filepath.Join(root, "list.m3u")
	require.NoError(t, os.WriteFile(m3u, []byte("one.mp3\n"), 0o644))

	var mu sync.Mutex
	var at []time.Time
	var last []string
	w, err := NewWatcher(m3u, false, 10*time.Millisecond, func(entries []string) {
		mu.Lock()
		defer mu.Unlock()
		at = append(at, time.Now())
		last = entries
	})
	require.NoError(t, err)
	w.limiter = rate.NewLimiter(rate.Every(interval), 1)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, os.WriteFile(m3u, []byte("one.mp3\ntwo.mp3\n"), 0o644))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(at) > 0
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, os.WriteFile(m3u, []byte("one.mp3\ntwo.mp3\nthree.mp3\n"), 0o644))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(last) == 3
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(at); i++ {
		assert.GreaterOrEqual(t, at[i].Sub(at[i-1]), interval-50*time.Millisecond, "reload %d came too soon", i)
	}
}

func TestNewWatcherMissingPath(t *testing.T) {
	t.Parallel()

	_, err := NewWatcher(filepath.Join(t.TempDir(), "nope"), false, 0, nil)
	assert.Error(t, err)
}
