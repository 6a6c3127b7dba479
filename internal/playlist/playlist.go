// Package playlist provides the track list the playback engine plays from:
// an ordered, concurrency-safe list of file paths with a playing cursor,
// loaded from a directory, an M3U file or explicit paths.
package playlist

import (
	"path/filepath"
	"sync"

	"github.com/tphakala/go-playback/internal/errors"
	"github.com/tphakala/go-playback/internal/logger"
	"github.com/tphakala/go-playback/internal/metadata"
)

const componentPlaylist = "playlist"

// ErrOutOfRange is returned when a move leaves the playlist
var ErrOutOfRange = errors.NewStd("playlist position out of range")

// GetLogger returns the playlist module logger
func GetLogger() logger.Logger {
	return logger.Global().Module(componentPlaylist)
}

// List is an ordered list of track paths with a playing cursor. All methods
// are safe for concurrent use.
type List struct {
	mu      sync.RWMutex
	entries []string
	cur     int
	resume  string // path of the resume point, empty when the list ended
	resumed bool
}

// New creates a list over entries with the cursor on the first one
func New(entries ...string) *List {
	return &List{entries: append([]string(nil), entries...)}
}

// Len returns the number of entries
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Index returns the position of the playing entry
func (l *List) Index() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cur
}

// Entries returns a copy of all entries
func (l *List) Entries() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.entries...)
}

// Peek returns the path of the entry at offset from the playing one
func (l *List) Peek(offset int) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i := l.cur + offset
	if i < 0 || i >= len(l.entries) {
		return "", false
	}
	return l.entries[i], true
}

// Check reports whether an entry exists at delta from the playing one
func (l *List) Check(delta int) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i := l.cur + delta
	return i >= 0 && i < len(l.entries)
}

// SkipEntry removes the entry at offset. Entries before the playing one
// shift the cursor with them.
func (l *List) SkipEntry(offset int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.cur + offset
	if i < 0 || i >= len(l.entries) {
		return
	}
	GetLogger().Debug("removing unplayable entry", logger.String("path", l.entries[i]))
	l.entries = append(l.entries[:i], l.entries[i+1:]...)
	if i < l.cur {
		l.cur--
	}
}

// Advance moves the playing entry by delta
func (l *List) Advance(delta int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.cur + delta
	if i < 0 || i >= len(l.entries) {
		return errors.New(ErrOutOfRange).
			Component(componentPlaylist).
			Category(errors.CategoryPlaylist).
			Context("index", l.cur).
			Context("delta", delta).
			Build()
	}
	l.cur = i
	return nil
}

// NextDir moves the playing entry to the first track of the next directory
// when direction is positive, or of the previous directory otherwise
func (l *List) NextDir(direction int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return false
	}

	if direction > 0 {
		dir := filepath.Dir(l.entries[l.cur])
		for i := l.cur + 1; i < len(l.entries); i++ {
			if filepath.Dir(l.entries[i]) != dir {
				l.cur = i
				return true
			}
		}
		return false
	}

	start := l.dirStart(l.cur)
	if start == 0 {
		return false
	}
	l.cur = l.dirStart(start - 1)
	return true
}

// dirStart returns the first index of the directory run containing i.
// Caller holds l.mu.
func (l *List) dirStart(i int) int {
	dir := filepath.Dir(l.entries[i])
	for i > 0 && filepath.Dir(l.entries[i-1]) == dir {
		i--
	}
	return i
}

// SetResume records where playback stopped; nil marks the end of the list
func (l *List) SetResume(t *metadata.Track) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resumed = true
	if t == nil {
		l.resume = ""
		return
	}
	l.resume = t.Path
}

// Resume returns the recorded resume point. ok is false when none was ever
// recorded; an empty path means the list played to its end.
func (l *List) Resume() (path string, ok bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.resume, l.resumed
}

// Replace installs a new set of entries with the cursor on the first one,
// as used when switching playlists while playing.
func (l *List) Replace(entries []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append([]string(nil), entries...)
	l.cur = 0
}

// Reload installs a new set of entries but keeps the playing entry. When it
// is gone from the new set the cursor stays at the same index, clamped.
func (l *List) Reload(entries []string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var playing string
	if l.cur < len(l.entries) {
		playing = l.entries[l.cur]
	}
	l.entries = append([]string(nil), entries...)
	for i, e := range l.entries {
		if e == playing {
			l.cur = i
			return
		}
	}
	l.cur = max(0, min(l.cur, len(l.entries)-1))
}

// Seek places the cursor on the entry at index i
func (l *List) Seek(i int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i < 0 || i >= len(l.entries) {
		return errors.New(ErrOutOfRange).
			Component(componentPlaylist).
			Category(errors.CategoryPlaylist).
			Context("index", i).
			Build()
	}
	l.cur = i
	return nil
}

// SeekPath places the cursor on the first entry equal to path
func (l *List) SeekPath(path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e == path {
			l.cur = i
			return true
		}
	}
	return false
}
