package playlist

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/tphakala/go-playback/internal/errors"
	"github.com/tphakala/go-playback/internal/logger"
)

// DefaultDebounce is how long a watcher waits for changes to settle
const DefaultDebounce = 500 * time.Millisecond

// MinReloadInterval spaces reloads apart while a source keeps changing, such
// as during a long copy into a watched directory
const MinReloadInterval = 2 * time.Second

// ReloadFunc receives the entries of a reloaded playlist source
type ReloadFunc func(entries []string)

// Watcher reloads a playlist source, a directory or an M3U file, whenever it
// changes on disk
type Watcher struct {
	path      string
	recursive bool
	dirMode   bool
	debounce  time.Duration
	onReload  ReloadFunc
	limiter   *rate.Limiter
	fsw       *fsnotify.Watcher
	log       logger.Logger
}

// NewWatcher starts watching path. Files are watched through their parent
// directory so editors that replace the file are noticed.
func NewWatcher(path string, recursive bool, debounce time.Duration, onReload ReloadFunc) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	path = filepath.Clean(path)
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.New(err).
			Component(componentPlaylist).
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.New(err).
			Component(componentPlaylist).
			Category(errors.CategorySystem).
			Build()
	}

	w := &Watcher{
		path:      path,
		recursive: recursive,
		dirMode:   info.IsDir(),
		debounce:  debounce,
		onReload:  onReload,
		limiter:   rate.NewLimiter(rate.Every(MinReloadInterval), 1),
		fsw:       fsw,
		log:       GetLogger().With(logger.String("source", path)),
	}

	if w.dirMode {
		err = w.addTree(path)
	} else {
		err = fsw.Add(filepath.Dir(path))
	}
	if err != nil {
		_ = fsw.Close()
		return nil, errors.New(err).
			Component(componentPlaylist).
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	return w, nil
}

// addTree watches dir and, when recursive, its subdirectories
func (w *Watcher) addTree(dir string) error {
	if !w.recursive {
		return w.fsw.Add(dir)
	}
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return w.fsw.Add(p)
		}
		return nil
	})
}

// relevant reports whether ev can change the playlist
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !w.dirMode {
		return filepath.Clean(ev.Name) == w.path
	}
	if ev.Has(fsnotify.Create) && w.recursive {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				w.log.Warn("cannot watch new directory", logger.String("dir", ev.Name), logger.Error(err))
			}
			return true
		}
	}
	if ev.Has(fsnotify.Chmod) {
		return false
	}
	// removed directories have no extension to check
	return IsAudioFile(ev.Name) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
}

// Run delivers reloads until ctx is done, then releases the watcher
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			w.log.Trace("playlist source changed", logger.String("event", ev.String()))
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("playlist watch error", logger.Error(err))

		case <-fire:
			fire = nil
			if wait := w.due(); wait > 0 {
				w.log.Trace("playlist reload deferred", logger.Duration("wait", wait))
				timer.Reset(wait)
				fire = timer.C
				continue
			}
			w.reload()
		}
	}
}

// due takes a reload token and returns 0, or returns how long until one is
// available without taking it
func (w *Watcher) due() time.Duration {
	if w.limiter.Allow() {
		return 0
	}
	r := w.limiter.Reserve()
	wait := r.Delay()
	r.Cancel()
	return max(wait, time.Millisecond)
}

func (w *Watcher) reload() {
	entries, err := Load(w.path, w.recursive)
	if err != nil {
		w.log.Warn("playlist reload failed", logger.Error(err))
		return
	}
	w.log.Info("playlist reloaded", logger.Int("entries", len(entries)))
	if w.onReload != nil {
		w.onReload(entries)
	}
}
