// Package playback is the buffering and playback coordination engine.
//
// Three goroutines cooperate around one shared byte ring:
//
//   - the orchestrator fills the ring from track files, owns the write cursor
//     and handles every control command,
//   - the decoder drains the ring through a codec.API, owns the read cursor
//     and pushes PCM to the output stage,
//   - the overlay decodes short voice clips and borrows the decoder's
//     execution context through an execctx.Arena swap.
//
// The orchestrator and decoder share the state in session under its mutex.
// The decoder parks on the session condition variable while it waits for data
// and on a reply channel while the orchestrator performs a track change or a
// rebuffer on its behalf; the orchestrator moves the read cursor only in that
// window.
package playback

import (
	"context"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/go-playback/internal/codec"
	"github.com/tphakala/go-playback/internal/errors"
	"github.com/tphakala/go-playback/internal/execctx"
	"github.com/tphakala/go-playback/internal/logger"
	"github.com/tphakala/go-playback/internal/metadata"
	"github.com/tphakala/go-playback/internal/observability/metrics"
	"github.com/tphakala/go-playback/internal/ringbuf"
	"github.com/tphakala/go-playback/internal/trackslot"
)

const componentPlayback = "playback"

// GetLogger returns the playback module logger
func GetLogger() logger.Logger {
	return logger.Global().Module(componentPlayback)
}

// Playlist is the track list the engine plays from. Offsets are relative to
// the playing entry.
type Playlist interface {
	// Peek returns the path of the entry at offset
	Peek(offset int) (string, bool)
	// SkipEntry removes a broken entry at offset
	SkipEntry(offset int)
	// Advance moves the playing entry by delta
	Advance(delta int) error
	// Check reports whether an entry exists at delta
	Check(delta int) bool
	// NextDir moves the playing entry to the first track of the next or
	// previous directory
	NextDir(direction int) bool
	// SetResume stores the resume point; nil means the playlist ended
	SetResume(t *metadata.Track)
}

// MetadataParser extracts track information from an open file
type MetadataParser interface {
	Parse(r io.ReadSeeker, size int64, path string, v1First bool) (*metadata.Track, error)
}

// File is an open track or decoder image
type File interface {
	io.ReadSeekCloser
	Stat() (fs.FileInfo, error)
}

// Opener opens files by path
type Opener interface {
	Open(path string) (File, error)
}

// OSFiles opens files from the local filesystem
type OSFiles struct{}

// Open implements Opener
func (OSFiles) Open(path string) (File, error) {
	return os.Open(path)
}

// FSFiles opens files from an fs.FS whose files support seeking
type FSFiles struct {
	FS fs.FS
}

// Open implements Opener
func (f FSFiles) Open(path string) (File, error) {
	file, err := f.FS.Open(path)
	if err != nil {
		return nil, err
	}
	seekable, ok := file.(File)
	if !ok {
		_ = file.Close()
		return nil, errors.Newf("file %s does not support seeking", path).
			Component(componentPlayback).
			Category(errors.CategoryFileIO).
			Build()
	}
	return seekable, nil
}

// Output is the PCM output stage
type Output interface {
	// Write queues PCM and returns the number of bytes accepted
	Write(p []byte) int
	// Writable is signalled when space may have become available
	Writable() <-chan struct{}
	// Usage is the fill level in percent
	Usage() int
	IsLowData() bool
	Latency() time.Duration
	// Playing reports whether queued audio remains
	Playing() bool
	Paused() bool
	Pause(pause bool)
	Stop()
	SetFormat(f codec.Format)
	Format() codec.Format

	WriteVoice(p []byte) int
	// MixFree is the free part of the voice mix lane in percent
	MixFree() int

	CrossfadeEnabled() bool
	CrossfadeActive() bool
	StartCrossfade(manual bool)
	// AtBoundary runs fn when everything queued so far has been played
	AtBoundary(fn func())
}

// Dependencies are the collaborators of a Player
type Dependencies struct {
	Playlist Playlist
	Metadata MetadataParser
	Files    Opener
	Codecs   codec.Resolver
	Loader   codec.Loader
	Output   Output
	Metrics  *metrics.PlaybackMetrics
	Logger   logger.Logger
}

func (d *Dependencies) validate() error {
	var missing string
	switch {
	case d.Playlist == nil:
		missing = "playlist"
	case d.Metadata == nil:
		missing = "metadata parser"
	case d.Codecs == nil:
		missing = "codec resolver"
	case d.Loader == nil:
		missing = "codec loader"
	case d.Output == nil:
		missing = "output"
	}
	if missing != "" {
		return errors.Newf("missing playback dependency: %s", missing).
			Component(componentPlayback).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if d.Files == nil {
		d.Files = OSFiles{}
	}
	if d.Logger == nil {
		d.Logger = GetLogger()
	}
	return nil
}

// TrackFunc receives buffering notifications. last marks the final call of a batch.
type TrackFunc func(t *metadata.Track, last bool)

// NoticeFunc receives transient user-visible messages
type NoticeFunc func(msg string)

type callbacks struct {
	mu           sync.RWMutex
	buffered     TrackFunc
	unbuffered   TrackFunc
	trackChanged func(t *metadata.Track)
	notice       NoticeFunc
}

// Option configures a Player
type Option func(*Player)

// WithTrackChanged registers the track changed callback at construction
func WithTrackChanged(fn func(t *metadata.Track)) Option {
	return func(p *Player) { p.cb.trackChanged = fn }
}

// WithNotice registers the notice callback at construction
func WithNotice(fn NoticeFunc) Option {
	return func(p *Player) { p.cb.notice = fn }
}

// Player is the playback engine
type Player struct {
	s     *session
	orch  *orchestrator
	dec   *decoder
	voice *overlay
	cb    *callbacks
	log   logger.Logger

	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	started   bool
}

// New creates a Player. Start must be called before any control command.
func New(cfg Config, deps Dependencies, opts ...Option) (*Player, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}

	w, r, err := ringbuf.New(cfg.BufferSize, cfg.GuardSize)
	if err != nil {
		return nil, err
	}

	p := &Player{
		cb:      &callbacks{},
		log:     deps.Logger,
		closing: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	s := newSession(cfg, w.Buffer, trackslot.New(cfg.MaxTracks), deps, p.cb, p.closing)
	arena := execctx.NewArena(cfg.CodeRegion, cfg.DataRegion)

	p.s = s
	p.orch = newOrchestrator(s, w)
	p.dec = newDecoder(s, r, arena)
	if cfg.Voice {
		p.voice = newOverlay(s, arena)
		s.voice = p.voice
	}
	return p, nil
}

// Start launches the engine goroutines. They run until ctx is done or Close is called.
func (p *Player) Start(ctx context.Context) {
	if p.started {
		return
	}
	p.started = true

	ctx, cancel := context.WithCancel(ctx)
	p.wg.Go(func() {
		select {
		case <-ctx.Done():
		case <-p.closing:
		}
		cancel()
		p.s.shutdown()
	})
	p.wg.Go(func() { p.orch.run(ctx) })
	p.wg.Go(func() { p.dec.run(ctx) })
	if p.voice != nil {
		p.wg.Go(func() { p.voice.run(ctx) })
	}
	p.log.Info("playback engine started",
		logger.Int("buffer_size", p.s.ring.Capacity()),
		logger.Int("max_tracks", p.s.slots.Len()),
		logger.Bool("voice", p.voice != nil))
}

// Close stops playback and waits for the engine goroutines
func (p *Player) Close() error {
	p.closeOnce.Do(func() { close(p.closing) })
	p.wg.Wait()
	p.orch.closeFile()
	return nil
}

// OnBuffered registers the callback for tracks that finished buffering
func (p *Player) OnBuffered(fn TrackFunc) {
	p.cb.mu.Lock()
	defer p.cb.mu.Unlock()
	p.cb.buffered = fn
}

// OnUnbuffered registers the callback for buffered tracks that were dropped
func (p *Player) OnUnbuffered(fn TrackFunc) {
	p.cb.mu.Lock()
	defer p.cb.mu.Unlock()
	p.cb.unbuffered = fn
}

// OnTrackChanged registers the callback for the playing track changing
func (p *Player) OnTrackChanged(fn func(t *metadata.Track)) {
	p.cb.mu.Lock()
	defer p.cb.mu.Unlock()
	p.cb.trackChanged = fn
}

// OnNotice registers the callback for transient notices
func (p *Player) OnNotice(fn NoticeFunc) {
	p.cb.mu.Lock()
	defer p.cb.mu.Unlock()
	p.cb.notice = fn
}

func (c *callbacks) emitBuffered(t *metadata.Track, last bool) {
	c.mu.RLock()
	fn := c.buffered
	c.mu.RUnlock()
	if fn != nil {
		fn(t, last)
	}
}

func (c *callbacks) emitUnbuffered(t *metadata.Track, last bool) {
	c.mu.RLock()
	fn := c.unbuffered
	c.mu.RUnlock()
	if fn != nil {
		fn(t, last)
	}
}

func (c *callbacks) emitTrackChanged(t *metadata.Track) {
	c.mu.RLock()
	fn := c.trackChanged
	c.mu.RUnlock()
	if fn != nil {
		fn(t)
	}
}

func (c *callbacks) emitNotice(msg string) {
	c.mu.RLock()
	fn := c.notice
	c.mu.RUnlock()
	if fn != nil {
		fn(msg)
	}
}

// newSessionID tags the log records of one Play
func newSessionID() string {
	return uuid.NewString()
}
