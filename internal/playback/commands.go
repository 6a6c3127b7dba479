package playback

import (
	"context"

	"github.com/tphakala/go-playback/internal/logger"
	"github.com/tphakala/go-playback/internal/metadata"
)

type commandKind int

const (
	cmdFill commandKind = iota + 1
	cmdPlay
	cmdStop
	cmdPause
	cmdSkip
	cmdDirSkip
	cmdPreSeek
	cmdSeekTime
	cmdFlush
	cmdNewPlaylist
	cmdTrackChanged
	cmdCheckNewTrack
	cmdRebufferSeek
)

var commandNames = map[commandKind]string{
	cmdFill:          "fill",
	cmdPlay:          "play",
	cmdStop:          "stop",
	cmdPause:         "pause",
	cmdSkip:          "skip",
	cmdDirSkip:       "dir_skip",
	cmdPreSeek:       "pre_seek",
	cmdSeekTime:      "seek_time",
	cmdFlush:         "flush",
	cmdNewPlaylist:   "new_playlist",
	cmdTrackChanged:  "track_changed",
	cmdCheckNewTrack: "check_new_track",
	cmdRebufferSeek:  "rebuffer_seek",
}

func (k commandKind) String() string {
	if name, ok := commandNames[k]; ok {
		return name
	}
	return "unknown"
}

// command is one message on the orchestrator control queue
type command struct {
	kind  commandKind
	arg   int64
	force bool
	done  chan struct{} // closed once handled
}

// Status is a snapshot of the engine state
type Status struct {
	Playing       bool
	Paused        bool
	Filling       bool
	PlaylistEnd   bool
	BufferedBytes int
	Tracks        int
	Watermark     int
}

// enqueue queues cmd without waiting for it to be handled
func (p *Player) enqueue(cmd command) error {
	if !p.s.postWait(cmd) {
		return ErrClosed
	}
	return nil
}

// send queues cmd and waits until it has been handled
func (p *Player) send(ctx context.Context, cmd command) error {
	cmd.done = make(chan struct{})
	select {
	case p.s.control <- cmd:
	case <-p.closing:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-cmd.done:
		return nil
	case <-p.closing:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Play starts playback of the playlist's current entry at byte offset. While
// playing, an offset of zero or less switches to a freshly loaded playlist
// without stopping.
func (p *Player) Play(ctx context.Context, offset int64) error {
	p.s.mu.Lock()
	playing := p.s.playing
	p.s.mu.Unlock()

	if playing && offset <= 0 {
		return p.send(ctx, command{kind: cmdNewPlaylist})
	}
	if playing {
		if err := p.send(ctx, command{kind: cmdStop}); err != nil {
			return err
		}
	}
	p.log.Debug("play requested", logger.Int64("offset", offset))
	return p.send(ctx, command{kind: cmdPlay, arg: offset})
}

// Stop ends playback. Stopping a stopped player does nothing.
func (p *Player) Stop(ctx context.Context) error {
	return p.send(ctx, command{kind: cmdStop})
}

// Pause holds the output without dropping buffered audio
func (p *Player) Pause() error {
	return p.enqueue(command{kind: cmdPause, arg: 1})
}

// Resume continues paused playback
func (p *Player) Resume() error {
	return p.enqueue(command{kind: cmdPause, arg: 0})
}

// Next skips forward one track if the playlist has one
func (p *Player) Next() error {
	return p.skip(1)
}

// Prev skips back one track if the playlist has one
func (p *Player) Prev() error {
	return p.skip(-1)
}

func (p *Player) skip(direction int) error {
	p.s.mu.Lock()
	target := p.s.newTrack + p.s.wpsOffset + direction
	if !p.s.deps.Playlist.Check(target) {
		p.s.mu.Unlock()
		return nil
	}
	p.s.wpsOffset += direction
	p.s.trackChanged = true
	p.s.mu.Unlock()

	return p.enqueue(command{kind: cmdSkip, arg: int64(direction)})
}

// NextDir skips to the first track of the next directory
func (p *Player) NextDir() error {
	return p.enqueue(command{kind: cmdDirSkip, arg: 1})
}

// PrevDir skips to the first track of the previous directory
func (p *Player) PrevDir() error {
	return p.enqueue(command{kind: cmdDirSkip, arg: -1})
}

// PreSeek pauses the output ahead of a Seek so stale audio is not heard
func (p *Player) PreSeek() error {
	return p.enqueue(command{kind: cmdPreSeek})
}

// Seek moves playback of the current track to ms
func (p *Player) Seek(ms int64) error {
	return p.enqueue(command{kind: cmdSeekTime, arg: max(ms, 0)})
}

// FlushAndReload drops every buffered track after the playing one and
// refills them from the playlist
func (p *Player) FlushAndReload() error {
	return p.enqueue(command{kind: cmdFlush})
}

// NewPlaylist switches to a freshly loaded playlist
func (p *Player) NewPlaylist(ctx context.Context) error {
	return p.send(ctx, command{kind: cmdNewPlaylist})
}

// CurrentTrack returns the playing track. Before its tags are parsed the
// record is derived from the file name.
func (p *Player) CurrentTrack() *metadata.Track {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	return p.s.trackAt(p.s.newTrack + p.s.wpsOffset)
}

// NextTrack returns the track after the playing one
func (p *Player) NextTrack() *metadata.Track {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	return p.s.trackAt(p.s.newTrack + p.s.wpsOffset + 1)
}

// trackAt returns a copy of the track offset entries from the playing one. Caller holds s.mu.
func (s *session) trackAt(offset int) *metadata.Track {
	count := s.slots.TrackCount()
	if offset >= 0 && offset < count {
		slot := s.slots.At(s.slots.Read() + offset)
		if slot.TagReady && slot.Track != nil {
			return slot.Track.Clone()
		}
	}
	if offset == 0 {
		if t := s.current(); t != nil {
			return t.Clone()
		}
	}
	path, ok := s.deps.Playlist.Peek(offset)
	if !ok {
		if offset != 0 {
			return nil
		}
		path = "No file!"
	}
	return metadata.FromPath(path)
}

// HasChangedTrack reports whether the playing track changed since the last call
func (p *Player) HasChangedTrack() bool {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	changed := p.s.trackChanged
	p.s.trackChanged = false
	return changed
}

// Status returns the engine state
func (p *Player) Status() Status {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	return Status{
		Playing:       p.s.playing,
		Paused:        p.s.paused,
		Filling:       p.s.filling,
		PlaylistEnd:   p.s.playlistEnd,
		BufferedBytes: p.s.ring.Used(),
		Tracks:        p.s.slots.TrackCount(),
		Watermark:     p.s.watermark,
	}
}

// BufferedBytes returns how many bytes are buffered ahead of the decoder
func (p *Player) BufferedBytes() int {
	return p.s.ring.Used()
}

// TrackCount returns how many tracks are buffered
func (p *Player) TrackCount() int {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	return p.s.slots.TrackCount()
}

// PlayVoice plays an MP3 clip over the music. more, when not nil, is called
// for further data once the clip runs out and returns nil at the end.
func (p *Player) PlayVoice(clip []byte, more func() []byte) {
	if p.voice == nil {
		p.log.Debug("voice clip ignored, overlay disabled")
		return
	}
	p.voice.play(clip, more)
}

// StopVoice cuts the playing clip and drops queued ones
func (p *Player) StopVoice() {
	if p.voice != nil {
		p.voice.stop()
	}
}
