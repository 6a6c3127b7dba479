package playback

import (
	"context"
	"time"

	"github.com/tphakala/go-playback/internal/logger"
	"github.com/tphakala/go-playback/internal/ringbuf"
)

// orchestrator owns the write side of the ring and the track file being
// buffered, and handles every control command.
type orchestrator struct {
	*session
	w   *ringbuf.Writer
	log logger.Logger

	file     File
	filePath string
	fillLeft int // bytes the current fill cycle may still write
	lastPeek int // playlist offset of the last entry buffered

	events []func() // callbacks run once s.mu is released
	yield  *time.Timer
}

func newOrchestrator(s *session, w *ringbuf.Writer) *orchestrator {
	return &orchestrator{
		session:  s,
		w:        w,
		log:      s.log.Module("buffer"),
		lastPeek: -1,
	}
}

// run processes control commands until ctx is done. While a fill cycle is
// open, each idle pass of the loop performs one fill step.
func (o *orchestrator) run(ctx context.Context) {
	idle := time.NewTimer(o.cfg.IdleWake)
	defer idle.Stop()

	for {
		o.mu.Lock()
		filling := o.filling
		o.mu.Unlock()

		var cmd command
		if filling {
			select {
			case <-ctx.Done():
				o.closeFile()
				return
			case cmd = <-o.control:
			default:
				cmd = command{kind: cmdFill}
			}
		} else {
			idle.Reset(o.cfg.IdleWake)
			select {
			case <-ctx.Done():
				o.closeFile()
				return
			case cmd = <-o.control:
			case <-idle.C:
				o.mu.Lock()
				o.publishState()
				o.mu.Unlock()
				continue
			}
		}
		o.handle(cmd)
	}
}

// handle runs one command under s.mu, then delivers queued callbacks
func (o *orchestrator) handle(cmd command) {
	o.mu.Lock()
	o.dispatch(cmd)
	o.publishState()
	events := o.events
	o.events = nil
	o.mu.Unlock()

	for _, fn := range events {
		fn()
	}
	if cmd.done != nil {
		close(cmd.done)
	}
}

// later queues a callback until the current command is done
func (o *orchestrator) later(fn func()) {
	o.events = append(o.events, fn)
}

// dispatch routes a command. Caller holds s.mu.
func (o *orchestrator) dispatch(cmd command) {
	if cmd.kind != cmdFill {
		o.log.Trace("command", logger.String("kind", cmd.kind.String()), logger.Int64("arg", cmd.arg))
	}

	switch cmd.kind {
	case cmdFill:
		if !o.filling && (!o.playing || o.playlistEnd || o.stopCodec) {
			return
		}
		o.fillBuffer(false, false, 0, cmd.force)

	case cmdPlay:
		o.clearTrackEntries(true, false)
		o.playStart(cmd.arg)

	case cmdStop:
		o.stopPlayback()

	case cmdPause:
		pause := cmd.arg != 0
		o.out.Pause(pause)
		o.paused = pause

	case cmdSkip:
		o.playlistEnd = false
		o.newTrack += int(cmd.arg)
		o.wpsOffset -= int(cmd.arg)
		o.kick()

	case cmdDirSkip:
		o.playlistEnd = false
		o.dirSkip = true
		o.newTrack = int(cmd.arg)
		o.kick()

	case cmdPreSeek:
		if o.playing {
			o.out.Pause(true)
		}

	case cmdSeekTime:
		if o.playing {
			o.seekTime = cmd.arg + 1
			o.kick()
		}

	case cmdFlush:
		o.invalidateTracks()

	case cmdNewPlaylist:
		if o.playing {
			o.startNewPlaylist()
		}

	case cmdTrackChanged:
		o.trackChangedEvent()

	case cmdCheckNewTrack:
		if !o.requestPending {
			o.log.Debug("stale track change request ignored")
			return
		}
		o.checkNewTrack()

	case cmdRebufferSeek:
		if !o.requestPending {
			o.log.Debug("stale seek request ignored")
			return
		}
		o.rebufferAndSeek(cmd.arg)
	}
}

// trackChangedEvent publishes a completed track change. Caller holds s.mu.
func (o *orchestrator) trackChangedEvent() {
	t := o.current().Clone()
	o.trackChanged = true
	o.deps.Playlist.SetResume(t)
	if t != nil {
		o.log.Info("track changed", logger.String("path", t.Path), logger.String("session", o.sessionID))
	}
	o.later(func() { o.cb.emitTrackChanged(t) })
}

// notice queues a user-visible message. Caller holds s.mu.
func (o *orchestrator) notice(msg string) {
	o.later(func() { o.cb.emitNotice(msg) })
}

// stopCodecFlush stops the decoder and waits until it has unloaded, then
// drops queued output. Caller holds s.mu.
func (o *orchestrator) stopCodecFlush() {
	o.setStopCodec(true)
	o.flushes++
	o.out.Pause(true)
	o.answer(replyFailed)
	o.kick()

	for o.codecLoaded && !o.closed {
		o.cond.Wait()
	}

	if o.out.Playing() {
		o.out.Stop()
	}
	o.out.Pause(o.paused)
}

// stopPlayback ends the session. Caller holds s.mu.
func (o *orchestrator) stopPlayback() {
	if o.playing {
		resume := o.current().Clone()
		if o.playlistEnd && o.stopCodec {
			resume = nil
		}
		o.deps.Playlist.SetResume(resume)
	}

	wasPlaying := o.playing
	o.playing = false
	o.filling = false
	o.paused = false
	o.stopCodecFlush()

	o.closeFile()
	o.clearTrackEntries(true, false)
	o.slots.Reset()
	o.prevTrack = nil
	if wasPlaying {
		o.log.Info("playback stopped", logger.String("session", o.sessionID))
	}
}

// playStart begins a new session from the playlist's current entry. Caller holds s.mu.
func (o *orchestrator) playStart(offset int64) {
	o.stopCodecFlush()

	o.trackChanged = true
	o.playlistEnd = false
	o.playing = true
	o.paused = false
	o.newTrack = 0
	o.wpsOffset = 0
	o.seekTime = 0
	o.curPos = 0
	o.fileSize = 0
	o.prevTrack = nil

	o.closeFile()
	o.slots.Reset()
	o.w.Reset()
	o.lastPeek = -1
	o.sessionID = newSessionID()
	o.log.Info("playback started", logger.String("session", o.sessionID), logger.Int64("offset", offset))

	o.fillBuffer(true, false, offset, false)
}

// invalidateTracks drops everything buffered after the playing track and
// refetches metadata for the next one. Caller holds s.mu.
func (o *orchestrator) invalidateTracks() {
	if !o.slots.HaveBuffered() {
		return
	}

	o.lastPeek = 0
	o.playlistEnd = false
	o.slots.SetWrite(o.slots.Read())
	o.clearTrackEntries(true, true)

	cur := o.slots.Current()
	if cur.FileRemaining == 0 {
		o.slots.AdvanceWrite()
	}
	o.truncateAfterCurrent()
	o.readNextMetadata()
	o.log.Debug("buffered tracks invalidated")
}

// startNewPlaylist keeps the playing track and rebuilds everything after it
// from a freshly loaded playlist. Caller holds s.mu.
func (o *orchestrator) startNewPlaylist() {
	o.lastPeek = -1

	if o.slots.HaveBuffered() {
		o.playlistEnd = false
		o.slots.SetWrite(o.slots.Read())
		o.clearTrackEntries(true, true)
		o.slots.AdvanceWrite()

		cur := o.slots.Current()
		cur.FileRemaining = 0
		cur.TagReady = false
		o.closeFile()
		o.truncateAfterCurrent()
	}

	o.newPlaylist = true
	o.newTrack = 1
	o.kick()
	o.fillBuffer(false, true, 0, false)
}

// truncateAfterCurrent moves the write cursor to the end of the playing
// track's unread data. Caller holds s.mu.
func (o *orchestrator) truncateAfterCurrent() {
	end := o.ring.Add(o.ring.ReadPos(), int(max(o.slots.Current().Available, 0)))
	o.w.Retract(o.ring.Sub(o.w.Pos(), end))
}

// closeFile closes the track file being buffered, if any
func (o *orchestrator) closeFile() {
	if o.file == nil {
		return
	}
	if err := o.file.Close(); err != nil {
		o.log.Debug("close track file", logger.String("path", o.filePath), logger.Error(err))
	}
	o.file = nil
	o.filePath = ""
}
