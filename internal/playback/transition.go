package playback

import (
	"io"

	"github.com/tphakala/go-playback/internal/logger"
)

const (
	windForward  = "forward"
	windBackward = "backward"
)

// checkNewTrack applies the pending track delta on behalf of the decoder.
// The target is reached by winding the ring when it is still buffered and by
// a rebuffer otherwise; the decoder gets exactly one reply. Caller holds s.mu.
func (o *orchestrator) checkNewTrack() {
	trackCount := o.slots.TrackCount()
	oldIdx := o.slots.Read()

	if o.dirSkip {
		o.dirSkip = false
		if !o.deps.Playlist.NextDir(o.newTrack) {
			o.answer(replyFailed)
			return
		}
		o.newTrack = 0
		o.slots.Current().TagReady = false
		o.metrics.RecordTrackChange("directory")
		o.rebuffer("directory")
		o.finishTrackChange()
		return
	}

	if o.newPlaylist {
		o.newTrack = 0
	}

	if !o.deps.Playlist.Check(o.newTrack) {
		if o.newTrack >= 0 {
			o.answer(replyFailed)
			return
		}
		// skipped back past the start: settle on the first entry that exists
		for {
			o.newTrack++
			if o.deps.Playlist.Check(o.newTrack) {
				break
			}
			if o.newTrack >= 0 {
				o.answer(replyFailed)
				return
			}
		}
	}

	o.lastPeek -= o.newTrack
	if err := o.deps.Playlist.Advance(o.newTrack); err != nil {
		o.log.Warn("playlist advance failed", logger.Int("delta", o.newTrack), logger.Error(err))
		o.answer(replyFailed)
		return
	}

	if o.newPlaylist {
		o.newTrack = 1
		o.newPlaylist = false
	}

	o.prevTrack = o.current()
	delta := o.newTrack
	o.slots.SetRead(oldIdx + delta)

	if o.automaticSkip {
		o.playlistEnd = false
		o.metrics.RecordTrackChange("automatic")
	} else {
		o.metrics.RecordTrackChange("manual")
	}
	o.trackChanged = !o.automaticSkip
	o.newTrack = 0

	switch {
	case delta >= trackCount || delta <= trackCount-o.slots.Len():
		o.slots.Current().TagReady = false
		o.rebuffer("out_of_window")
	case o.slots.Current().FileSize == 0 || !o.slots.Current().TagReady:
		o.rebuffer("not_buffered")
	case delta > 0:
		if !o.windForward(o.slots.Read(), oldIdx) {
			o.rebuffer("wind_forward")
		}
	default:
		o.windBackward(o.slots.Read(), oldIdx)
	}

	o.finishTrackChange()
}

// finishTrackChange points the decoder at the new current track and
// completes its request. Caller holds s.mu.
func (o *orchestrator) finishTrackChange() {
	o.updateTrackInfo()
	o.answer(replyComplete)
	o.cond.Broadcast()
}

// updateTrackInfo resets the decoder position for the current track. Caller holds s.mu.
func (o *orchestrator) updateTrackInfo() {
	cur := o.slots.Current()
	o.fileSize = cur.FileSize
	o.curPos = 0
	if cur.Track != nil {
		cur.Track.ResetPosition()
	}
}

// forwardWindAmount returns how far the read cursor must move to reach the
// target track from the old one: the unread rest of the old track plus every
// track in between. It changes nothing. Caller holds s.mu.
func (o *orchestrator) forwardWindAmount(newIdx, oldIdx int) (int64, bool) {
	amount := o.slots.At(oldIdx).FileSize - o.curPos
	amount += o.slots.CountBytesBetween(oldIdx, newIdx)
	return amount, amount >= 0 && amount <= int64(o.ring.Used())
}

// windForward moves the read cursor to the start of the buffered target
// track, or its decoder image. Caller holds s.mu.
func (o *orchestrator) windForward(newIdx, oldIdx int) bool {
	amount, ok := o.forwardWindAmount(newIdx, oldIdx)
	o.metrics.RecordWind(windForward, ok)
	if !ok {
		o.log.Debug("forward wind rejected", logger.Int64("amount", amount), logger.Int("used", o.ring.Used()))
		return false
	}
	o.w.RepositionRead(o.ring.Add(o.ring.ReadPos(), int(amount)))
	o.log.Trace("wound forward", logger.Int64("amount", amount))
	return true
}

// backwardWind is the outcome of checking whether the ring history still
// holds the target of a backward skip
type backwardWind struct {
	amount     int64
	ok         bool
	missingTag bool // a track in between has no metadata
}

// backwardWindAmount checks that every track from the target up to the
// current position is intact in the ring history. It changes nothing.
// Caller holds s.mu.
func (o *orchestrator) backwardWindAmount(newIdx, oldIdx int) backwardWind {
	for i := o.slots.Next(newIdx); i != oldIdx; i = o.slots.Next(i) {
		if !o.slots.At(i).TagReady {
			return backwardWind{missingTag: true}
		}
	}

	target := o.slots.At(newIdx)
	old := o.slots.At(oldIdx)
	// a track whose head was overwritten or skipped cannot be rewound to
	if target.StartPos != 0 || old.StartPos != 0 {
		return backwardWind{}
	}

	amount := o.curPos
	if newIdx != oldIdx {
		amount += int64(old.CodecSize)
		amount += target.FileSize
	}
	amount += int64(target.CodecSize)
	amount += o.slots.CountBytesBetween(newIdx, oldIdx)

	// winding onto the write cursor would make the ring read as empty
	return backwardWind{amount: amount, ok: amount < int64(o.ring.Behind())}
}

// windBackward rewinds the read cursor to the start of an earlier buffered
// track, rebuffering when the history no longer holds it. Caller holds s.mu.
func (o *orchestrator) windBackward(newIdx, oldIdx int) {
	plan := o.backwardWindAmount(newIdx, oldIdx)
	o.metrics.RecordWind(windBackward, plan.ok)
	if !plan.ok {
		if plan.missingTag {
			o.slots.Current().TagReady = false
		}
		o.log.Debug("backward wind rejected",
			logger.Int64("amount", plan.amount),
			logger.Int("behind", o.ring.Behind()),
			logger.Bool("missing_tag", plan.missingTag))
		o.rebuffer("wind_backward")
		return
	}

	for i := o.slots.Next(newIdx); i != oldIdx; i = o.slots.Next(i) {
		slot := o.slots.At(i)
		slot.Available = slot.FileSize
		slot.HasCodec = slot.CodecSize > 0
	}

	target := o.slots.At(newIdx)
	if newIdx != oldIdx {
		old := o.slots.At(oldIdx)
		old.Available = old.FileSize - old.FileRemaining
	}
	target.HasCodec = target.CodecSize > 0
	target.Available = target.FileSize - target.FileRemaining

	o.w.RepositionRead(o.ring.Sub(o.ring.ReadPos(), int(plan.amount)))
	o.log.Trace("wound backward", logger.Int64("amount", plan.amount))
}

// rebuffer discards the whole ring and refills it from the current playlist
// entry. Caller holds s.mu.
func (o *orchestrator) rebuffer(reason string) {
	o.log.Debug("rebuffering", logger.String("reason", reason))
	o.metrics.RecordRebuffer(reason)

	o.closeFile()
	o.filling = false

	o.w.Reset()
	o.slots.SetWrite(o.slots.Read())
	o.clearTrackEntries(true, true)

	cur := o.slots.Current()
	cur.BufStart = 0
	cur.Available = 0
	cur.FileSize = 0
	cur.FileRemaining = 0
	cur.StartPos = 0
	cur.CodecSize = 0
	cur.HasCodec = false
	if !cur.TagReady {
		cur.Track = nil
	}
	o.lastPeek = -1
	o.curPos = 0

	o.fillBuffer(false, true, 0, true)
}

// rebufferAndSeek reloads the current track from file position pos after a
// seek left the buffered range. A guess window before pos is buffered first
// so the decoder can resynchronise backwards; the read cursor ends up exactly
// that far into the refill. Caller holds s.mu.
func (o *orchestrator) rebufferAndSeek(pos int64) {
	path, ok := o.deps.Playlist.Peek(0)
	if !ok {
		o.answer(replyFailed)
		return
	}
	f, err := o.deps.Files.Open(path)
	if err != nil {
		o.recordError(KindOpenFailure,
			kindError(KindOpenFailure, err).Context("path", path).Build(),
			logger.String("path", path))
		o.answer(replyFailed)
		return
	}

	o.closeFile()
	o.file = f
	o.filePath = path
	o.playlistEnd = false
	o.curPos = pos

	o.slots.SetWrite(o.slots.Read())
	cur := o.slots.Current()
	cur.BufStart = 0
	o.w.Reset()
	o.lastPeek = 0

	o.filling = false
	o.initializeBufferFill(true, true)

	window := min(int64(o.preseek), pos)
	cur.StartPos = pos - window
	cur.FileRemaining = cur.FileSize - cur.StartPos
	cur.Available = 0
	cur.HasCodec = false

	if _, err := f.Seek(cur.StartPos, io.SeekStart); err != nil {
		o.log.Warn("seek in track file failed", logger.String("path", path), logger.Error(err))
		o.closeFile()
		o.filling = false
		o.answer(replyFailed)
		return
	}

	// the guess window lands behind the read cursor as rewindable history
	for read := int64(0); read < window; {
		n, err := o.w.ReadFrom(f, int(window-read))
		if n == 0 || err != nil {
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			o.log.Warn("seek window read failed", logger.String("path", path), logger.Error(err))
			o.closeFile()
			o.filling = false
			o.answer(replyFailed)
			return
		}
		read += int64(n)
		o.fillLeft = max(o.fillLeft-n, 0)
		o.metrics.RecordFill(fillKindAudio, n)
	}
	cur.FileRemaining = cur.FileSize - pos
	o.w.RepositionRead(o.w.Pos())

	o.log.Debug("rebuffered for seek",
		logger.Int64("pos", pos),
		logger.Int64("start_pos", cur.StartPos))
	o.answer(replyComplete)
	o.cond.Broadcast()
}
