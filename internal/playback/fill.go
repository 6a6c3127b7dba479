package playback

import (
	"bytes"
	"io"
	"runtime"
	"time"

	"github.com/tphakala/go-playback/internal/logger"
	"github.com/tphakala/go-playback/internal/metadata"
)

const (
	fillKindAudio = "audio"
	fillKindCodec = "codec"
)

var id3v1Magic = []byte("TAG")

// initializeBufferFill opens a fill cycle unless the ring is above the
// watermark. A forced fill skips the watermark check. Caller holds s.mu.
func (o *orchestrator) initializeBufferFill(clearTracks, force bool) bool {
	if o.filling {
		return true
	}
	if !force && o.ring.Used() > o.watermark {
		return false
	}

	o.fillLeft = o.ring.Free()
	o.filling = true
	if clearTracks {
		o.clearTrackEntries(true, false)
	}
	o.deps.Playlist.SetResume(o.trackAt(o.newTrack + o.wpsOffset))
	o.log.Trace("fill cycle started", logger.Int("budget", o.fillLeft), logger.Int("used", o.ring.Used()))
	return true
}

// fillBuffer performs one fill step: continue the partially buffered track
// or load the next one. When the cycle budget runs out it closes the cycle.
// Caller holds s.mu.
func (o *orchestrator) fillBuffer(startPlay, rebuffer bool, offset int64, force bool) {
	start := time.Now()
	hadNext := o.hasNextTrack()

	if !o.initializeBufferFill(!startPlay, force) {
		return
	}

	if o.slots.Filling().FileSize > 0 {
		o.readFile(false)
	} else if !o.loadTrack(offset, startPlay, rebuffer) {
		o.fillLeft = 0
	}

	if !hadNext && o.hasNextTrack() {
		o.trackChanged = true
	}

	if o.fillLeft == 0 {
		o.readNextMetadata()
		o.generatePostbufferEvents()
		o.filling = false
		o.cond.Broadcast()
		o.metrics.RecordFillCycle()
		o.log.Trace("fill cycle done", logger.Int("used", o.ring.Used()), logger.Int("tracks", o.slots.TrackCount()))
	}
	o.metrics.ObserveFillStep(time.Since(start).Seconds())
}

// hasNextTrack reports whether metadata for the track after the playing one
// is ready. Caller holds s.mu.
func (o *orchestrator) hasNextTrack() bool {
	if !o.slots.HaveBuffered() {
		return false
	}
	return o.slots.At(o.slots.Next(o.slots.Read())).TagReady
}

// openEntry opens the playlist entry at lastPeek, dropping entries that fail
// to open. Caller holds s.mu.
func (o *orchestrator) openEntry() (string, File, int64, bool) {
	for {
		path, ok := o.deps.Playlist.Peek(o.lastPeek)
		if !ok {
			return "", nil, 0, false
		}
		f, err := o.deps.Files.Open(path)
		if err == nil {
			info, statErr := f.Stat()
			if statErr == nil {
				return path, f, info.Size(), true
			}
			_ = f.Close()
			err = statErr
		}
		o.recordError(KindOpenFailure,
			kindError(KindOpenFailure, err).Context("path", path).Build(),
			logger.String("path", path))
		o.deps.Playlist.SkipEntry(o.lastPeek)
	}
}

// loadTrack starts buffering the next playlist entry into the filling slot.
// Caller holds s.mu.
func (o *orchestrator) loadTrack(offset int64, startPlay, rebuffer bool) bool {
	if !o.slots.FreeSlotAvailable() {
		o.log.Trace("no free track slots")
		return false
	}
	o.closeFile()
	o.lastPeek++

	for {
		path, f, size, ok := o.openEntry()
		if !ok {
			o.lastPeek--
			o.log.Debug("end of playlist", logger.Int("last_peek", o.lastPeek))
			o.playlistEnd = true
			return false
		}

		slot := o.slots.Filling()
		slot.FileRemaining = size
		slot.FileSize = size
		slot.Available = 0

		if startPlay {
			o.watermark = o.cfg.Watermark
			o.fileChunk = o.cfg.FileChunk
			o.preseek = o.cfg.PreseekGuess
		}

		if !slot.TagReady {
			track, err := o.deps.Metadata.Parse(f, size, path, o.cfg.V1First)
			if err == nil {
				_, err = f.Seek(0, io.SeekStart)
			}
			if err != nil {
				o.recordError(KindMetadataFailure,
					kindError(KindMetadataFailure, err).FileContext(path, size).Build(),
					logger.String("path", path))
				slot.FileSize = 0
				slot.FileRemaining = 0
				_ = f.Close()
				o.deps.Playlist.SkipEntry(o.lastPeek)
				slot.TagReady = false
				continue
			}
			slot.Track = track
			slot.TagReady = true
			if startPlay {
				o.trackChanged = true
				o.deps.Playlist.SetResume(track.Clone())
			}
		}

		o.file = f
		o.filePath = path
		slot.CodecStart = o.w.Pos()
		if !o.loadCodec(startPlay) {
			if slot.CodecSize > 0 {
				o.log.Debug("retracting partial decoder image", logger.Int("bytes", slot.CodecSize))
				o.fillLeft += slot.CodecSize
				o.w.Retract(slot.CodecSize)
				slot.CodecSize = 0
			}
			slot.FileSize = 0
			slot.FileRemaining = 0
			o.closeFile()

			if o.fillLeft > 0 {
				o.notice("No codec for: " + path)
				o.deps.Playlist.SkipEntry(o.lastPeek)
				slot.TagReady = false
				continue
			}
			// out of budget: retry this entry next cycle
			o.lastPeek--
			return false
		}

		slot.StartPos = 0
		o.updateWatermark()
		slot.Track.Elapsed = 0

		if offset > 0 {
			o.applyStartOffset(slot.Track, offset)
		}

		slot.BufStart = o.w.Pos()
		o.log.Debug("buffering track",
			logger.String("path", path),
			logger.Int64("size", size),
			logger.Int("slot", o.slots.Write()))
		o.readFile(rebuffer)
		return true
	}
}

// applyStartOffset positions the filling track at a resume offset. MPEG
// streams are resynchronised by the decoder from any byte, so the file is
// seeked directly; other formats get the offset handed to their decoder.
// Caller holds s.mu.
func (o *orchestrator) applyStartOffset(t *metadata.Track, offset int64) {
	slot := o.slots.Filling()
	t.Offset = offset

	if t.Codec.Base() != metadata.CodecMP3 {
		return
	}
	if _, err := o.file.Seek(offset, io.SeekStart); err != nil {
		o.log.Warn("resume seek failed", logger.String("path", o.filePath), logger.Error(err))
		t.Offset = 0
		return
	}
	t.Elapsed = t.TimeForFilePos(offset)
	slot.FileRemaining = slot.FileSize - offset
	slot.StartPos = offset
	o.curPos = offset
}

// loadCodec makes the filling track's decoder available: handed to the
// decoder from disk on play start, reused when the previous track shares it,
// otherwise buffered into the ring ahead of the audio. Caller holds s.mu.
func (o *orchestrator) loadCodec(startPlay bool) bool {
	slot := o.slots.Filling()
	codecType := slot.Track.Codec
	path, ok := o.deps.Codecs.Resolve(codecType)
	if !ok {
		o.recordError(KindDecoderMissing,
			kindError(KindDecoderMissing, nil).Context("codec", codecType.String()).Build(),
			logger.String("codec", codecType.String()))
		return false
	}

	slot.HasCodec = false
	slot.CodecSize = 0

	if startPlay {
		o.slots.SetRead(o.slots.Write())
		o.fileSize = slot.FileSize
		o.curPos = 0
		select {
		case o.decode <- decodeRequest{path: path}:
		default:
			o.log.Warn("decoder busy, load request dropped", logger.String("codec", path))
		}
		return true
	}

	if o.slots.Write() != o.slots.Read() {
		prev := o.slots.At(o.slots.Prev(o.slots.Write()))
		if prev.Track != nil && prev.Track.Codec.Base() == codecType.Base() && o.codecLoaded {
			o.log.Trace("reusing loaded decoder", logger.String("codec", codecType.String()))
			return true
		}
	}

	f, err := o.deps.Files.Open(path)
	if err != nil {
		o.recordError(KindDecoderMissing,
			kindError(KindDecoderMissing, err).Context("image", path).Build(),
			logger.String("image", path))
		return false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		o.recordError(KindDecoderMissing,
			kindError(KindDecoderMissing, err).Context("image", path).Build(),
			logger.String("image", path))
		return false
	}
	size := int(info.Size())

	if o.fillLeft < size {
		o.recordError(KindInsufficientBuffer,
			kindError(KindInsufficientBuffer, nil).
				Context("image_size", size).
				Context("budget", o.fillLeft).
				Build(),
			logger.Int("image_size", size))
		o.fillLeft = 0
		return false
	}

	for slot.CodecSize < size {
		pre := o.w.Pos()
		n, err := o.w.ReadFrom(f, min(o.fileChunk, size-slot.CodecSize))
		o.trackOverlap(pre, n)
		slot.CodecSize += n
		o.fillLeft = max(o.fillLeft-n, 0)
		o.metrics.RecordFill(fillKindCodec, n)
		if err != nil || n == 0 {
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			o.log.Warn("decoder image read failed", logger.String("image", path), logger.Error(err))
			return false
		}
	}

	slot.HasCodec = true
	o.log.Trace("decoder image buffered", logger.String("image", path), logger.Int("bytes", size))
	return true
}

// readFile copies the filling track's file into the ring, one chunk at a time,
// yielding to the decoder between chunks. quick reads one chunk only.
// Caller holds s.mu.
func (o *orchestrator) readFile(quick bool) {
	slot := o.slots.Filling()
	if o.file == nil {
		o.log.Debug("no open file for partially buffered track", logger.Int("slot", o.slots.Write()))
		o.fillLeft = 0
		slot.FileSize = 0
		return
	}

	for slot.FileRemaining > 0 && o.fillLeft > 0 {
		chunk := min(int64(o.fileChunk), int64(o.fillLeft), slot.FileRemaining)
		pre := o.w.Pos()
		n, err := o.w.ReadFrom(o.file, int(chunk))
		if n <= 0 {
			if err != nil {
				o.log.Warn("track read failed", logger.String("path", o.filePath), logger.Error(err))
			}
			o.truncateFilling()
			break
		}

		o.trackOverlap(pre, n)
		slot.Available += int64(n)
		slot.FileRemaining -= int64(n)
		o.fillLeft = max(o.fillLeft-n, 0)
		o.metrics.RecordFill(fillKindAudio, n)
		o.cond.Broadcast()

		if quick || o.yieldCodecs() {
			break
		}
	}

	if slot.FileRemaining == 0 {
		o.log.Trace("track buffered", logger.String("path", o.filePath), logger.Int64("size", slot.FileSize))
		o.closeFile()
		o.stripID3v1()
		o.slots.AdvanceWrite()
		o.slots.Filling().FileSize = 0
	}
}

// truncateFilling ends the filling track at what has been buffered when its
// file runs out before the size it was opened with. Winds measure tracks by
// their size, so it must match the bytes in the ring. Caller holds s.mu.
func (o *orchestrator) truncateFilling() {
	slot := o.slots.Filling()
	if slot.FileRemaining == 0 {
		return
	}
	o.log.Debug("track file shorter than reported",
		logger.String("path", o.filePath),
		logger.Int64("size", slot.FileSize),
		logger.Int64("missing", slot.FileRemaining))
	slot.FileSize -= slot.FileRemaining
	slot.FileRemaining = 0
	if slot.Track != nil {
		slot.Track.FileSize = slot.FileSize
	}
	if o.slots.Write() == o.slots.Read() {
		o.fileSize = slot.FileSize
	}
	o.cond.Broadcast()
}

// trackOverlap handles a write of n bytes at pre that ran over the start of
// the playing track's retained data: its start moves to the new write
// position and its first buffered file offset advances by the bytes lost.
// Caller holds s.mu.
func (o *orchestrator) trackOverlap(pre, n int) {
	cur := o.slots.Current()
	if o.slots.Write() == o.slots.Read() && cur.Available == 0 &&
		cur.StartPos+cur.FileRemaining == cur.FileSize {
		// first chunk of the playing track itself
		return
	}
	ahead := o.ring.Sub(cur.BufStart, pre)
	if ahead >= n {
		return
	}
	cur.BufStart = o.w.Pos()
	cur.StartPos += int64(n - ahead)
}

// stripID3v1 drops a trailing ID3v1 tag of a fully buffered track while it is
// still unread. Caller holds s.mu.
func (o *orchestrator) stripID3v1() {
	slot := o.slots.Filling()
	if o.ring.Used() <= metadata.ID3v1Size || slot.Available < metadata.ID3v1Size {
		return
	}
	tagPos := o.ring.Sub(o.w.Pos(), metadata.ID3v1Size)
	head := make([]byte, len(id3v1Magic))
	o.ring.CopyAt(head, tagPos)
	if !bytes.Equal(head, id3v1Magic) {
		return
	}

	o.w.Retract(metadata.ID3v1Size)
	slot.Available -= metadata.ID3v1Size
	slot.FileSize -= metadata.ID3v1Size
	if slot.Track != nil {
		slot.Track.FileSize = slot.FileSize
	}
	o.log.Trace("trailing ID3v1 tag dropped")
}

// yieldCodecs lets the decoder run between fill chunks. While the output is
// low or crossfading the fill backs off until the ring itself runs low. It
// reports whether a control command is waiting. Caller holds s.mu.
func (o *orchestrator) yieldCodecs() bool {
	o.mu.Unlock()
	runtime.Gosched()
	o.mu.Lock()

	if len(o.control) > 0 {
		return true
	}

	for (o.out.CrossfadeActive() || o.out.IsLowData()) &&
		!o.stopCodec && o.playing && o.ring.Used() >= o.cfg.CriticalLow {
		o.mu.Unlock()
		o.sleep(o.cfg.YieldTick)
		o.mu.Lock()
		if len(o.control) > 0 {
			return true
		}
	}
	return false
}

// sleep pauses the orchestrator, returning early on shutdown
func (o *orchestrator) sleep(d time.Duration) {
	if o.yield == nil {
		o.yield = time.NewTimer(d)
	} else {
		o.yield.Reset(d)
	}
	select {
	case <-o.yield.C:
	case <-o.closing:
	}
}

// readNextMetadata parses the tags of the entry after the last buffered one
// so the next track is known before its audio is buffered. Caller holds s.mu.
func (o *orchestrator) readNextMetadata() bool {
	next := o.slots.Write()
	if o.slots.At(next).TagReady {
		next = o.slots.Next(next)
		if o.slots.At(next).TagReady {
			return true
		}
	}
	if next == o.slots.Read() && o.slots.HaveBuffered() {
		return false
	}

	path, ok := o.deps.Playlist.Peek(o.lastPeek + 1)
	if !ok {
		return false
	}
	f, err := o.deps.Files.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false
	}
	track, err := o.deps.Metadata.Parse(f, info.Size(), path, o.cfg.V1First)
	if err != nil {
		o.log.Debug("next track metadata unavailable", logger.String("path", path), logger.Error(err))
		return false
	}

	slot := o.slots.At(next)
	slot.Track = track
	slot.TagReady = true
	return true
}

// generatePostbufferEvents reports newly buffered tracks oldest first, the
// last one flagged. Caller holds s.mu.
func (o *orchestrator) generatePostbufferEvents() {
	if !o.slots.HaveBuffered() {
		return
	}

	var fresh []int
	for i := o.slots.Read(); ; i = o.slots.Next(i) {
		slot := o.slots.At(i)
		if !slot.EventSent && slot.Track != nil {
			fresh = append(fresh, i)
		}
		if i == o.slots.Write() {
			break
		}
	}

	for n, i := range fresh {
		slot := o.slots.At(i)
		slot.EventSent = true
		t := slot.Track.Clone()
		last := n == len(fresh)-1
		o.later(func() { o.cb.emitBuffered(t, last) })
	}
	o.trackChanged = true
}

// clearTrackEntries walks the slots after the write index up to the read
// index. Buffered slots are cleared with an unbuffered notification when
// clearBuffered is set; slots never reported are cleared when clearUnbuffered
// is set. Caller holds s.mu.
func (o *orchestrator) clearTrackEntries(clearBuffered, clearUnbuffered bool) {
	var dropped []int
	for i := o.slots.Next(o.slots.Write()); i != o.slots.Read(); i = o.slots.Next(i) {
		slot := o.slots.At(i)
		switch {
		case slot.EventSent:
			if clearBuffered {
				dropped = append(dropped, i)
			}
		case clearUnbuffered:
			slot.Reset()
		}
	}

	for n, i := range dropped {
		slot := o.slots.At(i)
		t := slot.Track.Clone()
		last := n == len(dropped)-1
		o.later(func() { o.cb.emitUnbuffered(t, last) })
		slot.Reset()
	}
}
