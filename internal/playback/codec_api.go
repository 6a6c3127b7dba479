package playback

import (
	"github.com/tphakala/go-playback/internal/codec"
	"github.com/tphakala/go-playback/internal/execctx"
	"github.com/tphakala/go-playback/internal/logger"
	"github.com/tphakala/go-playback/internal/metadata"
)

// primaryAPI is the codec.API handed to the primary decoder
type primaryAPI struct {
	d      *decoder
	format codec.Format
	pcm    []byte // conversion scratch
}

// waitForData blocks until n bytes of the current track are buffered,
// requesting a fill when none is running. n shrinks when the track file
// turns out shorter than reported. It returns false when the decoder has to
// stop or a track change is pending. Caller holds s.mu.
func (a *primaryAPI) waitForData(n int64) (int64, bool) {
	d := a.d
	cur := d.slots.Current()
	for n > cur.Available {
		if !d.filling {
			d.postFill(true)
		}
		d.metrics.RecordDecoderStarved()
		d.cond.Wait()
		if d.stopCodec || d.newTrack != 0 {
			return 0, false
		}
		cur = d.slots.Current()
		n = min(n, cur.Available+cur.FileRemaining)
	}
	return n, true
}

// readable clamps n to what is left of the current track and to what the
// ring can hold at once. Caller holds s.mu.
func (a *primaryAPI) readable(n int64) int64 {
	cur := a.d.slots.Current()
	n = min(n, cur.Available+cur.FileRemaining)
	return max(min(n, int64(a.d.ring.Capacity()/2)), 0)
}

// advanceCounters accounts for n consumed bytes and asks for a refill when
// the ring dropped to the watermark. Caller holds s.mu.
func (a *primaryAPI) advanceCounters(n int64) {
	d := a.d
	d.curPos += n
	d.slots.Current().Available -= n

	if !d.out.IsLowData() && !d.filling && d.watermark > 0 &&
		d.ring.Used() <= d.watermark && d.playing {
		d.postFill(false)
	}
}

// Read implements codec.API
func (a *primaryAPI) Read(p []byte) int {
	d := a.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopCodec || !d.playing {
		return 0
	}
	n, ok := a.waitForData(a.readable(int64(len(p))))
	if !ok || n == 0 {
		return 0
	}
	got := d.r.Read(p[:n])
	a.advanceCounters(int64(got))
	return got
}

// RequestBuffer implements codec.API. The slice aliases ring storage and is
// valid until the next Advance.
func (a *primaryAPI) RequestBuffer(limit int) []byte {
	d := a.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopCodec || !d.playing {
		return nil
	}
	n, ok := a.waitForData(a.readable(int64(limit)))
	if !ok || n == 0 {
		return nil
	}
	return d.r.Span(int(n))
}

// Advance implements codec.API. Moving past the buffered data of the track
// reloads it from the target position.
func (a *primaryAPI) Advance(n int64) {
	d := a.d
	d.mu.Lock()

	cur := d.slots.Current()
	n = max(min(n, cur.Available+cur.FileRemaining), 0)
	for n > cur.Available && d.filling {
		d.cond.Wait()
		if d.stopCodec {
			d.mu.Unlock()
			return
		}
		n = min(n, cur.Available+cur.FileRemaining)
	}

	if n > cur.Available {
		target := d.curPos + n
		d.mu.Unlock()
		if a.rebufferSeek(target) {
			a.SetOffset(target)
		}
		return
	}

	d.r.Advance(int(n))
	a.advanceCounters(n)
	pos := d.curPos
	d.mu.Unlock()
	a.SetOffset(pos)
}

// rebufferSeek asks the orchestrator to reload the current track at pos.
// A failure stops the decoder.
func (a *primaryAPI) rebufferSeek(pos int64) bool {
	d := a.d
	r := d.request(command{kind: cmdRebufferSeek, arg: pos})
	ok := r == replyComplete
	d.metrics.RecordSeekRoundTrip(ok)
	if !ok {
		d.mu.Lock()
		d.setStopCodec(true)
		d.mu.Unlock()
		d.log.Warn("seek rebuffer failed", logger.Int64("pos", pos))
	}
	return ok
}

// Seek implements codec.API. Targets still in the ring history are reached
// by rewinding the read cursor; earlier or overwritten targets need a rebuffer.
func (a *primaryAPI) Seek(pos int64) bool {
	d := a.d
	d.mu.Lock()

	pos = max(min(pos, d.fileSize-1), 0)
	diff := pos - d.curPos
	if diff >= 0 {
		d.mu.Unlock()
		a.Advance(diff)
		return !a.Stopped()
	}

	cur := d.slots.Current()
	back := -diff
	// history must still hold every byte back to pos; winding onto the
	// write cursor would make the ring read as empty
	if pos < cur.StartPos || back >= int64(d.r.Behind()) {
		d.mu.Unlock()
		return a.rebufferSeek(pos)
	}

	cur.Available += back
	d.r.Rewind(int(back))
	d.curPos -= back
	d.mu.Unlock()
	return true
}

// RequestNextTrack implements codec.API
func (a *primaryAPI) RequestNextTrack() bool {
	d := a.d
	d.mu.Lock()
	if d.stopCodec || !d.playing {
		d.mu.Unlock()
		return false
	}
	prev := d.baseCodec()
	d.mu.Unlock()

	if !d.loadNextTrack() {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopCodec {
		return false
	}
	if prev != d.baseCodec() {
		d.log.Debug("next track needs another decoder",
			logger.String("from", prev.String()),
			logger.String("to", d.baseCodec().String()))
		return false
	}
	return d.discardCodecLocked()
}

// DiscardCodec implements codec.API
func (a *primaryAPI) DiscardCodec() {
	a.d.mu.Lock()
	defer a.d.mu.Unlock()
	a.d.discardCodecLocked()
}

// SetElapsed implements codec.API. The value is corrected by the output latency.
func (a *primaryAPI) SetElapsed(ms int64) {
	d := a.d
	d.mu.Lock()
	defer d.mu.Unlock()

	t := d.current()
	if d.seekTime != 0 || t == nil {
		return
	}
	latency := d.out.Latency().Milliseconds()
	if ms < latency {
		t.Elapsed = 0
		return
	}
	ms -= latency
	if ms > t.Elapsed || ms < t.Elapsed-2 {
		t.Elapsed = ms
	}
}

// SetOffset implements codec.API. The value is corrected by the output latency.
func (a *primaryAPI) SetOffset(pos int64) {
	d := a.d
	d.mu.Lock()
	defer d.mu.Unlock()

	t := d.current()
	if t == nil {
		return
	}
	latency := d.out.Latency().Milliseconds() * int64(t.Bitrate) / 8
	if pos < latency {
		t.Offset = 0
		return
	}
	t.Offset = pos - latency
}

// SeekTime implements codec.API
func (a *primaryAPI) SeekTime() int64 {
	a.d.mu.Lock()
	defer a.d.mu.Unlock()
	return a.d.seekTime
}

// SeekComplete implements codec.API
func (a *primaryAPI) SeekComplete() {
	a.d.mu.Lock()
	defer a.d.mu.Unlock()
	a.d.seekCompleteLocked()
}

// seekCompleteLocked drops audio queued before the seek and resumes unless
// the user paused. Caller holds s.mu.
func (d *decoder) seekCompleteLocked() {
	if d.out.Paused() {
		d.out.Stop()
		if !d.paused {
			d.out.Pause(false)
		}
	}
	d.seekTime = 0
}

// Configure implements codec.API
func (a *primaryAPI) Configure(f codec.Format) {
	a.format = f
	a.d.out.SetFormat(f)
}

// Insert implements codec.API
func (a *primaryAPI) Insert(pcm []byte) bool {
	d := a.d
	a.pcm = convertPCM(a.pcm[:0], pcm, a.format, d.out.Format())
	data := a.pcm

	for len(data) > 0 {
		d.mu.Lock()
		skip := d.newTrack != 0 || d.stopCodec
		d.mu.Unlock()
		if skip {
			return true
		}

		n := d.out.Write(data)
		if n == 0 {
			select {
			case <-d.out.Writable():
			case <-d.interrupt:
			case <-d.closing:
				return true
			}
			d.mu.Lock()
			abandon := d.seekTime != 0 || d.newTrack != 0 || d.stopCodec
			d.mu.Unlock()
			if abandon {
				return true
			}
			continue
		}
		data = data[n:]
		a.yieldToVoice()
	}
	return true
}

// InsertSplit implements codec.API
func (a *primaryAPI) InsertSplit(left, right []byte) bool {
	f := a.format
	f.BitsPerSample = 16
	f.Channels = 2
	return a.insertInterleaved(interleave16(left, right), f)
}

func (a *primaryAPI) insertInterleaved(pcm []byte, f codec.Format) bool {
	saved := a.format
	a.format = f
	ok := a.Insert(pcm)
	a.format = saved
	return ok
}

// yieldToVoice lends the execution context to a waiting voice clip while the
// output holds enough music to cover the swap
func (a *primaryAPI) yieldToVoice() {
	d := a.d
	if d.voice == nil || !d.voice.wantsArena() {
		return
	}
	if !d.out.Playing() || d.out.Usage() <= 30 || d.out.MixFree() <= 80 {
		return
	}
	d.voice.nudge()
	abort := func() bool { return d.halted.Load() || !d.voice.wantsArena() }
	if d.arena.Swap(execctx.OwnerPrimary, abort) {
		d.metrics.RecordContextSwap()
	}
	d.voice.primaryResumed()
}

// Stopped implements codec.API
func (a *primaryAPI) Stopped() bool {
	a.d.mu.Lock()
	defer a.d.mu.Unlock()
	return a.d.stopCodec
}

// Interrupted implements codec.API
func (a *primaryAPI) Interrupted() bool {
	a.d.mu.Lock()
	defer a.d.mu.Unlock()
	return a.d.stopCodec || a.d.newTrack != 0
}

// Track implements codec.API. The decoder gets a snapshot.
func (a *primaryAPI) Track() *metadata.Track {
	a.d.mu.Lock()
	defer a.d.mu.Unlock()
	return a.d.current().Clone()
}

// FileSize implements codec.API
func (a *primaryAPI) FileSize() int64 {
	a.d.mu.Lock()
	defer a.d.mu.Unlock()
	return a.d.fileSize
}

// CurPos implements codec.API
func (a *primaryAPI) CurPos() int64 {
	a.d.mu.Lock()
	defer a.d.mu.Unlock()
	return a.d.curPos
}

// Memory implements codec.API
func (a *primaryAPI) Memory() []byte {
	return a.d.arena.Data()
}
