package playback

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/tphakala/go-playback/internal/codec"
	"github.com/tphakala/go-playback/internal/execctx"
	"github.com/tphakala/go-playback/internal/logger"
	"github.com/tphakala/go-playback/internal/metadata"
)

// maxQueuedClips bounds the voice clips waiting behind the playing one
const maxQueuedClips = 16

// voiceClip is one MP3 clip plus an optional source of continuation data
type voiceClip struct {
	data []byte
	more func() []byte
}

// overlay decodes short voice clips on top of the music. It shares the
// execution arena with the primary decoder and trades it back and forth
// through execctx swaps.
type overlay struct {
	s     *session
	arena *execctx.Arena
	api   *voiceAPI
	log   logger.Logger

	mu     sync.Mutex
	queued []voiceClip

	notify chan struct{}

	busy           atomic.Bool // a clip is being decoded
	cut            atomic.Bool // drop the playing clip
	primaryWaiting atomic.Bool // the primary decoder is blocked on the arena
}

func newOverlay(s *session, arena *execctx.Arena) *overlay {
	o := &overlay{
		s:      s,
		arena:  arena,
		log:    s.log.Module("overlay"),
		notify: make(chan struct{}, 1),
	}
	o.api = &voiceAPI{o: o}
	return o
}

func (o *overlay) signal() {
	select {
	case o.notify <- struct{}{}:
	default:
	}
}

// play queues clip. more, when not nil, supplies data to append once the
// clip runs out.
func (o *overlay) play(clip []byte, more func() []byte) {
	if len(clip) == 0 {
		return
	}
	o.mu.Lock()
	if len(o.queued) >= maxQueuedClips {
		o.log.Debug("voice queue full, dropping oldest clip")
		o.queued = o.queued[1:]
	}
	o.queued = append(o.queued, voiceClip{data: clip, more: more})
	o.mu.Unlock()
	o.signal()
}

// stop cuts the playing clip and drops queued ones
func (o *overlay) stop() {
	o.mu.Lock()
	o.queued = nil
	o.mu.Unlock()
	o.cut.Store(true)
	o.signal()
	o.arena.Wake()
}

// nudge tells the overlay the primary decoder is waiting for the arena
func (o *overlay) nudge() {
	o.primaryWaiting.Store(true)
	o.signal()
	o.arena.Wake()
}

// primaryResumed clears a nudge once the primary decoder holds the arena again
func (o *overlay) primaryResumed() {
	o.primaryWaiting.Store(false)
}

// wantsArena reports whether a clip is in progress
func (o *overlay) wantsArena() bool {
	return o.busy.Load()
}

// dequeue pops the next clip, if any
func (o *overlay) dequeue() (voiceClip, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queued) == 0 {
		return voiceClip{}, false
	}
	c := o.queued[0]
	o.queued = o.queued[1:]
	return c, true
}

// run decodes queued clips until ctx is done
func (o *overlay) run(ctx context.Context) {
	for {
		clip, ok := o.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-o.notify:
				continue
			}
		}

		o.cut.Store(false)
		o.busy.Store(true)
		err := o.decode(clip)
		o.busy.Store(false)
		o.arena.Wake()
		if err != nil {
			o.log.Warn("voice clip failed", logger.Error(err))
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// decode loads the voice decoder and runs it over clip and its successors
func (o *overlay) decode(clip voiceClip) error {
	c, err := o.load()
	if err != nil {
		return err
	}

	if !o.arena.Acquire(execctx.OwnerOverlay) {
		return nil
	}
	defer o.arena.Release(execctx.OwnerOverlay)

	o.api.start(clip)
	o.log.Debug("voice clip started", logger.Int("size", len(clip.data)))
	return c.Run(o.api)
}

// load instantiates the MP3 decoder used for voice clips
func (o *overlay) load() (codec.Codec, error) {
	path, ok := o.s.deps.Codecs.Resolve(metadata.CodecMP3)
	if !ok {
		return nil, kindError(KindDecoderMissing, nil).Context("codec", metadata.CodecMP3.String()).Build()
	}
	f, err := o.s.deps.Files.Open(path)
	if err != nil {
		return nil, kindError(KindDecoderMissing, err).Context("image", path).Build()
	}
	defer f.Close()

	image, err := io.ReadAll(f)
	if err != nil {
		return nil, kindError(KindDecoderLoadFailure, err).Context("image", path).Build()
	}
	c, err := o.s.deps.Loader.Load(image)
	if err != nil {
		o.s.metrics.RecordCodecLoad("voice", "failed")
		return nil, kindError(KindDecoderLoadFailure, err).Context("image", path).Build()
	}
	o.s.metrics.RecordCodecLoad("voice", "ok")
	return c, nil
}

// swapOut hands the arena to the waiting primary decoder and returns once
// it has come back
func (o *overlay) swapOut() {
	abort := func() bool { return o.cut.Load() || !o.primaryWaiting.Load() }
	if o.arena.Swap(execctx.OwnerOverlay, abort) {
		o.s.metrics.RecordContextSwap()
	}
}

// voiceAPI is the codec.API handed to the voice decoder. It serves the clip
// bytes directly and mixes decoded PCM into the output's voice lane.
type voiceAPI struct {
	o      *overlay
	data   []byte
	more   func() []byte
	pos    int
	format codec.Format
	pcm    []byte
}

func (v *voiceAPI) start(c voiceClip) {
	v.data = c.data
	v.more = c.more
	v.pos = 0
}

// extend appends continuation data once the clip is consumed
func (v *voiceAPI) extend() bool {
	if v.more == nil {
		return false
	}
	next := v.more()
	if len(next) == 0 {
		v.more = nil
		return false
	}
	v.data = next
	v.pos = 0
	return true
}

// Read implements codec.API
func (v *voiceAPI) Read(p []byte) int {
	if v.Stopped() {
		return 0
	}
	if v.pos >= len(v.data) && !v.extend() {
		return 0
	}
	n := copy(p, v.data[v.pos:])
	v.pos += n
	return n
}

// RequestBuffer implements codec.API
func (v *voiceAPI) RequestBuffer(limit int) []byte {
	if v.Stopped() {
		return nil
	}
	if v.pos >= len(v.data) && !v.extend() {
		return nil
	}
	end := min(v.pos+limit, len(v.data))
	return v.data[v.pos:end]
}

// Advance implements codec.API
func (v *voiceAPI) Advance(n int64) {
	v.pos = min(v.pos+int(max(n, 0)), len(v.data))
}

// Seek implements codec.API
func (v *voiceAPI) Seek(pos int64) bool {
	if pos < 0 || pos > int64(len(v.data)) {
		return false
	}
	v.pos = int(pos)
	return true
}

// RequestNextTrack implements codec.API. Queued clips continue in the same
// decoder run.
func (v *voiceAPI) RequestNextTrack() bool {
	if v.Stopped() {
		return false
	}
	c, ok := v.o.dequeue()
	if !ok {
		return false
	}
	v.start(c)
	return true
}

func (v *voiceAPI) DiscardCodec()            {}
func (v *voiceAPI) SetElapsed(int64)         {}
func (v *voiceAPI) SetOffset(int64)          {}
func (v *voiceAPI) SeekTime() int64          { return 0 }
func (v *voiceAPI) SeekComplete()            {}
func (v *voiceAPI) Configure(f codec.Format) { v.format = f }

// Insert implements codec.API. When the voice lane is full and the primary
// decoder is waiting, the arena goes back to it until the lane drains.
func (v *voiceAPI) Insert(pcm []byte) bool {
	o := v.o
	out := o.s.out
	v.pcm = convertPCM(v.pcm[:0], pcm, v.format, out.Format())
	data := v.pcm

	for len(data) > 0 {
		if v.Stopped() {
			return false
		}
		if n := out.WriteVoice(data); n > 0 {
			data = data[n:]
			if o.primaryWaiting.Load() && (out.Usage() < 10 || out.MixFree() < 30) {
				o.swapOut()
			}
			continue
		}
		if o.primaryWaiting.Load() {
			o.swapOut()
			continue
		}
		select {
		case <-out.Writable():
		case <-o.notify:
			// a stop or nudge, re-evaluated above
		case <-o.s.closing:
			return false
		}
	}
	return true
}

// InsertSplit implements codec.API
func (v *voiceAPI) InsertSplit(left, right []byte) bool {
	saved := v.format
	v.format.BitsPerSample = 16
	v.format.Channels = 2
	ok := v.Insert(interleave16(left, right))
	v.format = saved
	return ok
}

// Stopped implements codec.API
func (v *voiceAPI) Stopped() bool {
	if v.o.cut.Load() {
		return true
	}
	select {
	case <-v.o.s.closing:
		return true
	default:
		return false
	}
}

// Interrupted implements codec.API
func (v *voiceAPI) Interrupted() bool {
	return v.Stopped()
}

// Track implements codec.API
func (v *voiceAPI) Track() *metadata.Track {
	return &metadata.Track{Codec: metadata.CodecMP3, FileSize: int64(len(v.data))}
}

// FileSize implements codec.API
func (v *voiceAPI) FileSize() int64 {
	return int64(len(v.data))
}

// CurPos implements codec.API
func (v *voiceAPI) CurPos() int64 {
	return int64(v.pos)
}

// Memory implements codec.API
func (v *voiceAPI) Memory() []byte {
	return v.o.arena.Data()
}

var _ codec.API = (*voiceAPI)(nil)
