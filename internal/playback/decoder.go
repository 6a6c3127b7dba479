package playback

import (
	"context"
	"io"

	"github.com/tphakala/go-playback/internal/codec"
	"github.com/tphakala/go-playback/internal/execctx"
	"github.com/tphakala/go-playback/internal/logger"
	"github.com/tphakala/go-playback/internal/metadata"
	"github.com/tphakala/go-playback/internal/ringbuf"
)

const (
	codecSourceDisk = "disk"
	codecSourceRing = "ring"
)

// decoder owns the read side of the ring and runs the primary codec
type decoder struct {
	*session
	r     *ringbuf.Reader
	arena *execctx.Arena
	api   *primaryAPI
	log   logger.Logger
}

func newDecoder(s *session, r *ringbuf.Reader, arena *execctx.Arena) *decoder {
	d := &decoder{
		session: s,
		r:       r,
		arena:   arena,
		log:     s.log.Module("decode"),
	}
	d.api = &primaryAPI{d: d}
	return d
}

// run waits for load requests and decodes until ctx is done. Each finished
// codec run yields the next load request, if any.
func (d *decoder) run(ctx context.Context) {
	defer d.arena.Interrupt()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-d.decode:
			next := &req
			for next != nil && ctx.Err() == nil {
				next = d.load(*next)
			}
		}
	}
}

// load runs one decoder image to completion and decides what to load next
func (d *decoder) load(req decodeRequest) *decodeRequest {
	d.mu.Lock()
	if !d.playing || d.closed {
		// stopped before the request was picked up
		d.mu.Unlock()
		return nil
	}
	cur := d.slots.Current()
	if req.fromRing && !cur.HasCodec {
		// the image was dropped from the ring, fetch it from disk instead
		path, ok := d.resolveCurrent()
		if !ok {
			d.mu.Unlock()
			d.stopAfterFailure()
			return nil
		}
		req = decodeRequest{path: path}
	}
	d.codecLoaded = true
	d.mu.Unlock()

	if d.voice != nil {
		d.voice.nudge()
	}
	acquired := d.arena.Acquire(execctx.OwnerPrimary)
	if d.voice != nil {
		d.voice.primaryResumed()
	}
	if !acquired {
		d.mu.Lock()
		d.codecLoaded = false
		d.cond.Broadcast()
		d.mu.Unlock()
		return nil
	}

	runErr := d.execute(req)
	d.arena.Release(execctx.OwnerPrimary)

	return d.finish(runErr)
}

// execute loads the image for req and runs it
func (d *decoder) execute(req decodeRequest) error {
	d.mu.Lock()
	d.setStopCodec(false)
	var image []byte
	var err error
	source := codecSourceDisk
	if req.fromRing {
		source = codecSourceRing
		image = d.copyImageFromRing()
		if !d.discardCodecLocked() {
			d.mu.Unlock()
			return ErrBufferDesync
		}
	}
	d.mu.Unlock()

	if !req.fromRing {
		image, err = d.readImage(req.path)
	}
	if err != nil {
		d.metrics.RecordCodecLoad(source, "failed")
		return err
	}

	c, err := d.deps.Loader.Load(image)
	if err != nil {
		d.metrics.RecordCodecLoad(source, "failed")
		err = kindError(KindDecoderLoadFailure, err).Context("source", source).Build()
		d.recordError(KindDecoderLoadFailure, err, logger.String("source", source))
		return err
	}
	d.metrics.RecordCodecLoad(source, "ok")
	d.log.Debug("decoder loaded", logger.String("source", source), logger.Int("image_size", len(image)))

	return c.Run(d.api)
}

// copyImageFromRing returns the current track's buffered decoder image. Caller holds s.mu.
func (d *decoder) copyImageFromRing() []byte {
	cur := d.slots.Current()
	image := make([]byte, cur.CodecSize)
	d.ring.CopyAt(image, cur.CodecStart)
	return image
}

// readImage reads a decoder image from disk
func (d *decoder) readImage(path string) ([]byte, error) {
	f, err := d.deps.Files.Open(path)
	if err != nil {
		err = kindError(KindDecoderMissing, err).Context("image", path).Build()
		d.recordError(KindDecoderMissing, err, logger.String("image", path))
		return nil, err
	}
	defer f.Close()

	image, err := io.ReadAll(f)
	if err != nil {
		err = kindError(KindDecoderLoadFailure, err).Context("image", path).Build()
		d.recordError(KindDecoderLoadFailure, err, logger.String("image", path))
		return nil, err
	}
	return image, nil
}

// resolveCurrent finds the decoder image path for the current track. Caller holds s.mu.
func (d *decoder) resolveCurrent() (string, bool) {
	t := d.current()
	if t == nil {
		return "", false
	}
	path, ok := d.deps.Codecs.Resolve(t.Codec)
	if !ok {
		d.recordError(KindDecoderMissing,
			kindError(KindDecoderMissing, nil).Context("codec", t.Codec.String()).Build(),
			logger.String("codec", t.Codec.String()))
	}
	return path, ok
}

// finish handles the end of a codec run: a stop, a track change the codec
// could not take itself, a failure or the end of the playlist.
func (d *decoder) finish(runErr error) *decodeRequest {
	d.mu.Lock()
	if d.stopCodec {
		runErr = nil
		if !d.playing {
			d.out.Stop()
		}
	}
	playing := d.playing
	stopping := d.stopCodec
	pending := d.newTrack != 0
	generation := d.flushes
	d.codecLoaded = false
	d.cond.Broadcast()
	d.mu.Unlock()

	if !playing {
		return nil
	}

	switch {
	case pending || runErr != nil:
		if !pending {
			d.log.Warn("decoder failed", logger.Error(runErr))
			d.cb.emitNotice("Codec failure")
		}
		if !d.loadNextTrack() {
			d.postStop(generation)
			return nil
		}
	case stopping:
		// end of playlist: let the queued audio play out first
		if d.waitDrain(generation) {
			d.postStop(generation)
		}
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.flushes != generation {
		return nil
	}
	if d.slots.Current().HasCodec {
		return &decodeRequest{fromRing: true}
	}
	path, ok := d.resolveCurrent()
	if !ok {
		d.setStopCodec(true)
		d.post(command{kind: cmdStop})
		return nil
	}
	return &decodeRequest{path: path}
}

// stopAfterFailure ends playback when no decoder can be loaded
func (d *decoder) stopAfterFailure() {
	d.mu.Lock()
	d.setStopCodec(true)
	generation := d.flushes
	d.mu.Unlock()
	d.postStop(generation)
}

// postStop asks the orchestrator to stop unless a stop or restart already
// happened since generation
func (d *decoder) postStop(generation uint64) {
	d.mu.Lock()
	stale := d.flushes != generation
	d.mu.Unlock()
	if stale {
		return
	}
	d.postWait(command{kind: cmdStop})
}

// waitDrain blocks until everything queued at the output has played. It
// returns false when a flush or shutdown interrupts the wait.
func (d *decoder) waitDrain(generation uint64) bool {
	drained := make(chan struct{})
	d.out.AtBoundary(func() { close(drained) })
	for {
		select {
		case <-drained:
			return true
		case <-d.closing:
			return false
		case <-d.interrupt:
			d.mu.Lock()
			stale := d.flushes != generation
			d.mu.Unlock()
			if stale {
				return false
			}
		}
	}
}

// request posts a track change or seek request to the orchestrator and
// waits for its single reply
func (d *decoder) request(cmd command) reply {
	d.mu.Lock()
	d.requestPending = true
	d.mu.Unlock()

	select {
	case d.control <- cmd:
	case r := <-d.replies:
		return r
	case <-d.closing:
		return replyFailed
	}
	select {
	case r := <-d.replies:
		return r
	case <-d.closing:
		return replyFailed
	}
}

// loadNextTrack asks the orchestrator to move to the pending track, or to
// the following one when nothing is pending
func (d *decoder) loadNextTrack() bool {
	d.mu.Lock()
	if d.seekTime != 0 {
		d.seekCompleteLocked()
	}
	if d.newTrack == 0 {
		d.newTrack = 1
		d.automaticSkip = true
	}
	d.mu.Unlock()

	d.log.Trace("requesting next track")
	r := d.request(command{kind: cmdCheckNewTrack})

	d.mu.Lock()
	if r != replyComplete {
		d.newTrack = 0
		d.setStopCodec(true)
		d.mu.Unlock()
		d.log.Debug("next track unavailable")
		return false
	}
	manual := !d.automaticSkip
	d.mu.Unlock()

	d.trackSkipDone(manual)
	return true
}

// trackSkipDone hands the transition to the output stage: manual skips cut
// or crossfade at once, automatic ones crossfade when configured and are
// otherwise reported once the previous track's audio has played.
func (d *decoder) trackSkipDone(manual bool) {
	switch {
	case manual:
		d.out.StartCrossfade(true)
		d.post(command{kind: cmdTrackChanged})
	case d.cfg.Crossfade == CrossfadeAlways && d.out.CrossfadeEnabled() && !d.out.CrossfadeActive():
		d.out.StartCrossfade(false)
		d.codecTrackChanged()
	default:
		d.out.AtBoundary(d.gaplessBoundary)
	}
}

// gaplessBoundary runs on the output goroutine when the previous track's last
// sample has been played
func (d *decoder) gaplessBoundary() {
	d.mu.Lock()
	if d.prevTrack != nil {
		d.prevTrack.Elapsed = d.prevTrack.Length
	}
	d.mu.Unlock()
	d.codecTrackChanged()
}

func (d *decoder) codecTrackChanged() {
	d.mu.Lock()
	d.automaticSkip = false
	d.trackChanged = true
	d.mu.Unlock()
	if !d.post(command{kind: cmdTrackChanged}) {
		d.log.Warn("control queue full, track change not reported")
	}
}

// discardCodecLocked skips the current track's buffered decoder image and
// verifies that the read cursor sits where the track's data says it should.
// A mismatch stops playback. Caller holds s.mu.
func (d *decoder) discardCodecLocked() bool {
	cur := d.slots.Current()
	if cur.HasCodec {
		cur.HasCodec = false
		d.r.Advance(cur.CodecSize)
	}

	expected := d.ring.Add(cur.BufStart, int(d.curPos-cur.StartPos))
	if d.r.Pos() == expected {
		return true
	}

	err := kindError(KindBufferDesync, nil).
		Context("read_pos", d.r.Pos()).
		Context("expected", expected).
		Build()
	d.recordError(KindBufferDesync, err,
		logger.Int("read_pos", d.r.Pos()),
		logger.Int("expected", expected))
	d.setStopCodec(true)
	d.kick()
	d.post(command{kind: cmdStop})
	return false
}

// baseCodec returns the decoder family of the current track. Caller holds s.mu.
func (d *decoder) baseCodec() metadata.CodecType {
	if t := d.current(); t != nil {
		return t.Codec.Base()
	}
	return metadata.CodecUnknown
}

var _ codec.API = (*primaryAPI)(nil)
