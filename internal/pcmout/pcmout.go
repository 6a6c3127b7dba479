// Package pcmout is the PCM output stage: a music ring, a voice mix ring and a
// consumer goroutine that drains both into a sink at the configured rate.
package pcmout

import (
	"context"
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/go-playback/internal/codec"
	"github.com/tphakala/go-playback/internal/errors"
	"github.com/tphakala/go-playback/internal/logger"
	"github.com/tphakala/go-playback/internal/observability/metrics"
)

const componentPCMOut = "pcmout"

// GetLogger returns the pcmout module logger
func GetLogger() logger.Logger {
	return logger.Global().Module(componentPCMOut)
}

// Config sizes the output stage
type Config struct {
	Format         codec.Format
	BufferDuration time.Duration // music ring length
	VoiceDuration  time.Duration // voice mix ring length
	LowData        time.Duration // buffered audio below this counts as low data
	Tick           time.Duration // consumer period
	Crossfade      bool
	FadeDuration   time.Duration
	// Realtime paces the consumer at the sample rate. When false the sink is
	// fed as fast as it accepts data, which is what file output and tests want.
	Realtime bool
}

// DefaultConfig returns 44.1 kHz 16-bit stereo with a two second ring
func DefaultConfig() Config {
	return Config{
		Format:         codec.Format{SampleRate: 44100, Channels: 2, BitsPerSample: 16},
		BufferDuration: 2 * time.Second,
		VoiceDuration:  500 * time.Millisecond,
		LowData:        250 * time.Millisecond,
		Tick:           10 * time.Millisecond,
		FadeDuration:   time.Second,
		Realtime:       true,
	}
}

type boundary struct {
	mark int64
	fn   func()
}

// Buffer is the output stage
type Buffer struct {
	cfg     Config
	sink    io.Writer
	log     logger.Logger
	metrics *metrics.OutputMetrics

	mu        sync.Mutex
	format    codec.Format
	music     *ringbuffer.RingBuffer
	voice     *ringbuffer.RingBuffer
	paused    bool
	written   int64 // music bytes accepted since the last Stop
	played    int64 // music bytes handed to the sink since the last Stop
	fadeStart int64
	fadeEnd   int64
	fading    bool
	dry       bool // music lane ran empty after playing
	pending   []boundary

	writable chan struct{}
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

// New creates an output stage writing to sink. Start launches the consumer.
func New(cfg Config, sink io.Writer) (*Buffer, error) {
	if cfg.Format.SampleRate <= 0 || cfg.Format.Channels <= 0 {
		return nil, errors.Newf("invalid output format %+v", cfg.Format).
			Component(componentPCMOut).
			Category(errors.CategoryValidation).
			Build()
	}
	if cfg.Format.BitsPerSample != 16 {
		return nil, errors.Newf("unsupported output sample size: %d bits", cfg.Format.BitsPerSample).
			Component(componentPCMOut).
			Category(errors.CategoryValidation).
			Build()
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 10 * time.Millisecond
	}
	if sink == nil {
		sink = io.Discard
	}

	b := &Buffer{
		cfg:      cfg,
		sink:     sink,
		log:      GetLogger(),
		format:   cfg.Format,
		writable: make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	b.music = ringbuffer.New(b.bytesFor(cfg.BufferDuration, 2*time.Second))
	b.voice = ringbuffer.New(b.bytesFor(cfg.VoiceDuration, 500*time.Millisecond))
	return b, nil
}

func (b *Buffer) frameSize() int {
	return b.format.Channels * 2
}

func (b *Buffer) bytesPerSecond() int {
	return b.format.SampleRate * b.frameSize()
}

func (b *Buffer) bytesFor(d, fallback time.Duration) int {
	if d <= 0 {
		d = fallback
	}
	n := int(int64(b.bytesPerSecond()) * int64(d) / int64(time.Second))
	n -= n % b.frameSize()
	return max(n, b.frameSize()*64)
}

// SetMetrics records output stage metrics to m. Call before Start.
func (b *Buffer) SetMetrics(m *metrics.OutputMetrics) {
	b.metrics = m
}

// Start runs the consumer until ctx is done or Close is called
func (b *Buffer) Start(ctx context.Context) {
	go b.consume(ctx)
}

// Close stops the consumer and waits for it
func (b *Buffer) Close() error {
	b.once.Do(func() { close(b.stop) })
	<-b.done
	if c, ok := b.sink.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (b *Buffer) consume(ctx context.Context) {
	defer close(b.done)

	tick := b.cfg.Tick
	if !b.cfg.Realtime {
		tick = time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	chunk := make([]byte, 0)
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stop:
			return
		case <-ticker.C:
		}

		size := b.bytesPerSecond() * int(tick) / int(time.Second)
		if !b.cfg.Realtime {
			size = b.music.Capacity()
		}
		size -= size % b.frameSize()
		if cap(chunk) < size {
			chunk = make([]byte, size)
		}
		out, fired := b.pull(chunk[:size])
		if len(out) > 0 {
			if _, err := b.sink.Write(out); err != nil {
				b.log.Warn("output sink write failed", logger.Error(err))
				b.metrics.RecordSinkError()
			}
		}
		for _, fn := range fired {
			fn()
		}
		if len(out) > 0 {
			b.notifyWritable()
			b.metrics.UpdateUtilization(metrics.LaneMusic, float64(b.Usage())/100)
		}
	}
}

// pull takes up to len(dst) bytes of mixed audio and collects the boundary
// callbacks that became due.
func (b *Buffer) pull(dst []byte) ([]byte, []func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.paused {
		return nil, nil
	}

	n := 0
	if b.music.Length() > 0 {
		n, _ = b.music.Read(dst[:min(len(dst), b.music.Length())])
		n -= n % b.frameSize()
		b.applyFade(dst[:n])
		b.played += int64(n)
		b.dry = false
	} else if b.written > 0 && !b.dry {
		b.dry = true
		b.metrics.RecordUnderrun()
	}

	if v := b.voice.Length(); v > 0 {
		if n == 0 {
			m, _ := b.voice.Read(dst[:min(len(dst), v)])
			n = m - m%b.frameSize()
		} else {
			mix := make([]byte, min(n, v))
			m, _ := b.voice.Read(mix)
			mixInto(dst[:n], mix[:m])
		}
	}

	var fired []func()
	keep := b.pending[:0]
	for _, bd := range b.pending {
		if bd.mark <= b.played {
			fired = append(fired, bd.fn)
		} else {
			keep = append(keep, bd)
		}
	}
	b.pending = keep
	if b.fading && b.played >= b.fadeEnd {
		b.fading = false
	}
	return dst[:n], fired
}

// applyFade ramps music down linearly across the active fade window
func (b *Buffer) applyFade(p []byte) {
	if !b.fading {
		return
	}
	span := b.fadeEnd - b.fadeStart
	if span <= 0 {
		return
	}
	for i := 0; i+1 < len(p); i += 2 {
		pos := b.played + int64(i)
		if pos >= b.fadeEnd {
			break
		}
		gain := float64(b.fadeEnd-pos) / float64(span)
		s := int16(binary.LittleEndian.Uint16(p[i:]))
		binary.LittleEndian.PutUint16(p[i:], uint16(int16(float64(s)*gain)))
	}
}

// mixInto adds voice samples onto music samples with saturation
func mixInto(music, voice []byte) {
	for i := 0; i+1 < len(voice) && i+1 < len(music); i += 2 {
		a := int32(int16(binary.LittleEndian.Uint16(music[i:])))
		v := int32(int16(binary.LittleEndian.Uint16(voice[i:])))
		s := max(min(a+v, 32767), -32768)
		binary.LittleEndian.PutUint16(music[i:], uint16(int16(s)))
	}
}

func (b *Buffer) notifyWritable() {
	select {
	case b.writable <- struct{}{}:
	default:
	}
}

// Write queues music PCM and returns how many bytes were accepted. Only whole
// frames are accepted.
func (b *Buffer) Write(p []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := min(len(p), b.music.Free())
	n -= n % b.frameSize()
	if n == 0 {
		return 0
	}
	n, _ = b.music.Write(p[:n])
	b.written += int64(n)
	b.metrics.RecordBytes(metrics.LaneMusic, n)
	return n
}

// WriteVoice queues voice PCM for mixing
func (b *Buffer) WriteVoice(p []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := min(len(p), b.voice.Free())
	n -= n % b.frameSize()
	if n == 0 {
		return 0
	}
	n, _ = b.voice.Write(p[:n])
	b.metrics.RecordBytes(metrics.LaneVoice, n)
	return n
}

// Writable is signalled whenever the consumer frees space
func (b *Buffer) Writable() <-chan struct{} {
	return b.writable
}

// Usage returns the music ring fill level in percent
func (b *Buffer) Usage() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.music.Length() * 100 / b.music.Capacity()
}

// MixFree returns the free part of the voice ring in percent
func (b *Buffer) MixFree() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.voice.Free() * 100 / b.voice.Capacity()
}

// IsLowData reports whether the consumer is about to run dry
func (b *Buffer) IsLowData() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.paused || b.written == 0 {
		return false
	}
	if b.fading {
		return true
	}
	return b.music.Length() < b.bytesFor(b.cfg.LowData, 250*time.Millisecond)
}

// Latency returns how long it takes to play what is queued
func (b *Buffer) Latency() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Duration(int64(b.music.Length()) * int64(time.Second) / int64(b.bytesPerSecond()))
}

// Playing reports whether queued audio remains
func (b *Buffer) Playing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.music.Length() > 0 || b.voice.Length() > 0
}

// Paused reports the pause state
func (b *Buffer) Paused() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paused
}

// Pause stops or resumes draining
func (b *Buffer) Pause(pause bool) {
	b.mu.Lock()
	b.paused = pause
	b.mu.Unlock()
	if !pause {
		b.notifyWritable()
	}
}

// Stop drops all queued audio. Pending boundary callbacks are discarded.
func (b *Buffer) Stop() {
	b.mu.Lock()
	b.music.Reset()
	b.voice.Reset()
	b.written = 0
	b.played = 0
	b.fading = false
	b.dry = false
	b.pending = nil
	b.mu.Unlock()
	b.notifyWritable()
}

// SetFormat changes the PCM layout. Queued audio is kept.
func (b *Buffer) SetFormat(f codec.Format) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if f == b.format {
		return
	}
	if f.SampleRate != b.format.SampleRate {
		b.log.Debug("output sample rate differs from track",
			logger.Int("output_rate", b.format.SampleRate),
			logger.Int("track_rate", f.SampleRate))
	}
}

// Format returns the output PCM layout
func (b *Buffer) Format() codec.Format {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.format
}

// CrossfadeEnabled reports whether crossfading is configured
func (b *Buffer) CrossfadeEnabled() bool {
	return b.cfg.Crossfade
}

// CrossfadeActive reports whether a fade is in progress
func (b *Buffer) CrossfadeActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fading
}

// StartCrossfade fades out queued music. A manual fade drops what is queued
// beyond the fade window so the next track starts quickly.
func (b *Buffer) StartCrossfade(manual bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.metrics.RecordCrossfade(manual)
	window := int64(b.bytesFor(b.cfg.FadeDuration, time.Second))
	queued := int64(b.music.Length())
	if manual && !b.cfg.Crossfade {
		// hard cut
		b.music.Reset()
		b.played = b.written
		return
	}
	if manual && queued > window {
		keep := make([]byte, window)
		n, _ := b.music.Read(keep)
		b.music.Reset()
		_, _ = b.music.Write(keep[:n])
		b.played += queued - int64(n)
		queued = int64(n)
	}
	b.fadeStart = b.played
	b.fadeEnd = b.played + min(queued, window)
	b.fading = b.fadeEnd > b.fadeStart
}

// AtBoundary runs fn once everything queued so far has been played. If the
// ring is already drained fn runs immediately.
func (b *Buffer) AtBoundary(fn func()) {
	b.mu.Lock()
	if b.played >= b.written {
		b.mu.Unlock()
		fn()
		return
	}
	b.pending = append(b.pending, boundary{mark: b.written, fn: fn})
	b.mu.Unlock()
}
