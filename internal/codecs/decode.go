package codecs

import (
	"io"

	"github.com/tphakala/go-playback/internal/codec"
	"github.com/tphakala/go-playback/internal/errors"
	"github.com/tphakala/go-playback/internal/logger"
)

// pcmChunk is the size of PCM handed to the engine per Insert
const pcmChunk = 16 << 10

// trackFunc decodes the current track of api. It returns nil at end of track
// and when the engine interrupts it.
type trackFunc func(api codec.API) error

// runTracks decodes tracks with fn until the engine stops the decoder or the
// next track needs a different one.
func runTracks(name string, api codec.API, fn trackFunc) error {
	for {
		if err := fn(api); err != nil && !api.Interrupted() {
			GetLogger().Debug("track decode failed",
				logger.String("decoder", name),
				logger.String("path", api.Track().Path),
				logger.Error(err))
			return decodeError(name, err)
		}
		if api.Stopped() || !api.RequestNextTrack() {
			return nil
		}
	}
}

func decodeError(name string, err error) error {
	return errors.New(err).
		Component(componentCodecs).
		Category(errors.CategoryCodec).
		Context("decoder", name).
		Build()
}

// clock turns decoded PCM byte counts into elapsed play time
type clock struct {
	base        int64 // ms at the last seek
	produced    int64 // PCM bytes since base
	bytesPerSec int64
}

func newClock(f codec.Format) clock {
	return clock{bytesPerSec: int64(f.SampleRate) * int64(f.Channels) * int64(max(f.BitsPerSample/8, 1))}
}

func (c *clock) reset(ms int64) {
	c.base = ms
	c.produced = 0
}

func (c *clock) add(n int) int64 {
	c.produced += int64(n)
	if c.bytesPerSec == 0 {
		return c.base
	}
	return c.base + c.produced*1000/c.bytesPerSec
}

// insert pushes pcm and reports the new position
func insert(api codec.API, c *clock, pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	api.Insert(pcm)
	api.SetElapsed(c.add(len(pcm)))
	api.SetOffset(api.CurPos())
}

// plainReader hides Seek from libraries that would otherwise scan the whole
// stream up front
type plainReader struct {
	r io.Reader
}

func (p plainReader) Read(b []byte) (int, error) {
	return p.r.Read(b)
}

// isEOF reports whether err marks the end of the compressed stream
func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
