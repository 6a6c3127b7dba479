// Package codec defines the contract between the playback engine and decoder
// implementations.
//
// A decoder is loaded from an image, either read from disk or copied out of
// the playback ring, and then driven through Run. Everything a decoder needs
// from the engine goes through the API it is handed: pulling compressed
// bytes, seeking, reporting position and pushing decoded PCM.
package codec

import (
	"io"

	"github.com/tphakala/go-playback/internal/metadata"
)

// Format describes the PCM a decoder produces
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// API is the set of engine services available to a running decoder. The
// primary decoder and the overlay decoder get different implementations.
type API interface {
	// Read copies up to len(p) bytes of the current track and advances past
	// them. It blocks while data is being buffered and returns 0 at end of
	// track or when the decoder has to stop.
	Read(p []byte) int
	// RequestBuffer returns up to limit bytes at the read position as one
	// contiguous slice without advancing.
	RequestBuffer(limit int) []byte
	// Advance moves the read position forward by n bytes.
	Advance(n int64)
	// Seek moves the read position to the absolute file offset pos.
	Seek(pos int64) bool
	// RequestNextTrack ends the current track. It returns true when the next
	// track can be decoded by the same decoder, which should then continue.
	RequestNextTrack() bool
	// DiscardCodec drops the buffered decoder image of the current track.
	DiscardCodec()

	SetElapsed(ms int64)
	SetOffset(pos int64)
	// SeekTime returns a pending seek target in ms plus one, or 0.
	SeekTime() int64
	SeekComplete()

	// Configure announces the PCM format of following Insert calls.
	Configure(f Format)
	// Insert pushes interleaved little-endian PCM to the output stage.
	Insert(pcm []byte) bool
	// InsertSplit pushes non-interleaved 16-bit channels.
	InsertSplit(left, right []byte) bool

	// Stopped reports whether the decoder must return from Run now.
	Stopped() bool
	// Interrupted reports whether the decoder should stop the current track,
	// either because of Stopped or a pending track change.
	Interrupted() bool

	Track() *metadata.Track
	FileSize() int64
	CurPos() int64
	// Memory returns scratch memory that survives overlay swaps.
	Memory() []byte
}

// Codec is a loaded decoder
type Codec interface {
	// Run decodes until the playlist ends or the API reports Stopped. A
	// non-nil error means the current track could not be decoded.
	Run(api API) error
}

// Loader instantiates decoders from their images
type Loader interface {
	Load(image []byte) (Codec, error)
}

// Resolver maps a codec type to the path of its decoder image
type Resolver interface {
	Resolve(t metadata.CodecType) (string, bool)
}

// StreamReader adapts an API to io.ReadSeeker for decoders built on
// reader-based libraries.
type StreamReader struct {
	api API
}

// NewStreamReader wraps api
func NewStreamReader(api API) *StreamReader {
	return &StreamReader{api: api}
}

// Read implements io.Reader. End of track maps to io.EOF.
func (s *StreamReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n := s.api.Read(p)
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Seek implements io.Seeker on file offsets
func (s *StreamReader) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = s.api.CurPos() + offset
	case io.SeekEnd:
		target = s.api.FileSize() + offset
	default:
		return 0, io.ErrNoProgress
	}
	if target < 0 {
		target = 0
	}
	if target == s.api.CurPos() {
		return target, nil
	}
	if !s.api.Seek(target) {
		return s.api.CurPos(), io.ErrUnexpectedEOF
	}
	return s.api.CurPos(), nil
}
