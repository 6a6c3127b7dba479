package pcmout

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/go-playback/internal/codec"
	"github.com/tphakala/go-playback/internal/errors"
)

// WAVSink writes 16-bit little-endian PCM into a WAV file
type WAVSink struct {
	mu     sync.Mutex
	file   *os.File
	enc    *wav.Encoder
	format *audio.Format
	buf    audio.IntBuffer
	closed bool
}

// NewWAVSink creates path and writes a WAV header for f
func NewWAVSink(path string, f codec.Format) (*WAVSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.New(err).
			Component(componentPCMOut).
			Category(errors.CategoryFileIO).
			Context("operation", "create_sink_dir").
			Build()
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, errors.New(err).
			Component(componentPCMOut).
			Category(errors.CategoryFileIO).
			Context("operation", "create_sink").
			Build()
	}

	format := &audio.Format{SampleRate: f.SampleRate, NumChannels: f.Channels}
	return &WAVSink{
		file:   file,
		enc:    wav.NewEncoder(file, f.SampleRate, 16, f.Channels, 1),
		format: format,
		buf:    audio.IntBuffer{Format: format, SourceBitDepth: 16},
	}, nil
}

// Write encodes p, which must hold whole 16-bit samples
func (s *WAVSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, os.ErrClosed
	}
	samples := len(p) / 2
	if cap(s.buf.Data) < samples {
		s.buf.Data = make([]int, samples)
	}
	s.buf.Data = s.buf.Data[:samples]
	for i := range samples {
		s.buf.Data[i] = int(int16(binary.LittleEndian.Uint16(p[2*i:])))
	}
	if err := s.enc.Write(&s.buf); err != nil {
		return 0, errors.New(err).
			Component(componentPCMOut).
			Category(errors.CategoryOutput).
			Context("operation", "encode_wav").
			Build()
	}
	return samples * 2, nil
}

// Close finalizes the header and closes the file
func (s *WAVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.enc.Close(); err != nil {
		_ = s.file.Close()
		return errors.New(err).
			Component(componentPCMOut).
			Category(errors.CategoryOutput).
			Context("operation", "finalize_wav").
			Build()
	}
	return s.file.Close()
}
