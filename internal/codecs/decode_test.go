package codecs

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/go-playback/internal/codec"
	"github.com/tphakala/go-playback/internal/codec/codectest"
	"github.com/tphakala/go-playback/internal/errors"
	"github.com/tphakala/go-playback/internal/metadata"
)

// buildWAV encodes 16-bit mono samples and returns the file and the raw PCM
func buildWAV(t *testing.T, rate int, samples []int) (file, pcm []byte) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           samples,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	file, err = os.ReadFile(path)
	require.NoError(t, err)

	pcm = make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(int16(s)))
	}
	return file, pcm
}

func ramp(n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = (i*37)%20000 - 10000
	}
	return s
}

func TestWAVDecoderPlaysConsecutiveTracks(t *testing.T) {
	t.Parallel()

	first, firstPCM := buildWAV(t, 8000, ramp(8000))
	second, secondPCM := buildWAV(t, 8000, ramp(3000))
	api := codectest.New(first, second)

	require.NoError(t, (&wavDecoder{}).Run(api))

	assert.Equal(t, codec.Format{SampleRate: 8000, Channels: 1, BitsPerSample: 16}, api.Format)
	assert.Equal(t, firstPCM, api.PCM[0])
	assert.Equal(t, secondPCM, api.PCM[1])
	assert.Equal(t, int64(len(second)), api.Offset)
	assert.Equal(t, int64(375), api.Elapsed, "3000 samples at 8 kHz")
}

func TestWAVDecoderSeek(t *testing.T) {
	t.Parallel()

	file, pcm := buildWAV(t, 8000, ramp(8000))
	api := codectest.New(file)
	api.RequestSeek(500)

	require.NoError(t, (&wavDecoder{}).Run(api))

	assert.Equal(t, 1, api.Seeks)
	assert.Zero(t, api.SeekTime())
	assert.Equal(t, pcm[8000:], api.PCM[0], "half a second of 16-bit mono skipped")
	assert.Equal(t, int64(1000), api.Elapsed)
}

func TestWAVDecoderRejectsGarbage(t *testing.T) {
	t.Parallel()

	api := codectest.New([]byte("this is not a RIFF file at all, just text"))
	err := (&wavDecoder{}).Run(api)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCodec))
	assert.Empty(t, api.PCM[0])
}

func TestWAVDecoderStopsWhenAsked(t *testing.T) {
	t.Parallel()

	file, _ := buildWAV(t, 8000, ramp(8000))
	api := codectest.New(file, file)
	api.Stop()

	require.NoError(t, (&wavDecoder{}).Run(api))
	assert.Equal(t, 0, api.Current(), "no track change after a stop")
}

func TestFLACDecoderRejectsGarbage(t *testing.T) {
	t.Parallel()

	api := codectest.New([]byte("RIFF....WAVEfmt definitely not flac"))
	err := (&flacDecoder{}).Run(api)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCodec))
}

func TestMP3DecoderTreatsFramelessStreamAsEmpty(t *testing.T) {
	t.Parallel()

	api := codectest.New(make([]byte, 256))
	api.SetTrack(0, &metadata.Track{Codec: metadata.CodecMP3})

	require.NoError(t, (&mp3Decoder{}).Run(api))
	assert.Empty(t, api.PCM[0])
}

func TestClock(t *testing.T) {
	t.Parallel()

	c := newClock(codec.Format{SampleRate: 1000, Channels: 2, BitsPerSample: 16})
	assert.Equal(t, int64(4000), c.bytesPerSec)
	assert.Equal(t, int64(500), c.add(2000))
	c.reset(10_000)
	assert.Equal(t, int64(10_250), c.add(1000))
}
