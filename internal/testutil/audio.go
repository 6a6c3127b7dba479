package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/require"
)

// Ramp returns n 16-bit samples of a repeating sawtooth
func Ramp(n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = (i*53)%16000 - 8000
	}
	return s
}

// WriteWAV encodes 16-bit mono samples at rate into path, creating parent
// directories as needed
func WriteWAV(t *testing.T, path string, rate int, samples []int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

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
}

// WriteTone writes n samples of Ramp at 8 kHz to path
func WriteTone(t *testing.T, path string, n int) {
	t.Helper()
	WriteWAV(t, path, 8000, Ramp(n))
}
