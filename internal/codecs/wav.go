package codecs

import (
	"fmt"
	"io"

	"github.com/go-audio/wav"

	"github.com/tphakala/go-playback/internal/codec"
)

// wavFormatPCM is the WAVE format tag of integer PCM
const wavFormatPCM = 1

// wavDecoder plays RIFF/WAVE integer PCM
type wavDecoder struct{}

func (w *wavDecoder) Run(api codec.API) error {
	return runTracks("wav", api, decodeWAV)
}

func decodeWAV(api codec.API) error {
	sr := codec.NewStreamReader(api)
	d := wav.NewDecoder(sr)
	d.ReadInfo()
	if err := d.Err(); err != nil {
		return fmt.Errorf("read WAV header: %w", err)
	}
	if d.NumChans == 0 || d.BitDepth < 8 {
		return fmt.Errorf("invalid WAV format: %d channels, %d bits", d.NumChans, d.BitDepth)
	}
	if d.WavAudioFormat != wavFormatPCM {
		return fmt.Errorf("unsupported WAV format tag %d", d.WavAudioFormat)
	}
	if err := d.FwdToPCM(); err != nil {
		return fmt.Errorf("locate WAV data chunk: %w", err)
	}

	f := codec.Format{
		SampleRate:    int(d.SampleRate),
		Channels:      int(d.NumChans),
		BitsPerSample: int(d.BitDepth),
	}
	api.Configure(f)

	block := int64(f.Channels * (f.BitsPerSample / 8))
	dataStart := api.CurPos()
	dataEnd := min(dataStart+d.PCMLen(), api.FileSize())
	c := newClock(f)
	buf := make([]byte, pcmChunk/block*block)

	for !api.Interrupted() {
		if ms := api.SeekTime(); ms != 0 {
			offset := (ms - 1) * c.bytesPerSec / 1000
			api.Seek(min(dataStart+offset/block*block, dataEnd))
			c.reset(ms - 1)
			api.SeekComplete()
		}

		remaining := (dataEnd - api.CurPos()) / block * block
		if remaining <= 0 {
			return nil
		}
		n, err := io.ReadFull(sr, buf[:min(int64(len(buf)), remaining)])
		insert(api, &c, buf[:int64(n)/block*block])
		if err != nil {
			return nil
		}
	}
	return nil
}
