package metadata

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-audio/wav"
	"github.com/tphakala/flac"
)

func inspectWAV(r io.ReadSeeker, t *Track) error {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return err
	}
	d := wav.NewDecoder(r)
	d.ReadInfo()
	if !d.IsValidFile() {
		return fmt.Errorf("invalid WAV header")
	}
	if err := d.FwdToPCM(); err != nil {
		return fmt.Errorf("locate WAV data chunk: %w", err)
	}
	dataStart, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	t.Codec = CodecPCM
	t.Frequency = int(d.SampleRate)
	t.Channels = int(d.NumChans)
	t.BitsPerSample = int(d.BitDepth)
	t.FirstFrameOffset = dataStart

	bytesPerSecond := int64(t.Frequency) * int64(t.Channels) * int64(t.BitsPerSample) / 8
	if bytesPerSecond > 0 {
		t.Bitrate = int(bytesPerSecond * 8 / 1000)
		t.Length = d.PCMLen() * 1000 / bytesPerSecond
	}
	return nil
}

func inspectFLAC(r io.ReadSeeker, t *Track) error {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return err
	}
	d, err := flac.NewDecoder(r)
	if err != nil {
		return fmt.Errorf("read FLAC stream info: %w", err)
	}

	t.Codec = CodecFLAC
	t.Frequency = d.SampleRate
	t.Channels = d.NChannels
	t.BitsPerSample = d.BitsPerSample
	t.VBR = true
	if d.SampleRate > 0 {
		t.Length = int64(d.TotalSamples) * 1000 / int64(d.SampleRate)
	}
	if t.Length > 0 {
		t.Bitrate = int(t.FileSize * 8 / t.Length)
	}
	return nil
}

// inspectVorbis reads the identification header from the first Ogg page
func inspectVorbis(head []byte, t *Track) error {
	if len(head) < 27 {
		return ErrTruncated
	}
	packet := 27 + int(head[26])
	if len(head) < packet+24 || !bytes.Equal(head[packet:packet+7], []byte("\x01vorbis")) {
		return ErrUnsupportedFormat
	}

	t.Codec = CodecVorbis
	t.Channels = int(head[packet+11])
	t.Frequency = int(binary.LittleEndian.Uint32(head[packet+12:]))
	t.Bitrate = int(int32(binary.LittleEndian.Uint32(head[packet+20:]))) / 1000
	t.BitsPerSample = 16
	t.VBR = true
	if t.Bitrate > 0 {
		t.Length = t.FileSize * 8 / int64(t.Bitrate)
	}
	return nil
}
