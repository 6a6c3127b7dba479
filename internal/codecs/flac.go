package codecs

import (
	"fmt"

	"github.com/tphakala/flac"

	"github.com/tphakala/go-playback/internal/codec"
)

// flacDecoder plays FLAC streams. Seeks restart the stream and discard
// decoded audio up to the target.
type flacDecoder struct{}

func (f *flacDecoder) Run(api codec.API) error {
	return runTracks("flac", api, decodeFLAC)
}

func decodeFLAC(api codec.API) error {
	sr := codec.NewStreamReader(api)
	d, err := flac.NewDecoder(sr)
	if err != nil {
		return fmt.Errorf("read FLAC stream info: %w", err)
	}

	format := codec.Format{
		SampleRate:    d.SampleRate,
		Channels:      d.NChannels,
		BitsPerSample: d.BitsPerSample,
	}
	api.Configure(format)
	block := int64(format.Channels * max(format.BitsPerSample/8, 1))
	c := newClock(format)
	var skip int64

	for !api.Interrupted() {
		if ms := api.SeekTime(); ms != 0 {
			if !api.Seek(0) {
				api.SeekComplete()
				return nil
			}
			if d, err = flac.NewDecoder(sr); err != nil {
				api.SeekComplete()
				return fmt.Errorf("restart FLAC stream: %w", err)
			}
			skip = (ms - 1) * c.bytesPerSec / 1000 / block * block
			c.reset(0)
			api.SeekComplete()
		}

		frame, err := d.Next()
		if err != nil {
			if isEOF(err) {
				return nil
			}
			return fmt.Errorf("decode FLAC frame: %w", err)
		}
		if skip > 0 {
			drop := min(skip, int64(len(frame)))
			skip -= drop
			c.produced += drop
			frame = frame[drop:]
		}
		insert(api, &c, frame)
	}
	return nil
}
