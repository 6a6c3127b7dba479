package codecs

import (
	"fmt"

	"github.com/hajimehoshi/go-mp3"

	"github.com/tphakala/go-playback/internal/codec"
)

// mp3Decoder plays MPEG audio. Output is always 16-bit stereo. It also
// serves the voice overlay.
type mp3Decoder struct{}

func (m *mp3Decoder) Run(api codec.API) error {
	return runTracks("mp3", api, decodeMP3)
}

func decodeMP3(api codec.API) error {
	src := plainReader{r: codec.NewStreamReader(api)}
	d, err := mp3.NewDecoder(src)
	if err != nil {
		if isEOF(err) {
			return nil
		}
		return fmt.Errorf("open MPEG stream: %w", err)
	}

	format := codec.Format{SampleRate: d.SampleRate(), Channels: 2, BitsPerSample: 16}
	api.Configure(format)
	c := newClock(format)
	buf := make([]byte, pcmChunk)

	for !api.Interrupted() {
		if ms := api.SeekTime(); ms != 0 {
			// the decoder resyncs on the first frame header after the target
			api.Seek(api.Track().FilePosForTime(ms - 1))
			c.reset(ms - 1)
			d, err = mp3.NewDecoder(src)
			api.SeekComplete()
			if err != nil {
				if isEOF(err) {
					return nil
				}
				return fmt.Errorf("resync MPEG stream: %w", err)
			}
		}

		n, err := d.Read(buf)
		insert(api, &c, buf[:n&^3])
		if err != nil {
			if isEOF(err) {
				return nil
			}
			return fmt.Errorf("decode MPEG frame: %w", err)
		}
	}
	return nil
}
