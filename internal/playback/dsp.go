package playback

import (
	"encoding/binary"

	"github.com/go-audio/audio"

	"github.com/tphakala/go-playback/internal/codec"
)

// decodeSamples unpacks little-endian PCM of the given format
func decodeSamples(src []byte, f codec.Format) *audio.IntBuffer {
	bytesPer := max(f.BitsPerSample/8, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: max(f.Channels, 1), SampleRate: f.SampleRate},
		Data:           make([]int, 0, len(src)/bytesPer),
		SourceBitDepth: f.BitsPerSample,
	}
	for i := 0; i+bytesPer <= len(src); i += bytesPer {
		var v int
		switch bytesPer {
		case 1:
			v = int(src[i]) - 128
		case 2:
			v = int(int16(binary.LittleEndian.Uint16(src[i:])))
		case 3:
			v = int(int32(uint32(src[i])<<8|uint32(src[i+1])<<16|uint32(src[i+2])<<24) >> 8)
		default:
			v = int(int32(binary.LittleEndian.Uint32(src[i:])))
		}
		buf.Data = append(buf.Data, v)
	}
	return buf
}

// to16 scales a sample of the given depth to 16 bits
func to16(v, depth int) int16 {
	switch {
	case depth > 16:
		return int16(v >> (depth - 16))
	case depth < 16:
		return int16(v << (16 - depth))
	default:
		return int16(v)
	}
}

// convertPCM appends src, produced in format from, to dst in the output's
// layout. Only 16-bit output is produced; channel counts are matched by
// duplicating or averaging.
func convertPCM(dst, src []byte, from, to codec.Format) []byte {
	if from.BitsPerSample == 0 || (from.BitsPerSample == to.BitsPerSample && from.Channels == to.Channels) {
		return append(dst, src...)
	}

	buf := decodeSamples(src, from)
	inCh := buf.Format.NumChannels
	outCh := max(to.Channels, 1)
	frames := buf.NumFrames()

	var sample [2]byte
	for fr := range frames {
		frame := buf.Data[fr*inCh : fr*inCh+inCh]
		for ch := range outCh {
			var v int
			switch {
			case inCh == outCh:
				v = frame[ch]
			case outCh < inCh:
				for _, s := range frame {
					v += s
				}
				v /= inCh
			default:
				v = frame[min(ch, inCh-1)]
			}
			binary.LittleEndian.PutUint16(sample[:], uint16(to16(v, buf.SourceBitDepth)))
			dst = append(dst, sample[:]...)
		}
	}
	return dst
}

// interleave16 merges two planar 16-bit channels
func interleave16(left, right []byte) []byte {
	n := min(len(left), len(right)) &^ 1
	out := make([]byte, 0, n*2)
	for i := 0; i < n; i += 2 {
		out = append(out, left[i], left[i+1], right[i], right[i+1])
	}
	return out
}
