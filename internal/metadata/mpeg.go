package metadata

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"unicode/utf16"
)

// maxSyncScan bounds the search for the first frame header after the tag
const maxSyncScan = 64 * 1024

// maxID3v2Size bounds how much of a leading tag is read for text frames
const maxID3v2Size = 1 << 20

var mpegBitrates = [2][3][16]int{
	{ // MPEG 1, layers 1..3
		{0, 32, 64, 96, 128, 160, 192, 224, 256, 288, 320, 352, 384, 416, 448, 0},
		{0, 32, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 384, 0},
		{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0},
	},
	{ // MPEG 2 and 2.5
		{0, 32, 48, 56, 64, 80, 96, 112, 128, 144, 160, 176, 192, 224, 256, 0},
		{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0},
		{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0},
	},
}

var mpegRates = map[byte][3]int{
	3: {44100, 48000, 32000}, // MPEG 1
	2: {22050, 24000, 16000}, // MPEG 2
	0: {11025, 12000, 8000},  // MPEG 2.5
}

func isFrameSync(b0, b1 byte) bool {
	return b0 == 0xFF && b1&0xE0 == 0xE0
}

type frameHeader struct {
	codec     CodecType
	bitrate   int
	frequency int
	channels  int
}

func parseFrameHeader(h []byte) (frameHeader, bool) {
	if len(h) < 4 || !isFrameSync(h[0], h[1]) {
		return frameHeader{}, false
	}
	version := (h[1] >> 3) & 0x03
	layerBits := (h[1] >> 1) & 0x03
	bitrateIdx := h[2] >> 4
	rateIdx := (h[2] >> 2) & 0x03
	if version == 1 || layerBits == 0 || bitrateIdx == 0 || bitrateIdx == 15 || rateIdx == 3 {
		return frameHeader{}, false
	}

	layer := 4 - int(layerBits) // 1..3
	table := 0
	if version != 3 {
		table = 1
	}

	fh := frameHeader{
		codec:     []CodecType{CodecMP1, CodecMP2, CodecMP3}[layer-1],
		bitrate:   mpegBitrates[table][layer-1][bitrateIdx],
		frequency: mpegRates[version][rateIdx],
		channels:  2,
	}
	if h[3]>>6 == 3 {
		fh.channels = 1
	}
	return fh, true
}

func syncsafe(b []byte) int64 {
	return int64(b[0]&0x7F)<<21 | int64(b[1]&0x7F)<<14 | int64(b[2]&0x7F)<<7 | int64(b[3]&0x7F)
}

func inspectMPEG(r io.ReadSeeker, t *Track, v1First bool) error {
	var v2 id3Fields
	var start int64

	hdr := make([]byte, 10)
	n, err := readAt(r, hdr, 0)
	if err != nil {
		return err
	}
	if n == 10 && bytes.Equal(hdr[:3], []byte("ID3")) {
		tagSize := syncsafe(hdr[6:10])
		start = 10 + tagSize
		if hdr[5]&0x10 != 0 {
			start += 10 // footer
		}
		if tagSize <= maxID3v2Size {
			body := make([]byte, tagSize)
			if m, err := readAt(r, body, 10); err == nil {
				v2 = parseID3v2Frames(body[:m], hdr[3])
			}
		}
	}

	scan := make([]byte, min(int64(maxSyncScan), max(t.FileSize-start, 0)))
	m, err := readAt(r, scan, start)
	if err != nil {
		return err
	}
	scan = scan[:m]

	var fh frameHeader
	found := false
	for i := 0; i+4 <= len(scan); i++ {
		if h, ok := parseFrameHeader(scan[i : i+4]); ok {
			fh, found = h, true
			start += int64(i)
			break
		}
	}
	if !found {
		return ErrTruncated
	}

	t.Codec = fh.codec
	t.Bitrate = fh.bitrate
	t.Frequency = fh.frequency
	t.Channels = fh.channels
	t.BitsPerSample = 16
	t.FirstFrameOffset = start

	var v1 id3Fields
	if t.FileSize >= ID3v1Size {
		tag := make([]byte, ID3v1Size)
		if k, err := readAt(r, tag, t.FileSize-ID3v1Size); err == nil && k == ID3v1Size && bytes.Equal(tag[:3], []byte("TAG")) {
			t.ID3v1Len = ID3v1Size
			v1 = id3Fields{
				title:  trimID3v1(tag[3:33]),
				artist: trimID3v1(tag[33:63]),
				album:  trimID3v1(tag[63:93]),
			}
		}
	}

	if audio := t.FileSize - start - int64(t.ID3v1Len); audio > 0 && t.Bitrate > 0 {
		t.Length = audio * 8 / int64(t.Bitrate)
	}

	first, second := v2, v1
	if v1First {
		first, second = v1, v2
	}
	t.Title = firstNonEmpty(first.title, second.title)
	t.Artist = firstNonEmpty(first.artist, second.artist)
	t.Album = firstNonEmpty(first.album, second.album)
	return nil
}

type id3Fields struct {
	title, artist, album string
}

func parseID3v2Frames(body []byte, version byte) id3Fields {
	var f id3Fields
	if version < 3 {
		return f
	}
	for pos := 0; pos+10 <= len(body); {
		id := string(body[pos : pos+4])
		if id[0] == 0 {
			break
		}
		var size int64
		if version >= 4 {
			size = syncsafe(body[pos+4 : pos+8])
		} else {
			size = int64(binary.BigEndian.Uint32(body[pos+4 : pos+8]))
		}
		pos += 10
		if size <= 0 || int64(pos)+size > int64(len(body)) {
			break
		}
		frame := body[pos : pos+int(size)]
		pos += int(size)

		switch id {
		case "TIT2":
			f.title = decodeID3Text(frame)
		case "TPE1":
			f.artist = decodeID3Text(frame)
		case "TALB":
			f.album = decodeID3Text(frame)
		}
	}
	return f
}

func decodeID3Text(frame []byte) string {
	if len(frame) < 2 {
		return ""
	}
	enc, text := frame[0], frame[1:]
	switch enc {
	case 1, 2: // UTF-16 with BOM, UTF-16BE
		order := binary.ByteOrder(binary.BigEndian)
		if enc == 1 && len(text) >= 2 {
			if text[0] == 0xFF && text[1] == 0xFE {
				order = binary.LittleEndian
			}
			text = text[2:]
		}
		units := make([]uint16, 0, len(text)/2)
		for i := 0; i+1 < len(text); i += 2 {
			u := order.Uint16(text[i:])
			if u == 0 {
				break
			}
			units = append(units, u)
		}
		return string(utf16.Decode(units))
	case 3:
		return strings.TrimRight(string(text), "\x00")
	default:
		runes := make([]rune, 0, len(text))
		for _, b := range text {
			if b == 0 {
				break
			}
			runes = append(runes, rune(b))
		}
		return string(runes)
	}
}

func trimID3v1(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return strings.TrimSpace(string(b))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
