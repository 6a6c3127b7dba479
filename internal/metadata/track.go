// Package metadata extracts track information from audio files and defines
// the Track record shared by the playback engine and decoders.
package metadata

import (
	"path/filepath"
	"strings"
)

// CodecType identifies the decoder a track needs
type CodecType int

const (
	CodecUnknown CodecType = iota
	CodecMP1
	CodecMP2
	CodecMP3
	CodecFLAC
	CodecPCM
	CodecVorbis
)

var codecNames = map[CodecType]string{
	CodecUnknown: "unknown",
	CodecMP1:     "mp1",
	CodecMP2:     "mp2",
	CodecMP3:     "mp3",
	CodecFLAC:    "flac",
	CodecPCM:     "wav",
	CodecVorbis:  "vorbis",
}

func (c CodecType) String() string {
	if name, ok := codecNames[c]; ok {
		return name
	}
	return "unknown"
}

// Base returns the codec whose decoder image handles c. All MPEG audio
// layers are decoded by the layer 3 decoder.
func (c CodecType) Base() CodecType {
	switch c {
	case CodecMP1, CodecMP2:
		return CodecMP3
	default:
		return c
	}
}

// ID3v1Size is the size of a trailing ID3v1 tag
const ID3v1Size = 128

// Track describes one playlist entry once its file has been inspected
type Track struct {
	Path   string
	Title  string
	Artist string
	Album  string

	Codec         CodecType
	Bitrate       int // kbit/s
	Frequency     int // Hz
	Channels      int
	BitsPerSample int
	VBR           bool

	Length           int64 // ms
	FileSize         int64 // bytes, reduced when a trailing tag is stripped
	FirstFrameOffset int64 // bytes of header before the first audio frame
	ID3v1Len         int   // trailing tag length found by the parser

	// Playback position, maintained by the engine
	Elapsed int64 // ms
	Offset  int64 // bytes
}

// Clone returns a copy of t
func (t *Track) Clone() *Track {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// DisplayTitle returns the title or, when missing, the file name without extension
func (t *Track) DisplayTitle() string {
	if t.Title != "" {
		return t.Title
	}
	base := filepath.Base(t.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ResetPosition clears elapsed time and byte offset
func (t *Track) ResetPosition() {
	t.Elapsed = 0
	t.Offset = 0
}

// FilePosForTime converts a play time to a byte position in the file,
// assuming a constant bitrate after the first frame.
func (t *Track) FilePosForTime(ms int64) int64 {
	if t.Bitrate <= 0 {
		return t.FirstFrameOffset
	}
	pos := t.FirstFrameOffset + ms*int64(t.Bitrate)/8
	if t.FileSize > 0 && pos >= t.FileSize {
		pos = t.FileSize - 1
	}
	return pos
}

// TimeForFilePos converts a byte position in the file to play time
func (t *Track) TimeForFilePos(pos int64) int64 {
	if t.Bitrate <= 0 || pos <= t.FirstFrameOffset {
		return 0
	}
	return (pos - t.FirstFrameOffset) * 8 / int64(t.Bitrate)
}

// FromPath builds a minimal record from a file name. It backs queries for
// tracks whose tags have not been parsed yet.
func FromPath(path string) *Track {
	t := &Track{Path: path, Codec: CodecFromExtension(path)}
	t.Title = t.DisplayTitle()
	return t
}

// CodecFromExtension guesses the codec from a file extension
func CodecFromExtension(path string) CodecType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp1":
		return CodecMP1
	case ".mp2":
		return CodecMP2
	case ".mp3":
		return CodecMP3
	case ".flac":
		return CodecFLAC
	case ".wav", ".wave":
		return CodecPCM
	case ".ogg", ".oga":
		return CodecVorbis
	default:
		return CodecUnknown
	}
}
