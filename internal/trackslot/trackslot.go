// Package trackslot implements the fixed ring of per-track buffering records
// that index the playback ring buffer.
package trackslot

import (
	"github.com/tphakala/go-playback/internal/metadata"
)

// DefaultSlots is the number of tracks that can be buffered at once
const DefaultSlots = 32

// Slot records how much of one track is buffered and where it lives in the ring
type Slot struct {
	FileSize      int64 // bytes of audio in the file, after any trailing tag strip
	FileRemaining int64 // bytes still on disk
	Available     int64 // bytes in the ring not yet consumed by the decoder
	BufStart      int   // ring offset of the track's first buffered byte
	CodecStart    int   // ring offset of the buffered decoder image
	CodecSize     int   // size of the buffered decoder image, 0 if none
	HasCodec      bool  // decoder image still resident in the ring
	TagReady      bool  // Track has been parsed
	StartPos      int64 // file offset of BufStart, non-zero after a seek or overlap
	EventSent     bool  // buffered notification delivered
	Track         *metadata.Track
}

// Reset returns the slot to its empty state
func (s *Slot) Reset() {
	*s = Slot{}
}

// Bytes returns the ring footprint of the whole track: decoder image plus audio
func (s *Slot) Bytes() int64 {
	return int64(s.CodecSize) + s.FileSize
}

// Empty reports whether the slot describes no track
func (s *Slot) Empty() bool {
	return s.FileSize == 0 && !s.TagReady
}

// Ring is a circular array of slots addressed by a read index, the playing
// track, and a write index, the track being filled.
type Ring struct {
	slots []Slot
	read  int
	write int
}

// New creates a ring with n slots. n below 2 falls back to DefaultSlots.
func New(n int) *Ring {
	if n < 2 {
		n = DefaultSlots
	}
	return &Ring{slots: make([]Slot, n)}
}

// Len returns the number of slots
func (r *Ring) Len() int {
	return len(r.slots)
}

// Read returns the read index
func (r *Ring) Read() int {
	return r.read
}

// Write returns the write index
func (r *Ring) Write() int {
	return r.write
}

// SetRead moves the read index. Used by track transitions.
func (r *Ring) SetRead(i int) {
	r.read = r.wrap(i)
}

// SetWrite moves the write index. Used by rebuffer and seek.
func (r *Ring) SetWrite(i int) {
	r.write = r.wrap(i)
}

// At returns the slot at index i
func (r *Ring) At(i int) *Slot {
	return &r.slots[r.wrap(i)]
}

// Current returns the slot at the read index
func (r *Ring) Current() *Slot {
	return &r.slots[r.read]
}

// Filling returns the slot at the write index
func (r *Ring) Filling() *Slot {
	return &r.slots[r.write]
}

// Next returns the index after i
func (r *Ring) Next(i int) int {
	return r.wrap(i + 1)
}

// Prev returns the index before i
func (r *Ring) Prev(i int) int {
	return r.wrap(i - 1)
}

func (r *Ring) wrap(i int) int {
	n := len(r.slots)
	i %= n
	if i < 0 {
		i += n
	}
	return i
}

// AdvanceWrite moves the write index to the next slot and returns it
func (r *Ring) AdvanceWrite() int {
	r.write = r.Next(r.write)
	return r.write
}

// AdvanceRead moves the read index to the next slot and returns it
func (r *Ring) AdvanceRead() int {
	r.read = r.Next(r.read)
	return r.read
}

// HaveBuffered reports whether any track is buffered
func (r *Ring) HaveBuffered() bool {
	return r.read != r.write || r.slots[r.read].FileSize != 0
}

// FreeSlotAvailable reports whether the write index can advance. The slot
// after the write index stays reserved for the next track's metadata, so the
// ring is full when the write index sits one slot behind the read index.
func (r *Ring) FreeSlotAvailable() bool {
	if r.write < r.read {
		return r.write+1 < r.read
	}
	if r.read == 0 {
		return r.write < len(r.slots)-1
	}
	return true
}

// TrackCount returns the number of buffered tracks from read to write inclusive
func (r *Ring) TrackCount() int {
	if !r.HaveBuffered() {
		return 0
	}
	return r.wrap(r.write-r.read) + 1
}

// CountBytesBetween sums decoder image and audio sizes of the slots strictly
// between from and to, walking forward from from.
func (r *Ring) CountBytesBetween(from, to int) int64 {
	var total int64
	if r.wrap(from) == r.wrap(to) {
		return 0
	}
	for i := r.Next(from); i != r.wrap(to); i = r.Next(i) {
		total += r.slots[i].Bytes()
	}
	return total
}

// Reset empties every slot and moves both indices to zero
func (r *Ring) Reset() {
	for i := range r.slots {
		r.slots[i].Reset()
	}
	r.read = 0
	r.write = 0
}
