// Package codectest provides an in-memory codec.API for decoder tests.
package codectest

import (
	"sync"

	"github.com/tphakala/go-playback/internal/codec"
	"github.com/tphakala/go-playback/internal/metadata"
)

// API serves one or more tracks from memory and records inserted PCM
type API struct {
	mu      sync.Mutex
	tracks  [][]byte
	infos   []*metadata.Track
	current int
	pos     int64
	seekMs  int64
	stopped bool
	memory  []byte

	Format    codec.Format
	PCM       [][]byte // per track
	Elapsed   int64
	Offset    int64
	Discards  int
	Seeks     int
	SameCodec bool // answer for RequestNextTrack when another track exists
}

var _ codec.API = (*API)(nil)

// New creates an API over the given track payloads
func New(tracks ...[]byte) *API {
	a := &API{tracks: tracks, memory: make([]byte, 4096), SameCodec: true}
	for range tracks {
		a.infos = append(a.infos, &metadata.Track{})
		a.PCM = append(a.PCM, nil)
	}
	return a
}

// SetTrack sets the metadata served for track i
func (a *API) SetTrack(i int, t *metadata.Track) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.infos[i] = t
}

// RequestSeek queues a seek to ms
func (a *API) RequestSeek(ms int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seekMs = ms + 1
}

// Stop makes Stopped report true
func (a *API) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
}

// Current returns the index of the track being decoded
func (a *API) Current() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *API) data() []byte {
	return a.tracks[a.current]
}

func (a *API) Read(p []byte) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return 0
	}
	n := copy(p, a.data()[a.pos:])
	a.pos += int64(n)
	return n
}

func (a *API) RequestBuffer(limit int) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return nil
	}
	end := min(a.pos+int64(limit), int64(len(a.data())))
	return a.data()[a.pos:end]
}

func (a *API) Advance(n int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pos = min(a.pos+n, int64(len(a.data())))
}

func (a *API) Seek(pos int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if size := int64(len(a.data())); pos >= size {
		pos = max(size-1, 0)
	}
	a.pos = pos
	a.Seeks++
	return true
}

func (a *API) RequestNextTrack() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current+1 >= len(a.tracks) {
		return false
	}
	a.current++
	a.pos = 0
	return a.SameCodec
}

func (a *API) DiscardCodec() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Discards++
}

func (a *API) SetElapsed(ms int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Elapsed = ms
}

func (a *API) SetOffset(pos int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Offset = pos
}

func (a *API) SeekTime() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.seekMs
}

func (a *API) SeekComplete() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seekMs = 0
}

func (a *API) Configure(f codec.Format) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Format = f
}

func (a *API) Insert(pcm []byte) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.PCM[a.current] = append(a.PCM[a.current], pcm...)
	return !a.stopped
}

func (a *API) InsertSplit(left, right []byte) bool {
	inter := make([]byte, 0, len(left)+len(right))
	for i := 0; i+1 < len(left) && i+1 < len(right); i += 2 {
		inter = append(inter, left[i], left[i+1], right[i], right[i+1])
	}
	return a.Insert(inter)
}

func (a *API) Stopped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopped
}

func (a *API) Interrupted() bool {
	return a.Stopped()
}

func (a *API) Track() *metadata.Track {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.infos[a.current]
}

func (a *API) FileSize() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int64(len(a.data()))
}

func (a *API) CurPos() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pos
}

func (a *API) Memory() []byte {
	return a.memory
}
