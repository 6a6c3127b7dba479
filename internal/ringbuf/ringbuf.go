// Package ringbuf implements the shared byte ring that holds prefetched track
// data and decoder images.
//
// The ring has two cursors. The write cursor belongs to the Writer handle and
// the read cursor to the Reader handle; New hands out exactly one of each, so
// the goroutine holding a handle is the only one able to move its cursor. A
// guard region past the end of storage lets Reader.Span return a short
// wrapping span as one contiguous slice.
package ringbuf

import (
	"io"
	"sync/atomic"

	"github.com/tphakala/go-playback/internal/errors"
)

const componentRingbuf = "ringbuf"

// Buffer is the storage shared by a Writer and a Reader
type Buffer struct {
	data     []byte // capacity + guard bytes
	capacity int
	guard    int
	read     atomic.Int64
	write    atomic.Int64
	// retracted bytes just past the write cursor; they displaced history
	stale atomic.Int64
}

// New allocates a ring of capacity bytes with a guard region of guard bytes
// and returns its two cursor handles.
func New(capacity, guard int) (*Writer, *Reader, error) {
	if capacity <= 1 {
		return nil, nil, errors.Newf("invalid ring capacity: %d", capacity).
			Component(componentRingbuf).
			Category(errors.CategoryValidation).
			Build()
	}
	if guard < 0 || guard > capacity {
		return nil, nil, errors.Newf("invalid guard size %d for capacity %d", guard, capacity).
			Component(componentRingbuf).
			Category(errors.CategoryValidation).
			Build()
	}

	b := &Buffer{
		data:     make([]byte, capacity+guard),
		capacity: capacity,
		guard:    guard,
	}
	return &Writer{Buffer: b}, &Reader{Buffer: b}, nil
}

// Capacity returns the usable size of the ring
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Guard returns the size of the wrap guard region
func (b *Buffer) Guard() int {
	return b.guard
}

// Add returns pos moved forward by n, modulo capacity
func (b *Buffer) Add(pos, n int) int {
	r := (pos + n) % b.capacity
	if r < 0 {
		r += b.capacity
	}
	return r
}

// Sub returns pos moved backward by n, modulo capacity
func (b *Buffer) Sub(pos, n int) int {
	return b.Add(pos, -n)
}

// ReadPos returns the read cursor
func (b *Buffer) ReadPos() int {
	return int(b.read.Load())
}

// WritePos returns the write cursor
func (b *Buffer) WritePos() int {
	return int(b.write.Load())
}

// Used returns the number of bytes between the read and write cursors
func (b *Buffer) Used() int {
	return b.Sub(b.WritePos(), b.ReadPos())
}

// Behind returns the number of bytes behind the read cursor that have not
// been overwritten yet, the history available for rewinding. An empty ring
// has the whole storage behind its read cursor. Bytes dropped by Retract are
// not history. Rewinding by the full amount lands on the write cursor and
// empties the ring, so callers rewind by less.
func (b *Buffer) Behind() int {
	n := b.Sub(b.ReadPos(), b.WritePos())
	if n == 0 {
		n = b.capacity
	}
	return max(n-int(b.stale.Load()), 0)
}

// Free returns how many bytes can be written without the write cursor
// catching the read cursor. One byte stays reserved so a full ring is never
// mistaken for an empty one.
func (b *Buffer) Free() int {
	return b.capacity - b.Used() - 1
}

// CopyAt copies len(dst) bytes starting at ring offset pos into dst,
// following the wrap. It does not move any cursor.
func (b *Buffer) CopyAt(dst []byte, pos int) int {
	n := min(len(dst), b.capacity)
	first := min(n, b.capacity-pos)
	copy(dst[:first], b.data[pos:pos+first])
	if first < n {
		copy(dst[first:n], b.data[:n-first])
	}
	return n
}

// Writer owns the write cursor. It is used by the fill side only.
type Writer struct {
	*Buffer
}

// Pos returns the write cursor
func (w *Writer) Pos() int {
	return w.WritePos()
}

// Contiguous returns how many bytes can be written at the cursor without
// wrapping and without passing the read cursor.
func (w *Writer) Contiguous() int {
	return min(w.capacity-w.Pos(), w.Free())
}

// Region exposes up to n bytes of storage at the write cursor without
// wrapping. Data written there becomes visible to the reader on Commit.
func (w *Writer) Region(n int) []byte {
	pos := w.Pos()
	n = min(n, w.capacity-pos)
	return w.data[pos : pos+n]
}

// Commit publishes n bytes written through Region
func (w *Writer) Commit(n int) {
	w.write.Store(int64(w.Add(w.Pos(), n)))
	w.stale.Store(max(w.stale.Load()-int64(n), 0))
}

// ReadFrom fills at most limit bytes of the contiguous region at the cursor
// from r and commits what was read. A short read at end of file is not an error.
func (w *Writer) ReadFrom(r io.Reader, limit int) (int, error) {
	region := w.Region(min(limit, w.Contiguous()))
	if len(region) == 0 {
		return 0, nil
	}
	n, err := io.ReadFull(r, region)
	if n > 0 {
		w.Commit(n)
	}
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		err = nil
	}
	return n, err
}

// Write copies p at the cursor following the wrap and commits it. The caller
// is responsible for making sure p fits in Free.
func (w *Writer) Write(p []byte) int {
	written := 0
	for written < len(p) {
		region := w.Region(len(p) - written)
		n := copy(region, p[written:])
		w.Commit(n)
		written += n
	}
	return written
}

// Retract moves the write cursor back by n bytes, dropping data that has not
// been consumed yet.
func (w *Writer) Retract(n int) {
	w.write.Store(int64(w.Sub(w.Pos(), n)))
	w.stale.Store(min(w.stale.Load()+int64(n), int64(w.capacity)))
}

// Reset moves both cursors to the start of storage. The reader must be
// parked while this runs.
func (w *Writer) Reset() {
	w.read.Store(0)
	w.write.Store(0)
	w.stale.Store(0)
}

// RepositionRead moves the read cursor on behalf of a parked reader. Buffer
// winding and rebuffering are the only callers.
func (w *Writer) RepositionRead(pos int) {
	w.read.Store(int64(w.Add(pos, 0)))
}

// Reader owns the read cursor. It is used by the decode side only.
type Reader struct {
	*Buffer
}

// Pos returns the read cursor
func (r *Reader) Pos() int {
	return r.ReadPos()
}

// Read copies up to len(p) buffered bytes into p following the wrap and
// advances the cursor.
func (r *Reader) Read(p []byte) int {
	n := min(len(p), r.Used())
	if n == 0 {
		return 0
	}
	r.CopyAt(p[:n], r.Pos())
	r.Advance(n)
	return n
}

// Span returns up to limit buffered bytes at the cursor as one contiguous
// slice without advancing. A span crossing the end of storage is stitched
// through the guard region when the wrapped part fits in it; otherwise the
// span is cut at the end of storage.
func (r *Reader) Span(limit int) []byte {
	pos := r.Pos()
	n := min(limit, r.Used())
	if n <= 0 {
		return nil
	}
	if pos+n > r.capacity {
		wrapped := pos + n - r.capacity
		if wrapped > r.guard {
			n = r.capacity - pos
		} else {
			copy(r.data[r.capacity:r.capacity+wrapped], r.data[:wrapped])
		}
	}
	return r.data[pos : pos+n]
}

// Advance moves the read cursor forward by n bytes
func (r *Reader) Advance(n int) {
	r.read.Store(int64(r.Add(r.Pos(), n)))
}

// Rewind moves the read cursor back by n bytes into retained history
func (r *Reader) Rewind(n int) {
	r.read.Store(int64(r.Sub(r.Pos(), n)))
}
