package playback

import (
	"github.com/tphakala/go-playback/internal/logger"
)

// marginTable holds the selectable buffer margins in seconds
var marginTable = [...]int{5, 15, 30, 60, 120, 180, 300, 600}

// MarginCount is the number of selectable buffer margins
const MarginCount = len(marginTable)

// MarginSeconds returns the margin in seconds for a table index
func MarginSeconds(index int) int {
	index = max(0, min(index, len(marginTable)-1))
	return marginTable[index]
}

// updateWatermark raises the watermark to cover margin seconds of the playing
// track's bitrate, never above half the ring. Caller holds s.mu.
func (s *session) updateWatermark() {
	bitrate := 0
	if t := s.slots.Current().Track; t != nil {
		bitrate = t.Bitrate
	}
	bytes := max(bitrate*s.marginSecs*(1000/8), s.watermark)
	bytes = min(bytes, s.ring.Capacity()/2)
	s.watermark = bytes
	s.metrics.SetWatermark(bytes)
}

// SetBufferMargin selects an entry of the margin table and recomputes the watermark
func (p *Player) SetBufferMargin(index int) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	p.s.marginSecs = MarginSeconds(index)
	p.s.updateWatermark()
	p.log.Debug("buffer margin changed", logger.Int("seconds", p.s.marginSecs))
}

// SetWatermark sets the minimum refill watermark, as a decoder would through
// its configure call.
func (p *Player) SetWatermark(bytes int) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	p.s.watermark = max(bytes, 0)
	p.s.updateWatermark()
}

// Watermark returns the current refill watermark
func (p *Player) Watermark() int {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	return p.s.watermark
}
