package playback

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tphakala/go-playback/internal/metadata"
)

func TestMarginSeconds(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 5, MarginSeconds(0))
	assert.Equal(t, 60, MarginSeconds(3))
	assert.Equal(t, 600, MarginSeconds(7))
	assert.Equal(t, 5, MarginSeconds(-1), "clamped to the first entry")
	assert.Equal(t, 600, MarginSeconds(100), "clamped to the last entry")
}

func TestUpdateWatermark(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		bitrate int
		base    int
		want    int
	}{
		{name: "no track keeps the minimum", bitrate: 0, base: 1000, want: 1000},
		{name: "low bitrate covers the margin", bitrate: 1, base: 100, want: 5 * 125},
		{name: "high bitrate capped at half the ring", bitrate: 320, base: 100, want: 4 << 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			o, _ := newTestEngine(t, testConfig(), newTestEnv())
			if tt.bitrate > 0 {
				o.slots.Current().Track = &metadata.Track{Bitrate: tt.bitrate}
			}
			o.watermark = tt.base
			o.updateWatermark()
			assert.Equal(t, tt.want, o.watermark)
		})
	}
}

func TestSetBufferMargin(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.BufferSize = 1 << 20
	p := newTestPlayer(t, cfg, newTestEnv())

	p.SetWatermark(2000)
	assert.Equal(t, 2000, p.Watermark())

	p.s.mu.Lock()
	p.s.slots.Current().Track = &metadata.Track{Bitrate: 8}
	p.s.mu.Unlock()

	p.SetBufferMargin(2)
	assert.Equal(t, 30*8*125, p.Watermark())
}
