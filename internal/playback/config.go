package playback

import (
	"time"

	"github.com/tphakala/go-playback/internal/errors"
	"github.com/tphakala/go-playback/internal/trackslot"
)

// Default sizes
const (
	DefaultBufferSize   = 2 << 20
	DefaultGuardSize    = 32 << 10
	DefaultWatermark    = 512 << 10
	DefaultFileChunk    = 32 << 10
	DefaultCriticalLow  = 128 << 10
	DefaultPreseekGuess = 32 << 10
	DefaultCodeRegion   = 48 << 10
	DefaultDataRegion   = 256 << 10
	DefaultIdleWake     = 500 * time.Millisecond
	DefaultYieldTick    = 10 * time.Millisecond
)

// CrossfadeMode selects when track changes crossfade
type CrossfadeMode int

const (
	CrossfadeOff CrossfadeMode = iota
	CrossfadeAlways
	// CrossfadeManualOnly fades on manual skips only
	CrossfadeManualOnly
)

// Config holds the engine tunables. Zero values select defaults.
type Config struct {
	BufferSize   int // ring capacity in bytes
	GuardSize    int // wrap guard region
	MaxTracks    int // track slots
	Watermark    int // minimum refill watermark
	FileChunk    int // largest single read from a track file
	CriticalLow  int // ring level below which the fill stops yielding to the decoder
	PreseekGuess int // bytes read before a rebuffered seek target
	BufferMargin int // index into the margin table
	Crossfade    CrossfadeMode
	Voice        bool
	V1First      bool // prefer ID3v1 over ID3v2 fields
	IdleWake     time.Duration
	YieldTick    time.Duration
	CodeRegion   int // execution context code region
	DataRegion   int // execution context data region, the decoder scratch memory
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.GuardSize <= 0 {
		c.GuardSize = DefaultGuardSize
	}
	c.GuardSize = min(c.GuardSize, c.BufferSize)
	if c.MaxTracks <= 0 {
		c.MaxTracks = trackslot.DefaultSlots
	}
	if c.Watermark <= 0 {
		c.Watermark = DefaultWatermark
	}
	if c.FileChunk <= 0 {
		c.FileChunk = DefaultFileChunk
	}
	if c.CriticalLow <= 0 {
		c.CriticalLow = DefaultCriticalLow
	}
	c.CriticalLow = min(c.CriticalLow, c.BufferSize/8)
	if c.PreseekGuess <= 0 {
		c.PreseekGuess = DefaultPreseekGuess
	}
	if c.CodeRegion <= 0 {
		c.CodeRegion = DefaultCodeRegion
	}
	if c.DataRegion <= 0 {
		c.DataRegion = DefaultDataRegion
	}
	if c.IdleWake <= 0 {
		c.IdleWake = DefaultIdleWake
	}
	if c.YieldTick <= 0 {
		c.YieldTick = DefaultYieldTick
	}
	return c
}

func (c Config) validate() error {
	if c.MaxTracks < 2 {
		return errors.Newf("max tracks must be at least 2, got %d", c.MaxTracks).
			Component(componentPlayback).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if c.BufferMargin < 0 || c.BufferMargin >= len(marginTable) {
		return errors.Newf("buffer margin index %d out of range", c.BufferMargin).
			Component(componentPlayback).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if c.Crossfade < CrossfadeOff || c.Crossfade > CrossfadeManualOnly {
		return errors.Newf("invalid crossfade mode %d", c.Crossfade).
			Component(componentPlayback).
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}
