package conf

import (
	"github.com/tphakala/go-playback/internal/codec"
	"github.com/tphakala/go-playback/internal/pcmout"
	"github.com/tphakala/go-playback/internal/playback"
)

// PlaybackConfig converts the playback section into an engine configuration.
// A zero buffer size is replaced by AutoBufferSize.
func (s *Settings) PlaybackConfig() (playback.Config, error) {
	p := s.Playback
	mode, err := ParseCrossfade(p.Crossfade)
	if err != nil {
		return playback.Config{}, err
	}

	size := p.BufferSize
	if size == 0 {
		size = AutoBufferSize()
	}

	return playback.Config{
		BufferSize:   size,
		GuardSize:    p.GuardSize,
		MaxTracks:    p.MaxTracks,
		Watermark:    p.Watermark,
		FileChunk:    p.FileChunk,
		CriticalLow:  p.CriticalLow,
		PreseekGuess: p.PreseekGuess,
		BufferMargin: p.BufferMargin,
		Crossfade:    mode,
		Voice:        p.Voice,
		V1First:      p.ID3v1First,
		IdleWake:     p.IdleWake,
		YieldTick:    p.YieldTick,
	}, nil
}

// OutputConfig converts the output section into an output stage
// configuration. Crossfading is enabled whenever the engine may request it.
func (s *Settings) OutputConfig() pcmout.Config {
	cfg := pcmout.DefaultConfig()
	o := s.Output

	cfg.Format = codec.Format{
		SampleRate:    o.SampleRate,
		Channels:      o.Channels,
		BitsPerSample: o.BitsPerSample,
	}
	if o.Buffer > 0 {
		cfg.BufferDuration = o.Buffer
	}
	if o.VoiceBuffer > 0 {
		cfg.VoiceDuration = o.VoiceBuffer
	}
	if o.FadeDuration > 0 {
		cfg.FadeDuration = o.FadeDuration
	}
	cfg.Realtime = o.Realtime

	mode, err := ParseCrossfade(s.Playback.Crossfade)
	cfg.Crossfade = err == nil && mode != playback.CrossfadeOff
	return cfg
}
