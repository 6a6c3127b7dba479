// validate.go: settings validation
package conf

import (
	"strings"

	"github.com/tphakala/go-playback/internal/errors"
	"github.com/tphakala/go-playback/internal/playback"
)

// Crossfade setting values
const (
	CrossfadeOff    = "off"
	CrossfadeAlways = "always"
	CrossfadeManual = "manual"
)

// Output sinks
const (
	SinkWAV  = "wav"
	SinkNull = "null"
)

func marginCount() int {
	return playback.MarginCount
}

// ParseCrossfade maps a crossfade setting to the engine mode
func ParseCrossfade(value string) (playback.CrossfadeMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", CrossfadeOff:
		return playback.CrossfadeOff, nil
	case CrossfadeAlways:
		return playback.CrossfadeAlways, nil
	case CrossfadeManual:
		return playback.CrossfadeManualOnly, nil
	}
	return playback.CrossfadeOff, errors.Newf("unknown crossfade mode %q, want %s, %s or %s",
		value, CrossfadeOff, CrossfadeAlways, CrossfadeManual).
		Component(componentConf).
		Category(errors.CategoryValidation).
		Build()
}

// ValidateSettings checks settings for values the engine cannot run with.
// All problems are reported in a single joined error.
func ValidateSettings(s *Settings) error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, errors.Newf(format, args...).
			Component(componentConf).
			Category(errors.CategoryValidation).
			Build())
	}

	p := &s.Playback
	if p.BufferSize < 0 {
		invalid("playback.buffersize must not be negative, got %d", p.BufferSize)
	}
	if p.BufferSize > 0 && p.GuardSize >= p.BufferSize {
		invalid("playback.guardsize %d must be smaller than playback.buffersize %d", p.GuardSize, p.BufferSize)
	}
	if p.MaxTracks != 0 && p.MaxTracks < 2 {
		invalid("playback.maxtracks must be at least 2, got %d", p.MaxTracks)
	}
	if p.BufferMargin < 0 || p.BufferMargin >= marginCount() {
		invalid("playback.buffermargin must be between 0 and %d, got %d", marginCount()-1, p.BufferMargin)
	}
	if _, err := ParseCrossfade(p.Crossfade); err != nil {
		errs = append(errs, err)
	}

	o := &s.Output
	if o.SampleRate <= 0 {
		invalid("output.samplerate must be positive, got %d", o.SampleRate)
	}
	if o.Channels != 1 && o.Channels != 2 {
		invalid("output.channels must be 1 or 2, got %d", o.Channels)
	}
	if o.BitsPerSample != 16 {
		invalid("output.bitspersample must be 16, got %d", o.BitsPerSample)
	}
	switch strings.ToLower(o.Sink) {
	case SinkNull:
	case SinkWAV:
		if o.Path == "" {
			invalid("output.path is required for the wav sink")
		}
	default:
		invalid("output.sink must be %s or %s, got %q", SinkWAV, SinkNull, o.Sink)
	}

	if s.Codecs.Dir == "" {
		invalid("codecs.dir must be set")
	}
	if s.Metrics.Enabled && s.Metrics.Listen == "" {
		invalid("metrics.listen is required when metrics are enabled")
	}
	if s.Sentry.Enabled && s.Sentry.DSN == "" {
		invalid("sentry.dsn is required when sentry is enabled")
	}

	return errors.Join(errs...)
}
