// defaults.go: default configuration values
package conf

import (
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/go-playback/internal/logger"
	"github.com/tphakala/go-playback/internal/playback"
	"github.com/tphakala/go-playback/internal/trackslot"
)

// setDefaultConfig sets default values on the global viper instance
func setDefaultConfig() {
	applyDefaults(viper.GetViper())
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)

	// Buffering engine, buffersize 0 selects a size from available memory
	v.SetDefault("playback.buffersize", 0)
	v.SetDefault("playback.guardsize", playback.DefaultGuardSize)
	v.SetDefault("playback.maxtracks", trackslot.DefaultSlots)
	v.SetDefault("playback.watermark", playback.DefaultWatermark)
	v.SetDefault("playback.filechunk", playback.DefaultFileChunk)
	v.SetDefault("playback.criticallow", playback.DefaultCriticalLow)
	v.SetDefault("playback.preseekguess", playback.DefaultPreseekGuess)
	v.SetDefault("playback.buffermargin", 0)
	v.SetDefault("playback.crossfade", CrossfadeOff)
	v.SetDefault("playback.voice", false)
	v.SetDefault("playback.id3v1first", false)
	v.SetDefault("playback.idlewake", playback.DefaultIdleWake)
	v.SetDefault("playback.yieldtick", playback.DefaultYieldTick)

	// Output stage
	v.SetDefault("output.samplerate", 44100)
	v.SetDefault("output.channels", 2)
	v.SetDefault("output.bitspersample", 16)
	v.SetDefault("output.buffer", 2*time.Second)
	v.SetDefault("output.voicebuffer", 500*time.Millisecond)
	v.SetDefault("output.fadeduration", time.Second)
	v.SetDefault("output.realtime", true)
	v.SetDefault("output.sink", SinkWAV)
	v.SetDefault("output.path", "output/playback.wav")

	v.SetDefault("codecs.dir", "codecs")

	v.SetDefault("playlist.path", ".")
	v.SetDefault("playlist.recursive", true)
	v.SetDefault("playlist.watch", false)

	v.SetDefault("logging.default_level", logger.DefaultLogLevel)
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", logger.DefaultConsoleEnabled)
	v.SetDefault("logging.console.level", logger.DefaultLogLevel)
	v.SetDefault("logging.file_output.enabled", logger.DefaultFileEnabled)
	v.SetDefault("logging.file_output.path", logger.DefaultLogPath)
	v.SetDefault("logging.file_output.level", logger.DefaultLogLevel)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "localhost:9090")

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
}
