// env.go: environment variable overrides
package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/go-playback/internal/errors"
)

const envPrefix = "GOPLAYBACK"

// envBinding ties a config key to an environment variable
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns the explicitly validated environment variables
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "GOPLAYBACK_DEBUG", validateEnvBool},

		// Buffering engine
		{"playback.buffersize", "GOPLAYBACK_PLAYBACK_BUFFERSIZE", validateEnvSize},
		{"playback.watermark", "GOPLAYBACK_PLAYBACK_WATERMARK", validateEnvSize},
		{"playback.buffermargin", "GOPLAYBACK_PLAYBACK_BUFFERMARGIN", validateEnvMargin},
		{"playback.crossfade", "GOPLAYBACK_PLAYBACK_CROSSFADE", validateEnvCrossfade},
		{"playback.voice", "GOPLAYBACK_PLAYBACK_VOICE", validateEnvBool},

		// Output
		{"output.samplerate", "GOPLAYBACK_OUTPUT_SAMPLERATE", validateEnvSize},
		{"output.buffer", "GOPLAYBACK_OUTPUT_BUFFER", validateEnvDuration},
		{"output.realtime", "GOPLAYBACK_OUTPUT_REALTIME", validateEnvBool},
		{"output.sink", "GOPLAYBACK_OUTPUT_SINK", validateEnvSink},
		{"output.path", "GOPLAYBACK_OUTPUT_PATH", nil},

		{"codecs.dir", "GOPLAYBACK_CODECS_DIR", nil},
		{"playlist.path", "GOPLAYBACK_PLAYLIST_PATH", nil},
		{"playlist.watch", "GOPLAYBACK_PLAYLIST_WATCH", validateEnvBool},

		{"metrics.enabled", "GOPLAYBACK_METRICS_ENABLED", validateEnvBool},
		{"metrics.listen", "GOPLAYBACK_METRICS_LISTEN", nil},
		{"sentry.enabled", "GOPLAYBACK_SENTRY_ENABLED", validateEnvBool},
		{"sentry.dsn", "GOPLAYBACK_SENTRY_DSN", nil},
	}
}

// configureEnvironmentVariables enables GOPLAYBACK_ prefixed overrides for
// every key and validates the explicitly bound ones
func configureEnvironmentVariables() error {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	return bindEnvVars()
}

// bindEnvVars binds and validates the environment variables. Invalid values
// are reported together; valid ones stay bound.
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if value := os.Getenv(binding.EnvVar); value != "" {
			if err := binding.Validate(value); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s value %q: %v", binding.EnvVar, value, err))
			}
		}
	}

	if len(warnings) > 0 {
		return errors.Newf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - ")).
			Component(componentConf).
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return errors.NewStd("must be true or false")
	}
	return nil
}

func validateEnvSize(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return errors.NewStd("must be a non-negative integer")
	}
	return nil
}

func validateEnvMargin(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 || n >= marginCount() {
		return errors.Newf("must be between 0 and %d", marginCount()-1).Build()
	}
	return nil
}

func validateEnvDuration(value string) error {
	if _, err := time.ParseDuration(value); err != nil {
		return errors.NewStd("must be a duration such as 500ms or 2s")
	}
	return nil
}

func validateEnvCrossfade(value string) error {
	_, err := ParseCrossfade(value)
	return err
}

func validateEnvSink(value string) error {
	switch strings.ToLower(value) {
	case SinkWAV, SinkNull:
		return nil
	}
	return errors.Newf("must be %s or %s", SinkWAV, SinkNull).Build()
}
