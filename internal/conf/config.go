// config.go: settings model and loading for go-playback
package conf

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/go-playback/internal/errors"
	"github.com/tphakala/go-playback/internal/logger"
)

// Settings is the complete application configuration
type Settings struct {
	Debug bool `yaml:"debug" mapstructure:"debug"` // true to enable debug mode

	Playback PlaybackSettings     `yaml:"playback" mapstructure:"playback"`
	Output   OutputSettings       `yaml:"output" mapstructure:"output"`
	Codecs   CodecSettings        `yaml:"codecs" mapstructure:"codecs"`
	Playlist PlaylistSettings     `yaml:"playlist" mapstructure:"playlist"`
	Logging  logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Metrics  MetricsSettings      `yaml:"metrics" mapstructure:"metrics"`
	Sentry   SentrySettings       `yaml:"sentry" mapstructure:"sentry"`
}

// PlaybackSettings holds the buffering engine tunables
type PlaybackSettings struct {
	BufferSize   int           `yaml:"buffersize" mapstructure:"buffersize"` // ring capacity in bytes, 0 sizes it from free memory
	GuardSize    int           `yaml:"guardsize" mapstructure:"guardsize"`
	MaxTracks    int           `yaml:"maxtracks" mapstructure:"maxtracks"`
	Watermark    int           `yaml:"watermark" mapstructure:"watermark"` // minimum refill watermark in bytes
	FileChunk    int           `yaml:"filechunk" mapstructure:"filechunk"`
	CriticalLow  int           `yaml:"criticallow" mapstructure:"criticallow"`
	PreseekGuess int           `yaml:"preseekguess" mapstructure:"preseekguess"`
	BufferMargin int           `yaml:"buffermargin" mapstructure:"buffermargin"` // index into 5s, 15s, 30s, 1m, 2m, 3m, 5m, 10m
	Crossfade    string        `yaml:"crossfade" mapstructure:"crossfade"`       // off, always or manual
	Voice        bool          `yaml:"voice" mapstructure:"voice"`
	ID3v1First   bool          `yaml:"id3v1first" mapstructure:"id3v1first"`
	IdleWake     time.Duration `yaml:"idlewake" mapstructure:"idlewake"`
	YieldTick    time.Duration `yaml:"yieldtick" mapstructure:"yieldtick"`
}

// OutputSettings configures the PCM output stage
type OutputSettings struct {
	SampleRate    int           `yaml:"samplerate" mapstructure:"samplerate"`
	Channels      int           `yaml:"channels" mapstructure:"channels"`
	BitsPerSample int           `yaml:"bitspersample" mapstructure:"bitspersample"`
	Buffer        time.Duration `yaml:"buffer" mapstructure:"buffer"`           // music ring length
	VoiceBuffer   time.Duration `yaml:"voicebuffer" mapstructure:"voicebuffer"` // voice mix ring length
	FadeDuration  time.Duration `yaml:"fadeduration" mapstructure:"fadeduration"`
	Realtime      bool          `yaml:"realtime" mapstructure:"realtime"` // pace output at the sample rate
	Sink          string        `yaml:"sink" mapstructure:"sink"`         // wav or null
	Path          string        `yaml:"path" mapstructure:"path"`         // wav sink file
}

// CodecSettings locates the decoder images
type CodecSettings struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// PlaylistSettings selects what to play
type PlaylistSettings struct {
	Path      string `yaml:"path" mapstructure:"path"` // directory, m3u file or single track
	Recursive bool   `yaml:"recursive" mapstructure:"recursive"`
	Watch     bool   `yaml:"watch" mapstructure:"watch"` // reload on file system changes
}

// MetricsSettings configures the prometheus endpoint
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"` // host:port
}

// SentrySettings configures error telemetry
type SentrySettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	DSN     string `yaml:"dsn" mapstructure:"dsn"`
}

const configName = "config"

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads configFile, or the first config.yaml found in the default
// paths when configFile is empty, applies defaults and environment
// overrides and validates the result.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(configFile); err != nil {
		return nil, err
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component(componentConf).
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal_config").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}

	settingsInstance = settings
	return settings, nil
}

// initViper sets defaults and reads the configuration file if one exists
func initViper(configFile string) error {
	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		GetLogger().Warn("environment overrides ignored", logger.Error(err))
	}

	viper.SetConfigType("yaml")
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName(configName)
		for _, path := range GetDefaultConfigPaths() {
			viper.AddConfigPath(path)
		}
	}

	err := viper.ReadInConfig()
	if err == nil {
		GetLogger().Debug("config file loaded", logger.String("path", viper.ConfigFileUsed()))
		return nil
	}

	var notFound viper.ConfigFileNotFoundError
	if configFile == "" && errors.As(err, &notFound) {
		GetLogger().Debug("no config file found, using defaults")
		return nil
	}
	return errors.New(err).
		Component(componentConf).
		Category(errors.CategoryConfiguration).
		Context("operation", "read_config").
		Context("path", configFile).
		Build()
}

// GetSettings returns the settings from the last successful Load
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// ConfigFileUsed returns the path of the loaded config file, if any
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

// SaveYAML writes settings to configPath. The file is written to a temporary
// file next to configPath first and then moved into place.
func SaveYAML(configPath string, settings *Settings) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return errors.New(err).
			Component(componentConf).
			Category(errors.CategoryConfiguration).
			Context("operation", "marshal_config").
			Build()
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fileError(err, "create_config_dir", dir)
	}

	tempFile, err := os.CreateTemp(dir, "config-*.yaml")
	if err != nil {
		return fileError(err, "create_temp_config", dir)
	}
	tempName := tempFile.Name()
	defer os.Remove(tempName)

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fileError(err, "write_temp_config", tempName)
	}
	if err := tempFile.Close(); err != nil {
		return fileError(err, "close_temp_config", tempName)
	}

	if err := moveFile(tempName, configPath); err != nil {
		return fileError(err, "move_config", configPath)
	}

	GetLogger().Info("configuration saved", logger.String("path", configPath))
	return nil
}

// Defaults returns the settings produced by an empty configuration
func Defaults() *Settings {
	v := viper.New()
	applyDefaults(v)
	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		GetLogger().Error("default settings do not decode", logger.Error(err))
	}
	return settings
}

func fileError(err error, operation, path string) error {
	return errors.New(err).
		Component(componentConf).
		Category(errors.CategoryFileIO).
		Context("operation", operation).
		Context("path", path).
		Build()
}
