// config.go: settings struct and functions to load and save the buffplayer configuration.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/buffplayer/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// Supported output devices
const (
	DeviceSimulated = "simulated"
	DeviceMalgo     = "malgo"
)

// ArenaSettings describes the sample arena shared by all queued blocks.
type ArenaSettings struct {
	Start int `yaml:"start" mapstructure:"start"` // base address of the arena
	Size  int `yaml:"size" mapstructure:"size"`   // arena size in bytes
}

// PlaybackSettings contains settings for the buffered player core.
type PlaybackSettings struct {
	Capacity     int           `yaml:"capacity" mapstructure:"capacity"`           // descriptor ring slots
	BlockFrames  int           `yaml:"block_frames" mapstructure:"block_frames"`   // frames per produced block
	FlushTimeout time.Duration `yaml:"flush_timeout" mapstructure:"flush_timeout"` // bound for a draining flush
	Arena        ArenaSettings `yaml:"arena" mapstructure:"arena"`
}

// TapSettings configures the optional WAV capture of everything sent to the device.
type TapSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
	Size    int    `yaml:"size" mapstructure:"size"` // ring size in bytes between callback and writer
}

// AudioSettings contains the stream format and output device selection.
type AudioSettings struct {
	SampleRate    int         `yaml:"sample_rate" mapstructure:"sample_rate"`
	Channels      int         `yaml:"channels" mapstructure:"channels"`
	BitsPerSample int         `yaml:"bits_per_sample" mapstructure:"bits_per_sample"`
	SwapChannels  bool        `yaml:"swap_channels" mapstructure:"swap_channels"`
	Device        string      `yaml:"device" mapstructure:"device"`           // simulated or malgo
	DeviceName    string      `yaml:"device_name" mapstructure:"device_name"` // malgo device, empty for default
	Tap           TapSettings `yaml:"tap" mapstructure:"tap"`
}

// TelemetrySettings controls the prometheus endpoint.
type TelemetrySettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"`
}

// SentrySettings controls error reporting.
type SentrySettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	DSN     string `yaml:"dsn" mapstructure:"dsn"`
}

// LoggingSettings is the user facing subset of logger.LoggingConfig.
type LoggingSettings struct {
	Level string `yaml:"level" mapstructure:"level"`
	File  string `yaml:"file" mapstructure:"file"` // JSON log file, empty disables
}

// Settings contains all configuration options for buffplayer.
type Settings struct {
	Debug     bool              `yaml:"debug" mapstructure:"debug"`
	Playback  PlaybackSettings  `yaml:"playback" mapstructure:"playback"`
	Audio     AudioSettings     `yaml:"audio" mapstructure:"audio"`
	Telemetry TelemetrySettings `yaml:"telemetry" mapstructure:"telemetry"`
	Sentry    SentrySettings    `yaml:"sentry" mapstructure:"sentry"`
	Logging   LoggingSettings   `yaml:"logging" mapstructure:"logging"`
}

// BytesPerFrame returns the size of one interleaved frame in bytes.
func (s *Settings) BytesPerFrame() int {
	return s.Audio.Channels * ((s.Audio.BitsPerSample + 7) / 8)
}

// LoggingConfig converts the logging section into a logger configuration.
func (s *Settings) LoggingConfig() *logger.LoggingConfig {
	level := s.Logging.Level
	if s.Debug {
		level = string(logger.LogLevelDebug)
	}

	cfg := &logger.LoggingConfig{
		DefaultLevel: level,
		Console:      &logger.ConsoleOutput{Enabled: true, Level: level},
	}
	if s.Logging.File != "" {
		cfg.FileOutput = &logger.FileOutput{Enabled: true, Path: s.Logging.File, Level: level}
	}
	return cfg
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables using the global viper instance.
func Load() (*Settings, error) {
	paths, err := GetDefaultConfigPaths()
	if err != nil {
		return nil, err
	}

	settings, err := load(viper.GetViper(), paths)
	if err != nil {
		return nil, err
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()

	return settings, nil
}

// load applies defaults, config file and environment to v and decodes the result.
func load(v *viper.Viper, configPaths []string) (*Settings, error) {
	if err := initViper(v, configPaths); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	return settings, nil
}

// initViper initializes viper with default values and reads the configuration file.
// A missing config file is not an error; defaults and environment still apply.
func initViper(v *viper.Viper, configPaths []string) error {
	if v.ConfigFileUsed() == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, path := range configPaths {
			v.AddConfigPath(path)
		}
	}

	setDefaultConfig(v)

	if err := bindEnvVars(v); err != nil {
		return err
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			GetLogger().Debug("no config file found, using defaults")
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	GetLogger().Debug("loaded config file", logger.String("path", v.ConfigFileUsed()))
	return nil
}

// DefaultConfig returns the embedded, commented default configuration file.
func DefaultConfig() ([]byte, error) {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("error reading embedded config: %w", err)
	}
	return data, nil
}

// WriteDefaultConfig writes the embedded default configuration to configPath.
// An existing file is left untouched.
func WriteDefaultConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file %s already exists", configPath)
	}

	data, err := DefaultConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o644); err != nil { //nolint:gosec // config is not secret
		return fmt.Errorf("error writing default config file: %w", err)
	}
	return nil
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAMLConfig writes settings to configPath, replacing the file atomically.
// Comments and ordering of an existing file are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		// cross-device rename, e.g. temp dir on another filesystem
		if err := moveFile(tempFileName, configPath); err != nil {
			return fmt.Errorf("error copying config file: %w", err)
		}
	}

	return nil
}
