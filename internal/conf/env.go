// env.go - Environment variable configuration and validation for buffplayer
package conf

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "BUFFPLAYER_DEBUG", validateEnvBool},

		// Playback core
		{"playback.capacity", "BUFFPLAYER_PLAYBACK_CAPACITY", validateEnvPositiveInt},
		{"playback.block_frames", "BUFFPLAYER_PLAYBACK_BLOCK_FRAMES", validateEnvPositiveInt},
		{"playback.flush_timeout", "BUFFPLAYER_PLAYBACK_FLUSH_TIMEOUT", validateEnvDuration},
		{"playback.arena.start", "BUFFPLAYER_PLAYBACK_ARENA_START", validateEnvNonNegativeInt},
		{"playback.arena.size", "BUFFPLAYER_PLAYBACK_ARENA_SIZE", validateEnvPositiveInt},

		// Audio format and device
		{"audio.sample_rate", "BUFFPLAYER_AUDIO_SAMPLE_RATE", validateEnvPositiveInt},
		{"audio.channels", "BUFFPLAYER_AUDIO_CHANNELS", validateEnvPositiveInt},
		{"audio.bits_per_sample", "BUFFPLAYER_AUDIO_BITS_PER_SAMPLE", validateEnvPositiveInt},
		{"audio.swap_channels", "BUFFPLAYER_AUDIO_SWAP_CHANNELS", validateEnvBool},
		{"audio.device", "BUFFPLAYER_AUDIO_DEVICE", validateEnvDevice},
		{"audio.device_name", "BUFFPLAYER_AUDIO_DEVICE_NAME", nil},
		{"audio.tap.enabled", "BUFFPLAYER_AUDIO_TAP_ENABLED", validateEnvBool},
		{"audio.tap.path", "BUFFPLAYER_AUDIO_TAP_PATH", nil},
		{"audio.tap.size", "BUFFPLAYER_AUDIO_TAP_SIZE", validateEnvPositiveInt},

		// Observability
		{"telemetry.enabled", "BUFFPLAYER_TELEMETRY_ENABLED", validateEnvBool},
		{"telemetry.listen", "BUFFPLAYER_TELEMETRY_LISTEN", validateEnvListen},
		{"sentry.enabled", "BUFFPLAYER_SENTRY_ENABLED", validateEnvBool},
		{"sentry.dsn", "BUFFPLAYER_SENTRY_DSN", nil},
		{"logging.level", "BUFFPLAYER_LOGGING_LEVEL", validateEnvLogLevel},
		{"logging.file", "BUFFPLAYER_LOGGING_FILE", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

// Environment variable validation functions

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0, t/f", value)
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n <= 0 {
		return fmt.Errorf("must be greater than zero, got %d", n)
	}
	return nil
}

func validateEnvNonNegativeInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n < 0 {
		return fmt.Errorf("must not be negative, got %d", n)
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration, expected e.g. '10s' or '500ms': %w", err)
	}
	if d < 0 {
		return fmt.Errorf("duration must not be negative, got %s", d)
	}
	return nil
}

func validateEnvDevice(value string) error {
	switch value {
	case DeviceSimulated, DeviceMalgo:
		return nil
	default:
		return fmt.Errorf("device must be %q or %q", DeviceSimulated, DeviceMalgo)
	}
}

func validateEnvListen(value string) error {
	if _, _, err := net.SplitHostPort(value); err != nil {
		return fmt.Errorf("listen address must be host:port: %w", err)
	}
	return nil
}

func validateEnvLogLevel(value string) error {
	if !isValidLogLevel(value) {
		return fmt.Errorf("log level must be one of trace, debug, info, warn, error")
	}
	return nil
}
