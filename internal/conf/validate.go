// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"slices"
	"strings"
)

// MaxCapacity is the largest descriptor ring accepted in configuration.
const MaxCapacity = 4096

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	ve.Errors = append(ve.Errors, validateAudioSettings(&settings.Audio)...)
	ve.Errors = append(ve.Errors, validatePlaybackSettings(&settings.Playback, settings.BytesPerFrame())...)

	if settings.Telemetry.Enabled {
		if _, _, err := net.SplitHostPort(settings.Telemetry.Listen); err != nil {
			ve.Errors = append(ve.Errors, fmt.Sprintf("telemetry listen address %q is not host:port", settings.Telemetry.Listen))
		}
	}

	if settings.Sentry.Enabled && settings.Sentry.DSN == "" {
		ve.Errors = append(ve.Errors, "sentry dsn is required when sentry is enabled")
	}

	if !isValidLogLevel(settings.Logging.Level) {
		ve.Errors = append(ve.Errors, fmt.Sprintf("unknown log level %q", settings.Logging.Level))
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

// validateAudioSettings validates the stream format and device selection
func validateAudioSettings(settings *AudioSettings) []string {
	var errs []string

	if settings.SampleRate < 8000 || settings.SampleRate > 384000 {
		errs = append(errs, fmt.Sprintf("audio sample rate must be between 8000 and 384000, got %d", settings.SampleRate))
	}

	if settings.Channels < 1 || settings.Channels > 8 {
		errs = append(errs, fmt.Sprintf("audio channels must be between 1 and 8, got %d", settings.Channels))
	}

	if !slices.Contains([]int{8, 16, 24, 32}, settings.BitsPerSample) {
		errs = append(errs, fmt.Sprintf("audio bits per sample must be 8, 16, 24 or 32, got %d", settings.BitsPerSample))
	}

	if settings.SwapChannels && settings.Channels != 2 {
		errs = append(errs, "audio channel swap requires stereo")
	}

	switch settings.Device {
	case DeviceSimulated, DeviceMalgo:
	default:
		errs = append(errs, fmt.Sprintf("audio device must be %q or %q, got %q", DeviceSimulated, DeviceMalgo, settings.Device))
	}

	if settings.Tap.Enabled {
		if strings.TrimSpace(settings.Tap.Path) == "" {
			errs = append(errs, "audio tap path is required when the tap is enabled")
		}
		if settings.Tap.Size <= 0 {
			errs = append(errs, "audio tap size must be greater than zero")
		}
	}

	return errs
}

// validatePlaybackSettings validates ring and arena sizing against the frame size
func validatePlaybackSettings(settings *PlaybackSettings, bytesPerFrame int) []string {
	var errs []string

	if settings.Capacity < 1 || settings.Capacity > MaxCapacity {
		errs = append(errs, fmt.Sprintf("playback capacity must be between 1 and %d, got %d", MaxCapacity, settings.Capacity))
	}

	if settings.Arena.Start < 0 {
		errs = append(errs, "playback arena start must not be negative")
	}

	if settings.Arena.Size <= 0 {
		errs = append(errs, "playback arena size must be greater than zero")
	}

	if settings.BlockFrames <= 0 {
		errs = append(errs, "playback block frames must be greater than zero")
	} else if bytesPerFrame > 0 && settings.BlockFrames*bytesPerFrame > settings.Arena.Size {
		errs = append(errs, fmt.Sprintf("playback block of %d frames (%d bytes) does not fit the %d byte arena",
			settings.BlockFrames, settings.BlockFrames*bytesPerFrame, settings.Arena.Size))
	}

	if settings.FlushTimeout < 0 {
		errs = append(errs, "playback flush timeout must not be negative")
	}

	return errs
}

func isValidLogLevel(level string) bool {
	switch level {
	case "trace", "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}
