// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("playback.capacity", 64)
	v.SetDefault("playback.block_frames", 1024)
	v.SetDefault("playback.flush_timeout", 10*time.Second)
	v.SetDefault("playback.arena.start", 0)
	v.SetDefault("playback.arena.size", 1<<20)

	v.SetDefault("audio.sample_rate", 48000)
	v.SetDefault("audio.channels", 2)
	v.SetDefault("audio.bits_per_sample", 16)
	v.SetDefault("audio.swap_channels", false)
	v.SetDefault("audio.device", DeviceSimulated)
	v.SetDefault("audio.device_name", "")
	v.SetDefault("audio.tap.enabled", false)
	v.SetDefault("audio.tap.path", "tap.wav")
	v.SetDefault("audio.tap.size", 256*1024)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.listen", "localhost:9090")

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
}
