package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/buffplayer/cmd/configcmd"
	"github.com/tphakala/buffplayer/cmd/devices"
	"github.com/tphakala/buffplayer/cmd/play"
	"github.com/tphakala/buffplayer/cmd/simulate"
	"github.com/tphakala/buffplayer/internal/buildinfo"
	"github.com/tphakala/buffplayer/internal/conf"
	"github.com/tphakala/buffplayer/internal/logger"
	"github.com/tphakala/buffplayer/internal/telemetry"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings, info *buildinfo.Context) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "buffplayer",
		Version:       info.String(),
		Short:         "Lock-free buffered audio player",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	if err := setupFlags(rootCmd, settings); err != nil {
		// flag names are static, binding only fails on programmer error
		panic(err)
	}

	configCmd := configcmd.Command(settings)

	rootCmd.AddCommand(
		play.Command(settings),
		simulate.Command(settings),
		devices.Command(),
		configCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// config only reads and writes settings, it needs no logger or telemetry
		if cmd.Name() == configCmd.Name() {
			return nil
		}
		return initialize(settings, info)
	}

	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		telemetry.Flush()
		_ = logger.Global().Flush()
	}

	return rootCmd
}

// initialize validates the merged settings and sets up logging and telemetry
// before any subcommand runs.
func initialize(settings *conf.Settings, info *buildinfo.Context) error {
	if err := conf.ValidateSettings(settings); err != nil {
		return err
	}

	central, err := logger.NewCentralLogger(settings.LoggingConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.SetGlobal(central)

	if err := telemetry.InitSentry(settings, info); err != nil {
		// telemetry is optional, keep running without it
		logger.Global().Module("main").Warn("sentry initialization failed", logger.Error(err))
	}

	return nil
}

// setupFlags defines flags that are global to the command line interface.
// Defaults come from the already loaded settings so that flags only override
// what was set explicitly.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	flags := rootCmd.PersistentFlags()

	flags.BoolVarP(&settings.Debug, "debug", "d", settings.Debug, "Enable debug output")
	flags.StringVar(&settings.Logging.Level, "log-level", settings.Logging.Level, "Log level: trace, debug, info, warn, error")
	flags.StringVar(&settings.Audio.Device, "device", settings.Audio.Device, "Output device: simulated or malgo")
	flags.StringVar(&settings.Audio.DeviceName, "device-name", settings.Audio.DeviceName, "Name of the malgo playback device, empty for default")
	flags.IntVarP(&settings.Playback.Capacity, "capacity", "n", settings.Playback.Capacity, "Descriptor ring capacity")
	flags.IntVar(&settings.Playback.BlockFrames, "block-frames", settings.Playback.BlockFrames, "Frames per submitted block")
	flags.IntVar(&settings.Playback.Arena.Size, "arena-size", settings.Playback.Arena.Size, "Sample arena size in bytes")
	flags.DurationVar(&settings.Playback.FlushTimeout, "flush-timeout", settings.Playback.FlushTimeout, "Maximum wait for the queue to drain")
	flags.BoolVar(&settings.Audio.SwapChannels, "swap-channels", settings.Audio.SwapChannels, "Swap left and right channels on output")

	bindings := map[string]string{
		"debug":                  "debug",
		"logging.level":          "log-level",
		"audio.device":           "device",
		"audio.device_name":      "device-name",
		"playback.capacity":      "capacity",
		"playback.block_frames":  "block-frames",
		"playback.arena.size":    "arena-size",
		"playback.flush_timeout": "flush-timeout",
		"audio.swap_channels":    "swap-channels",
	}
	for key, name := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", name, err)
		}
	}

	return nil
}
