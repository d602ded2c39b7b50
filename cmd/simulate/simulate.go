package simulate

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/buffplayer/internal/app"
	"github.com/tphakala/buffplayer/internal/conf"
	"github.com/tphakala/buffplayer/internal/playback"
	"github.com/tphakala/buffplayer/internal/source"
)

type options struct {
	app       app.Options
	duration  time.Duration
	frequency float64
	amplitude float64
}

// Command creates the simulate command, which plays a test tone through the
// simulated DAC and reports ring statistics.
func Command(settings *conf.Settings) *cobra.Command {
	opts := options{}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Play a test tone through the simulated DAC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format := playback.Format{
				SampleRate:    settings.Audio.SampleRate,
				Channels:      settings.Audio.Channels,
				BitsPerSample: settings.Audio.BitsPerSample,
			}
			tone, err := source.NewTone(format, opts.frequency, opts.amplitude, opts.duration)
			if err != nil {
				return err
			}

			// simulate always targets the simulated device
			simSettings := *settings
			simSettings.Audio.Device = conf.DeviceSimulated

			ctx, stop := app.WithSignals(cmd.Context(), 0)
			defer stop()

			res, err := app.Play(ctx, &simSettings, tone, opts.app)
			if err != nil {
				return err
			}

			printStats(cmd.OutOrStdout(), res)
			return nil
		},
	}

	setupFlags(cmd, &opts)

	return cmd
}

func setupFlags(cmd *cobra.Command, opts *options) {
	cmd.Flags().DurationVarP(&opts.duration, "duration", "t", 2*time.Second, "Length of the generated tone")
	cmd.Flags().Float64VarP(&opts.frequency, "frequency", "f", 440, "Tone frequency in Hz")
	cmd.Flags().Float64Var(&opts.amplitude, "amplitude", 0.5, "Tone amplitude between 0 and 1")
	cmd.Flags().Float64Var(&opts.app.Speed, "speed", 1, "Device speed factor, above 1 runs faster than real time")
	cmd.Flags().StringVarP(&opts.app.TapPath, "tap", "o", "", "Write the simulated output to this WAV file")
}

func printStats(w io.Writer, res app.Result) {
	fmt.Fprintf(w, "stream       %s\n", res.Stats.StreamID)
	fmt.Fprintf(w, "capacity     %d\n", res.Stats.Capacity)
	fmt.Fprintf(w, "blocks       %d (%d frames)\n", res.Blocks, res.Frames)
	fmt.Fprintf(w, "retries      %d\n", res.Retries)
	fmt.Fprintf(w, "submitted    %d\n", res.Stats.Submitted)
	fmt.Fprintf(w, "completed    %d\n", res.Stats.Completed)
	fmt.Fprintf(w, "transfers    %d\n", res.Transfers)
	fmt.Fprintf(w, "underruns    %d\n", res.Stats.Underruns)
	fmt.Fprintf(w, "duration     %s\n", res.Duration.Round(time.Millisecond))
	if res.TapWritten > 0 || res.TapDropped > 0 {
		fmt.Fprintf(w, "tap          %d bytes written, %d dropped\n", res.TapWritten, res.TapDropped)
	}
}
