package play

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/buffplayer/internal/app"
	"github.com/tphakala/buffplayer/internal/conf"
	"github.com/tphakala/buffplayer/internal/source"
)

// Command creates the play command for streaming a WAV or FLAC file.
func Command(settings *conf.Settings) *cobra.Command {
	var opts app.Options

	cmd := &cobra.Command{
		Use:   "play [input.wav|input.flac]",
		Short: "Play an audio file",
		Long:  `Decode a WAV or FLAC file and stream it through the buffered player to the selected output device.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := source.Open(args[0])
			if err != nil {
				return err
			}
			defer src.Close()

			ctx, stop := app.WithSignals(cmd.Context(), 0)
			defer stop()

			res, err := app.Play(ctx, settings, src, opts)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "played %d frames in %d blocks (%s), %d underruns\n",
				res.Frames, res.Blocks, res.Duration.Round(time.Millisecond), res.Stats.Underruns)
			return nil
		},
	}

	setupFlags(cmd, &opts)

	return cmd
}

func setupFlags(cmd *cobra.Command, opts *app.Options) {
	cmd.Flags().StringVarP(&opts.TapPath, "tap", "o", "", "Also write the played audio to this WAV file")
	cmd.Flags().Float64Var(&opts.Speed, "speed", 1, "Playback speed factor for the simulated device")
}
