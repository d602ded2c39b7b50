// Package configcmd implements the config command.
package configcmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/buffplayer/internal/conf"
)

type options struct {
	write   bool
	save    bool
	path    string
	example bool
}

// Command creates the config command for printing or writing configuration.
func Command(settings *conf.Settings) *cobra.Command {
	opts := options{}

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print or write the configuration",
		Long: `Without flags the effective configuration, after merging the config file,
environment and command line flags, is printed as YAML.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			switch {
			case opts.example:
				data, err := conf.DefaultConfig()
				if err != nil {
					return err
				}
				_, err = out.Write(data)
				return err

			case opts.write || opts.save:
				path, err := targetPath(opts)
				if err != nil {
					return err
				}
				if opts.write {
					if err := conf.WriteDefaultConfig(path); err != nil {
						return err
					}
				} else if err := conf.SaveYAMLConfig(path, settings); err != nil {
					return err
				}
				fmt.Fprintf(out, "configuration written to %s\n", path)
				return nil
			}

			data, err := yaml.Marshal(settings)
			if err != nil {
				return fmt.Errorf("error marshaling settings: %w", err)
			}
			_, err = out.Write(data)
			return err
		},
	}

	setupFlags(cmd, &opts)

	return cmd
}

func setupFlags(cmd *cobra.Command, opts *options) {
	cmd.Flags().BoolVar(&opts.example, "example", false, "Print the commented default configuration")
	cmd.Flags().BoolVarP(&opts.write, "write", "w", false, "Write the default configuration file")
	cmd.Flags().BoolVar(&opts.save, "save", false, "Save the effective configuration, overwriting the file")
	cmd.Flags().StringVarP(&opts.path, "path", "p", "", "Config file path, defaults to the file in use or the user config directory")
	cmd.MarkFlagsMutuallyExclusive("example", "write", "save")
}

// targetPath picks the file to write. Saving prefers the config file in use.
func targetPath(opts options) (string, error) {
	if opts.path != "" {
		return opts.path, nil
	}
	if opts.save {
		if path, err := conf.FindConfigFile(); err == nil {
			return path, nil
		}
	}
	return conf.UserConfigPath()
}
