package main

import (
	"fmt"
	"os"

	"github.com/tphakala/buffplayer/cmd"
	"github.com/tphakala/buffplayer/internal/buildinfo"
	"github.com/tphakala/buffplayer/internal/conf"
)

// Set with -ldflags "-X main.version=... -X main.buildDate=..."
var (
	version   string
	buildDate string
)

func main() {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	rootCmd := cmd.RootCommand(settings, &buildinfo.Context{Version: version, BuildDate: buildDate})
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
