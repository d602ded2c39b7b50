package telemetry

import (
	"os"
	"strings"

	"github.com/tphakala/buffplayer/internal/conf"
	"github.com/tphakala/buffplayer/internal/errors"
)

// newMessageScrubber hides the capture path and the operator's home directory
// in reported error messages.
func newMessageScrubber(settings *conf.Settings) errors.PrivacyScrubber {
	var pairs []string
	if p := settings.Audio.Tap.Path; p != "" {
		pairs = append(pairs, p, "[TAP_PATH]")
	}
	if home, err := os.UserHomeDir(); err == nil && len(home) > 1 {
		pairs = append(pairs, home, "~")
	}
	if len(pairs) == 0 {
		return nil
	}
	r := strings.NewReplacer(pairs...)
	return r.Replace
}
