// Package observability provides Prometheus metrics functionality for monitoring buffplayer.
package observability

import "github.com/tphakala/buffplayer/internal/logger"

// GetLogger returns the observability package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("telemetry")
}
