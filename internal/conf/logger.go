// Package conf provides configuration management for buffplayer.
package conf

import "github.com/tphakala/buffplayer/internal/logger"

// GetLogger returns the config package logger scoped to the config module.
// It is resolved on each call so it follows logger.SetGlobal.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
