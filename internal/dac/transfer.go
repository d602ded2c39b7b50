package dac

import (
	"github.com/tphakala/buffplayer/internal/errors"
	"github.com/tphakala/buffplayer/internal/logger"
)

const componentDAC = "dac"

var (
	ErrInvalidFormat = errors.NewStd("invalid output format")
	ErrClosed        = errors.NewStd("device closed")
)

// GetLogger returns the dac package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("dac")
}

// transfer is one block handed to a peripheral.
type transfer struct {
	block  []byte
	frames int
}

// sameBlock reports whether a and b are the same arena block.
func sameBlock(a, b []byte) bool {
	return len(a) > 0 && len(a) == len(b) && &a[0] == &b[0]
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
