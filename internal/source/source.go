// Package source provides PCM inputs for the player: decoded audio files and
// a generated test tone. Every source yields interleaved little-endian frames
// at its own bit depth.
package source

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/tphakala/buffplayer/internal/errors"
	"github.com/tphakala/buffplayer/internal/logger"
	"github.com/tphakala/buffplayer/internal/playback"
)

const componentSource = "source"

var (
	ErrUnsupportedFormat = errors.NewStd("unsupported audio format")
	ErrInvalidFile       = errors.NewStd("invalid audio file")
)

// Source is a finite stream of PCM frames.
type Source interface {
	playback.FrameReader
	Format() playback.Format
	Close() error
}

// GetLogger returns the source package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("source")
}

// Open picks a decoder from the file extension.
func Open(path string) (Source, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".wav":
		s, err := OpenWAV(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case ".flac":
		s, err := OpenFLAC(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, errors.New(ErrUnsupportedFormat).
			Component(componentSource).
			Category(errors.CategoryValidation).
			Context("operation", "open").
			Context("extension", ext).
			Build()
	}
}

func openFile(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		var size int64
		if fi, serr := os.Stat(path); serr == nil {
			size = fi.Size()
		}
		return nil, errors.New(err).
			Component(componentSource).
			Category(errors.CategoryFileIO).
			Context("operation", "open").
			FileContext(path, size).
			Build()
	}
	return f, nil
}

func invalidFile(op, path, reason string) error {
	return errors.New(ErrInvalidFile).
		Component(componentSource).
		Category(errors.CategoryFileParsing).
		Context("operation", op).
		Context("path", path).
		Context("reason", reason).
		Build()
}

func validateFormat(op, path string, f playback.Format) error {
	switch {
	case f.SampleRate <= 0:
		return invalidFile(op, path, "sample rate")
	case f.Channels != 1 && f.Channels != 2:
		return invalidFile(op, path, "channel count")
	case f.BitsPerSample != 16 && f.BitsPerSample != 24 && f.BitsPerSample != 32:
		return invalidFile(op, path, "bit depth")
	}
	return nil
}
