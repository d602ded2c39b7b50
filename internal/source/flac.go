package source

import (
	"io"
	"os"

	"github.com/tphakala/flac"

	"github.com/tphakala/buffplayer/internal/errors"
	"github.com/tphakala/buffplayer/internal/logger"
	"github.com/tphakala/buffplayer/internal/playback"
)

// FLACSource decodes a FLAC file frame by frame. Decoded frames rarely line
// up with the caller's block size, so leftover bytes are carried over.
type FLACSource struct {
	file    *os.File
	decoder *flac.Decoder
	format  playback.Format
	total   int64
	pending []byte
	eof     bool
}

// OpenFLAC opens path and reads its stream info.
func OpenFLAC(path string) (*FLACSource, error) {
	file, err := openFile(path)
	if err != nil {
		return nil, err
	}

	decoder, err := flac.NewDecoder(file)
	if err != nil {
		_ = file.Close()
		return nil, errors.New(err).
			Component(componentSource).
			Category(errors.CategoryFileParsing).
			Context("operation", "open_flac").
			Context("path", path).
			Build()
	}

	format := playback.Format{
		SampleRate:    decoder.SampleRate,
		Channels:      decoder.NChannels,
		BitsPerSample: decoder.BitsPerSample,
	}
	if err := validateFormat("open_flac", path, format); err != nil {
		_ = file.Close()
		return nil, err
	}

	GetLogger().Debug("opened flac",
		logger.String("path", path),
		logger.String("format", format.String()),
		logger.Int64("total_samples", int64(decoder.TotalSamples)))

	return &FLACSource{
		file:    file,
		decoder: decoder,
		format:  format,
		total:   int64(decoder.TotalSamples),
	}, nil
}

func (s *FLACSource) Format() playback.Format { return s.format }

// TotalFrames returns the frame count from the stream header, 0 if unknown.
func (s *FLACSource) TotalFrames() int64 { return s.total }

// ReadFrames fills dst with whole frames, decoding as many FLAC frames as needed.
func (s *FLACSource) ReadFrames(dst []byte) (int, error) {
	bpf := s.format.BytesPerFrame()
	want := len(dst) / bpf * bpf
	n := 0

	for n < want {
		if len(s.pending) > 0 {
			c := copy(dst[n:want], s.pending)
			s.pending = s.pending[c:]
			n += c
			continue
		}
		if s.eof {
			break
		}

		frame, err := s.decoder.Next()
		if err == io.EOF {
			s.eof = true
			break
		}
		if err != nil {
			return n / bpf, errors.New(err).
				Component(componentSource).
				Category(errors.CategoryFileParsing).
				Context("operation", "read_flac").
				Build()
		}
		s.pending = frame
	}

	if n == 0 && s.eof {
		return 0, io.EOF
	}
	return n / bpf, nil
}

func (s *FLACSource) Close() error {
	return s.file.Close()
}
