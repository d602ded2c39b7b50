package source

import (
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/buffplayer/internal/errors"
	"github.com/tphakala/buffplayer/internal/logger"
	"github.com/tphakala/buffplayer/internal/pcm"
	"github.com/tphakala/buffplayer/internal/playback"
)

// WAVSource decodes a PCM WAV file.
type WAVSource struct {
	file    *os.File
	decoder *wav.Decoder
	format  playback.Format
	buf     *audio.IntBuffer
	eof     bool
}

// OpenWAV opens path and reads its header.
func OpenWAV(path string) (*WAVSource, error) {
	file, err := openFile(path)
	if err != nil {
		return nil, err
	}

	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		_ = file.Close()
		return nil, invalidFile("open_wav", path, "not a valid WAV file")
	}

	format := playback.Format{
		SampleRate:    int(decoder.SampleRate),
		Channels:      int(decoder.NumChans),
		BitsPerSample: int(decoder.BitDepth),
	}
	if err := validateFormat("open_wav", path, format); err != nil {
		_ = file.Close()
		return nil, err
	}

	GetLogger().Debug("opened wav",
		logger.String("path", path),
		logger.String("format", format.String()))

	return &WAVSource{
		file:    file,
		decoder: decoder,
		format:  format,
		buf: &audio.IntBuffer{
			Format: &audio.Format{SampleRate: format.SampleRate, NumChannels: format.Channels},
		},
	}, nil
}

func (s *WAVSource) Format() playback.Format { return s.format }

// ReadFrames decodes up to len(dst) bytes worth of whole frames.
func (s *WAVSource) ReadFrames(dst []byte) (int, error) {
	if s.eof {
		return 0, io.EOF
	}

	bpf := s.format.BytesPerFrame()
	frames := len(dst) / bpf
	if frames == 0 {
		return 0, nil
	}

	want := frames * s.format.Channels
	if cap(s.buf.Data) < want {
		s.buf.Data = make([]int, want)
	}
	s.buf.Data = s.buf.Data[:want]

	n, err := s.decoder.PCMBuffer(s.buf)
	if err != nil {
		return 0, errors.New(err).
			Component(componentSource).
			Category(errors.CategoryFileParsing).
			Context("operation", "read_wav").
			Build()
	}
	if n == 0 {
		s.eof = true
		return 0, io.EOF
	}

	// drop a trailing partial frame
	n -= n % s.format.Channels
	if n == 0 {
		s.eof = true
		return 0, io.EOF
	}
	written, err := pcm.Encode(dst, s.buf.Data[:n], s.format.BitsPerSample)
	if err != nil {
		return 0, err
	}
	return written / bpf, nil
}

func (s *WAVSource) Close() error {
	return s.file.Close()
}
