package source

import (
	"io"
	"math"
	"time"

	"github.com/tphakala/buffplayer/internal/errors"
	"github.com/tphakala/buffplayer/internal/pcm"
	"github.com/tphakala/buffplayer/internal/playback"
)

// Tone generates a sine wave of fixed length. Every channel carries the same
// signal.
type Tone struct {
	format    playback.Format
	frequency float64
	amplitude float64
	total     int64
	pos       int64
	samples   []int
}

// NewTone returns a tone of the given frequency and duration. amplitude is a
// fraction of full scale in (0, 1].
func NewTone(format playback.Format, frequency, amplitude float64, duration time.Duration) (*Tone, error) {
	if format.SampleRate <= 0 || format.Channels <= 0 || !pcm.Supported(format.BitsPerSample) ||
		frequency <= 0 || amplitude <= 0 || amplitude > 1 || duration <= 0 {
		return nil, errors.Newf("invalid tone parameters").
			Component(componentSource).
			Category(errors.CategoryValidation).
			Context("format", format.String()).
			Context("frequency", frequency).
			Context("amplitude", amplitude).
			Context("duration", duration.String()).
			Build()
	}

	return &Tone{
		format:    format,
		frequency: frequency,
		amplitude: amplitude,
		total:     int64(duration.Seconds() * float64(format.SampleRate)),
	}, nil
}

func (t *Tone) Format() playback.Format { return t.format }

// ReadFrames writes the next len(dst)/frameSize frames of the tone.
func (t *Tone) ReadFrames(dst []byte) (int, error) {
	remaining := t.total - t.pos
	if remaining <= 0 {
		return 0, io.EOF
	}

	frames := int(min(int64(len(dst)/t.format.BytesPerFrame()), remaining))
	t.samples = t.samples[:0]

	full := float64(int64(1)<<(t.format.BitsPerSample-1) - 1)
	for i := range frames {
		phase := 2 * math.Pi * t.frequency * float64(t.pos+int64(i)) / float64(t.format.SampleRate)
		v := int(math.Round(t.amplitude * full * math.Sin(phase)))
		if t.format.BitsPerSample == 8 {
			v += 128
		}
		for range t.format.Channels {
			t.samples = append(t.samples, v)
		}
	}

	if _, err := pcm.Encode(dst, t.samples, t.format.BitsPerSample); err != nil {
		return 0, err
	}
	t.pos += int64(frames)

	if t.pos >= t.total {
		return frames, io.EOF
	}
	return frames, nil
}

func (t *Tone) Close() error { return nil }
