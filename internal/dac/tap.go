package dac

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/buffplayer/internal/errors"
	"github.com/tphakala/buffplayer/internal/logger"
	"github.com/tphakala/buffplayer/internal/observability/metrics"
	"github.com/tphakala/buffplayer/internal/pcm"
	"github.com/tphakala/buffplayer/internal/playback"
)

const (
	tapPollInterval = 50 * time.Millisecond
	tapReadFrames   = 4096
)

// Tap copies played audio into a WAV file without blocking the completion
// context. Bytes that do not fit in the ring are dropped and counted.
type Tap struct {
	rb       *ringbuffer.RingBuffer
	w        io.WriteSeeker
	format   playback.Format
	recorder metrics.OutputRecorder
	log      logger.Logger
	wake     chan struct{}

	written atomic.Int64
	dropped atomic.Uint64
}

// NewTap buffers up to size bytes between the device and w.
func NewTap(w io.WriteSeeker, format playback.Format, size int, recorder metrics.OutputRecorder) (*Tap, error) {
	bpf := format.BytesPerFrame()
	if w == nil || format.SampleRate <= 0 || bpf <= 0 || !pcm.Supported(format.BitsPerSample) || size < bpf {
		return nil, errors.New(ErrInvalidFormat).
			Component(componentDAC).
			Category(errors.CategoryValidation).
			Context("operation", "new_tap").
			Context("format", format.String()).
			Context("size", size).
			Build()
	}
	if recorder == nil {
		recorder = metrics.NopOutputRecorder{}
	}

	log := GetLogger().Module("tap")
	return &Tap{
		rb:       ringbuffer.New(size - size%bpf),
		w:        w,
		format:   format,
		recorder: recorder,
		log:      logger.NewRateLimited(log, time.Second, 3),
		wake:     make(chan struct{}, 1),
	}, nil
}

// Format returns the format the tap encodes.
func (t *Tap) Format() playback.Format { return t.format }

// Write queues whole frames of played audio. It never blocks; a chunk that
// does not fit is dropped entirely and Write returns false.
func (t *Tap) Write(p []byte) bool {
	if len(p) == 0 {
		return true
	}
	if t.rb.Free() < len(p) {
		t.dropped.Add(uint64(len(p)))
		t.recorder.RecordTapDrop(len(p))
		t.log.Warn("tap buffer full, dropping audio", logger.Int("bytes", len(p)))
		return false
	}
	if _, err := t.rb.Write(p); err != nil {
		t.dropped.Add(uint64(len(p)))
		t.recorder.RecordTapDrop(len(p))
		return false
	}
	signal(t.wake)
	return true
}

// Dropped returns the number of bytes discarded so far.
func (t *Tap) Dropped() uint64 { return t.dropped.Load() }

// Written returns the number of PCM bytes encoded so far.
func (t *Tap) Written() int64 { return t.written.Load() }

// Run encodes queued audio until ctx is done, then drains what is left and
// finalizes the WAV header.
func (t *Tap) Run(ctx context.Context) error {
	enc := wav.NewEncoder(t.w, t.format.SampleRate, t.format.BitsPerSample, t.format.Channels, 1)
	af := &audio.Format{SampleRate: t.format.SampleRate, NumChannels: t.format.Channels}

	// header first, so an empty capture is still a valid file
	if err := enc.Write(&audio.IntBuffer{Format: af, SourceBitDepth: t.format.BitsPerSample}); err != nil {
		return t.ioError("tap_header", err)
	}

	buf := make([]byte, tapReadFrames*t.format.BytesPerFrame())
	samples := make([]int, 0, tapReadFrames*t.format.Channels)

	drain := func() error {
		for !t.rb.IsEmpty() {
			n, err := t.rb.Read(buf)
			if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
				return t.ioError("tap_read", err)
			}
			if n == 0 {
				return nil
			}
			samples, err = pcm.Decode(samples[:0], buf[:n], t.format.BitsPerSample)
			if err != nil {
				return err
			}
			if err := enc.Write(&audio.IntBuffer{Data: samples, Format: af, SourceBitDepth: t.format.BitsPerSample}); err != nil {
				return t.ioError("tap_encode", err)
			}
			t.written.Add(int64(n))
		}
		return nil
	}

	ticker := time.NewTicker(tapPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := drain(); err != nil {
				return err
			}
			if err := enc.Close(); err != nil {
				return t.ioError("tap_close", err)
			}
			t.log.Debug("tap closed",
				logger.Int64("bytes", t.written.Load()),
				logger.Uint64("dropped", t.dropped.Load()))
			return nil
		case <-t.wake:
		case <-ticker.C:
		}
		if err := drain(); err != nil {
			return err
		}
	}
}

func (t *Tap) ioError(op string, err error) error {
	return errors.New(err).
		Component(componentDAC).
		Category(errors.CategoryFileIO).
		Context("operation", op).
		Build()
}
