package dac

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/buffplayer/internal/errors"
	"github.com/tphakala/buffplayer/internal/logger"
	"github.com/tphakala/buffplayer/internal/observability/metrics"
	"github.com/tphakala/buffplayer/internal/pcm"
	"github.com/tphakala/buffplayer/internal/playback"
)

// SimulatedName is the device label used for the simulated DAC.
const SimulatedName = "simulated"

// Option configures a peripheral.
type Option func(*options)

type options struct {
	speed    float64
	tap      *Tap
	recorder metrics.OutputRecorder
	log      logger.Logger
	name     string
}

// WithSpeed plays faster (>1) or slower (<1) than real time. Simulated DAC only.
func WithSpeed(factor float64) Option {
	return func(o *options) {
		if factor > 0 {
			o.speed = factor
		}
	}
}

// WithTap records everything the device plays.
func WithTap(t *Tap) Option {
	return func(o *options) { o.tap = t }
}

// WithRecorder sets the output metrics recorder.
func WithRecorder(r metrics.OutputRecorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithLogger overrides the package logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithDeviceName selects a playback device by name. Malgo device only; the
// default device is used when empty.
func WithDeviceName(name string) Option {
	return func(o *options) { o.name = name }
}

func buildOptions(opts []Option) options {
	o := options{
		speed:    1,
		recorder: metrics.NopOutputRecorder{},
		log:      GetLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Simulated is a double-buffered DAC whose transfers take as long as the
// audio they carry would take to play. A goroutine stands in for the
// transfer-complete interrupt.
type Simulated struct {
	speed    float64
	tap      *Tap
	recorder metrics.OutputRecorder
	log      logger.Logger

	// callbackMu is held while a completion is delivered; Flush(true) takes
	// it so no completion for a dropped transfer runs after Flush returns.
	callbackMu sync.Mutex

	mu         sync.Mutex
	onComplete func()
	format     playback.Format
	configured bool
	current    *transfer
	reload     *transfer
	dueAt      time.Time
	gen        uint64
	muted      bool
	closed     bool
	scratch    []byte

	transfers atomic.Uint64

	wake      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewSimulated starts a simulated DAC. Call Close to stop it.
func NewSimulated(opts ...Option) *Simulated {
	o := buildOptions(opts)
	s := &Simulated{
		speed:    o.speed,
		tap:      o.tap,
		recorder: o.recorder,
		log:      o.log.Module(SimulatedName),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

// Attach sets the function called after each finished transfer.
func (s *Simulated) Attach(onComplete func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onComplete = onComplete
}

func (s *Simulated) Setup(format playback.Format) error {
	if format.SampleRate <= 0 || format.Channels <= 0 || !pcm.Supported(format.BitsPerSample) {
		return errors.New(ErrInvalidFormat).
			Component(componentDAC).
			Category(errors.CategoryValidation).
			Context("operation", "setup").
			Context("format", format.String()).
			Build()
	}
	if s.tap != nil && s.tap.Format().BytesPerFrame() != format.BytesPerFrame() {
		return errors.New(ErrInvalidFormat).
			Component(componentDAC).
			Category(errors.CategoryValidation).
			Context("operation", "setup").
			Context("format", format.String()).
			Context("tap_format", s.tap.Format().String()).
			Build()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New(ErrClosed).Component(componentDAC).Category(errors.CategoryState).Build()
	}
	s.format = format
	s.configured = true

	s.log.Info("simulated dac configured",
		logger.String("format", format.String()),
		logger.Float64("speed", s.speed))
	return nil
}

// Output starts block when idle or arms it for reload. It rejects the block
// that is already playing.
func (s *Simulated) Output(block []byte, frames int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.configured || frames <= 0 || len(block) < frames*s.format.BytesPerFrame() {
		return false
	}

	t := &transfer{block: block, frames: frames}
	switch {
	case s.current == nil:
		s.current = t
		s.dueAt = time.Now().Add(s.duration(frames))
		signal(s.wake)
	case s.reload == nil && !sameBlock(s.current.block, block):
		s.reload = t
	default:
		return false
	}
	return true
}

// Flush drops both transfers when force is set. The drained case has nothing
// left to do.
func (s *Simulated) Flush(force bool) {
	if !force {
		return
	}

	s.callbackMu.Lock()
	s.mu.Lock()
	s.current, s.reload = nil, nil
	s.gen++
	s.mu.Unlock()
	s.callbackMu.Unlock()

	signal(s.wake)
}

// Mute keeps transfers running but plays silence.
func (s *Simulated) Mute(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = on
}

// Transfers returns the number of completed transfers.
func (s *Simulated) Transfers() uint64 {
	return s.transfers.Load()
}

// Busy reports whether a transfer is in progress.
func (s *Simulated) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Close stops the timing goroutine. Pending transfers never complete.
func (s *Simulated) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.current, s.reload = nil, nil
		s.gen++
		s.mu.Unlock()
		close(s.stop)
		<-s.done
	})
	return nil
}

func (s *Simulated) run() {
	defer close(s.done)

	for {
		s.mu.Lock()
		busy := s.current != nil
		due := s.dueAt
		gen := s.gen
		s.mu.Unlock()

		if !busy {
			select {
			case <-s.stop:
				return
			case <-s.wake:
				continue
			}
		}

		timer := time.NewTimer(time.Until(due))
		select {
		case <-s.stop:
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
			continue
		case <-timer.C:
		}

		s.finish(gen)
	}
}

// finish completes the playing transfer, promotes the reload transfer and
// delivers the completion.
func (s *Simulated) finish(gen uint64) {
	s.callbackMu.Lock()
	defer s.callbackMu.Unlock()

	s.mu.Lock()
	if s.gen != gen || s.current == nil {
		// flushed while waiting
		s.mu.Unlock()
		return
	}

	played := s.current
	s.current, s.reload = s.reload, nil
	if s.current != nil {
		// back to back, as hardware reloads without a gap
		s.dueAt = s.dueAt.Add(s.duration(s.current.frames))
	}
	format := s.format
	muted := s.muted
	cb := s.onComplete
	s.mu.Unlock()

	s.emit(played, format, muted)
	s.transfers.Add(1)
	s.recorder.RecordTransfer(played.frames)

	if cb != nil {
		cb()
	}
}

// emit hands the played audio to the tap, applying mute and channel swap.
// Only the timing goroutine calls it.
func (s *Simulated) emit(t *transfer, format playback.Format, muted bool) {
	if s.tap == nil {
		return
	}

	n := t.frames * format.BytesPerFrame()
	if cap(s.scratch) < n {
		s.scratch = make([]byte, n)
	}
	out := s.scratch[:n]

	switch {
	case muted:
		pcm.Silence(out, format.BitsPerSample)
	default:
		copy(out, t.block[:n])
		if format.SwapChannels && format.Channels == 2 {
			pcm.SwapStereo(out, format.BitsPerSample)
		}
	}
	s.tap.Write(out)
}

func (s *Simulated) duration(frames int) time.Duration {
	secs := float64(frames) / float64(s.format.SampleRate) / s.speed
	return time.Duration(secs * float64(time.Second))
}
