package playback

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/buffplayer/internal/errors"
	"github.com/tphakala/buffplayer/internal/logger"
	"github.com/tphakala/buffplayer/internal/observability/metrics"
)

const (
	defaultPollInterval = 10 * time.Millisecond

	// completion-context log budget
	callbackLogInterval = time.Second
	callbackLogBurst    = 5
)

// GetLogger returns the playback package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("playback")
}

// Config sizes the player's arena.
type Config struct {
	ArenaStart    int
	ArenaSize     int
	BytesPerFrame int
}

// Option configures a Player.
type Option func(*Player)

// WithMetrics sets the recorder that receives playback events.
func WithMetrics(r metrics.PlaybackRecorder) Option {
	return func(p *Player) {
		if r != nil {
			p.recorder = r
		}
	}
}

// WithLogger overrides the package logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Player) {
		if l != nil {
			p.log = l
		}
	}
}

// WithStreamID sets the identifier used in logs and metrics. A random UUID is used otherwise.
func WithStreamID(id string) Option {
	return func(p *Player) {
		if id != "" {
			p.streamID = id
		}
	}
}

// WithPollInterval sets how often waiting producers re-check the ring when no
// completion signal arrives.
func WithPollInterval(d time.Duration) Option {
	return func(p *Player) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithDrainTimeout bounds the draining flush that ends Stream. Zero leaves it
// bounded by the caller's context alone.
func WithDrainTimeout(d time.Duration) Option {
	return func(p *Player) {
		if d > 0 {
			p.drainTimeout = d
		}
	}
}

// Stats is a point-in-time snapshot of a player.
type Stats struct {
	StreamID      string
	Open          bool
	Capacity      int
	Occupancy     int
	Submitted     uint64
	Completed     uint64
	Underruns     uint64
	BytesInFlight int
	Stalled       bool
}

// Player brokers between one producer goroutine and the completion context
// of a Peripheral.
//
// Producer-side methods (Allocate, Buffer, Submit, Flush, Mute, Setup, Open,
// Close) must be called from a single goroutine at a time. OnComplete is the
// only method the completion context calls, and it never blocks.
type Player struct {
	ring  atomic.Pointer[Ring]
	arena *Arena
	out   Peripheral

	streamID     string
	log          logger.Logger
	callbackLog  logger.Logger
	recorder     metrics.PlaybackRecorder
	pollInterval time.Duration
	drainTimeout time.Duration

	// freed is signalled whenever a block is retired; drained when the ring empties.
	freed   chan struct{}
	drained chan struct{}

	draining  atomic.Bool
	stalled   atomic.Bool // head block was turned down by an idle peripheral
	submitted atomic.Uint64
	completed atomic.Uint64
	underruns atomic.Uint64

	// lifecycle only, never taken on the data path
	lifecycleMu sync.Mutex
}

// New creates a closed Player driving out. Call Open before submitting.
func New(out Peripheral, cfg Config, opts ...Option) (*Player, error) {
	if out == nil {
		return nil, newError("new", ErrInvalidArgument, "reason", "nil peripheral")
	}

	arena, err := NewArena(cfg.ArenaStart, cfg.ArenaSize, cfg.BytesPerFrame)
	if err != nil {
		return nil, err
	}

	p := &Player{
		arena:        arena,
		out:          out,
		streamID:     uuid.NewString(),
		log:          GetLogger(),
		recorder:     metrics.NopPlaybackRecorder{},
		pollInterval: defaultPollInterval,
		freed:        make(chan struct{}, 1),
		drained:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.log = p.log.With(logger.String("stream_id", p.streamID))
	p.callbackLog = logger.NewRateLimited(p.log, callbackLogInterval, callbackLogBurst)

	if a, ok := out.(CompletionAttacher); ok {
		a.Attach(p.OnComplete)
	}

	return p, nil
}

// StreamID returns the identifier used in logs and metrics.
func (p *Player) StreamID() string {
	return p.streamID
}

// Arena returns the player's sample arena.
func (p *Player) Arena() *Arena {
	return p.arena
}

// Open allocates a zeroed ring of capacity descriptors.
func (p *Player) Open(capacity int) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.ring.Load() != nil {
		return newError("open", ErrAlreadyOpen)
	}

	r, err := NewRing(capacity)
	if err != nil {
		return err
	}

	p.stalled.Store(false)
	p.ring.Store(r)
	p.updateGauges(r)

	p.log.Info("player opened",
		logger.Int("capacity", capacity),
		logger.Int("arena_start", p.arena.Start()),
		logger.Int("arena_size", p.arena.Size()),
		logger.Int("bytes_per_frame", p.arena.BytesPerFrame()))
	return nil
}

// Close releases the ring and drops anything the peripheral still holds.
// Closing a closed player is a no-op.
func (p *Player) Close() error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	r := p.ring.Swap(nil)
	if r == nil {
		return nil
	}

	p.stalled.Store(false)
	p.out.Flush(true)
	p.recorder.SetOccupancy(0)
	p.recorder.SetBytesInFlight(0)

	p.log.Info("player closed",
		logger.Uint64("submitted", p.submitted.Load()),
		logger.Uint64("completed", p.completed.Load()),
		logger.Uint64("underruns", p.underruns.Load()))
	return nil
}

// Setup forwards the stream format to the peripheral. The format's frame size
// must match the arena's.
func (p *Player) Setup(format Format) error {
	if format.SampleRate <= 0 || format.BytesPerFrame() != p.arena.BytesPerFrame() {
		return newError("setup", ErrInvalidArgument,
			"format", format.String(),
			"bytes_per_frame", p.arena.BytesPerFrame())
	}

	if err := p.out.Setup(format); err != nil {
		return errors.New(err).
			Component(componentPlayback).
			Category(errors.CategoryAudioDevice).
			Context("operation", "setup").
			Context("format", format.String()).
			Build()
	}

	p.log.Debug("peripheral configured", logger.String("format", format.String()),
		logger.Bool("swap_channels", format.SwapChannels))
	return nil
}

// Allocate reserves arena space for a block of frames and returns its address.
// The reservation becomes live only when the block is submitted.
func (p *Player) Allocate(frames int) (int, error) {
	r := p.ring.Load()
	if r == nil {
		return 0, newError("allocate", ErrNotInitialized)
	}

	addr, err := p.arena.Place(r, frames)
	if err != nil {
		p.recorder.RecordAllocationFailure(reasonOf(err))
		return 0, err
	}
	return addr, nil
}

// Buffer returns a writable view of the block of frames at addr.
func (p *Player) Buffer(addr, frames int) ([]byte, error) {
	if p.ring.Load() == nil {
		return nil, newError("buffer", ErrNotInitialized)
	}
	if frames <= 0 || !p.arena.Contains(addr, frames) {
		return nil, newError("buffer", ErrInvalidArgument, "address", addr, "frames", frames)
	}
	return p.arena.view(addr, frames), nil
}

// Submit queues the block of frames at addr for playback and starts it on the
// peripheral if the peripheral can take it now.
//
// A zero frame count is a capacity probe: it returns nil when a block could
// be queued and ErrFull otherwise, changing nothing.
func (p *Player) Submit(addr, frames int) error {
	r := p.ring.Load()
	if r == nil {
		return newError("submit", ErrNotInitialized)
	}

	if frames == 0 {
		if r.IsFull() {
			return newError("submit", ErrFull, "capacity", r.Cap())
		}
		return nil
	}

	if frames < 0 || !p.arena.Contains(addr, frames) {
		err := newError("submit", ErrInvalidArgument, "address", addr, "frames", frames)
		p.recorder.RecordSubmitFailure(reasonOf(err))
		return err
	}

	d := Descriptor{Start: addr, Frames: frames}
	if !r.Push(d) {
		err := newError("submit", ErrFull, "capacity", r.Cap())
		p.recorder.RecordSubmitFailure(reasonOf(err))
		return err
	}

	p.submitted.Add(1)
	p.recorder.RecordSubmit(frames)

	p.kick(r, d)

	p.updateGauges(r)
	return nil
}

// kick offers a freshly queued block to the peripheral. Fresh occupancy 1
// means the peripheral is idle, 2 means only the current transfer is armed;
// anything more is re-armed by OnComplete.
//
// A head block the idle peripheral turned down (not set up yet, device not
// started) stays queued and is offered again before anything behind it, so
// the ring never treats an unplayed block as playing.
func (p *Player) kick(r *Ring, d Descriptor) {
	if !p.resume() {
		return
	}

	occ := r.Occupancy()
	if occ > 2 {
		return
	}
	if !p.out.Output(p.arena.view(d.Start, d.Frames), d.Frames) && occ == 1 {
		p.stalled.Store(true)
		p.log.Warn("peripheral rejected block while idle, holding it for the next submit",
			logger.Int("address", d.Start),
			logger.Int("frames", d.Frames))
	}
}

// resume re-offers a stalled head block. It reports whether the peripheral is
// now playing the head of the ring.
func (p *Player) resume() bool {
	if !p.stalled.Load() {
		return true
	}
	head, err := p.Current()
	if err != nil || !p.out.Output(p.arena.view(head.Start, head.Frames), head.Frames) {
		return false
	}
	p.stalled.Store(false)
	p.log.Debug("peripheral accepted stalled block", logger.Int("address", head.Start))
	return true
}

// Current returns the block the peripheral is playing, or ErrEmpty when
// nothing is queued.
func (p *Player) Current() (Descriptor, error) {
	r := p.ring.Load()
	if r == nil {
		return Descriptor{}, newError("current", ErrNotInitialized)
	}
	d, ok := r.First()
	if !ok {
		return Descriptor{}, newError("current", ErrEmpty)
	}
	return d, nil
}

// OnComplete is called by the peripheral, from its completion context, when a
// transfer finishes. It retires the finished block and arms the one after the
// new current block. Calling it with nothing queued has no effect.
func (p *Player) OnComplete() {
	r := p.ring.Load()
	if r == nil || !r.PopCurrent() {
		return
	}

	p.completed.Add(1)
	p.recorder.RecordCompletion()
	signal(p.freed)

	next, ok := r.PeekNextToPlay()
	switch {
	case ok && next.Frames > 0 && p.arena.Contains(next.Start, next.Frames):
		p.out.Output(p.arena.view(next.Start, next.Frames), next.Frames)
	case r.IsEmpty():
		signal(p.drained)
		if !p.draining.Load() {
			p.underruns.Add(1)
			p.recorder.RecordUnderrun()
			p.callbackLog.Debug("underrun, ring ran dry")
		}
	}

	p.updateGauges(r)
}

// Flush empties the queue.
//
// With force set the ring is cleared immediately and the peripheral drops
// whatever it holds; this never blocks. Otherwise Flush waits until every
// queued block has completed, bounded by ctx. Flush must not be called from
// the completion context.
func (p *Player) Flush(ctx context.Context, force bool) error {
	r := p.ring.Load()
	if r == nil {
		return newError("flush", ErrNotInitialized)
	}

	start := time.Now()

	if force {
		p.stalled.Store(false)
		r.Reset()
		p.out.Flush(true)
		p.recorder.RecordFlush(metrics.FlushModeForce, time.Since(start))
		p.updateGauges(r)
		p.log.Debug("forced flush")
		return nil
	}

	p.draining.Store(true)
	defer p.draining.Store(false)

	p.resume()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for !r.IsEmpty() {
		select {
		case <-p.drained:
		case <-ticker.C:
		case <-ctx.Done():
			return errors.New(ctx.Err()).
				Component(componentPlayback).
				Category(errors.CategoryTimeout).
				Timing("flush", time.Since(start)).
				Context("occupancy", r.Occupancy()).
				Build()
		}
	}

	p.out.Flush(false)
	wait := time.Since(start)
	p.recorder.RecordFlush(metrics.FlushModeDrain, wait)
	p.log.Debug("ring drained", logger.Duration("wait", wait))
	return nil
}

// WaitForSpace blocks until a block is retired, the poll interval elapses or
// ctx is done. Producers call it after ErrFull or ErrOverlap.
func (p *Player) WaitForSpace(ctx context.Context) error {
	timer := time.NewTimer(p.pollInterval)
	defer timer.Stop()

	select {
	case <-p.freed:
		return nil
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Mute forwards to the peripheral. Muting also force-flushes the queue, after
// the peripheral is muted so nothing queued sounds in between.
func (p *Player) Mute(on bool) error {
	if p.ring.Load() == nil {
		return newError("mute", ErrNotInitialized)
	}
	p.out.Mute(on)
	if on {
		if err := p.Flush(context.Background(), true); err != nil {
			return err
		}
	}
	p.log.Debug("mute", logger.Bool("on", on))
	return nil
}

// Stats returns a snapshot of the player's counters.
func (p *Player) Stats() Stats {
	s := Stats{
		StreamID:  p.streamID,
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Underruns: p.underruns.Load(),
		Stalled:   p.stalled.Load(),
	}
	if r := p.ring.Load(); r != nil {
		s.Open = true
		s.Capacity = r.Cap()
		s.Occupancy = r.Occupancy()
		s.BytesInFlight = p.arena.BytesHeld(r)
	}
	return s
}

func (p *Player) updateGauges(r *Ring) {
	p.recorder.SetOccupancy(r.Occupancy())
	p.recorder.SetBytesInFlight(p.arena.BytesHeld(r))
}

// signal does a non-blocking send on a 1-buffered channel.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
