package playback

import (
	"context"
	"bytes"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/buffplayer/internal/errors"
	"github.com/tphakala/buffplayer/internal/logger"
	"github.com/tphakala/buffplayer/internal/observability/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("testing.(*T).Run"),
	)
	os.Exit(m.Run())
}

// fakePeripheral is a double-buffered output whose transfers finish only when
// the test calls complete.
type fakePeripheral struct {
	mu         sync.Mutex
	onComplete func()

	current []byte
	reload  []byte

	outputs  [][]byte
	rejected int
	flushes  []bool
	muted    bool
	format   Format
	setupErr error

	// stopped turns every transfer down, like a device that is not set up
	stopped bool
	// mutedOnFlush records the mute state seen by each flush
	mutedOnFlush []bool
}

func (f *fakePeripheral) Attach(onComplete func()) { f.onComplete = onComplete }

func (f *fakePeripheral) Setup(format Format) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.format = format
	return f.setupErr
}

func (f *fakePeripheral) Output(block []byte, frames int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case f.stopped:
		f.rejected++
		return false
	case f.current == nil:
		f.current = block
	case f.reload == nil && !sameBlock(f.current, block):
		f.reload = block
	default:
		f.rejected++
		return false
	}
	f.outputs = append(f.outputs, append([]byte(nil), block...))
	return true
}

func (f *fakePeripheral) Flush(force bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if force {
		f.current, f.reload = nil, nil
	}
	f.flushes = append(f.flushes, force)
	f.mutedOnFlush = append(f.mutedOnFlush, f.muted)
}

func (f *fakePeripheral) setStopped(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = on
}

func (f *fakePeripheral) Mute(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = on
}

// complete finishes the playing transfer, promotes the reload block and runs
// the completion handler. It reports false when nothing was playing.
func (f *fakePeripheral) complete() bool {
	f.mu.Lock()
	if f.current == nil {
		f.mu.Unlock()
		return false
	}
	f.current, f.reload = f.reload, nil
	cb := f.onComplete
	f.mu.Unlock()

	if cb != nil {
		cb()
	}
	return true
}

func (f *fakePeripheral) outputCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.outputs)
}

func sameBlock(a, b []byte) bool {
	return len(a) > 0 && len(a) == len(b) && &a[0] == &b[0]
}

func quietLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
}

func newTestPlayer(t *testing.T, capacity int, opts ...Option) (*Player, *fakePeripheral) {
	t.Helper()

	out := &fakePeripheral{}
	opts = append([]Option{WithLogger(quietLogger()), WithPollInterval(time.Millisecond)}, opts...)
	p, err := New(out, Config{ArenaStart: 0, ArenaSize: 1000, BytesPerFrame: 4}, opts...)
	require.NoError(t, err)
	require.NoError(t, p.Open(capacity))
	t.Cleanup(func() { _ = p.Close() })
	return p, out
}

func submitBlock(t *testing.T, p *Player, frames int) int {
	t.Helper()
	addr, err := p.Allocate(frames)
	require.NoError(t, err)
	require.NoError(t, p.Submit(addr, frames))
	return addr
}

func TestNewRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{ArenaSize: 1000, BytesPerFrame: 4})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = New(&fakePeripheral{}, Config{ArenaSize: 0, BytesPerFrame: 4})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestNewAttachesCompletionHandler(t *testing.T) {
	t.Parallel()

	p, out := newTestPlayer(t, 4)
	require.NotNil(t, out.onComplete)

	submitBlock(t, p, 10)
	require.True(t, out.complete())
	assert.Equal(t, uint64(1), p.Stats().Completed)
}

func TestPlayerNotInitialized(t *testing.T) {
	t.Parallel()

	out := &fakePeripheral{}
	p, err := New(out, Config{ArenaSize: 1000, BytesPerFrame: 4}, WithLogger(quietLogger()))
	require.NoError(t, err)

	check := func(err error) {
		t.Helper()
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNotInitialized))
		assert.True(t, errors.IsCategory(err, errors.CategoryState))
	}

	_, err = p.Allocate(10)
	check(err)
	_, err = p.Buffer(0, 10)
	check(err)
	check(p.Submit(0, 10))
	check(p.Flush(context.Background(), true))
	check(p.Mute(true))

	// the completion context must tolerate a closed player
	p.OnComplete()
	assert.False(t, p.Stats().Open)

	require.NoError(t, p.Open(4))
	require.NoError(t, p.Close())
	require.NoError(t, p.Close(), "close is idempotent")
	check(p.Submit(0, 10))
	assert.Equal(t, []bool{true}, out.flushes, "close drops peripheral state once")
}

func TestPlayerOpenTwice(t *testing.T) {
	t.Parallel()

	p, _ := newTestPlayer(t, 4)
	err := p.Open(4)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyOpen))
	assert.Equal(t, 4, p.Stats().Capacity)
}

func TestPlayerOpenInvalidCapacity(t *testing.T) {
	t.Parallel()

	p, err := New(&fakePeripheral{}, Config{ArenaSize: 1000, BytesPerFrame: 4}, WithLogger(quietLogger()))
	require.NoError(t, err)

	err = p.Open(0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	assert.False(t, p.Stats().Open)
}

func TestPlayerSetup(t *testing.T) {
	t.Parallel()

	p, out := newTestPlayer(t, 4)

	format := Format{SampleRate: 48000, Channels: 2, BitsPerSample: 16}
	require.NoError(t, p.Setup(format))
	assert.Equal(t, format, out.format)

	err := p.Setup(Format{SampleRate: 48000, Channels: 1, BitsPerSample: 16})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArgument), "frame size must match the arena")

	out.setupErr = errors.NewStd("device busy")
	err = p.Setup(format)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryAudioDevice))
}

// Capacity 4, 4 bytes per frame, arena [0, 1000).
func TestPlayerFillToCapacity(t *testing.T) {
	t.Parallel()

	p, out := newTestPlayer(t, 4)

	assert.Equal(t, 0, submitBlock(t, p, 100))
	assert.Equal(t, 1, out.outputCount(), "idle peripheral starts the first block")

	assert.Equal(t, 400, submitBlock(t, p, 100))
	assert.Equal(t, 2, out.outputCount(), "second block is armed for reload")

	_, err := p.Allocate(100)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOverlap))

	assert.Equal(t, 800, submitBlock(t, p, 10))
	assert.Equal(t, 840, submitBlock(t, p, 10))
	assert.Equal(t, 2, out.outputCount(), "peripheral holds at most two blocks")

	before := p.Stats()
	assert.Equal(t, 4, before.Occupancy)

	_, err = p.Allocate(1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFull))

	err = p.Submit(880, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFull))
	assert.True(t, errors.IsCategory(err, errors.CategoryLimit))

	assert.Equal(t, before, p.Stats(), "rejected submit must not change anything")

	// finishing the first block arms the third
	require.True(t, out.complete())
	assert.Equal(t, 3, p.Stats().Occupancy)
	assert.Equal(t, 3, out.outputCount())
	require.NotNil(t, out.reload)
	assert.Len(t, out.reload, 40)
}

func TestPlayerCapacityProbe(t *testing.T) {
	t.Parallel()

	p, out := newTestPlayer(t, 2)

	require.NoError(t, p.Submit(0, 0))
	submitBlock(t, p, 10)
	submitBlock(t, p, 10)

	err := p.Submit(0, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFull))
	assert.Equal(t, 2, p.Stats().Occupancy)
	assert.Equal(t, 2, out.outputCount())
}

func TestPlayerSubmitOutsideArena(t *testing.T) {
	t.Parallel()

	p, out := newTestPlayer(t, 4)

	for _, tc := range []struct{ addr, frames int }{
		{996, 2}, {-4, 1}, {0, -1}, {1000, 1},
		{math.MaxInt, 1}, {math.MaxInt - 3, 1}, {0, 1 << 62}, {4, math.MaxInt},
	} {
		err := p.Submit(tc.addr, tc.frames)
		require.Error(t, err, "addr %d frames %d", tc.addr, tc.frames)
		assert.True(t, errors.Is(err, ErrInvalidArgument))
	}
	assert.Zero(t, p.Stats().Occupancy)
	assert.Zero(t, out.outputCount())

	_, err := p.Buffer(996, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	_, err = p.Allocate(1 << 62)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestPlayerBufferReachesPeripheral(t *testing.T) {
	t.Parallel()

	p, out := newTestPlayer(t, 4)

	addr, err := p.Allocate(3)
	require.NoError(t, err)
	buf, err := p.Buffer(addr, 3)
	require.NoError(t, err)
	require.Len(t, buf, 12)
	for i := range buf {
		buf[i] = byte(i + 1)
	}
	require.NoError(t, p.Submit(addr, 3))

	require.Equal(t, 1, out.outputCount())
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, out.outputs[0])
}

func TestOnCompleteEmptyRingIsNoop(t *testing.T) {
	t.Parallel()

	p, out := newTestPlayer(t, 4)
	p.OnComplete()

	s := p.Stats()
	assert.Zero(t, s.Completed)
	assert.Zero(t, s.Underruns)
	assert.Zero(t, s.Occupancy)
	assert.Zero(t, out.outputCount())
}

func TestOnCompleteCountsUnderrun(t *testing.T) {
	t.Parallel()

	p, out := newTestPlayer(t, 4)
	submitBlock(t, p, 10)
	submitBlock(t, p, 10)

	require.True(t, out.complete())
	assert.Zero(t, p.Stats().Underruns, "one block still playing")

	require.True(t, out.complete())
	s := p.Stats()
	assert.Equal(t, uint64(1), s.Underruns)
	assert.Equal(t, uint64(2), s.Completed)
	assert.Zero(t, s.Occupancy)
	assert.Zero(t, s.BytesInFlight)

	// a fresh submit restarts the idle peripheral
	submitBlock(t, p, 10)
	assert.Equal(t, 3, out.outputCount())
}

func TestFlushForcedNeverBlocks(t *testing.T) {
	t.Parallel()

	p, out := newTestPlayer(t, 4)
	for range 3 {
		submitBlock(t, p, 10)
	}

	done := make(chan error, 1)
	go func() { done <- p.Flush(context.Background(), true) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("forced flush blocked")
	}

	assert.Zero(t, p.Stats().Occupancy)
	assert.Equal(t, []bool{true}, out.flushes)
	assert.False(t, out.complete(), "peripheral dropped its transfers")

	// the ring is usable again from the arena start
	assert.Equal(t, 0, submitBlock(t, p, 10))
}

func TestFlushDrainsQueue(t *testing.T) {
	t.Parallel()

	p, out := newTestPlayer(t, 4)
	for range 3 {
		submitBlock(t, p, 10)
	}

	var wg sync.WaitGroup
	wg.Go(func() {
		for range 3 {
			time.Sleep(5 * time.Millisecond)
			out.complete()
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Flush(ctx, false))
	wg.Wait()

	s := p.Stats()
	assert.Zero(t, s.Occupancy)
	assert.Equal(t, uint64(3), s.Completed)
	assert.Zero(t, s.Underruns, "draining to empty is not an underrun")
	assert.Equal(t, []bool{false}, out.flushes)
}

func TestFlushTimesOut(t *testing.T) {
	t.Parallel()

	p, out := newTestPlayer(t, 4)
	submitBlock(t, p, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Flush(ctx, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, errors.IsCategory(err, errors.CategoryTimeout))
	assert.Equal(t, 1, p.Stats().Occupancy)
	assert.Empty(t, out.flushes)

	var ee *errors.EnhancedError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "flush", ee.Context["operation"])
	assert.GreaterOrEqual(t, ee.Context["duration_ms"], int64(20))
}

func TestMuteForcesFlush(t *testing.T) {
	t.Parallel()

	p, out := newTestPlayer(t, 4)
	submitBlock(t, p, 10)
	submitBlock(t, p, 10)

	require.NoError(t, p.Mute(true))
	assert.True(t, out.muted)
	assert.Zero(t, p.Stats().Occupancy)
	assert.Equal(t, []bool{true}, out.flushes)
	assert.Equal(t, []bool{true}, out.mutedOnFlush, "peripheral must be muted before the queue is dropped")

	require.NoError(t, p.Mute(false))
	assert.False(t, out.muted)
	assert.Len(t, out.flushes, 1, "unmute does not flush")
}

func TestWaitForSpace(t *testing.T) {
	t.Parallel()

	p, out := newTestPlayer(t, 2, WithPollInterval(time.Hour))
	submitBlock(t, p, 10)
	submitBlock(t, p, 10)

	go func() {
		time.Sleep(5 * time.Millisecond)
		out.complete()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.WaitForSpace(ctx), "woken by the completion")

	cancel()
	assert.ErrorIs(t, p.WaitForSpace(ctx), context.Canceled)
}

func TestPlayerMetrics(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	pm, err := metrics.NewPlaybackMetrics(registry)
	require.NoError(t, err)

	p, out := newTestPlayer(t, 2, WithStreamID("s1"), WithMetrics(pm.Stream("s1")))
	assert.Equal(t, "s1", p.StreamID())

	submitBlock(t, p, 10)
	submitBlock(t, p, 20)
	assert.Error(t, p.Submit(0, 1))
	_, err = p.Allocate(1)
	assert.Error(t, err)

	expected := `
# HELP playback_ring_occupancy Number of descriptors queued in the ring, including the one being played
# TYPE playback_ring_occupancy gauge
playback_ring_occupancy{stream_id="s1"} 2
# HELP playback_submitted_blocks_total Total number of blocks accepted into the ring
# TYPE playback_submitted_blocks_total counter
playback_submitted_blocks_total{stream_id="s1"} 2
# HELP playback_submitted_frames_total Total number of frames accepted into the ring
# TYPE playback_submitted_frames_total counter
playback_submitted_frames_total{stream_id="s1"} 30
# HELP playback_submit_failures_total Total number of rejected submits by reason
# TYPE playback_submit_failures_total counter
playback_submit_failures_total{reason="full",stream_id="s1"} 1
# HELP playback_allocation_failures_total Total number of failed arena placements by reason
# TYPE playback_allocation_failures_total counter
playback_allocation_failures_total{reason="full",stream_id="s1"} 1
# HELP playback_arena_bytes_in_flight Arena bytes held by queued descriptors
# TYPE playback_arena_bytes_in_flight gauge
playback_arena_bytes_in_flight{stream_id="s1"} 120
`
	require.NoError(t, testutil.CollectAndCompare(pm, strings.NewReader(expected),
		"playback_ring_occupancy",
		"playback_submitted_blocks_total",
		"playback_submitted_frames_total",
		"playback_submit_failures_total",
		"playback_allocation_failures_total",
		"playback_arena_bytes_in_flight",
	))

	out.complete()
	out.complete()

	expected = `
# HELP playback_completions_total Total number of transfer completions reported by the peripheral
# TYPE playback_completions_total counter
playback_completions_total{stream_id="s1"} 2
# HELP playback_underruns_total Total number of completions with no queued block to continue with
# TYPE playback_underruns_total counter
playback_underruns_total{stream_id="s1"} 1
`
	require.NoError(t, testutil.CollectAndCompare(pm, strings.NewReader(expected),
		"playback_completions_total",
		"playback_underruns_total",
	))

	require.NoError(t, p.Flush(context.Background(), true))
	assert.Equal(t, 1, testutil.CollectAndCount(pm, "playback_flushes_total"))
}

// fillBlock allocates and fills a block with b, then submits it.
func fillBlock(t *testing.T, p *Player, frames int, b byte) int {
	t.Helper()
	addr, err := p.Allocate(frames)
	require.NoError(t, err)
	buf, err := p.Buffer(addr, frames)
	require.NoError(t, err)
	for i := range buf {
		buf[i] = b
	}
	require.NoError(t, p.Submit(addr, frames))
	return addr
}

func TestSubmitBeforePeripheralReady(t *testing.T) {
	t.Parallel()

	p, out := newTestPlayer(t, 4)
	out.setStopped(true)

	a := fillBlock(t, p, 4, 0xA)
	assert.Zero(t, out.outputCount())
	assert.True(t, p.Stats().Stalled)

	cur, err := p.Current()
	require.NoError(t, err)
	assert.Equal(t, Descriptor{Start: a, Frames: 4}, cur)

	out.setStopped(false)
	fillBlock(t, p, 4, 0xB)
	assert.False(t, p.Stats().Stalled)

	// the held block plays first, the new one is armed behind it
	require.Equal(t, 2, out.outputCount())
	assert.Equal(t, bytes.Repeat([]byte{0xA}, 16), out.outputs[0])
	assert.Equal(t, bytes.Repeat([]byte{0xB}, 16), out.outputs[1])

	require.True(t, out.complete())
	require.True(t, out.complete())
	assert.Equal(t, uint64(2), p.Stats().Completed)
	assert.Zero(t, p.Stats().Occupancy)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Flush(ctx, false))
}

func TestSubmitWhileStalledKeepsOrder(t *testing.T) {
	t.Parallel()

	p, out := newTestPlayer(t, 4)
	out.setStopped(true)

	a := fillBlock(t, p, 4, 0xA)
	fillBlock(t, p, 4, 0xB)
	assert.Zero(t, out.outputCount(), "nothing behind a held block may play")
	assert.Equal(t, 2, p.Stats().Occupancy)

	cur, err := p.Current()
	require.NoError(t, err)
	assert.Equal(t, a, cur.Start)

	// a forced flush drops the held block with everything else
	require.NoError(t, p.Flush(context.Background(), true))
	assert.False(t, p.Stats().Stalled)
}

func TestCurrent(t *testing.T) {
	t.Parallel()

	p, out := newTestPlayer(t, 4)

	_, err := p.Current()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmpty))

	a := submitBlock(t, p, 10)
	b := submitBlock(t, p, 10)
	cur, err := p.Current()
	require.NoError(t, err)
	assert.Equal(t, a, cur.Start)

	require.True(t, out.complete())
	cur, err = p.Current()
	require.NoError(t, err)
	assert.Equal(t, b, cur.Start)

	require.True(t, out.complete())
	_, err = p.Current()
	assert.True(t, errors.Is(err, ErrEmpty))

	require.NoError(t, p.Close())
	_, err = p.Current()
	assert.True(t, errors.Is(err, ErrNotInitialized))
}
