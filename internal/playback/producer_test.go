package playback

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/buffplayer/internal/errors"
)

// patternSource yields total frames of a repeating byte pattern.
type patternSource struct {
	bytesPerFrame int
	total         int
	pos           int
	failAt        int // frame index after which reads fail, 0 disables
	stuck         bool
}

func (s *patternSource) ReadFrames(dst []byte) (int, error) {
	if s.stuck {
		return 0, nil
	}
	if s.failAt > 0 && s.pos >= s.failAt {
		return 0, errors.NewStd("decoder exploded")
	}
	if s.pos >= s.total {
		return 0, io.EOF
	}

	n := min(len(dst)/s.bytesPerFrame, s.total-s.pos)
	for i := range n * s.bytesPerFrame {
		dst[i] = byte(s.pos*s.bytesPerFrame + i)
	}
	s.pos += n
	if s.pos >= s.total {
		return n, io.EOF
	}
	return n, nil
}

// runCompletions plays the fake peripheral in the background until the
// returned stop function is called.
func runCompletions(out *fakePeripheral, every time.Duration) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Go(func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				out.complete()
			}
		}
	})
	return func() {
		close(done)
		wg.Wait()
	}
}

func TestStreamPlaysWholeSource(t *testing.T) {
	t.Parallel()

	p, out := newTestPlayer(t, 4)
	src := &patternSource{bytesPerFrame: 4, total: 1000}

	stop := runCompletions(out, 200*time.Microsecond)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := Stream(ctx, p, src, 64)
	require.NoError(t, err)

	assert.Equal(t, int64(1000), res.Frames)
	assert.Equal(t, 16, res.Blocks)
	assert.Positive(t, res.Retries, "a 1000 byte arena cannot hold four 256 byte blocks")
	assert.Positive(t, res.Duration)

	s := p.Stats()
	assert.Zero(t, s.Occupancy)
	assert.Equal(t, uint64(16), s.Submitted)
	assert.Equal(t, uint64(16), s.Completed)

	out.mu.Lock()
	first := out.outputs[0]
	flushes := append([]bool(nil), out.flushes...)
	out.mu.Unlock()

	require.Len(t, first, 256)
	for i, b := range first {
		require.Equal(t, byte(i), b, "byte %d", i)
	}
	assert.Equal(t, []bool{false}, flushes, "stream ends with a draining flush")
}

func TestStreamReadErrorDropsQueue(t *testing.T) {
	t.Parallel()

	p, out := newTestPlayer(t, 4)
	src := &patternSource{bytesPerFrame: 4, total: 1000, failAt: 20}

	res, err := Stream(context.Background(), p, src, 10)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryAudio))
	assert.Equal(t, 2, res.Blocks)
	assert.Zero(t, p.Stats().Occupancy)
	assert.Equal(t, []bool{true}, out.flushes)
}

func TestStreamNoProgress(t *testing.T) {
	t.Parallel()

	p, _ := newTestPlayer(t, 4)
	_, err := Stream(context.Background(), p, &patternSource{bytesPerFrame: 4, stuck: true}, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrNoProgress)
}

func TestStreamCancelled(t *testing.T) {
	t.Parallel()

	p, out := newTestPlayer(t, 2)
	src := &patternSource{bytesPerFrame: 4, total: 1 << 20}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	// no completions: the ring fills and the producer waits until ctx expires
	res, err := Stream(ctx, p, src, 10)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, res.Blocks)
	assert.Zero(t, p.Stats().Occupancy, "cancellation force-flushes")
	assert.Contains(t, out.flushes, true)
}

func TestStreamInvalidBlockSize(t *testing.T) {
	t.Parallel()

	p, _ := newTestPlayer(t, 4)
	_, err := Stream(context.Background(), p, &patternSource{bytesPerFrame: 4}, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestStreamDrainTimeout(t *testing.T) {
	t.Parallel()

	p, out := newTestPlayer(t, 4, WithDrainTimeout(20*time.Millisecond))
	src := &patternSource{bytesPerFrame: 4, total: 30}

	// nothing completes, so the final drain can only time out
	res, err := Stream(context.Background(), p, src, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, errors.IsCategory(err, errors.CategoryTimeout))
	assert.Equal(t, 3, res.Blocks)
	assert.Zero(t, p.Stats().Occupancy)
	assert.Equal(t, []bool{true}, out.flushes)
}
