package playback

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/buffplayer/internal/errors"
)

func newTestArena(t *testing.T, start, size, bpf int) *Arena {
	t.Helper()
	a, err := NewArena(start, size, bpf)
	require.NoError(t, err)
	return a
}

func TestNewArenaValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		start, size   int
		bytesPerFrame int
		wantErr       bool
	}{
		{"valid", 0, 1000, 4, false},
		{"offset start", 4096, 1000, 2, false},
		{"negative start", -1, 1000, 4, true},
		{"zero size", 0, 0, 4, true},
		{"zero frame size", 0, 1000, 0, true},
		{"beyond 32 bits", 1 << 32, 16, 4, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a, err := NewArena(tt.start, tt.size, tt.bytesPerFrame)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidArgument))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.start+tt.size, a.End())
		})
	}
}

func TestArenaContains(t *testing.T) {
	t.Parallel()

	a := newTestArena(t, 100, 400, 4)
	assert.True(t, a.Contains(100, 100))
	assert.True(t, a.Contains(496, 1))
	assert.False(t, a.Contains(496, 2), "runs past end")
	assert.False(t, a.Contains(96, 1), "before start")
	assert.False(t, a.Contains(100, -1))
	assert.False(t, a.Contains(math.MaxInt, 1), "offset must not wrap")
	assert.False(t, a.Contains(100, 1<<62), "byte length must not wrap")
	assert.False(t, a.Contains(100, math.MaxInt))
	assert.Equal(t, 100, a.MaxFrames())
}

func TestArenaPlaceSequence(t *testing.T) {
	t.Parallel()

	a := newTestArena(t, 0, 1000, 4)
	r := newTestRing(t, 4)

	place := func(frames int) int {
		t.Helper()
		addr, err := a.Place(r, frames)
		require.NoError(t, err)
		require.True(t, r.Push(Descriptor{Start: addr, Frames: frames}))
		return addr
	}

	assert.Equal(t, 0, place(100), "empty ring places at start")
	assert.Equal(t, 400, place(100))

	// 800+400 runs past the end and the wrap target collides with the oldest block
	_, err := a.Place(r, 100)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOverlap))

	assert.Equal(t, 800, place(10))
	assert.Equal(t, 840, place(10))
	assert.True(t, r.IsFull())

	_, err = a.Place(r, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFull))
	assert.Equal(t, 4, r.Occupancy())
}

func TestArenaPlaceWraps(t *testing.T) {
	t.Parallel()

	a := newTestArena(t, 0, 1000, 4)
	r := newTestRing(t, 4)

	r.Push(Descriptor{Start: 0, Frames: 100})
	r.Push(Descriptor{Start: 400, Frames: 100})
	r.PopCurrent()

	addr, err := a.Place(r, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, addr, "wraps to start once the oldest block moved on")
	r.Push(Descriptor{Start: addr, Frames: 100})

	// the next block would start exactly at the oldest block
	_, err = a.Place(r, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOverlap))

	assert.Equal(t, 1000, a.BytesHeld(r), "held span includes the skipped tail")
}

func TestArenaPlaceNeverIntersectsOldest(t *testing.T) {
	t.Parallel()

	a := newTestArena(t, 0, 1024, 2)
	r := newTestRing(t, 6)
	sizes := []int{37, 100, 5, 211, 64, 1, 90, 300, 12, 128}

	for i := range 200 {
		frames := sizes[i%len(sizes)]
		addr, err := a.Place(r, frames)
		if err != nil {
			require.True(t, errors.Is(err, ErrFull) || errors.Is(err, ErrOverlap), "unexpected %v", err)
			require.True(t, r.PopCurrent())
			continue
		}

		require.True(t, a.Contains(addr, frames))
		if first, ok := r.First(); ok {
			end := addr + frames*a.BytesPerFrame()
			firstEnd := first.Start + first.Frames*a.BytesPerFrame()
			assert.False(t, addr < firstEnd && first.Start < end,
				"block [%d,%d) intersects oldest [%d,%d)", addr, end, first.Start, firstEnd)
		}
		require.True(t, r.Push(Descriptor{Start: addr, Frames: frames}))
	}
}

func TestArenaPlaceInvalid(t *testing.T) {
	t.Parallel()

	a := newTestArena(t, 0, 1000, 4)
	r := newTestRing(t, 4)

	for _, frames := range []int{0, -5, 251, 1 << 62, math.MaxInt} {
		_, err := a.Place(r, frames)
		require.Error(t, err, "frames %d", frames)
		assert.True(t, errors.Is(err, ErrInvalidArgument))
	}

	addr, err := a.Place(r, 250)
	require.NoError(t, err, "a block the size of the arena fits an empty ring")
	assert.Zero(t, addr)
}

func TestArenaBytesHeld(t *testing.T) {
	t.Parallel()

	a := newTestArena(t, 0, 1000, 4)
	r := newTestRing(t, 4)
	assert.Zero(t, a.BytesHeld(r))

	r.Push(Descriptor{Start: 0, Frames: 10})
	r.Push(Descriptor{Start: 40, Frames: 5})
	assert.Equal(t, 60, a.BytesHeld(r))

	r.PopCurrent()
	assert.Equal(t, 20, a.BytesHeld(r))
}
