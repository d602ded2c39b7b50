package dac

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/buffplayer/internal/logger"
	"github.com/tphakala/buffplayer/internal/pcm"
	"github.com/tphakala/buffplayer/internal/playback"
	"github.com/tphakala/buffplayer/internal/source"
)

// A tone streamed through the player into the simulated DAC comes out of the
// tap unchanged and in order.
func TestPlayerThroughSimulatedDAC(t *testing.T) {
	t.Parallel()

	quiet := logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)

	path := filepath.Join(t.TempDir(), "out.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	tap, err := NewTap(f, testFormat, 1<<20, nil)
	require.NoError(t, err)

	sim := NewSimulated(WithSpeed(20), WithTap(tap), WithLogger(quiet))
	defer sim.Close()

	p, err := playback.New(sim, playback.Config{ArenaSize: 4096, BytesPerFrame: testFormat.BytesPerFrame()},
		playback.WithLogger(quiet), playback.WithPollInterval(time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, p.Open(8))
	defer p.Close()
	require.NoError(t, p.Setup(testFormat))

	tapCtx, stopTap := context.WithCancel(context.Background())
	tapDone := make(chan error, 1)
	go func() { tapDone <- tap.Run(tapCtx) }()

	tone, err := source.NewTone(testFormat, 440, 0.8, 250*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := playback.Stream(ctx, p, tone, 160)
	require.NoError(t, err)

	stopTap()
	require.NoError(t, <-tapDone)

	assert.Equal(t, int64(2000), res.Frames)
	stats := p.Stats()
	assert.Equal(t, stats.Submitted, stats.Completed)
	assert.Zero(t, stats.Occupancy)
	assert.Equal(t, stats.Completed, sim.Transfers())
	assert.Zero(t, tap.Dropped())

	// regenerate the tone as reference
	ref, err := source.NewTone(testFormat, 440, 0.8, 250*time.Millisecond)
	require.NoError(t, err)
	want := make([]byte, 2000*testFormat.BytesPerFrame())
	n, err := ref.ReadFrames(want)
	require.Equal(t, 2000, n)
	require.ErrorIs(t, err, io.EOF)
	wantSamples, err := pcm.Decode(nil, want, 16)
	require.NoError(t, err)

	got, _ := readWAVSamples(t, path)
	assert.Equal(t, wantSamples, got)
}

func TestSampleFormatMapping(t *testing.T) {
	t.Parallel()

	for _, bits := range []int{8, 16, 24, 32} {
		_, ok := sampleFormat(bits)
		assert.True(t, ok, "bits %d", bits)
	}
	_, ok := sampleFormat(12)
	assert.False(t, ok)
}

func TestMalgoOutputBeforeSetup(t *testing.T) {
	t.Parallel()

	m := NewMalgo()
	assert.False(t, m.Output(make([]byte, 16), 4), "no device opened yet")
	m.Flush(true)
	require.NoError(t, m.Close())
}
