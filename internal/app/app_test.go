package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/buffplayer/internal/conf"
	"github.com/tphakala/buffplayer/internal/errors"
	"github.com/tphakala/buffplayer/internal/playback"
	"github.com/tphakala/buffplayer/internal/source"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var toneFormat = playback.Format{SampleRate: 8000, Channels: 2, BitsPerSample: 16}

func testSettings() *conf.Settings {
	s := &conf.Settings{}
	s.Playback.Capacity = 8
	s.Playback.BlockFrames = 160
	s.Playback.FlushTimeout = 5 * time.Second
	s.Playback.Arena.Size = 4096
	s.Audio.SampleRate = toneFormat.SampleRate
	s.Audio.Channels = toneFormat.Channels
	s.Audio.BitsPerSample = toneFormat.BitsPerSample
	s.Audio.Device = conf.DeviceSimulated
	s.Audio.Tap.Size = 64 * 1024
	return s
}

func newTone(t *testing.T, d time.Duration) *source.Tone {
	t.Helper()
	tone, err := source.NewTone(toneFormat, 440, 0.5, d)
	require.NoError(t, err)
	return tone
}

func TestPlayToneThroughSimulatedDevice(t *testing.T) {
	t.Parallel()

	settings := testSettings()
	tapPath := filepath.Join(t.TempDir(), "out.wav")

	res, err := Play(context.Background(), settings, newTone(t, 200*time.Millisecond),
		Options{Speed: 20, TapPath: tapPath})
	require.NoError(t, err)

	assert.Equal(t, int64(1600), res.Frames)
	assert.Equal(t, 10, res.Blocks)
	assert.Equal(t, uint64(10), res.Stats.Submitted)
	assert.Equal(t, uint64(10), res.Stats.Completed)
	assert.Equal(t, uint64(10), res.Transfers)
	assert.Zero(t, res.Stats.Occupancy)
	assert.Equal(t, int64(1600*toneFormat.BytesPerFrame()), res.TapWritten)
	assert.Zero(t, res.TapDropped)

	f, err := os.Open(tapPath)
	require.NoError(t, err)
	defer f.Close()

	dec := wav.NewDecoder(f)
	require.True(t, dec.IsValidFile())
	assert.Equal(t, uint32(toneFormat.SampleRate), dec.SampleRate)
	assert.Equal(t, uint16(toneFormat.Channels), dec.NumChans)
}

func TestPlayUnknownDevice(t *testing.T) {
	t.Parallel()

	settings := testSettings()
	settings.Audio.Device = "tape"

	_, err := Play(context.Background(), settings, newTone(t, 10*time.Millisecond), Options{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestPlayTapCreateFails(t *testing.T) {
	t.Parallel()

	_, err := Play(context.Background(), testSettings(), newTone(t, 10*time.Millisecond),
		Options{TapPath: filepath.Join(t.TempDir(), "missing", "out.wav")})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))
}

func TestPlayBlockLargerThanArena(t *testing.T) {
	t.Parallel()

	settings := testSettings()
	settings.Playback.BlockFrames = 2048

	_, err := Play(context.Background(), settings, newTone(t, 10*time.Millisecond), Options{Speed: 20})
	require.Error(t, err)
	assert.True(t, errors.Is(err, playback.ErrInvalidArgument))
}

func TestPlayCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// ten seconds of audio at real-time speed cannot finish before the deadline
	res, err := Play(ctx, testSettings(), newTone(t, 10*time.Second), Options{Speed: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, res.Stats.Occupancy)
	assert.Less(t, res.Frames, int64(80000))
}

func TestWithSignalsTimeout(t *testing.T) {
	t.Parallel()

	ctx, stop := WithSignals(context.Background(), 10*time.Millisecond)
	defer stop()

	select {
	case <-ctx.Done():
		assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("context not cancelled after timeout")
	}
}
