// Package app wires a source, a player and an output device into one playback
// session. It is shared by the play and simulate commands.
package app

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/buffplayer/internal/conf"
	"github.com/tphakala/buffplayer/internal/dac"
	"github.com/tphakala/buffplayer/internal/errors"
	"github.com/tphakala/buffplayer/internal/logger"
	"github.com/tphakala/buffplayer/internal/observability"
	"github.com/tphakala/buffplayer/internal/observability/metrics"
	"github.com/tphakala/buffplayer/internal/playback"
	"github.com/tphakala/buffplayer/internal/source"
)

const componentApp = "app"

// GetLogger returns the app package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("app")
}

// Device is an output peripheral the session owns.
type Device interface {
	playback.Peripheral
	Transfers() uint64
	Close() error
}

// Options tune a session beyond what Settings carries.
type Options struct {
	// Speed scales simulated device time; ignored by hardware devices.
	Speed float64
	// TapPath overrides audio.tap.path and enables the tap when set.
	TapPath string
	// Metrics is used instead of a fresh registry when non-nil.
	Metrics *observability.Metrics
}

// Result summarizes a finished session.
type Result struct {
	playback.StreamResult
	Stats      playback.Stats
	Transfers  uint64
	TapWritten int64
	TapDropped uint64
}

// Play streams src through a player into the configured device until the
// source is exhausted or ctx is cancelled.
func Play(ctx context.Context, settings *conf.Settings, src source.Source, opts Options) (Result, error) {
	var res Result
	log := GetLogger()

	format := src.Format()
	format.SwapChannels = settings.Audio.SwapChannels

	m := opts.Metrics
	if m == nil {
		var err error
		if m, err = observability.NewMetrics(); err != nil {
			return res, errors.New(err).
				Component(componentApp).
				Category(errors.CategorySystem).
				Context("operation", "metrics_init").
				Build()
		}
	}

	streamID := uuid.NewString()
	deviceName := settings.Audio.Device
	deviceRecorder := m.Output.Device(deviceName)

	tap, closeTap, err := openTap(settings, opts, format, deviceRecorder)
	if err != nil {
		return res, err
	}

	// the tap writer drains after the device stops, so it gets its own context
	tapCtx, stopTap := context.WithCancel(context.Background())
	tapDone := make(chan error, 1)
	if tap != nil {
		go func() { tapDone <- tap.Run(tapCtx) }()
	} else {
		tapDone <- nil
	}

	dev, err := newDevice(settings, opts, tap, deviceRecorder)
	if err != nil {
		stopTap()
		<-tapDone
		closeTap()
		return res, err
	}

	player, err := playback.New(dev, playback.Config{
		ArenaStart:    settings.Playback.Arena.Start,
		ArenaSize:     settings.Playback.Arena.Size,
		BytesPerFrame: format.BytesPerFrame(),
	},
		playback.WithStreamID(streamID),
		playback.WithMetrics(m.Playback.Stream(streamID)),
		playback.WithDrainTimeout(settings.Playback.FlushTimeout),
	)
	if err == nil {
		err = player.Open(settings.Playback.Capacity)
	}
	if err == nil {
		err = player.Setup(format)
	}

	var endpoint *observability.Endpoint
	if err == nil && settings.Telemetry.Enabled {
		endpoint, err = observability.NewEndpoint(settings, m)
	}

	if err == nil {
		g, gctx := errgroup.WithContext(ctx)
		if endpoint != nil {
			g.Go(func() error { return endpoint.Run(gctx) })
		}

		log.Info("playback started",
			logger.String("stream_id", streamID),
			logger.String("device", deviceName),
			logger.String("format", format.String()),
			logger.Int("capacity", settings.Playback.Capacity),
			logger.Int("block_frames", settings.Playback.BlockFrames))

		g.Go(func() error {
			sr, serr := playback.Stream(gctx, player, src, settings.Playback.BlockFrames)
			res.StreamResult = sr
			// a nil result still has to stop the endpoint
			return errPlaybackDone(serr)
		})
		err = g.Wait()
		if errors.Is(err, errFinished) {
			err = nil
		}
	}

	if player != nil {
		res.Stats = player.Stats()
		if cerr := player.Close(); cerr != nil && err == nil {
			err = cerr
		}
		m.Playback.RemoveStream(streamID)
	}
	if cerr := dev.Close(); cerr != nil && err == nil {
		err = cerr
	}
	res.Transfers = dev.Transfers()

	stopTap()
	if terr := <-tapDone; terr != nil && err == nil {
		err = terr
	}
	closeTap()
	if tap != nil {
		res.TapWritten = tap.Written()
		res.TapDropped = tap.Dropped()
	}

	if err != nil {
		return res, err
	}

	log.Info("playback finished",
		logger.String("stream_id", streamID),
		logger.Int("blocks", res.Blocks),
		logger.Int64("frames", res.Frames),
		logger.Int("retries", res.Retries),
		logger.Uint64("underruns", res.Stats.Underruns),
		logger.Duration("duration", res.Duration))
	return res, nil
}

// errFinished cancels the rest of the group once the producer returns.
var errFinished = errors.NewStd("playback finished")

func errPlaybackDone(err error) error {
	if err != nil {
		return err
	}
	return errFinished
}

// newDevice builds the peripheral selected by audio.device.
func newDevice(settings *conf.Settings, opts Options, tap *dac.Tap, recorder metrics.OutputRecorder) (Device, error) {
	dopts := []dac.Option{dac.WithRecorder(recorder), dac.WithDeviceName(settings.Audio.Device)}
	if tap != nil {
		dopts = append(dopts, dac.WithTap(tap))
	}

	switch settings.Audio.Device {
	case conf.DeviceSimulated:
		if opts.Speed > 0 {
			dopts = append(dopts, dac.WithSpeed(opts.Speed))
		}
		return dac.NewSimulated(dopts...), nil
	case conf.DeviceMalgo:
		return dac.NewMalgo(dopts...), nil
	default:
		return nil, errors.Newf("unknown output device %q", settings.Audio.Device).
			Component(componentApp).
			Category(errors.CategoryConfiguration).
			Context("device", settings.Audio.Device).
			Build()
	}
}

// openTap creates the capture file when the tap is enabled. The returned
// close function is always safe to call.
func openTap(settings *conf.Settings, opts Options, format playback.Format, recorder metrics.OutputRecorder) (*dac.Tap, func(), error) {
	path := settings.Audio.Tap.Path
	if opts.TapPath != "" {
		path = opts.TapPath
	} else if !settings.Audio.Tap.Enabled {
		return nil, func() {}, nil
	}

	f, err := os.Create(path) //nolint:gosec // path comes from the operator's config or flags
	if err != nil {
		return nil, nil, errors.New(err).
			Component(componentApp).
			Category(errors.CategoryFileIO).
			Context("operation", "tap_create").
			Context("path", path).
			Build()
	}

	tap, err := dac.NewTap(f, format, settings.Audio.Tap.Size, recorder)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}

	GetLogger().Info("capturing output", logger.String("path", path))
	return tap, func() {
		if err := f.Close(); err != nil {
			GetLogger().Warn("closing tap file failed", logger.Error(err), logger.String("path", path))
		}
	}, nil
}

// WithSignals returns a context cancelled on SIGINT or SIGTERM, and when
// timeout elapses if it is positive.
func WithSignals(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := notifyContext(parent)
	if timeout <= 0 {
		return ctx, stop
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	return tctx, func() {
		cancel()
		stop()
	}
}
