package dac

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/buffplayer/internal/errors"
	"github.com/tphakala/buffplayer/internal/logger"
	"github.com/tphakala/buffplayer/internal/observability/metrics"
	"github.com/tphakala/buffplayer/internal/pcm"
	"github.com/tphakala/buffplayer/internal/playback"
)

// MalgoName is the device label used for miniaudio output.
const MalgoName = "malgo"

// DeviceInfo describes a playback device.
type DeviceInfo struct {
	Index     int
	Name      string
	ID        string
	IsDefault bool
}

// Malgo plays through a miniaudio playback device. The device's data
// callback is the completion context: it copies the playing transfer into
// the device buffer and calls the completion handler each time a transfer
// has been fully consumed.
type Malgo struct {
	deviceName string
	tap        *Tap
	recorder   metrics.OutputRecorder
	log        logger.Logger
	cbLog      logger.Logger

	ctx    *malgo.AllocatedContext
	device *malgo.Device

	// held for the whole data callback; Flush(true) takes it
	callbackMu sync.Mutex

	mu         sync.Mutex
	onComplete func()
	format     playback.Format
	current    *transfer
	reload     *transfer
	pos        int
	muted      bool

	transfers atomic.Uint64
	stopping  atomic.Bool
}

// NewMalgo returns an unconfigured device; Setup opens it.
func NewMalgo(opts ...Option) *Malgo {
	o := buildOptions(opts)
	log := o.log.Module(MalgoName)
	return &Malgo{
		deviceName: o.name,
		tap:        o.tap,
		recorder:   o.recorder,
		log:        log,
		cbLog:      logger.NewRateLimited(log, time.Second, 3),
	}
}

// Attach sets the function called after each consumed transfer.
func (m *Malgo) Attach(onComplete func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onComplete = onComplete
}

// platformBackend mirrors what works best per OS; nil lets miniaudio choose.
func platformBackend() []malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return []malgo.Backend{malgo.BackendAlsa}
	case "windows":
		return []malgo.Backend{malgo.BackendWasapi}
	case "darwin":
		return []malgo.Backend{malgo.BackendCoreaudio}
	default:
		return nil
	}
}

func sampleFormat(bits int) (malgo.FormatType, bool) {
	switch bits {
	case 8:
		return malgo.FormatU8, true
	case 16:
		return malgo.FormatS16, true
	case 24:
		return malgo.FormatS24, true
	case 32:
		return malgo.FormatS32, true
	default:
		return malgo.FormatUnknown, false
	}
}

func (m *Malgo) deviceError(op string, err error) error {
	m.recorder.RecordDeviceError(op)
	return errors.New(err).
		Component(componentDAC).
		Category(errors.CategoryAudioDevice).
		Context("operation", op).
		Context("device", m.deviceName).
		Build()
}

// Setup opens and starts the playback device for format. Calling it again
// reopens the device.
func (m *Malgo) Setup(format playback.Format) error {
	sf, ok := sampleFormat(format.BitsPerSample)
	if !ok || format.SampleRate <= 0 || format.Channels <= 0 {
		return errors.New(ErrInvalidFormat).
			Component(componentDAC).
			Category(errors.CategoryValidation).
			Context("operation", "setup").
			Context("format", format.String()).
			Build()
	}
	if m.tap != nil && m.tap.Format().BytesPerFrame() != format.BytesPerFrame() {
		return errors.New(ErrInvalidFormat).
			Component(componentDAC).
			Category(errors.CategoryValidation).
			Context("operation", "setup").
			Context("tap_format", m.tap.Format().String()).
			Build()
	}

	m.teardown()

	ctx, err := malgo.InitContext(platformBackend(), malgo.ContextConfig{}, func(message string) {
		m.log.Trace("miniaudio", logger.String("message", message))
	})
	if err != nil {
		return m.deviceError("init_context", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = sf
	cfg.Playback.Channels = uint32(format.Channels)
	cfg.SampleRate = uint32(format.SampleRate)
	cfg.Alsa.NoMMap = 1

	if m.deviceName != "" {
		infos, err := ctx.Devices(malgo.Playback)
		if err != nil {
			_ = ctx.Uninit()
			ctx.Free()
			return m.deviceError("enumerate", err)
		}
		found := false
		for i := range infos {
			if infos[i].Name() == m.deviceName {
				cfg.Playback.DeviceID = infos[i].ID.Pointer()
				found = true
				break
			}
		}
		if !found {
			_ = ctx.Uninit()
			ctx.Free()
			return errors.Newf("playback device %q not found", m.deviceName).
				Component(componentDAC).
				Category(errors.CategoryNotFound).
				Context("operation", "setup").
				Build()
		}
	}

	m.mu.Lock()
	m.format = format
	m.mu.Unlock()

	device, err := malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: m.onData,
		Stop: m.onStop,
	})
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return m.deviceError("init_device", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return m.deviceError("start", err)
	}

	m.ctx = ctx
	m.device = device

	m.log.Info("playback device started",
		logger.String("device", m.deviceName),
		logger.String("format", format.String()))
	return nil
}

// Output starts block when idle or arms it for reload.
func (m *Malgo) Output(block []byte, frames int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := frames * m.format.BytesPerFrame()
	if m.device == nil || frames <= 0 || len(block) < n {
		return false
	}

	t := &transfer{block: block[:n], frames: frames}
	switch {
	case m.current == nil:
		m.current = t
		m.pos = 0
	case m.reload == nil && !sameBlock(m.current.block, t.block):
		m.reload = t
	default:
		return false
	}
	return true
}

// Flush drops both transfers when force is set. The device keeps running and
// plays silence.
func (m *Malgo) Flush(force bool) {
	if !force {
		return
	}
	m.callbackMu.Lock()
	m.mu.Lock()
	m.current, m.reload = nil, nil
	m.pos = 0
	m.mu.Unlock()
	m.callbackMu.Unlock()
}

func (m *Malgo) Mute(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted = on
}

// Transfers returns the number of consumed transfers.
func (m *Malgo) Transfers() uint64 {
	return m.transfers.Load()
}

// Close stops the device and releases the miniaudio context.
func (m *Malgo) Close() error {
	m.Flush(true)
	m.teardown()
	return nil
}

func (m *Malgo) teardown() {
	if m.device != nil {
		m.stopping.Store(true)
		defer m.stopping.Store(false)
		_ = m.device.Stop()
		m.device.Uninit()
		m.mu.Lock()
		m.device = nil
		m.mu.Unlock()
	}
	if m.ctx != nil {
		_ = m.ctx.Uninit()
		m.ctx.Free()
		m.ctx = nil
	}
}

// onData fills the device buffer from the playing transfer. Each finished
// transfer is handed back through the completion handler before the next
// one is read.
func (m *Malgo) onData(out, _ []byte, _ uint32) {
	m.callbackMu.Lock()
	defer m.callbackMu.Unlock()

	off := 0
	for off < len(out) {
		m.mu.Lock()
		cur := m.current
		if cur == nil {
			bits := m.format.BitsPerSample
			m.mu.Unlock()
			pcm.Silence(out[off:], bits)
			break
		}

		n := copy(out[off:], cur.block[m.pos:])
		chunk := out[off : off+n]
		switch {
		case m.muted:
			pcm.Silence(chunk, m.format.BitsPerSample)
		case m.format.SwapChannels && m.format.Channels == 2:
			pcm.SwapStereo(chunk, m.format.BitsPerSample)
		}
		m.pos += n
		off += n

		finished := m.pos >= len(cur.block)
		if finished {
			m.current, m.reload = m.reload, nil
			m.pos = 0
		}
		cb := m.onComplete
		m.mu.Unlock()

		if finished {
			m.transfers.Add(1)
			m.recorder.RecordTransfer(cur.frames)
			if cb != nil {
				cb()
			}
		}
	}

	if m.tap != nil {
		m.tap.Write(out)
	}
}

func (m *Malgo) onStop() {
	if m.stopping.Load() {
		return
	}
	m.recorder.RecordDeviceError("stop")
	m.cbLog.Warn("playback device stopped")
}

// ListDevices enumerates playback devices.
func ListDevices() ([]DeviceInfo, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, errors.New(err).
			Component(componentDAC).
			Category(errors.CategoryAudioDevice).
			Context("operation", "init_context").
			Build()
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, errors.New(err).
			Component(componentDAC).
			Category(errors.CategoryAudioDevice).
			Context("operation", "enumerate").
			Build()
	}

	devices := make([]DeviceInfo, 0, len(infos))
	for i := range infos {
		devices = append(devices, DeviceInfo{
			Index:     i,
			Name:      infos[i].Name(),
			ID:        infos[i].ID.String(),
			IsDefault: infos[i].IsDefault != 0,
		})
	}
	return devices, nil
}
