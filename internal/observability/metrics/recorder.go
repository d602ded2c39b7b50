// Package metrics provides custom Prometheus metrics for buffplayer.
package metrics

import "time"

// PlaybackRecorder receives events from one player instance.
// Completion-side methods (RecordCompletion, RecordUnderrun, SetOccupancy,
// SetBytesInFlight) are called from the audio completion context and must
// not block.
type PlaybackRecorder interface {
	RecordSubmit(frames int)
	RecordSubmitFailure(reason string)
	RecordAllocationFailure(reason string)
	RecordCompletion()
	RecordUnderrun()
	RecordFlush(mode string, wait time.Duration)
	SetOccupancy(n int)
	SetBytesInFlight(n int)
}

// OutputRecorder receives events from one output device.
type OutputRecorder interface {
	RecordTransfer(frames int)
	RecordTapDrop(bytes int)
	RecordDeviceError(operation string)
}

// NopPlaybackRecorder discards everything.
type NopPlaybackRecorder struct{}

func (NopPlaybackRecorder) RecordSubmit(int) {}
func (NopPlaybackRecorder) RecordSubmitFailure(string) {}
func (NopPlaybackRecorder) RecordAllocationFailure(string) {}
func (NopPlaybackRecorder) RecordCompletion() {}
func (NopPlaybackRecorder) RecordUnderrun() {}
func (NopPlaybackRecorder) RecordFlush(string, time.Duration) {}
func (NopPlaybackRecorder) SetOccupancy(int) {}
func (NopPlaybackRecorder) SetBytesInFlight(int) {}

// NopOutputRecorder discards everything.
type NopOutputRecorder struct{}

func (NopOutputRecorder) RecordTransfer(int) {}
func (NopOutputRecorder) RecordTapDrop(int) {}
func (NopOutputRecorder) RecordDeviceError(string) {}
