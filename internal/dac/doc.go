// Package dac contains the output peripherals the player drives: a simulated
// double-buffered DAC timed by a goroutine, a miniaudio playback device, and
// a WAV tap that records what either of them plays.
//
// Both peripherals hold at most two transfers, one playing and one armed for
// reload, and call the attached completion handler from their own goroutine
// when a transfer finishes.
package dac
