// Package playback implements a lock-free buffered player for a double-buffered
// audio output peripheral.
//
// A Player brokers between one producer goroutine, which places PCM blocks in
// a fixed arena and submits them, and one completion context (a device
// callback or timer goroutine) which reports finished transfers through
// OnComplete. The two sides share a descriptor Ring whose read and write
// indices are atomics; no lock is taken on the data path.
//
// Typical producer flow:
//
//	addr, err := player.Allocate(frames)
//	buf, _ := player.Buffer(addr, frames)
//	n, _ := src.ReadFrames(buf)
//	err = player.Submit(addr, n)
//
// Stream wraps this loop with backpressure handling.
package playback
