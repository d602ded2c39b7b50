package playback

import "fmt"

// Format describes the PCM stream handed to the peripheral.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	SwapChannels  bool // swap left and right on output
}

// BytesPerFrame returns the size of one interleaved frame.
func (f Format) BytesPerFrame() int {
	return f.Channels * ((f.BitsPerSample + 7) / 8)
}

func (f Format) String() string {
	return fmt.Sprintf("%d Hz, %d ch, %d bit", f.SampleRate, f.Channels, f.BitsPerSample)
}

// Peripheral is a double-buffered output engine: one transfer playing and one
// armed for reload.
//
// Output starts block immediately when idle, or arms it for reload when a
// transfer is playing and the reload slot is free; otherwise it returns
// false. Implementations should also reject the block they are currently
// playing, which closes the window where a block could be armed twice.
//
// When a transfer finishes the peripheral promotes the reload block, if any,
// and then calls the completion handler from its own context. After
// Flush(true) returns no completion fires for dropped transfers.
// Flush(false) is called once the queue has drained.
type Peripheral interface {
	Setup(format Format) error
	Output(block []byte, frames int) bool
	Flush(force bool)
	Mute(on bool)
}

// CompletionAttacher is implemented by peripherals that need to be told which
// function to call when a transfer completes. New attaches Player.OnComplete.
type CompletionAttacher interface {
	Attach(onComplete func())
}
