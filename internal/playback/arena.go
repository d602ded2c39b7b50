package playback

import "math"

// Arena is the fixed sample memory shared by every queued block.
//
// Addresses are absolute: a block at address a occupies bytes
// [a, a+frames*bytesPerFrame) and a lies in [Start, Start+Size).
type Arena struct {
	start         int
	size          int
	bytesPerFrame int
	mem           []byte
}

// NewArena reserves size bytes addressed from start.
func NewArena(start, size, bytesPerFrame int) (*Arena, error) {
	switch {
	case start < 0, size <= 0, bytesPerFrame <= 0:
		return nil, newError("arena_new", ErrInvalidArgument,
			"start", start, "size", size, "bytes_per_frame", bytesPerFrame)
	case uint64(start)+uint64(size) > math.MaxUint32:
		// descriptors store addresses in 32 bits
		return nil, newError("arena_new", ErrInvalidArgument,
			"start", start, "size", size, "reason", "arena exceeds 32-bit address space")
	}
	return &Arena{
		start:         start,
		size:          size,
		bytesPerFrame: bytesPerFrame,
		mem:           make([]byte, size),
	}, nil
}

func (a *Arena) Start() int         { return a.start }
func (a *Arena) Size() int          { return a.size }
func (a *Arena) End() int           { return a.start + a.size }
func (a *Arena) BytesPerFrame() int { return a.bytesPerFrame }

// Contains reports whether a block of frames at addr lies inside the arena.
func (a *Arena) Contains(addr, frames int) bool {
	if frames < 0 || addr < a.start || addr > a.End() {
		return false
	}
	// divide instead of multiplying so huge values cannot wrap
	return frames <= (a.End()-addr)/a.bytesPerFrame
}

// MaxFrames is the largest block the arena can hold.
func (a *Arena) MaxFrames() int { return a.size / a.bytesPerFrame }

// Place returns the address for a new block of frames, given the blocks
// currently queued in ring. Queued blocks are never overlapped: the new span
// goes right after the newest block, wrapping to Start when it would run past
// the end, and fails with ErrOverlap if it would reach the oldest block.
//
// The oldest block may be retired concurrently; a stale view only makes
// placement more conservative.
func (a *Arena) Place(ring *Ring, frames int) (int, error) {
	if frames <= 0 || frames > a.MaxFrames() {
		return 0, newError("arena_place", ErrInvalidArgument,
			"frames", frames, "arena_size", a.size)
	}
	span := frames * a.bytesPerFrame

	if ring.IsFull() {
		return 0, newError("arena_place", ErrFull, "capacity", ring.Cap())
	}

	first, ok := ring.First()
	if !ok {
		return a.start, nil
	}
	last, ok := ring.Last()
	if !ok {
		return a.start, nil
	}

	candStart := last.Start + last.Frames*a.bytesPerFrame
	candEnd := candStart + span

	switch {
	case candStart <= first.Start:
		// already wrapped behind the oldest block
		if candEnd > first.Start {
			return 0, newError("arena_place", ErrOverlap,
				"frames", frames, "candidate", candStart, "first", first.Start)
		}
		return candStart, nil
	case candEnd > a.End():
		candEnd = a.start + span
		if candEnd > first.Start {
			return 0, newError("arena_place", ErrOverlap,
				"frames", frames, "candidate", a.start, "first", first.Start)
		}
		return a.start, nil
	default:
		return candStart, nil
	}
}

// BytesHeld returns the arena bytes spanned from the oldest to the newest
// queued block, including any skipped tail before a wrap.
func (a *Arena) BytesHeld(ring *Ring) int {
	first, ok := ring.First()
	if !ok {
		return 0
	}
	last, ok := ring.Last()
	if !ok {
		return 0
	}
	end := last.Start + last.Frames*a.bytesPerFrame
	if end > first.Start {
		return end - first.Start
	}
	return a.End() - first.Start + end - a.start
}

// view returns the bytes of a block. Callers check Contains first.
func (a *Arena) view(addr, frames int) []byte {
	off := addr - a.start
	n := frames * a.bytesPerFrame
	return a.mem[off : off+n : off+n]
}
