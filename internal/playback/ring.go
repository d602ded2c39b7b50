package playback

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// MaxCapacity is the largest ring a Player accepts.
const MaxCapacity = 4096

// DefaultCapacity is the ring size used when none is configured.
const DefaultCapacity = 64

// Descriptor locates one queued block: an absolute arena address and a frame count.
type Descriptor struct {
	Start  int
	Frames int
}

// pack stores d in one word. Arena addresses and frame counts are bounded to 32 bits by NewArena.
func (d Descriptor) pack() uint64 {
	return uint64(uint32(d.Start))<<32 | uint64(uint32(d.Frames))
}

func unpack(v uint64) Descriptor {
	return Descriptor{Start: int(v >> 32), Frames: int(uint32(v))}
}

// Ring is a fixed-capacity single-producer single-consumer FIFO of descriptors.
//
// Indices run over [0, 2N) so that a full ring (occupancy N) and an empty
// ring (occupancy 0) are distinguishable without a separate counter. The
// producer owns writeIndex and the slot at writeIndex mod N; the consumer
// owns readIndex. The slot at readIndex mod N is the block the peripheral is
// currently playing whenever the ring is not empty, and the slot after it is
// the block to arm for reload.
//
// Each slot is one atomic word so a forced Reset from the producer can clear
// slots while the consumer may still be peeking.
type Ring struct {
	readIndex atomic.Uint32

	_ cpu.CacheLinePad

	writeIndex atomic.Uint32

	_ cpu.CacheLinePad

	capacity uint32
	modulus  uint32 // 2 * capacity
	slots    []atomic.Uint64
}

// NewRing allocates a zeroed ring with room for capacity descriptors.
func NewRing(capacity int) (*Ring, error) {
	if capacity < 1 || capacity > MaxCapacity {
		return nil, newError("ring_new", ErrInvalidArgument,
			"capacity", capacity, "max_capacity", MaxCapacity)
	}
	return &Ring{
		capacity: uint32(capacity),
		modulus:  uint32(2 * capacity),
		slots:    make([]atomic.Uint64, capacity),
	}, nil
}

// Cap returns the ring capacity N.
func (r *Ring) Cap() int {
	return int(r.capacity)
}

func (r *Ring) occupancy(read, write uint32) uint32 {
	return (write + r.modulus - read) % r.modulus
}

// Occupancy returns the number of queued descriptors, in [0, N].
func (r *Ring) Occupancy() int {
	return int(r.occupancy(r.readIndex.Load(), r.writeIndex.Load()))
}

func (r *Ring) IsEmpty() bool {
	return r.Occupancy() == 0
}

func (r *Ring) IsFull() bool {
	return r.Occupancy() == int(r.capacity)
}

// IsReloadable reports whether a block is queued behind the one playing.
func (r *Ring) IsReloadable() bool {
	return r.Occupancy() > 1
}

// Push appends d. It returns false, leaving the ring unchanged, when full.
// Producer only.
func (r *Ring) Push(d Descriptor) bool {
	write := r.writeIndex.Load()
	if r.occupancy(r.readIndex.Load(), write) == r.capacity {
		return false
	}
	r.slots[write%r.capacity].Store(d.pack())
	// publish after the slot store
	r.writeIndex.Store((write + 1) % r.modulus)
	return true
}

// PeekNextToPlay returns the descriptor queued behind the current one.
// It fails unless the ring is reloadable. Consumer only.
func (r *Ring) PeekNextToPlay() (Descriptor, bool) {
	read := r.readIndex.Load()
	if r.occupancy(read, r.writeIndex.Load()) <= 1 {
		return Descriptor{}, false
	}
	return unpack(r.slots[(read+1)%r.capacity].Load()), true
}

// PopCurrent retires the descriptor being played. Slots are not touched.
// It returns false when the ring is empty. Consumer only.
func (r *Ring) PopCurrent() bool {
	for {
		read := r.readIndex.Load()
		if r.occupancy(read, r.writeIndex.Load()) == 0 {
			return false
		}
		// CAS so a concurrent Reset is never undone
		if r.readIndex.CompareAndSwap(read, (read+1)%r.modulus) {
			return true
		}
	}
}

// First returns the oldest queued descriptor, the one playing.
func (r *Ring) First() (Descriptor, bool) {
	read := r.readIndex.Load()
	if r.occupancy(read, r.writeIndex.Load()) == 0 {
		return Descriptor{}, false
	}
	return unpack(r.slots[read%r.capacity].Load()), true
}

// Last returns the most recently pushed descriptor.
func (r *Ring) Last() (Descriptor, bool) {
	write := r.writeIndex.Load()
	if r.occupancy(r.readIndex.Load(), write) == 0 {
		return Descriptor{}, false
	}
	return unpack(r.slots[(write+r.modulus-1)%r.capacity].Load()), true
}

// Reset empties the ring by moving readIndex up to writeIndex, then zeroes
// the slots. Called from the producer side for a forced flush.
func (r *Ring) Reset() {
	write := r.writeIndex.Load()
	for {
		read := r.readIndex.Load()
		if read == write || r.readIndex.CompareAndSwap(read, write) {
			break
		}
	}
	for i := range r.slots {
		r.slots[i].Store(0)
	}
}
