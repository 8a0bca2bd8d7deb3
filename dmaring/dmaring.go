// Package dmaring models the AFE's circular I/Q sample buffer as a ring
// view with a read cursor and two drainable halves, the portable
// equivalent of a PDC/DMA peripheral's primary and secondary pointer pair.
// It is adapted from the channel/ring bookkeeping of an RP2 DMA channel
// driver, with the MCU-specific control registers replaced by a plain sample
// ring so the core does not depend on any one peripheral's register layout.
package dmaring

import "math/bits"

// Sample is one I/Q correlator pair: high byte I, low byte Q for reader RX,
// or bit-packed demod bits in sniff mode.
type Sample uint16

// Ring is a power-of-two circular buffer of Samples, split into two equal
// halves whose drained state is tracked independently, matching a PDC's
// primary/secondary receive-counter pair. Both halves are re-armed together
// by Arm only.
type Ring struct {
	buf        []Sample
	size       uint32 // power of two
	mask       uint32
	readCursor uint32
	writeCount uint32 // total samples ever written by the producer

	halfSize   uint32
	drainedA   bool
	drainedB   bool
}

// New creates a ring over size samples. size must be a power of two.
func New(size int) *Ring {
	if size <= 0 || size&(size-1) != 0 {
		panic("dmaring: size must be a power of two")
	}
	return &Ring{
		buf:      make([]Sample, size),
		size:     uint32(size),
		mask:     uint32(size - 1),
		halfSize: uint32(size / 2),
	}
}

// Arm resets the ring for a fresh capture: both halves are marked armed and
// the read cursor is reset to 0.
func (r *Ring) Arm() {
	r.readCursor = 0
	r.writeCount = 0
	r.drainedA = false
	r.drainedB = false
}

// Produce is called by the simulated/hardware AFE backend to append a
// sample as if written by the DMA peripheral.
func (r *Ring) Produce(s Sample) {
	r.buf[r.writeCount&r.mask] = s
	r.writeCount++
}

// Available reports how many unread samples the producer has made visible.
func (r *Ring) Available() uint32 {
	return r.writeCount - r.readCursor
}

// Advance consumes and returns the next sample, marking whichever half has
// just been fully drained. It does not re-arm a half: a drained mark stays
// set until the next Arm. It panics if called with Available() == 0.
func (r *Ring) Advance() Sample {
	if r.Available() == 0 {
		panic("dmaring: advance with nothing available")
	}
	s := r.buf[r.readCursor&r.mask]
	r.readCursor++
	half := (r.readCursor / r.halfSize) % 2
	pos := r.readCursor % r.halfSize
	if pos == 0 {
		if half == 0 {
			r.drainedB = true
		} else {
			r.drainedA = true
		}
	}
	return s
}

// HalfDrained reports whether the named half (0 or 1) has been fully
// consumed and is eligible for rearm.
func (r *Ring) HalfDrained(half int) bool {
	if half == 0 {
		return r.drainedA
	}
	return r.drainedB
}

// StartTick masks a raw tick value down to the nearest 16-sample boundary,
// the capture-time alignment the DMA driver applies to dma_start_time.
func StartTick(tick uint32) uint32 {
	return tick &^ 0xf
}

// Log2 returns the power-of-two exponent of a ring size, useful for
// hardware backends that must program a peripheral's size-select field.
func Log2(size int) int {
	return bits.TrailingZeros(uint(size))
}
