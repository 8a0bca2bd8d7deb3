// Package iqdemod implements the tag-direction demodulator: a
// 2-sample-per-bit (half-ETU) state machine that recovers PICC→PCD frames
// from a stream of signed I/Q subcarrier correlator samples, with
// phase-reference training against the first locked-on subcarrier cycle.
package iqdemod

// State is one of the demodulator's tagged states.
type State int

const (
	Unsyncd State = iota
	PhaseRefTraining
	WaitForRisingEdgeOfSOF
	AwaitingStartBit
	ReceivingData
)

// threshold is the minimum subcarrier amplitude considered "present".
const threshold = 8

// In half-ETU sample counts (2 samples per ETU).
const (
	sofZerosMinHalf = 9 * 2
	sofZerosMaxHalf = 12 * 2
	awaitHighMaxHalf = 3 * 2
)

// Demod holds tag-direction demod state. Call Reset before first use.
type Demod struct {
	state State

	sumI, sumQ int
	posCount   int

	shiftReg uint16
	bitIdx   int
	thisBit  int
	halfBit  int

	zeroCount int
	highCount int

	len    int
	maxLen int
	out    []byte
}

// Reset (re)initializes the demodulator for a new frame, with the given
// maximum output byte count.
func (d *Demod) Reset(maxLen int) {
	*d = Demod{maxLen: maxLen, out: d.out[:0]}
}

// Output returns the bytes decoded so far.
func (d *Demod) Output() []byte { return d.out }

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	if v < 0 {
		return -1
	}
	return 1
}

func amplitude(ci, cq int) int {
	ai, aq := abs(ci), abs(cq)
	hi, lo := ai, aq
	if aq > ai {
		hi, lo = aq, ai
	}
	return hi + lo/2
}

// projection computes the soft decision of (ci,cq) against the locked
// reference (sumI,sumQ): v>0 is a logical 1, v<=0 is a logical 0.
func (d *Demod) projection(ci, cq int) int {
	return sign(d.sumI)*ci + sign(d.sumQ)*cq
}

// ReceiveSample feeds one half-ETU correlator pair into the state machine.
// It returns true when a frame has been recovered (complete via EOF, or a
// partial frame accepted because the subcarrier dropped mid-byte, or the
// iCLASS/Picopass SOF-only response case).
func (d *Demod) ReceiveSample(ci, cq int) bool {
	amp := amplitude(ci, cq)
	switch d.state {
	case Unsyncd:
		if amp > threshold {
			d.state = PhaseRefTraining
			d.sumI, d.sumQ = ci, cq
			d.posCount = 1
		}
	case PhaseRefTraining:
		domI := abs(d.sumI) >= abs(d.sumQ)
		var curSign, refSign int
		if domI {
			curSign, refSign = sign(ci), sign(d.sumI)
		} else {
			curSign, refSign = sign(cq), sign(d.sumQ)
		}
		transition := amp <= threshold || curSign != refSign
		if !transition {
			if d.posCount < 10 {
				d.sumI += ci
				d.sumQ += cq
				d.posCount++
			}
			return false
		}
		if d.posCount < 10 {
			d.state = Unsyncd
			return false
		}
		// Phase reference locked. This sample is the first half-bit of
		// the frame (the SOF's first zero).
		d.state = ReceivingData
		d.shiftReg = 0
		d.bitIdx = 0
		d.len = 0
		d.thisBit = d.projection(ci, cq)
		d.halfBit = 1
	case WaitForRisingEdgeOfSOF:
		v := d.projection(ci, cq)
		if v > 0 {
			etuZeros := d.zeroCount
			if etuZeros < sofZerosMinHalf || etuZeros > sofZerosMaxHalf {
				d.state = Unsyncd
				return false
			}
			d.state = AwaitingStartBit
			d.highCount = 0
			return false
		}
		d.zeroCount++
		if d.zeroCount > sofZerosMaxHalf {
			d.state = Unsyncd
		}
	case AwaitingStartBit:
		v := d.projection(ci, cq)
		if v > 0 {
			d.highCount++
			if d.highCount > awaitHighMaxHalf {
				if d.bitIdx == 0 && d.len == 0 {
					d.state = Unsyncd
					return true
				}
				d.state = Unsyncd
			}
			return false
		}
		d.state = ReceivingData
		d.shiftReg = 0
		d.bitIdx = 0
		d.thisBit = v
		d.halfBit = 1
	case ReceivingData:
		v := d.projection(ci, cq)
		if d.halfBit == 0 {
			d.thisBit = v
			d.halfBit = 1
			return false
		}
		d.thisBit += v
		d.halfBit = 0
		bit := 0
		if d.thisBit > 0 {
			bit = 1
		}
		d.shiftReg >>= 1
		if bit != 0 {
			d.shiftReg |= 1 << 9
		}
		d.bitIdx++
		if amp <= threshold && d.len > 0 {
			return true
		}
		if d.bitIdx != 10 {
			return false
		}
		d.bitIdx = 0
		stop := (d.shiftReg >> 9) & 1
		start := d.shiftReg & 1
		switch {
		case stop == 1 && start == 0:
			b := byte((d.shiftReg >> 1) & 0xff)
			if d.len < d.maxLen {
				d.out = append(d.out, b)
				d.len++
			}
			d.state = AwaitingStartBit
			d.highCount = 0
		case d.shiftReg == 0 && d.len > 0:
			d.state = Unsyncd
			return true
		case d.shiftReg == 0 && d.len == 0:
			d.state = WaitForRisingEdgeOfSOF
			d.zeroCount = 0
		default:
			d.state = WaitForRisingEdgeOfSOF
			d.zeroCount = 0
		}
	}
	return false
}
