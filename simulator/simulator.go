// Package simulator implements the tag-simulation mode state machine: a
// power-detect gate feeding an IDLE/READY/ACTIVE/HALT FSM that answers
// WUPB/REQB/HLTB/ATTRIB with pre-encoded response buffers. The tagged
// protoState machine and precomputed-response style generalizes an NFC
// Forum Type 4 Tag emulation's state set to ISO 14443-B's.
package simulator

import (
	"fmt"
	"io"

	"iso14443b.dev/crcb"
)

// State is one of the simulator's tagged states.
type State int

const (
	PowerOff State = iota
	Idle
	Ready
	Active
	Halt
)

// MFMinFieldV is the minimum rolling-average HF voltage sample that counts
// as "field present".
const MFMinFieldV = 2000

// hfWindow is the rolling power-detect sample window size.
const hfWindow = 32

// Device is the collaborator the simulator reads commands from and writes
// responses to.
type Device interface {
	io.ReadWriter
	// HFVoltage samples the HF field voltage channel.
	HFVoltage() int
}

// Tag is a running tag-simulation instance.
type Tag struct {
	d     Device
	state State

	hfSamples [hfWindow]int
	hfIdx     int
	hfSum     int
	hfFilled  int

	atqb []byte
	ok   []byte

	buf [64]byte
}

// NewTag builds a Tag that answers with an ATQB built from pupi and
// appData+protocolInfo, and a fixed CID in its OK/ATTRIB responses.
func NewTag(d Device, pupi [4]byte, appData [4]byte, protocolInfo [3]byte, cid byte) *Tag {
	atqb := make([]byte, 0, 14)
	atqb = append(atqb, 0x50)
	atqb = append(atqb, pupi[:]...)
	atqb = append(atqb, appData[:]...)
	atqb = append(atqb, protocolInfo[:]...)
	atqb = crcb.Append(atqb)

	ok := crcb.Append([]byte{cid})

	return &Tag{
		d:     d,
		state: PowerOff,
		atqb:  atqb,
		ok:    ok,
	}
}

// State returns the simulator's current FSM state.
func (t *Tag) State() State { return t.state }

// pollPower updates the rolling HF voltage average and transitions between
// PowerOff and Idle accordingly. Must be called before each frame is
// awaited.
func (t *Tag) pollPower() {
	v := t.d.HFVoltage()
	if t.hfFilled < hfWindow {
		t.hfFilled++
	} else {
		t.hfSum -= t.hfSamples[t.hfIdx]
	}
	t.hfSamples[t.hfIdx] = v
	t.hfSum += v
	t.hfIdx = (t.hfIdx + 1) % hfWindow

	avg := t.hfSum / t.hfFilled
	switch {
	case avg < MFMinFieldV && t.state != PowerOff:
		t.state = PowerOff
	case avg >= MFMinFieldV && t.state == PowerOff:
		t.state = Idle
	}
}

const (
	cmdWUPBorREQB = 0x05
	cmdHLTB       = 0x50
	cmdATTRIB     = 0x1d
	afiFieldPos   = 2
	afiWUPBBit    = 0x08
)

// Step reads the next command frame and, if it is recognized in the
// current state, writes the matching response and returns the resulting
// state transition. It returns io.EOF if the field is off.
func (t *Tag) Step() (State, error) {
	t.pollPower()
	if t.state == PowerOff {
		return t.state, io.EOF
	}
	n, err := t.d.Read(t.buf[:])
	if err != nil && err != io.EOF {
		return t.state, fmt.Errorf("simulator: %w", err)
	}
	frame := t.buf[:n]

	switch {
	case len(frame) == 5 && frame[0] == cmdWUPBorREQB:
		wupb := frame[afiFieldPos]&afiWUPBBit != 0
		switch t.state {
		case Idle, Ready, Active:
			if err := t.send(t.atqb); err != nil {
				return t.state, err
			}
			if t.state != Active {
				t.state = Ready
			}
		case Halt:
			if wupb {
				if err := t.send(t.atqb); err != nil {
					return t.state, err
				}
				t.state = Ready
			}
			// REQB while halted is ignored.
		}
	case len(frame) == 7 && frame[0] == cmdHLTB:
		switch t.state {
		case Ready:
			if err := t.send(t.ok); err != nil {
				return t.state, err
			}
			t.state = Halt
		case Idle, Active:
			if err := t.send(t.ok); err != nil {
				return t.state, err
			}
		}
	case len(frame) == 11 && frame[0] == cmdATTRIB:
		switch t.state {
		case Ready, Active:
			if err := t.send(t.ok); err != nil {
				return t.state, err
			}
			t.state = Active
		}
	}
	return t.state, nil
}

func (t *Tag) send(resp []byte) error {
	if _, err := t.d.Write(resp); err != nil {
		return fmt.Errorf("simulator: %w", err)
	}
	return nil
}
