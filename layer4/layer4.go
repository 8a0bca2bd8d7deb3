// Package layer4 implements the ISO 14443-4 layer-4 engine: PCB
// block-number toggling, I/R/S-block framing, and S(WTX) waiting-time
// extension handling. The block-number toggle logic mirrors an NFC Forum
// Type 4 tag emulation's I-block bookkeeping, reused here from the reader
// (PCD) side of the exchange instead of the tag (PICC) side.
package layer4

import (
	"fmt"

	"iso14443b.dev/crcb"
	"iso14443b.dev/status"
	"iso14443b.dev/ticks"
)

const (
	pcbIBlock = 0x02
	pcbRAck   = 0xa2
	pcbChain  = 0x10
)

// Exchanger performs one raw layer-2/3 frame round trip: CRC-framed
// transmit, then receive with the given timeout in ticks.
type Exchanger interface {
	Exchange(tx []byte, timeoutTicks uint32) ([]byte, error)
}

// Session collects the per-card layer-4 state (block number, FWI, timeout,
// max frame size, field-on flag) into one value threaded explicitly
// through dispatcher calls, rather than scattered mutable package globals.
type Session struct {
	BlockNum     byte
	FWI          int
	TimeoutTicks uint32
	MaxFrameSize int
	FieldOn      bool
}

// NewSession returns a session with the ISO 14443-4 defaults: FWI 9, max
// frame size 32.
func NewSession() *Session {
	s := &Session{MaxFrameSize: 32}
	s.SetFWI(9)
	return s
}

// SetFWI atomically updates the stored FWI and its derived timeout.
func (s *Session) SetFWI(fwi int) {
	s.FWI = fwi
	s.TimeoutTicks = ticks.FWIToTimeout(fwi)
}

// SetMaxFrameSize validates and stores a new max frame size, clamping
// anything over 256 back down and rejecting a size of 0, since a
// zero-length payload budget would leave SendAPDU unable to construct any
// frame at all.
func (s *Session) SetMaxFrameSize(n int) error {
	if n <= 0 {
		return status.ErrInvalidSize
	}
	if n > 256 {
		n = 256
	}
	s.MaxFrameSize = n
	return nil
}

// ResetBlockNumber resets the PCB toggle state, done on every fresh
// activation.
func (s *Session) ResetBlockNumber() { s.BlockNum = 0 }

// SendAPDU transmits apdu as an I-block, handling any number of S(WTX)
// round trips transparently, and returns the unwrapped response payload.
func (s *Session) SendAPDU(ex Exchanger, apdu []byte, chaining bool) ([]byte, error) {
	pcb := byte(pcbIBlock) | s.BlockNum
	if chaining {
		pcb |= pcbChain
	}
	frame := crcb.Append(append([]byte{pcb}, apdu...))
	resp, err := ex.Exchange(frame, s.TimeoutTicks)
	if err != nil {
		return nil, fmt.Errorf("layer4: %w", status.ErrCardExchange)
	}

	for len(resp) >= 2 && (resp[0]&0xf2) == 0xf2 {
		wtxm := resp[1] & 0x3f
		saved := s.TimeoutTicks
		s.TimeoutTicks = saved * uint32(wtxm)
		echo := crcb.Append([]byte{resp[0], resp[1]})
		resp, err = ex.Exchange(echo, s.TimeoutTicks)
		s.TimeoutTicks = saved
		if err != nil {
			return nil, fmt.Errorf("layer4: wtx: %w", status.ErrCardExchange)
		}
	}

	if len(resp) < 3 {
		return nil, fmt.Errorf("layer4: %w", status.ErrLength)
	}
	if !crcb.Verify(resp) {
		return nil, fmt.Errorf("layer4: %w", status.ErrCRC)
	}

	pcbResp := resp[0]
	isIBlock := pcbResp&0xc0 == 0
	isRAck := pcbResp&0xd0 == 0x80
	if (isIBlock || isRAck) && pcbResp&0x01 == s.BlockNum {
		s.BlockNum ^= 1
	}

	return resp[1 : len(resp)-2], nil
}

// RAck returns the PCB byte for an R(ACK) block at the session's current
// block number.
func (s *Session) RAck() byte { return pcbRAck | s.BlockNum }
