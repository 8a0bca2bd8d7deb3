// Package reader implements the reader-mode layer-2/3 engine: standard
// ISO 14443-B activation (WUPB/ATQB/ATTRIB) and SR-X activation, CRC-B
// framing, and the TR0/TR2 frame-timing discipline between transmissions.
// The selection-loop shape generalizes an NFC Forum Type 2 reader's Type A
// anti-collision select loop to Type B's non-colliding WUPB/ATTRIB
// activation and to SR-X.
package reader

import (
	"fmt"
	"io"

	"iso14443b.dev/card"
	"iso14443b.dev/crcb"
	"iso14443b.dev/layer4"
	"iso14443b.dev/status"
	"iso14443b.dev/ticks"
)

// Bus is the byte-framed transport a concrete AFE binding (package iobus)
// or a test fake provides: Write sends one already-CRC'd or
// framing-complete command frame, Read receives the next response frame.
type Bus interface {
	io.ReadWriter
}

// Frame timing constants: TR0 is the guard before a reader transmission is
// heard (16 ETU nominal, 8-32 ETU bounds), TR1MaxETU is the TR1 value in
// ETU (package rxuart does not use it; its inter-character gap threshold
// is a separate count of quarter-ETU samples), TR2 is the minimum gap
// after a PICC's EOF before the reader may transmit again, and
// PCDSettleETU is a separate reader-side settle delay, distinct from TR2.
// Only TR2ETU and PCDSettleETU are used by code: NextSlotTicks adds both
// to the PICC's EOF tick. The TR0 and TR1 constants are not referenced.
const (
	TR0ETU        = 16
	TR0MinETU     = 8
	TR0MaxETU     = 32
	TR1MaxETU     = 25
	TR2ETU        = 14
	PCDSettleETU  = 15
)

var (
	wupb = []byte{0x05, 0x00, 0x00, 0x71, 0xff}

	srxReqSnr = []byte{0x06, 0x00, 0x97, 0x5b}
)

// Engine drives one reader-mode activation plus any number of subsequent
// layer-4 exchanges over Bus.
type Engine struct {
	bus  Bus
	Sess *layer4.Session

	// Tearoff, if non-nil, is polled after every layer-2 transmit in the
	// raw/APDU paths; if it reports true the engine returns ETEAROFF
	// instead of awaiting the response.
	Tearoff func() bool
}

// NewEngine returns an Engine bound to bus, with a fresh layer-4 session.
func NewEngine(bus Bus) *Engine {
	return &Engine{bus: bus, Sess: layer4.NewSession()}
}

// Exchange implements layer4.Exchanger: it writes tx (already CRC-framed by
// the caller) and reads back one response frame. timeoutTicks is not used:
// Bus carries no timeout, so the wait for the response is bounded only by
// the Bus's own Read.
func (e *Engine) Exchange(tx []byte, timeoutTicks uint32) ([]byte, error) {
	if _, err := e.bus.Write(tx); err != nil {
		return nil, fmt.Errorf("reader: exchange: %w", err)
	}
	if e.Tearoff != nil && e.Tearoff() {
		return nil, fmt.Errorf("reader: exchange: %w", status.ErrTearoff)
	}
	buf := make([]byte, 256)
	n, err := e.bus.Read(buf)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("reader: exchange: %w", err)
	}
	return buf[:n], nil
}

// maxFrameTable converts the ATQB FSCI nibble to a frame size in bytes, per
// the ISO 14443-3 table.
func maxFrameTable(fsci byte) int {
	switch {
	case fsci <= 4:
		return 8*int(fsci) + 16
	case fsci == 5:
		return 64
	case fsci == 6:
		return 96
	case fsci == 7:
		return 128
	case fsci == 8:
		return 256
	default:
		return 257
	}
}

// ActivateStandard performs WUPB/ATQB/ATTRIB activation and returns the
// resulting card descriptor.
func (e *Engine) ActivateStandard() (card.Std14B, error) {
	var desc card.Std14B
	if _, err := e.bus.Write(wupb); err != nil {
		return desc, fmt.Errorf("reader: wupb: %w", status.ErrCardExchange)
	}
	atqb := make([]byte, 32)
	n, err := e.bus.Read(atqb)
	if err != nil && err != io.EOF {
		return desc, fmt.Errorf("reader: wupb: %w", status.ErrCardExchange)
	}
	atqb = atqb[:n]
	if len(atqb) < 14 {
		return desc, fmt.Errorf("reader: wupb: %w", status.ErrLength)
	}
	if !crcb.Verify(atqb) {
		return desc, fmt.Errorf("reader: wupb: %w", status.ErrCRC)
	}
	copy(desc.UID[:], atqb[1:5])
	copy(desc.ATQB[:], atqb[5:12])

	protocolInfo1 := atqb[10]
	protocolInfo2 := atqb[11]
	desc.MaxFrame = maxFrameTable(protocolInfo1 >> 4)
	fwi := int(protocolInfo2 >> 4)
	desc.FWI = e.Sess.FWI
	if fwi < 15 {
		e.Sess.SetFWI(fwi)
		desc.FWI = fwi
	}
	if err := e.Sess.SetMaxFrameSize(desc.MaxFrame); err != nil {
		return desc, fmt.Errorf("reader: wupb: %w", err)
	}

	attrib := make([]byte, 0, 9)
	attrib = append(attrib, 0x1d)
	attrib = append(attrib, desc.UID[:]...)
	attrib = append(attrib, 0x00, 0x00, 0x08, 0x00, 0x00)
	attrib = crcb.Append(attrib)
	if _, err := e.bus.Write(attrib); err != nil {
		return desc, fmt.Errorf("reader: attrib: %w", status.ErrCardExchange)
	}
	resp := make([]byte, 16)
	n, err = e.bus.Read(resp)
	if err != nil && err != io.EOF {
		return desc, fmt.Errorf("reader: attrib: %w", status.ErrCardExchange)
	}
	resp = resp[:n]
	if len(resp) != 3 {
		return desc, fmt.Errorf("reader: attrib: %w", status.ErrLength)
	}
	if !crcb.Verify(resp) {
		return desc, fmt.Errorf("reader: attrib: %w", status.ErrCRC)
	}
	desc.CID = resp[0]
	e.Sess.ResetBlockNumber()
	return desc, nil
}

// ActivateSRX performs the SR-X chip-ID/select/UID activation sequence.
func (e *Engine) ActivateSRX() (card.SrX, error) {
	var desc card.SrX
	if _, err := e.bus.Write(srxReqSnr); err != nil {
		return desc, fmt.Errorf("reader: srx: %w", status.ErrCardExchange)
	}
	chipResp := make([]byte, 8)
	n, err := e.bus.Read(chipResp)
	if err != nil && err != io.EOF {
		return desc, fmt.Errorf("reader: srx: %w", status.ErrCardExchange)
	}
	chipResp = chipResp[:n]
	if len(chipResp) != 3 {
		return desc, fmt.Errorf("reader: srx: %w", status.ErrLength)
	}
	// CRC is checked before the chip-ID byte is used, per the explicit
	// mandate overriding the original firmware's read-before-verify order.
	if !crcb.Verify(chipResp) {
		return desc, fmt.Errorf("reader: srx: %w", status.ErrCRC)
	}
	chipID := chipResp[0]

	selectCmd := crcb.Append([]byte{0x0e, chipID})
	if _, err := e.bus.Write(selectCmd); err != nil {
		return desc, fmt.Errorf("reader: srx select: %w", status.ErrCardExchange)
	}
	selResp := make([]byte, 8)
	n, err = e.bus.Read(selResp)
	if err != nil && err != io.EOF {
		return desc, fmt.Errorf("reader: srx select: %w", status.ErrCardExchange)
	}
	selResp = selResp[:n]
	if len(selResp) != 3 || !crcb.Verify(selResp) {
		return desc, fmt.Errorf("reader: srx select: %w", status.ErrCRC)
	}
	if selResp[0] != chipID {
		return desc, fmt.Errorf("reader: srx select: %w", status.ErrWrongAnswer)
	}
	desc.ChipID = chipID

	getUID := crcb.Append([]byte{0x0b, 0xab, 0x4e})
	if _, err := e.bus.Write(getUID); err != nil {
		return desc, fmt.Errorf("reader: srx uid: %w", status.ErrCardExchange)
	}
	uidResp := make([]byte, 16)
	n, err = e.bus.Read(uidResp)
	if err != nil && err != io.EOF {
		return desc, fmt.Errorf("reader: srx uid: %w", status.ErrCardExchange)
	}
	uidResp = uidResp[:n]
	if len(uidResp) != 10 {
		return desc, fmt.Errorf("reader: srx uid: %w", status.ErrLength)
	}
	if !crcb.Verify(uidResp) {
		return desc, fmt.Errorf("reader: srx uid: %w", status.ErrCRC)
	}
	copy(desc.UID[:], uidResp[:8])
	return desc, nil
}

// NextSlotTicks computes the next permissible transmit slot tick given the
// PICC's EOF tick: it adds TR2 and PCDSettleETU to the PICC's EOF and
// aligns the result down to a 16-tick boundary; if that slot is already
// before now, it picks (now+32)&^0xF. It does not check a TR0 gap against
// the previous reader EOF, which it is not given.
func NextSlotTicks(piccEOF ticks.Tick, now ticks.Tick) ticks.Tick {
	earliest := piccEOF + ticks.Tick(ticks.ReaderETUToTicks(TR2ETU+PCDSettleETU))
	aligned := ticks.Tick(uint32(earliest) &^ 0xf)
	if aligned < now {
		return ticks.Tick((uint32(now) + 32) &^ 0xf)
	}
	return aligned
}
