// Package hw implements afe.Device over a real reader front-end reachable
// via I2C, using periph.io instead of TinyGo's `machine` package so the
// core stays buildable with the standard Go toolchain. The register/command
// layout and the reset/mode-switch sequencing are adapted from an
// ST25R3916 driver, with the TinyGo pin/interrupt plumbing replaced by
// periph.io's conn.Conn and plain polling, matching this core's
// cooperative single-threaded model.
package hw

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"

	"iso14443b.dev/afe"
	"iso14443b.dev/dmaring"
	"iso14443b.dev/ticks"
)

// Register addresses, grounded on an ST25R3916 register map (only the
// subset this core's mode switch and FIFO access need).
const (
	regOpControl  = 0x00
	regModeDef    = 0x01
	regFIFOStatus = 0x1a
	regFIFOData   = 0x1a

	cmdSetDefault = 0xc1
	cmdClearFIFO  = 0xc2
	cmdTXOn       = 0xc4
	cmdTXOff      = 0xc5
)

// Device drives a reader front-end over I2C. It implements afe.Device.
type Device struct {
	conn i2c.Dev
	ring *dmaring.Ring
	tick ticks.Tick

	scratch [260]byte
}

// New returns a Device talking to the front-end at addr on bus b, with a
// DMA ring of the given (power-of-two) sample capacity.
func New(b i2c.Bus, addr uint16, ringSize int) (*Device, error) {
	d := &Device{
		conn: i2c.Dev{Bus: b, Addr: addr},
		ring: dmaring.New(ringSize),
	}
	if err := d.command(cmdSetDefault); err != nil {
		return nil, fmt.Errorf("hw: reset: %w", err)
	}
	return d, nil
}

func (d *Device) command(cmd byte) error {
	return d.conn.Tx([]byte{cmd}, nil)
}

func (d *Device) writeReg(reg, val byte) error {
	return d.conn.Tx([]byte{reg, val}, nil)
}

func (d *Device) readReg(reg byte) (byte, error) {
	out := d.scratch[:1]
	if err := d.conn.Tx([]byte{reg}, out); err != nil {
		return 0, err
	}
	return out[0], nil
}

// SetMode configures the front-end's modulation/demodulation mode register
// and (re)arms the DMA ring for the new stream.
func (d *Device) SetMode(m afe.Mode) error {
	var modeVal byte
	switch m {
	case afe.Off:
		modeVal = 0x00
	case afe.ReaderTXASK10pct:
		modeVal = 0x01
	case afe.ReaderRXSubcarrier848IQ:
		modeVal = 0x02
	case afe.SimNoMod:
		modeVal = 0x03
	case afe.SimBPSK:
		modeVal = 0x04
	case afe.SniffIQ:
		modeVal = 0x05
	default:
		return fmt.Errorf("hw: unknown mode %d", m)
	}
	if err := d.writeReg(regModeDef, modeVal); err != nil {
		return fmt.Errorf("hw: set mode: %w", err)
	}
	if err := d.command(cmdClearFIFO); err != nil {
		return fmt.Errorf("hw: set mode: %w", err)
	}
	d.ring.Arm()
	return nil
}

func (d *Device) DMA() *dmaring.Ring { return d.ring }

func (d *Device) SSPTick() ticks.Tick { return d.tick }

func (d *Device) TXReady() bool {
	status, err := d.readReg(regFIFOStatus)
	if err != nil {
		return false
	}
	return status&0x80 != 0
}

func (d *Device) TXEmpty() bool {
	status, err := d.readReg(regFIFOStatus)
	if err != nil {
		return false
	}
	return status&0x40 != 0
}

func (d *Device) WriteTX(words []uint16) error {
	buf := d.scratch[:0]
	buf = append(buf, regFIFOData)
	for _, w := range words {
		buf = append(buf, byte(w>>8), byte(w))
	}
	if err := d.conn.Tx(buf, nil); err != nil {
		return fmt.Errorf("hw: write tx: %w", err)
	}
	return nil
}

func (d *Device) HFVoltage() int {
	v, err := d.readReg(0x1c)
	if err != nil {
		return 0
	}
	return int(v) * 20
}

func (d *Device) FieldOn(on bool) error {
	cmd := byte(cmdTXOff)
	if on {
		cmd = cmdTXOn
	}
	if err := d.command(cmd); err != nil {
		return fmt.Errorf("hw: field: %w", err)
	}
	return nil
}
