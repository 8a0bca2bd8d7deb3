// Package iobus bridges the bit/sample-level packages (modulate, rxuart,
// iqdemod, dmaring) to the byte-framed io.ReadWriter contracts that
// package reader's Engine and package simulator's Tag consume, against a
// concrete afe.Device. It is the production counterpart to the in-memory
// fakes used in tests, the way an NFC Forum Type 4 tag emulation sits on
// top of a real PN532 bus rather than a loopback buffer.
package iobus

import (
	"fmt"
	"io"

	"iso14443b.dev/afe"
	"iso14443b.dev/dmaring"
	"iso14443b.dev/iqdemod"
	"iso14443b.dev/modulate"
	"iso14443b.dev/rxuart"
	"iso14443b.dev/status"
)

// maxSpins bounds how many times Read drains an empty ring before giving up;
// a real device's main loop would instead block on an interrupt or a
// select, but this core's cooperative model polls.
const maxSpins = 1 << 20

// ReaderBus drives an afe.Device in reader mode: Write ASK-modulates a
// command onto the field, Read demodulates the PICC's BPSK subcarrier
// response via iqdemod.
type ReaderBus struct {
	dev   afe.Device
	send  modulate.ToSend
	demod iqdemod.Demod
}

// NewReaderBus returns a ReaderBus driving dev. dev needs no prior mode
// setup: Write switches it to ReaderTXASK10pct and Read to
// ReaderRXSubcarrier848IQ.
func NewReaderBus(dev afe.Device) *ReaderBus {
	return &ReaderBus{dev: dev}
}

// Write ASK-encodes data with full SOF/EOF framing and clocks it out the
// AFE's TX FIFO, blocking until the FIFO has drained.
func (b *ReaderBus) Write(data []byte) (int, error) {
	if err := b.dev.SetMode(afe.ReaderTXASK10pct); err != nil {
		return 0, fmt.Errorf("iobus: reader tx mode: %w", err)
	}
	modulate.EncodeReader(&b.send, data, true)
	words := modulate.ReaderModWords(&b.send)
	if err := b.dev.WriteTX(words); err != nil {
		return 0, fmt.Errorf("iobus: reader tx: %w", err)
	}
	for spins := 0; !b.dev.TXEmpty(); spins++ {
		if spins > maxSpins {
			return 0, fmt.Errorf("iobus: reader tx: %w", status.ErrTimeout)
		}
	}
	return len(data), nil
}

// Read arms the AFE for subcarrier reception and demodulates samples from
// the DMA ring until a complete frame (or EOF-terminated partial frame) is
// recovered, then copies it into p.
func (b *ReaderBus) Read(p []byte) (int, error) {
	if err := b.dev.SetMode(afe.ReaderRXSubcarrier848IQ); err != nil {
		return 0, fmt.Errorf("iobus: reader rx mode: %w", err)
	}
	b.demod.Reset(len(p))
	ring := b.dev.DMA()
	for spins := 0; ; spins++ {
		if ring.Available() == 0 {
			spins++
			if spins > maxSpins {
				return 0, fmt.Errorf("iobus: reader rx: %w", status.ErrTimeout)
			}
			continue
		}
		sample := ring.Advance()
		ci, cq := splitSigned(sample)
		if b.demod.ReceiveSample(ci, cq) {
			n := copy(p, b.demod.Output())
			return n, nil
		}
	}
}

// TagBus drives an afe.Device in tag-simulation mode: Write BPSK-encodes a
// response, Read recovers the reader's ASK command via rxuart.
type TagBus struct {
	dev  afe.Device
	send modulate.ToSend
	uart rxuart.UART
}

// NewTagBus returns a TagBus driving dev.
func NewTagBus(dev afe.Device) *TagBus {
	return &TagBus{dev: dev}
}

// Write BPSK-encodes data (with TR1 preamble and SOF/EOF) and clocks it out
// the AFE's TX FIFO.
func (b *TagBus) Write(data []byte) (int, error) {
	if err := b.dev.SetMode(afe.SimBPSK); err != nil {
		return 0, fmt.Errorf("iobus: tag tx mode: %w", err)
	}
	modulate.EncodeTag(&b.send, data)
	words := modulate.ReaderModWords(&b.send)
	if err := b.dev.WriteTX(words); err != nil {
		return 0, fmt.Errorf("iobus: tag tx: %w", err)
	}
	for spins := 0; !b.dev.TXEmpty(); spins++ {
		if spins > maxSpins {
			return 0, fmt.Errorf("iobus: tag tx: %w", status.ErrTimeout)
		}
	}
	return len(data), nil
}

// Read arms the AFE for envelope reception and decodes the reader's
// ASK-modulated command via rxuart from the DMA ring.
func (b *TagBus) Read(p []byte) (int, error) {
	if err := b.dev.SetMode(afe.SimNoMod); err != nil {
		return 0, fmt.Errorf("iobus: tag rx mode: %w", err)
	}
	b.uart.Reset(len(p))
	ring := b.dev.DMA()
	for spins := 0; ; spins++ {
		if ring.Available() == 0 {
			spins++
			if spins > maxSpins {
				return 0, io.EOF
			}
			continue
		}
		sample := ring.Advance()
		i, q := splitUnsigned(sample)
		if b.uart.ReceiveBit(int(i & 1)) {
			n := copy(p, b.uart.Output())
			return n, nil
		}
		if b.uart.ReceiveBit(int(q & 1)) {
			n := copy(p, b.uart.Output())
			return n, nil
		}
	}
}

// HFVoltage exposes the AFE's field-voltage channel for the tag simulator's
// power-detect logic.
func (b *TagBus) HFVoltage() int { return b.dev.HFVoltage() }

// splitSigned decodes a ring sample into signed I/Q correlator values, the
// convention package sniffer uses for subcarrier demodulation.
func splitSigned(s dmaring.Sample) (ci, cq int) {
	i := byte(s >> 8)
	q := byte(s)
	return int(int8(i)) >> 1, int(int8(q)) >> 1
}

// splitUnsigned decodes a ring sample into its raw I/Q bytes, the
// convention package sniffer uses for reader-direction envelope decoding.
func splitUnsigned(s dmaring.Sample) (i, q byte) {
	return byte(s >> 8), byte(s)
}
