// Package afe defines the analog-front-end contract the core consumes: a
// mode switch, a DMA ring of I/Q samples, a free-running SSP tick counter,
// TX FIFO flags and an HF voltage channel. Concrete backends (afe/sim for
// tests, afe/hw for a real device over periph.io) implement Device.
package afe

import (
	"iso14443b.dev/dmaring"
	"iso14443b.dev/ticks"
)

// Mode selects the AFE's modulation/demodulation configuration.
type Mode int

const (
	Off Mode = iota
	ReaderTXASK10pct
	ReaderRXSubcarrier848IQ
	SimNoMod
	SimBPSK
	SniffIQ
)

// Device is the hardware (or simulated) collaborator the reader, tag
// simulator and sniffer drive. It is not goroutine-safe: exactly one mode
// owns it at a time, per the single-threaded cooperative scheduling model.
type Device interface {
	// SetMode configures the AFE for one of the Mode values.
	SetMode(Mode) error
	// DMA returns the ring backing the current RX stream.
	DMA() *dmaring.Ring
	// SSPTick reads the free-running tick counter.
	SSPTick() ticks.Tick
	// TXReady reports whether the TX FIFO can accept another word.
	TXReady() bool
	// TXEmpty reports whether the TX FIFO has drained.
	TXEmpty() bool
	// WriteTX enqueues modulation words for transmission.
	WriteTX(words []uint16) error
	// HFVoltage samples the HF field voltage channel, used by the tag
	// simulator's power-detect logic.
	HFVoltage() int
	// FieldOn enables or disables the RF field (reader mode only).
	FieldOn(on bool) error
}
