// Package sim implements an in-memory afe.Device used by package iobus's
// tests, in the same spirit as a fake Reader/Device test double:
// a transcript-driven stand-in with no real hardware underneath.
package sim

import (
	"iso14443b.dev/dmaring"
	"iso14443b.dev/ticks"

	"iso14443b.dev/afe"
)

// Device is a simulated AFE. Tests drive it by calling Feed to push I/Q
// samples into the ring and by inspecting TXLog for transmitted words.
type Device struct {
	mode      afe.Mode
	ring      *dmaring.Ring
	tick      ticks.Tick
	fieldOn   bool
	hfVoltage int

	TXLog []uint16
}

// New creates a simulated device with a ring of the given (power-of-two)
// sample capacity.
func New(ringSize int) *Device {
	return &Device{
		ring:      dmaring.New(ringSize),
		hfVoltage: 5000,
	}
}

func (d *Device) SetMode(m afe.Mode) error {
	d.mode = m
	d.ring.Arm()
	return nil
}

func (d *Device) Mode() afe.Mode { return d.mode }

func (d *Device) DMA() *dmaring.Ring { return d.ring }

func (d *Device) SSPTick() ticks.Tick { return d.tick }

// AdvanceTick moves the simulated tick counter forward, as a test would do
// between polling iterations.
func (d *Device) AdvanceTick(n uint32) { d.tick += ticks.Tick(n) }

func (d *Device) TXReady() bool { return true }
func (d *Device) TXEmpty() bool { return true }

func (d *Device) WriteTX(words []uint16) error {
	d.TXLog = append(d.TXLog, words...)
	return nil
}

func (d *Device) HFVoltage() int { return d.hfVoltage }

// SetHFVoltage lets a test drive the simulator's power-detect logic.
func (d *Device) SetHFVoltage(v int) { d.hfVoltage = v }

func (d *Device) FieldOn(on bool) error {
	d.fieldOn = on
	return nil
}

func (d *Device) FieldIsOn() bool { return d.fieldOn }

// Feed pushes a batch of samples into the ring, as the DMA peripheral
// would, and advances the tick counter by one per sample.
func (d *Device) Feed(samples ...dmaring.Sample) {
	for _, s := range samples {
		d.ring.Produce(s)
		d.tick++
	}
}
