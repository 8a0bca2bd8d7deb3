package iobus

import (
	"bytes"
	"testing"

	"iso14443b.dev/afe"
	"iso14443b.dev/afe/sim"
	"iso14443b.dev/dmaring"
	"iso14443b.dev/modulate"
)

// feedingDevice wraps a sim.Device and, once armed into a chosen RX mode,
// feeds a canned sample transcript into the ring, standing in for a DMA
// peripheral that starts pushing samples the moment it is armed.
type feedingDevice struct {
	*sim.Device
	rxMode  afe.Mode
	samples []dmaring.Sample
}

func (d *feedingDevice) SetMode(m afe.Mode) error {
	if err := d.Device.SetMode(m); err != nil {
		return err
	}
	if m == d.rxMode {
		d.Device.Feed(d.samples...)
	}
	return nil
}

func TestReaderBusWriteEncodesASK(t *testing.T) {
	dev := sim.New(64)
	bus := NewReaderBus(dev)
	data := []byte{0x05, 0x00, 0x00, 0x71, 0xff}

	n, err := bus.Write(data)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len(data) {
		t.Fatalf("n = %d, want %d", n, len(data))
	}

	var want modulate.ToSend
	modulate.EncodeReader(&want, data, true)
	wantWords := modulate.ReaderModWords(&want)
	if len(dev.TXLog) != len(wantWords) {
		t.Fatalf("len(TXLog) = %d, want %d", len(dev.TXLog), len(wantWords))
	}
	for i := range wantWords {
		if dev.TXLog[i] != wantWords[i] {
			t.Fatalf("TXLog[%d] = %#04x, want %#04x", i, dev.TXLog[i], wantWords[i])
		}
	}
}

func TestTagBusWriteEncodesBPSK(t *testing.T) {
	dev := sim.New(64)
	bus := NewTagBus(dev)
	data := []byte{0x50, 0x00, 0x00}

	if _, err := bus.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var want modulate.ToSend
	modulate.EncodeTag(&want, data)
	wantWords := modulate.ReaderModWords(&want)
	if len(dev.TXLog) != len(wantWords) {
		t.Fatalf("len(TXLog) = %d, want %d", len(dev.TXLog), len(wantWords))
	}
}

// buildBPSKTrainingFrame reproduces the correlator sample trace that decodes
// to the single byte 0xa5, the same sequence iqdemod's own tests feed
// directly to a Demod: 10 half-ETU samples of phase-reference training, a sign-flip SOF,
// a resynchronized zero run, the SOF's ones region, start bit, data byte
// (LSB-first) and a 10 ETU EOF gap.
func buildBPSKTrainingFrame() []int {
	var seq []int
	appendN := func(v, n int) {
		for i := 0; i < n; i++ {
			seq = append(seq, v)
		}
	}
	appendN(20, 10)
	seq = append(seq, -20)
	appendN(-20, 19)
	appendN(-20, 20)
	appendN(20, 4)
	appendN(-20, 2)
	for _, b := range []int{1, 0, 1, 0, 0, 1, 0, 1} {
		v := -20
		if b == 1 {
			v = 20
		}
		appendN(v, 2)
	}
	appendN(20, 2)
	appendN(-20, 20)
	return seq
}

func iqSample(ci int) dmaring.Sample {
	i := byte(int8(ci * 2))
	return dmaring.Sample(uint16(i) << 8)
}

func TestReaderBusReadDecodesFrame(t *testing.T) {
	var samples []dmaring.Sample
	for _, ci := range buildBPSKTrainingFrame() {
		samples = append(samples, iqSample(ci))
	}
	dev := &feedingDevice{Device: sim.New(256), rxMode: afe.ReaderRXSubcarrier848IQ, samples: samples}
	bus := NewReaderBus(dev)

	buf := make([]byte, 1)
	n, err := bus.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 1 || buf[0] != 0xa5 {
		t.Fatalf("Read = % x (n=%d), want a5", buf[:n], n)
	}
}

// buildASKBits lays out one ETU-per-entry bit stream for data's SOF-framed
// reader transmission: 10 zero ETU SOF, 2 one ETU, then per byte a start
// bit, 8 LSB-first data bits and a stop bit, followed by a 10 ETU EOF gap.
func buildASKBits(data []byte) []int {
	var bits []int
	appendN := func(v, n int) {
		for i := 0; i < n; i++ {
			bits = append(bits, v)
		}
	}
	appendN(0, 10)
	appendN(1, 2)
	for _, b := range data {
		appendN(0, 1)
		for i := 0; i < 8; i++ {
			appendN(int(b>>uint(i))&1, 1)
		}
		appendN(1, 1)
	}
	appendN(0, 10)
	return bits
}

func TestTagBusReadDecodesReaderFrame(t *testing.T) {
	data := []byte{0x42}
	var samples []dmaring.Sample
	for _, bit := range buildASKBits(data) {
		s := dmaring.Sample(uint16(bit)<<8 | uint16(bit))
		samples = append(samples, s, s)
	}
	dev := &feedingDevice{Device: sim.New(512), rxMode: afe.SimNoMod, samples: samples}
	bus := NewTagBus(dev)

	buf := make([]byte, 1)
	n, err := bus.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 1 || !bytes.Equal(buf[:n], data) {
		t.Fatalf("Read = % x, want % x", buf[:n], data)
	}
}

func TestTagBusHFVoltage(t *testing.T) {
	dev := sim.New(64)
	dev.SetHFVoltage(2750)
	bus := NewTagBus(dev)
	if got := bus.HFVoltage(); got != 2750 {
		t.Fatalf("HFVoltage() = %d, want 2750", got)
	}
}
