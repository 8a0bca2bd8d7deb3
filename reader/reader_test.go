package reader

import (
	"io"
	"testing"

	"iso14443b.dev/crcb"
	"iso14443b.dev/ticks"
)

type fakeBus struct {
	writes [][]byte
	reads  [][]byte
	ri     int
}

func (b *fakeBus) Write(p []byte) (int, error) {
	b.writes = append(b.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (b *fakeBus) Read(p []byte) (int, error) {
	if b.ri >= len(b.reads) {
		return 0, io.EOF
	}
	n := copy(p, b.reads[b.ri])
	b.ri++
	return n, nil
}

func TestActivateStandard(t *testing.T) {
	atqb := []byte{0x50, 0x11, 0x22, 0x33, 0x44, 0, 0, 0, 0, 0, 0x50, 0x81}
	atqb = crcb.Append(atqb)
	attribResp := crcb.Append([]byte{0xab})

	bus := &fakeBus{reads: [][]byte{atqb, attribResp}}
	e := NewEngine(bus)

	desc, err := e.ActivateStandard()
	if err != nil {
		t.Fatalf("ActivateStandard: %v", err)
	}
	if desc.UID != [4]byte{0x11, 0x22, 0x33, 0x44} {
		t.Fatalf("UID = % x, want 11 22 33 44", desc.UID)
	}
	if desc.MaxFrame != 64 {
		t.Fatalf("MaxFrame = %d, want 64 (FSCI 5)", desc.MaxFrame)
	}
	if desc.FWI != 8 {
		t.Fatalf("FWI = %d, want 8 (protocolInfo2=0x81 >> 4)", desc.FWI)
	}
	if desc.CID != 0xab {
		t.Fatalf("CID = %#02x, want ab", desc.CID)
	}
	if e.Sess.BlockNum != 0 {
		t.Fatalf("BlockNum = %d after activation, want reset to 0", e.Sess.BlockNum)
	}
	if len(bus.writes) != 2 {
		t.Fatalf("len(writes) = %d, want 2 (WUPB, ATTRIB)", len(bus.writes))
	}
}

func TestActivateStandardRejectsBadCRC(t *testing.T) {
	atqb := make([]byte, 14)
	atqb[0] = 0x50
	bus := &fakeBus{reads: [][]byte{atqb}}
	e := NewEngine(bus)
	if _, err := e.ActivateStandard(); err == nil {
		t.Fatalf("ActivateStandard accepted a corrupted ATQB")
	}
}

func TestActivateSRX(t *testing.T) {
	chip := crcb.Append([]byte{0x77})
	sel := crcb.Append([]byte{0x77})
	uid := crcb.Append([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08})
	bus := &fakeBus{reads: [][]byte{chip, sel, uid}}
	e := NewEngine(bus)

	desc, err := e.ActivateSRX()
	if err != nil {
		t.Fatalf("ActivateSRX: %v", err)
	}
	if desc.ChipID != 0x77 {
		t.Fatalf("ChipID = %#02x, want 77", desc.ChipID)
	}
	want := [8]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	if desc.UID != want {
		t.Fatalf("UID = % x, want % x", desc.UID, want)
	}
}

func TestActivateSRXRejectsSelectMismatch(t *testing.T) {
	chip := crcb.Append([]byte{0x77})
	sel := crcb.Append([]byte{0x99}) // echoes the wrong chip ID
	bus := &fakeBus{reads: [][]byte{chip, sel}}
	e := NewEngine(bus)
	if _, err := e.ActivateSRX(); err == nil {
		t.Fatalf("ActivateSRX accepted a mismatched select echo")
	}
}

func TestExchangeHonoursTearoff(t *testing.T) {
	bus := &fakeBus{reads: [][]byte{{0x01, 0x02, 0x03}}}
	e := NewEngine(bus)
	e.Tearoff = func() bool { return true }
	if _, err := e.Exchange([]byte{0x00}, 1000); err == nil {
		t.Fatalf("Exchange did not honour Tearoff")
	}
}

func TestNextSlotTicksAlignsTo16(t *testing.T) {
	piccEOF := ticks.Tick(1000)
	now := ticks.Tick(1000)
	next := NextSlotTicks(piccEOF, now)
	if uint32(next)%16 != 0 {
		t.Fatalf("NextSlotTicks = %d, not 16-tick aligned", next)
	}
	if next <= piccEOF {
		t.Fatalf("NextSlotTicks = %d, want > piccEOF %d", next, piccEOF)
	}
}

func TestMaxFrameTable(t *testing.T) {
	cases := []struct {
		fsci byte
		want int
	}{
		{0, 16}, {1, 24}, {4, 48}, {5, 64}, {6, 96}, {7, 128}, {8, 256}, {9, 257},
	}
	for _, c := range cases {
		if got := maxFrameTable(c.fsci); got != c.want {
			t.Errorf("maxFrameTable(%d) = %d, want %d", c.fsci, got, c.want)
		}
	}
}
