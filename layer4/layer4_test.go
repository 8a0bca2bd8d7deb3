package layer4

import (
	"bytes"
	"testing"

	"iso14443b.dev/crcb"
	"iso14443b.dev/status"
)

type fakeExchanger struct {
	resps [][]byte
	i     int
	sent  [][]byte
}

func (f *fakeExchanger) Exchange(tx []byte, timeoutTicks uint32) ([]byte, error) {
	f.sent = append(f.sent, append([]byte(nil), tx...))
	if f.i >= len(f.resps) {
		return nil, status.ErrTimeout
	}
	r := f.resps[f.i]
	f.i++
	return r, nil
}

func TestSendAPDUTogglesBlockNumber(t *testing.T) {
	s := NewSession()
	resp := crcb.Append([]byte{pcbIBlock, 0xab, 0xcd})
	ex := &fakeExchanger{resps: [][]byte{resp}}

	data, err := s.SendAPDU(ex, []byte{0x00, 0xa4}, false)
	if err != nil {
		t.Fatalf("SendAPDU: %v", err)
	}
	if !bytes.Equal(data, []byte{0xab, 0xcd}) {
		t.Fatalf("data = % x, want ab cd", data)
	}
	if s.BlockNum != 1 {
		t.Fatalf("BlockNum = %d, want 1 after first exchange", s.BlockNum)
	}

	resp2 := crcb.Append([]byte{pcbIBlock | 1, 0xef})
	ex.resps = append(ex.resps, resp2)
	data, err = s.SendAPDU(ex, []byte{0x00}, false)
	if err != nil {
		t.Fatalf("SendAPDU second: %v", err)
	}
	if !bytes.Equal(data, []byte{0xef}) {
		t.Fatalf("data = % x, want ef", data)
	}
	if s.BlockNum != 0 {
		t.Fatalf("BlockNum = %d, want 0 after second exchange", s.BlockNum)
	}
}

func TestSendAPDUHandlesWTX(t *testing.T) {
	s := NewSession()
	wtx := crcb.Append([]byte{0xf2, 0x02})
	final := crcb.Append([]byte{pcbIBlock, 0x90, 0x00})
	ex := &fakeExchanger{resps: [][]byte{wtx, final}}

	data, err := s.SendAPDU(ex, []byte{0x00}, false)
	if err != nil {
		t.Fatalf("SendAPDU: %v", err)
	}
	if !bytes.Equal(data, []byte{0x90, 0x00}) {
		t.Fatalf("data = % x, want 90 00", data)
	}
	if len(ex.sent) != 2 {
		t.Fatalf("len(sent) = %d, want 2 (I-block then WTX echo)", len(ex.sent))
	}
	if want := NewSession().TimeoutTicks; s.TimeoutTicks != want {
		t.Fatalf("TimeoutTicks = %d after WTX round trip, want restored to %d", s.TimeoutTicks, want)
	}
}

func TestSendAPDURejectsBadCRC(t *testing.T) {
	s := NewSession()
	bad := crcb.Append([]byte{pcbIBlock, 0x01})
	bad[len(bad)-1] ^= 0xff
	ex := &fakeExchanger{resps: [][]byte{bad}}
	if _, err := s.SendAPDU(ex, []byte{0x00}, false); err == nil {
		t.Fatalf("SendAPDU accepted a corrupted response")
	}
}

func TestSetMaxFrameSize(t *testing.T) {
	s := NewSession()
	if err := s.SetMaxFrameSize(0); err == nil {
		t.Fatalf("SetMaxFrameSize(0) did not error")
	}
	if err := s.SetMaxFrameSize(500); err != nil {
		t.Fatalf("SetMaxFrameSize(500): %v", err)
	}
	if s.MaxFrameSize != 256 {
		t.Fatalf("MaxFrameSize = %d, want clamped to 256", s.MaxFrameSize)
	}
	if err := s.SetMaxFrameSize(64); err != nil || s.MaxFrameSize != 64 {
		t.Fatalf("SetMaxFrameSize(64) = %d, %v", s.MaxFrameSize, err)
	}
}

func TestRAckReflectsBlockNumber(t *testing.T) {
	s := NewSession()
	s.BlockNum = 1
	if got := s.RAck(); got != pcbRAck|1 {
		t.Fatalf("RAck() = %#02x, want %#02x", got, pcbRAck|1)
	}
}
