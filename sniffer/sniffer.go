// Package sniffer implements passive sniff mode: both the reader-direction
// UART and the tag-direction demodulator are driven from the same I/Q
// sample stream, producing a time-ordered trace of framed transfers. The
// dual-decoder dispatch adapts an NFC poller's alternating tag/reader
// polling loop to concurrent demultiplexing of one shared sample stream.
package sniffer

import (
	"iso14443b.dev/iqdemod"
	"iso14443b.dev/rxuart"
	"iso14443b.dev/ticks"
)

// Direction identifies which side of the air interface a trace entry came
// from.
type Direction int

const (
	DirReader Direction = iota
	DirTag
)

// Entry is one framed transfer recovered from the I/Q stream.
type Entry struct {
	Direction Direction
	Bytes     []byte
	SOFTick   ticks.Tick
	EOFTick   ticks.Tick
}

// Sniffer demultiplexes a shared I/Q sample stream into reader-direction
// and tag-direction frames.
type Sniffer struct {
	uart   rxuart.UART
	demod  iqdemod.Demod
	maxLen int

	Trace []Entry
}

// New returns a Sniffer whose decoded frames are capped at maxLen bytes.
func New(maxLen int) *Sniffer {
	s := &Sniffer{maxLen: maxLen}
	s.uart.Reset(maxLen)
	s.demod.Reset(maxLen)
	return s
}

// Feed processes one DMA sample (high byte I, low byte Q) captured at tick.
// readerTXing must be true while the reader is actively transmitting, so
// the tag-direction demodulator is not fed the reader's own carrier.
func (s *Sniffer) Feed(sample uint16, tick ticks.Tick, readerTXing bool) {
	i := byte(sample >> 8)
	q := byte(sample)

	if s.uart.ReceiveBit(int(i & 1)) {
		s.commitReader(tick)
	}
	if s.uart.ReceiveBit(int(q & 1)) {
		s.commitReader(tick)
	}

	if !readerTXing {
		ci := int(int8(i)) >> 1
		cq := int(int8(q)) >> 1
		if s.demod.ReceiveSample(ci, cq) {
			s.commitTag(tick)
		}
	}
}

// transferTicks estimates the on-air duration, in reader-mode ticks, of a
// frame of n bytes: 12-ETU SOF, 10 ETU per character, 10-ETU EOF.
func transferTicks(n int) uint32 {
	etu := uint32(12 + 10*n + 10)
	return ticks.ReaderETUToTicks(etu)
}

func (s *Sniffer) commitReader(eof ticks.Tick) {
	out := append([]byte(nil), s.uart.Output()...)
	sof := ticks.Tick(uint32(eof) - transferTicks(len(out)))
	s.Trace = append(s.Trace, Entry{Direction: DirReader, Bytes: out, SOFTick: sof, EOFTick: eof})
	s.uart.Reset(s.maxLen)
}

func (s *Sniffer) commitTag(eof ticks.Tick) {
	out := append([]byte(nil), s.demod.Output()...)
	sof := ticks.Tick(uint32(eof) - transferTicks(len(out)))
	s.Trace = append(s.Trace, Entry{Direction: DirTag, Bytes: out, SOFTick: sof, EOFTick: eof})
	s.demod.Reset(s.maxLen)
}
