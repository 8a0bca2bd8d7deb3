// Package trace encodes sniffer trace entries and raw APDU response
// payloads for host upload, using CBOR the same way a UR-type encoder
// (bc/urtypes) encodes its structured host-facing payloads.
package trace

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"iso14443b.dev/sniffer"
	"iso14443b.dev/ticks"
)

// Record is the CBOR-serializable form of one sniffer.Entry. Keys are
// keyasint the way bc/urtypes tags its CBOR map fields, trading
// readability for the small fixed-width encoding a constrained device
// benefits from.
type Record struct {
	Direction int    `cbor:"1,keyasint"`
	Bytes     []byte `cbor:"2,keyasint"`
	SOFTick   uint32 `cbor:"3,keyasint"`
	EOFTick   uint32 `cbor:"4,keyasint"`
}

// EncodeEntries CBOR-encodes a full trace for upload to the host.
func EncodeEntries(entries []sniffer.Entry) ([]byte, error) {
	recs := make([]Record, len(entries))
	for i, e := range entries {
		recs[i] = Record{
			Direction: int(e.Direction),
			Bytes:     e.Bytes,
			SOFTick:   uint32(e.SOFTick),
			EOFTick:   uint32(e.EOFTick),
		}
	}
	b, err := cbor.Marshal(recs)
	if err != nil {
		return nil, fmt.Errorf("trace: encode: %w", err)
	}
	return b, nil
}

// DecodeEntries is the host-side inverse of EncodeEntries, used by tests
// and any host tooling that round-trips a trace.
func DecodeEntries(b []byte) ([]sniffer.Entry, error) {
	var recs []Record
	if err := cbor.Unmarshal(b, &recs); err != nil {
		return nil, fmt.Errorf("trace: decode: %w", err)
	}
	entries := make([]sniffer.Entry, len(recs))
	for i, r := range recs {
		entries[i] = sniffer.Entry{
			Direction: sniffer.Direction(r.Direction),
			Bytes:     r.Bytes,
			SOFTick:   ticks.Tick(r.SOFTick),
			EOFTick:   ticks.Tick(r.EOFTick),
		}
	}
	return entries, nil
}

// RawAPDUResponse mirrors the host command's raw_apdu_response payload:
// the layer-4 response byte plus the unwrapped data.
type RawAPDUResponse struct {
	ResponseByte byte   `cbor:"1,keyasint"`
	Data         []byte `cbor:"2,keyasint"`
}

// EncodeAPDUResponse CBOR-encodes a layer-4 response for upload.
func EncodeAPDUResponse(r RawAPDUResponse) ([]byte, error) {
	b, err := cbor.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("trace: encode apdu response: %w", err)
	}
	return b, nil
}
