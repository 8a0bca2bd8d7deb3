// Package dispatch implements the command dispatcher: it applies a flag
// word to sequence connect/select/raw/APDU/disconnect in a fixed order of
// honour within one request, short-circuiting only on error. The ordered
// step shape mirrors barnettlynn-nfctools's multi-step device reset
// sequence (reset/reset.go).
package dispatch

import (
	"fmt"

	"iso14443b.dev/card"
	"iso14443b.dev/crcb"
	"iso14443b.dev/reader"
	"iso14443b.dev/status"
	"iso14443b.dev/ticks"
)

// Flag is a bit in the host command's flags word.
type Flag uint32

const (
	Connect Flag = 1 << iota
	Disconnect
	APDU
	Raw
	SelectStd
	SelectSR
	SelectXRX
	SelectCTS
	SelectPicopass
	AppendCRC
	SetTimeout
	SendChaining
	RequestTrigger
	ClearTrace
)

// Request mirrors the host's iso14b_raw_cmd.
type Request struct {
	Flags      Flag
	TimeoutMS  uint32
	Raw        []byte
}

// Response mirrors the host-facing (cmd, status, payload) reply.
type Response struct {
	Status       status.Code
	Descriptor   card.Descriptor
	ResponseByte byte
	Data         []byte
	Err          error
}

// FieldController switches the RF field on or off; a real afe.Device
// satisfies it.
type FieldController interface {
	FieldOn(on bool) error
}

// Dispatcher sequences dispatcher flags over a reader.Engine.
type Dispatcher struct {
	engine    *reader.Engine
	field     FieldController
	triggered bool
}

// New returns a Dispatcher driving engine, optionally controlling field
// through a FieldController (nil is valid for buses that manage the field
// themselves).
func New(engine *reader.Engine, field FieldController) *Dispatcher {
	return &Dispatcher{engine: engine, field: field}
}

// Handle applies req's flags in the mandated order of honour: trigger-on →
// connect → set-timeout → clear-trace → selects → apdu → raw → trigger-off
// → disconnect. Every step in the sequence runs within the one request; a
// select, APDU, or raw payload is recorded rather than returned early, so a
// trailing trigger-off/disconnect in the same request still takes effect.
// Only an actual error short-circuits the remaining steps.
func (d *Dispatcher) Handle(req Request) Response {
	if req.Flags&RequestTrigger != 0 {
		d.triggered = true
	}

	if req.Flags&Connect != 0 {
		if err := d.setField(true); err != nil {
			return errResponse(err)
		}
		d.engine.Sess.FieldOn = true
	}

	if req.Flags&SetTimeout != 0 {
		d.engine.Sess.TimeoutTicks = ticks.MillisToFWT(req.TimeoutMS)
	}

	// ClearTrace has no effect on the dispatcher itself; trace logging is
	// owned by package sniffer/trace. Callers that maintain a trace log
	// clear it on this flag before calling Handle.

	resp := Response{Status: status.Success}

	if sel, handled, err := d.runSelects(req.Flags); handled {
		if err != nil {
			return errResponse(err)
		}
		resp = sel
	}

	if req.Flags&APDU != 0 {
		if !d.engine.Sess.FieldOn {
			return errResponse(fmt.Errorf("dispatch: apdu: %w", status.ErrFieldOff))
		}
		data, err := d.engine.Sess.SendAPDU(d.engine, req.Raw, req.Flags&SendChaining != 0)
		if err != nil {
			return errResponse(err)
		}
		var respByte byte
		if len(data) > 0 {
			respByte = data[0]
		}
		resp = Response{Status: status.Success, ResponseByte: respByte, Data: data}
	}

	if req.Flags&Raw != 0 {
		if !d.engine.Sess.FieldOn {
			return errResponse(fmt.Errorf("dispatch: raw: %w", status.ErrFieldOff))
		}
		tx := req.Raw
		if req.Flags&AppendCRC != 0 {
			tx = crcb.Append(append([]byte(nil), req.Raw...))
		}
		data, err := d.engine.Exchange(tx, d.engine.Sess.TimeoutTicks)
		if err != nil {
			return errResponse(err)
		}
		resp = Response{Status: status.Success, Data: data}
	}

	if req.Flags&RequestTrigger != 0 {
		d.triggered = false
	}

	if req.Flags&Disconnect != 0 {
		if err := d.setField(false); err != nil {
			return errResponse(err)
		}
		d.engine.Sess.FieldOn = false
	}

	return resp
}

func (d *Dispatcher) setField(on bool) error {
	if d.field == nil {
		return nil
	}
	if err := d.field.FieldOn(on); err != nil {
		return fmt.Errorf("dispatch: field: %w", status.ErrCardExchange)
	}
	return nil
}

// runSelects applies at most one of the SELECT_* flags (the host protocol
// does not combine them). handled is false when no select flag was set.
func (d *Dispatcher) runSelects(flags Flag) (Response, bool, error) {
	switch {
	case flags&SelectStd != 0:
		desc, err := d.engine.ActivateStandard()
		if err != nil {
			return Response{}, true, err
		}
		return Response{Status: status.Success, Descriptor: desc}, true, nil
	case flags&SelectSR != 0:
		desc, err := d.engine.ActivateSRX()
		if err != nil {
			return Response{}, true, err
		}
		return Response{Status: status.Success, Descriptor: desc}, true, nil
	case flags&SelectXRX != 0, flags&SelectCTS != 0, flags&SelectPicopass != 0:
		// These card families have no concrete wire sequence implemented yet.
		return Response{}, true, fmt.Errorf("dispatch: select family not implemented: %w", status.ErrAntiCollide)
	}
	return Response{}, false, nil
}

func errResponse(err error) Response {
	return Response{Status: status.Of(err), Err: err}
}
