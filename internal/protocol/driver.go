// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package protocol

// Outcome reports what one Driver.Process call accomplished.
type Outcome int

const (
	// Progressed means the state machine advanced at least one state
	// and more work remains.
	Progressed Outcome = iota
	// Suspended means no state change occurred: the current state's
	// handler needs more input than is currently buffered in the
	// Serializer, and the caller should poll the transport and call
	// Process again once more data is available.
	Suspended
	// Completed means the phase reached its Done terminal state.
	Completed
	// Failed means the phase reached its Error terminal state; the
	// driver has already emitted an error block via the Serializer.
	Failed
)

// handlerFunc is one state's transition function: given the context
// and serializer, it either advances c.State and returns nil, or
// leaves c.State unchanged (to signal suspend) and returns nil, or
// returns an error (to signal failure).
type handlerFunc func(c *Context, s Serializer) error

// Driver runs the cooperative state machine described in spec.md §4.4:
// single-threaded, non-blocking, and built around the convention that
// "no state change" means "suspend for more input" rather than being
// an error.
type Driver struct {
	ctx      *Context
	handlers map[State]handlerFunc
}

// NewDriver builds a Driver for ctx using the given state-to-handler
// table. di.go, to1.go, and to2.go each provide one such table via
// DIHandlers, TO1Handlers, TO2Handlers.
func NewDriver(ctx *Context, handlers map[State]handlerFunc) *Driver {
	return &Driver{ctx: ctx, handlers: handlers}
}

// Process runs the dispatch loop until the state changes, a terminal
// state is reached, or the handler signals suspend by leaving the
// state unchanged. This is spec.md §4.4 steps 1-7:
//  1. If already terminal, return the matching terminal Outcome.
//  2. Look up the handler for the current state; a missing handler is
//     an internal programming error (panic), not a protocol failure.
//  3. For TO2 states, check the round-trip guard before dispatch.
//  4. Call the handler.
//  5. On error, transition to Error, emit the error block, free the
//     context's owned buffers, return Failed.
//  6. On success with no state change, return Suspended.
//  7. On success with a state change, return Progressed (or Completed
//     if the new state is Done; a TO2 run's owned buffers are freed
//     at that point).
func (d *Driver) Process(s Serializer) Outcome {
	c := d.ctx

	if c.State == Done {
		return Completed
	}
	if c.State == Error {
		return Failed
	}

	if isTO2State(c.State) && c.RoundTripCount >= MaxTO2RoundTrips {
		d.fail(s, Errorf(RoundTripExceeded, "exceeded %d TO2 round trips", MaxTO2RoundTrips))
		return Failed
	}

	h, ok := d.handlers[c.State]
	if !ok {
		panic("protocol: no handler registered for state " + c.State.String())
	}

	before := c.State
	if err := h(c, s); err != nil {
		d.fail(s, err)
		return Failed
	}

	if c.State == before {
		return Suspended
	}
	if c.State == Done {
		c.Success = true
		if isTO2State(before) {
			c.Free()
		}
		return Completed
	}
	return Progressed
}

func isTO2State(s State) bool {
	return s >= TO2Init && s <= TO2RcvDone2
}

// fail transitions to the Error terminal state, writes the §4.5 error
// block over s, and frees the context's owned buffers. Failures
// writing the error block itself are not escalated further: the
// context is already being torn down.
func (d *Driver) fail(s Serializer, err error) {
	origState := int(d.ctx.State)
	d.ctx.State = Error

	ec := ECInternalServerError
	if pe, ok := err.(*Error); ok && pe.Kind == ProtocolViolation {
		ec = ECInvalidMessageError
	}
	block := NewErrorBlock(ec, origState, err.Error())

	_ = s.WNextBlock(MsgTypeError)
	_ = s.WBeginObject()
	_ = s.WriteTag("ec")
	_ = s.WriteUint(uint64(block.Code))
	_ = s.WriteTag("emsg")
	_ = s.WriteUint(uint64(block.OrigState))
	_ = s.WriteTag("em")
	_ = s.WriteString(block.Message)
	_ = s.WEndObject()
	d.ctx.Free()
}

// ReceiveError decodes an inbound error block and reports it as a
// ProtocolViolation, per SPEC_FULL.md §4's resolution of the original's
// commented-out sdoReceiveErrorMessage: an error block the device
// receives terminates the current dispatch, it is never auto-retried
// or silently absorbed.
func ReceiveError(s Reader) error {
	if err := s.RBeginObject(); err != nil {
		return Errorf(ProtocolViolation, "error block: %v", err)
	}
	if err := s.ReadExpectedTag("ec"); err != nil {
		return Errorf(ProtocolViolation, "error block: %v", err)
	}
	ec, err := s.ReadUint()
	if err != nil {
		return Errorf(ProtocolViolation, "error block: ec: %v", err)
	}
	if err := s.ReadExpectedTag("emsg"); err != nil {
		return Errorf(ProtocolViolation, "error block: %v", err)
	}
	emsg, err := s.ReadUint()
	if err != nil {
		return Errorf(ProtocolViolation, "error block: emsg: %v", err)
	}
	if err := s.ReadExpectedTag("em"); err != nil {
		return Errorf(ProtocolViolation, "error block: %v", err)
	}
	em, err := s.ReadString()
	if err != nil {
		return Errorf(ProtocolViolation, "error block: em: %v", err)
	}
	if err := s.REndObject(); err != nil {
		return Errorf(ProtocolViolation, "error block: %v", err)
	}
	return Errorf(ProtocolViolation, "peer reported error ec=%d (in state %d): %s", ec, emsg, em)
}
