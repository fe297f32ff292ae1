// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/fido-device-onboard/sdo-device-agent/internal/protocol"
)

// wireMessage is the one-line-per-message wire encoding jsonSerializer
// speaks. spec.md's Non-goals exclude a serializer implementation from
// the CORE (internal/protocol); this is the CLI's own minimal,
// concrete choice of wire format, kept deliberately simple since the
// protocol layer treats the encoding as opaque.
type wireMessage struct {
	Type   protocol.MsgType           `json:"type"`
	Fields map[string]json.RawMessage `json:"fields"`
}

// jsonSerializer implements protocol.Serializer as a non-blocking
// buffer pair: an outbound message built up by the Writer half and
// drained by takeOutbound, and an inbound message handed in by
// loadInbound and drained by the Reader half. It never touches a
// transport itself; cmd's per-phase run loops own the actual HTTP
// exchange and feed bytes through loadInbound/takeOutbound.
type jsonSerializer struct {
	outType protocol.MsgType
	outObj  map[string]any
	pendOut string
	hasOut  bool

	in       *wireMessage
	consumed bool
	pendIn   string
}

func newJSONSerializer() *jsonSerializer {
	return &jsonSerializer{}
}

func (j *jsonSerializer) WNextBlock(typ protocol.MsgType) error {
	j.outType = typ
	j.outObj = map[string]any{}
	j.hasOut = true
	return nil
}

func (j *jsonSerializer) WBeginObject() error { return nil }
func (j *jsonSerializer) WEndObject() error   { return nil }

func (j *jsonSerializer) WriteTag(tag string) error {
	j.pendOut = tag
	return nil
}

func (j *jsonSerializer) WriteUint(v uint64) error {
	j.outObj[j.pendOut] = v
	return nil
}

func (j *jsonSerializer) WriteString(s string) error {
	j.outObj[j.pendOut] = s
	return nil
}

func (j *jsonSerializer) WriteBytes(b []byte) error {
	j.outObj[j.pendOut] = base64.StdEncoding.EncodeToString(b)
	return nil
}

// takeOutbound marshals and clears the message built since the last
// WNextBlock, for the caller to hand to a transport. ok is false if no
// message has been written yet.
func (j *jsonSerializer) takeOutbound() (data []byte, ok bool) {
	if !j.hasOut {
		return nil, false
	}
	fields := make(map[string]json.RawMessage, len(j.outObj))
	for k, v := range j.outObj {
		raw, err := json.Marshal(v)
		if err != nil {
			continue
		}
		fields[k] = raw
	}
	data, err := json.Marshal(wireMessage{Type: j.outType, Fields: fields})
	j.hasOut = false
	j.outObj = nil
	if err != nil {
		return nil, false
	}
	return data, true
}

// loadInbound decodes one transport response into the message the
// Reader half will expose on the next NextBlock call.
func (j *jsonSerializer) loadInbound(data []byte) error {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("jsonSerializer: decode inbound message: %w", err)
	}
	j.in = &msg
	j.consumed = false
	return nil
}

func (j *jsonSerializer) HaveBlock() bool {
	return j.in != nil && !j.consumed
}

// NextBlock marks the buffered message consumed and returns its type,
// but keeps the message itself around: callers read its fields with
// ReadExpectedTag/ReadUint/ReadString/ReadBytes right afterward, in the
// same Process call. HaveBlock reports false from here on until the
// next loadInbound replaces the buffer.
func (j *jsonSerializer) NextBlock() (protocol.MsgType, bool, error) {
	if j.in == nil || j.consumed {
		return 0, false, nil
	}
	j.consumed = true
	return j.in.Type, true, nil
}

func (j *jsonSerializer) ReadExpectedTag(tag string) error {
	if j.in == nil {
		return fmt.Errorf("jsonSerializer: read tag %q: no message loaded", tag)
	}
	if _, ok := j.in.Fields[tag]; !ok {
		return fmt.Errorf("jsonSerializer: missing expected tag %q", tag)
	}
	j.pendIn = tag
	return nil
}

func (j *jsonSerializer) ReadUint() (uint64, error) {
	var v uint64
	if err := json.Unmarshal(j.in.Fields[j.pendIn], &v); err != nil {
		return 0, fmt.Errorf("jsonSerializer: decode uint %q: %w", j.pendIn, err)
	}
	return v, nil
}

func (j *jsonSerializer) ReadString() (string, error) {
	var v string
	if err := json.Unmarshal(j.in.Fields[j.pendIn], &v); err != nil {
		return "", fmt.Errorf("jsonSerializer: decode string %q: %w", j.pendIn, err)
	}
	return v, nil
}

func (j *jsonSerializer) ReadBytes() ([]byte, error) {
	var s string
	if err := json.Unmarshal(j.in.Fields[j.pendIn], &s); err != nil {
		return nil, fmt.Errorf("jsonSerializer: decode bytes %q: %w", j.pendIn, err)
	}
	return base64.StdEncoding.DecodeString(s)
}

func (j *jsonSerializer) RBeginObject() error { return nil }
func (j *jsonSerializer) REndObject() error   { return nil }
