// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package protocol

// MsgType identifies a protocol message on the wire, matching the
// numbering of the original client-sdk (msg10..msg13, msg30..msg33,
// msg40..msg51) plus a dedicated error message type.
type MsgType uint8

const (
	MsgTypeError MsgType = 255

	MsgDIAppStart       MsgType = 10
	MsgDISetCredentials MsgType = 11
	MsgDISetHMAC        MsgType = 12
	MsgDIDone           MsgType = 13

	MsgTO1HelloSDO    MsgType = 30
	MsgTO1HelloSDOAck MsgType = 31
	MsgTO1ProveToSDO  MsgType = 32
	MsgTO1SDORedirect MsgType = 33

	MsgTO2HelloDevice            MsgType = 40
	MsgTO2ProveOVHdr             MsgType = 41
	MsgTO2GetOVNextEntry         MsgType = 42
	MsgTO2OVNextEntry            MsgType = 43
	MsgTO2ProveDevice            MsgType = 44
	MsgTO2GetNextDeviceServiceInfo MsgType = 45
	MsgTO2NextDeviceServiceInfo  MsgType = 46
	MsgTO2SetupDevice            MsgType = 47
	MsgTO2GetNextOwnerServiceInfo MsgType = 48
	MsgTO2OwnerServiceInfo       MsgType = 49
	MsgTO2Done                   MsgType = 50
	MsgTO2Done2                  MsgType = 51
)

// Serializer is the structured reader/writer contract the core
// consumes from the (external, out of scope) transport+codec layer.
// The core never touches raw bytes except for cryptographic inputs
// (signatures, nonces, keys), which are passed as already-decoded byte
// slices.
//
// This is a consumer interface only: spec.md's Non-goals explicitly
// exclude a serializer implementation. A fake in-memory implementation
// lives in protocol_test.go (this package) purely to drive handler and
// driver tests.
type Serializer interface {
	Writer
	Reader
}

// Writer is the outbound half of Serializer.
type Writer interface {
	// WNextBlock begins a new outbound message of the given type.
	WNextBlock(typ MsgType) error
	// WBeginObject / WEndObject bracket a CBOR/JSON-like object.
	WBeginObject() error
	WEndObject() error
	// WriteTag writes an object key.
	WriteTag(tag string) error
	WriteUint(v uint64) error
	WriteString(s string) error
	WriteBytes(b []byte) error
}

// Reader is the inbound half of Serializer.
type Reader interface {
	// HaveBlock reports whether a complete message is already buffered,
	// without blocking on the transport. The driver's suspend contract
	// (spec.md §4.4 step 6) depends on handlers consulting this before
	// deciding they have no more work to do this call.
	HaveBlock() bool
	// NextBlock consumes the next buffered message and returns its
	// type tag. ok is false if no block is buffered (the caller should
	// not have called this without checking HaveBlock, but returning
	// ok=false rather than blocking keeps the driver non-blocking).
	NextBlock() (typ MsgType, ok bool, err error)
	ReadExpectedTag(tag string) error
	ReadUint() (uint64, error)
	ReadString() (string, error)
	ReadBytes() ([]byte, error)
	RBeginObject() error
	REndObject() error
}
