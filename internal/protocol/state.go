// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package protocol

// State identifies where the device-side state machine is within one
// protocol phase. Values are grouped into gap-separated, contiguous
// ranges per phase so that a state can be validated as belonging to a
// phase by range rather than by membership test, matching the
// structure (if not the numbering) of the original client-sdk's
// SDOProtState enum.
type State int

const (
	// DI — Device Initialization.
	DIInit State = 100 + iota
	DIAppStart
	DISetCredentials
	DISetHMAC
	DIDone
)

const (
	// TO1 — Transfer Ownership 1.
	TO1Init State = 200 + iota
	TO1SndHelloSDO
	TO1RcvHelloSDOAck
	TO1SndProveToSDO
	TO1RcvSDORedirect
)

const (
	// TO2 — Transfer Ownership 2.
	TO2Init State = 300 + iota
	TO2SndHelloDevice
	TO2RcvProveOVHdr
	TO2SndGetOPNextEntry
	TO2RcvOPNextEntry
	TO2SndProveDevice
	TO2RcvGetNextDeviceServiceInfo
	TO2SndNextDeviceServiceInfo
	TO2RcvSetupDevice
	TO2SndGetNextOwnerServiceInfo
	TO2RcvNextOwnerServiceInfo
	TO2SndDone
	TO2RcvDone2
)

const (
	// Done and Error are terminal in every phase.
	Done  State = 900
	Error State = 999
)

// String names the state for diagnostics.
func (s State) String() string {
	switch {
	case s == Done:
		return "DONE"
	case s == Error:
		return "ERROR"
	case s >= DIInit && s <= DIDone:
		return diNames[s-DIInit]
	case s >= TO1Init && s <= TO1RcvSDORedirect:
		return to1Names[s-TO1Init]
	case s >= TO2Init && s <= TO2RcvDone2:
		return to2Names[s-TO2Init]
	default:
		return "UNKNOWN"
	}
}

var diNames = [...]string{"DI_INIT", "DI_APP_START", "DI_SET_CREDENTIALS", "DI_SET_HMAC", "DI_DONE"}

var to1Names = [...]string{
	"TO1_INIT", "TO1_SND_HELLO_SDO", "TO1_RCV_HELLO_SDOACK",
	"TO1_SND_PROVE_TO_SDO", "TO1_RCV_SDO_REDIRECT",
}

var to2Names = [...]string{
	"TO2_INIT", "TO2_SND_HELLO_DEVICE", "TO2_RCV_PROVE_OVHDR",
	"TO2_SND_GET_OP_NEXT_ENTRY", "TO2_RCV_OP_NEXT_ENTRY", "TO2_SND_PROVE_DEVICE",
	"TO2_RCV_GET_NEXT_DSI", "TO2_SND_NEXT_DSI", "TO2_RCV_SETUP_DEVICE",
	"TO2_SND_GET_NEXT_OSI", "TO2_RCV_NEXT_OSI", "TO2_SND_DONE", "TO2_RCV_DONE2",
}

// MaxTO2RoundTrips bounds the number of TO2 request/response pairs
// before the driver fails the run with RoundTripExceeded.
const MaxTO2RoundTrips = 1000

// isTerminal reports whether s is a terminal state (Done or Error).
func (s State) isTerminal() bool {
	return s == Done || s == Error
}
