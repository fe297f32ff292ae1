// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package protocol

import "github.com/fido-device-onboard/sdo-device-agent/internal/devcred"

const (
	nonceSize = 16
	guidSize  = 16
)

// Redirect holds the TO1 owner-signed redirect record: the plaintext
// rendezvous record (IP/port/DNS/protocol) and its owner signature, as
// returned by TO1.SDORedirect and consumed verbatim at TO2 start.
type Redirect struct {
	PlainText []byte
	ObSig     []byte
}

// Context is the single mutable record threaded through every handler
// of one DI, TO1, or TO2 run, per spec.md §3. The caller creates it
// with NewContext and drives it through one Driver. Every field tagged
// "owned" below is released by Free: the Driver calls it when a run
// fails and when a TO2 run completes, and callers also defer it, which
// is harmless because Free is idempotent — this is Invariant 1 from
// spec.md §8.
type Context struct {
	State State

	// Credentials is a borrowed reference to the persistent device
	// credential record; the context never frees it.
	Credentials *devcred.DeviceCredential

	// GUID is the device's 128-bit identifier (16 bytes), borrowed from
	// Credentials: NewContext sets it for TO1 and TO2 runs, and DI sets
	// it once SetCredentials delivers g2; it is nil before that.
	GUID []byte

	// Signer is the borrowed capability used to prove possession of the
	// device private key in TO1.ProveToSDO and TO2.ProveDevice.
	Signer DeviceSigner

	// Modules is the borrowed service-info module list consulted during
	// TO2's service-info exchange phase.
	Modules *ModuleList

	// --- owned nonces ---
	N5  []byte // TO1: device-generated, echoed by the owner in TO1RcvHelloSDOAck
	N5r []byte // TO1: owner-echoed copy of n5, verified equal to N5
	N6  []byte // TO2: device-generated, proves freshness of ProveOVHdr
	N7r []byte // TO2: owner-generated, signed back by the device in ProveDevice

	// NewOVHdrHMAC is the owned HMAC computed by the device over the
	// replacement ownership-voucher header when SetupDevice arrives, and
	// compared against the owner's echo in Done2.
	NewOVHdrHMAC []byte

	// Redirect is the owned TO1 rendezvous redirection record, consumed
	// once at the start of TO2 and then no longer needed.
	Redirect *Redirect

	// RoundTripCount counts TO2 request/response pairs exchanged so far,
	// checked against MaxTO2RoundTrips before every send (spec.md §4.4
	// step 3, Invariant 3 from §8).
	RoundTripCount int

	// SessionKey is the owned copy of the owner's key-exchange parameter
	// (xA) recorded in ProveOVHdr. No handler uses it to authenticate or
	// encrypt later messages.
	SessionKey []byte

	// IVSeq is a per-session outbound IV sequence counter. No handler
	// reads or advances it; no TO2 message is encrypted.
	IVSeq uint64

	// OVEntryIndex tracks how many ownership-voucher entries have been
	// walked so far in TO2RcvOPNextEntry/TO2SndGetOPNextEntry.
	OVEntryIndex int
	OVEntryCount int

	// OwnerPublicKeyHash is the owned running buffer of ownership
	// voucher header and entry bytes, accumulated for the newOVHdrHMAC
	// computation in TO2SetupDevice.
	OwnerPublicKeyHash []byte

	// CurrentOwnerKeyMod and CurrentOwnerKeyExp are the owned
	// modulus/exponent of the owner key currently anchoring the
	// ownership-voucher trust chain: set from ovhdr in ProveOVHdr, then
	// replaced by each entry's key as OPNextEntry walks the chain. Every
	// owner-signed artifact (ProveOVHdr's sig, each entry's chain-link
	// signature) is verified against whichever key is current when it
	// arrives, per §4.1's Key Verifier.
	CurrentOwnerKeyMod []byte
	CurrentOwnerKeyExp []byte

	// Success records whether the run reached its phase's Done state,
	// consulted by the driver to decide Completed vs Failed on return
	// to a terminal state.
	Success bool

	freed bool
}

// NewContext allocates a fresh Context for one DI, TO1, or TO2 run.
// creds and signer are borrowed; the caller retains ownership.
func NewContext(initial State, creds *devcred.DeviceCredential, signer DeviceSigner, modules *ModuleList) *Context {
	c := &Context{
		State:       initial,
		Credentials: creds,
		Signer:      signer,
		Modules:     modules,
	}
	if creds != nil && (initial < DIInit || initial > DIDone) {
		c.GUID = creds.GUID()
	}
	return c
}

// Free zeroes and releases every owned buffer in the context. It is
// idempotent: calling it more than once is a no-op, so the driver
// freeing on failure or TO2 completion and a caller's deferred Free
// cannot double-free.
func (c *Context) Free() {
	if c.freed {
		return
	}
	zero(c.N5)
	zero(c.N5r)
	zero(c.N6)
	zero(c.N7r)
	zero(c.NewOVHdrHMAC)
	zero(c.SessionKey)
	zero(c.OwnerPublicKeyHash)
	zero(c.CurrentOwnerKeyMod)
	zero(c.CurrentOwnerKeyExp)
	if c.Redirect != nil {
		zero(c.Redirect.PlainText)
		zero(c.Redirect.ObSig)
		c.Redirect = nil
	}
	c.N5, c.N5r, c.N6, c.N7r = nil, nil, nil, nil
	c.NewOVHdrHMAC, c.SessionKey, c.OwnerPublicKeyHash = nil, nil, nil
	c.CurrentOwnerKeyMod, c.CurrentOwnerKeyExp = nil, nil
	c.freed = true
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
