// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

// Package devcred holds the device's persistent onboarding state: the
// record DI populates and TO1/TO2 read back on every subsequent run.
// It corresponds to the original client-sdk's sdo_dev_cred_t, grounded
// on other_examples/bkgoodman-go-fdo's DeviceCredential/DeviceCredentialBlob
// split between wire-shaped fields and local-only secrets.
package devcred

// ManufacturerBlock is the subset of credentials fixed at manufacture
// time: the device's own GUID and the rendezvous info used to find an
// owner during TO1.
type ManufacturerBlock struct {
	GUID     [16]byte
	DeviceInfo string
	RVInfo   []byte // opaque, transport-agnostic rendezvous directives
}

// OwnerBlock is the subset populated once DI completes: the hash of
// the owner's public key the device will verify against the ownership
// voucher header during TO2.
type OwnerBlock struct {
	OwnerPublicKeyHashAlgo int64
	OwnerPublicKeyHash     []byte
}

// DeviceCredential is the complete persistent record. Active is set to
// true by DI once SetHMAC delivers the HMAC key; TO1 and TO2 leave it
// unchanged, and `sdo-agent di` refuses to re-provision a credential
// that is Active.
type DeviceCredential struct {
	Active bool

	Manufacturer ManufacturerBlock
	Owner        OwnerBlock

	// HMACKey is the device's symmetric secret, set by DI.SetHMAC and
	// used to authenticate every ownership-voucher-header HMAC computed
	// afterward. It never leaves local storage and is never logged.
	HMACKey []byte
}

// GUID returns the device's 128-bit identifier as a slice, for callers
// that need it outside the fixed-size manufacturer block.
func (d *DeviceCredential) GUID() []byte {
	g := d.Manufacturer.GUID
	return g[:]
}
