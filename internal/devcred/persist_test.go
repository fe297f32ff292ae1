// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package devcred

import (
	"bytes"
	"testing"

	"github.com/fido-device-onboard/sdo-device-agent/internal/sealedstore"
	"github.com/spf13/afero"
)

func newTestStore(t *testing.T) *sealedstore.Store {
	t.Helper()
	fs := afero.NewMemMapFs()
	platform, err := sealedstore.NewFilePlatform(fs, "/keys/aes", "/keys/hmac", "/keys/iv")
	if err != nil {
		t.Fatalf("NewFilePlatform: %v", err)
	}
	return sealedstore.New(fs, platform)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	d := &DeviceCredential{Active: true}
	copy(d.Manufacturer.GUID[:], bytes.Repeat([]byte{0x42}, 16))
	d.Manufacturer.DeviceInfo = "unit-test-device"
	d.Manufacturer.RVInfo = []byte("rendezvous.example:8040")
	d.Owner.OwnerPublicKeyHashAlgo = -16
	d.Owner.OwnerPublicKeyHash = []byte("owner-pubkey-hash")
	d.HMACKey = []byte("super-secret-hmac-key")

	if err := Save(store, d); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, ok, err := Load(store)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatalf("expected credential record to exist")
	}
	if loaded.Active != d.Active {
		t.Fatalf("Active mismatch")
	}
	if !bytes.Equal(loaded.GUID(), d.GUID()) {
		t.Fatalf("GUID mismatch: got %x want %x", loaded.GUID(), d.GUID())
	}
	if loaded.Manufacturer.DeviceInfo != d.Manufacturer.DeviceInfo {
		t.Fatalf("DeviceInfo mismatch")
	}
	if !bytes.Equal(loaded.Manufacturer.RVInfo, d.Manufacturer.RVInfo) {
		t.Fatalf("RVInfo mismatch")
	}
	if loaded.Owner.OwnerPublicKeyHashAlgo != d.Owner.OwnerPublicKeyHashAlgo {
		t.Fatalf("OwnerPublicKeyHashAlgo mismatch")
	}
	if !bytes.Equal(loaded.Owner.OwnerPublicKeyHash, d.Owner.OwnerPublicKeyHash) {
		t.Fatalf("OwnerPublicKeyHash mismatch")
	}
	if !bytes.Equal(loaded.HMACKey, d.HMACKey) {
		t.Fatalf("HMACKey mismatch")
	}
}

func TestLoadReportsAbsentRecord(t *testing.T) {
	store := newTestStore(t)
	_, ok, err := Load(store)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false for a fresh device with no saved credentials")
	}
}
