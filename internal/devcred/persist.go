// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package devcred

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/fido-device-onboard/sdo-device-agent/internal/sealedstore"
)

// Blob names on the sealed store, matching the original client-sdk's
// separation of the owner/manufacturer record (NORMAL, integrity
// only) from the HMAC secret (SECURE, confidentiality required).
const (
	CredentialBlobName = "device-credentials"
	HMACKeyBlobName     = "device-hmac-key"
)

const maxCredentialRecordSize = 8192

// Save writes the manufacturer and owner blocks to the NORMAL blob and
// the HMAC key to the SECURE blob, per spec.md §5's atomicity rule:
// Save is the only credential writer (the CLI calls it once DI or TO2
// completes), and each blob write is atomic.
func Save(store *sealedstore.Store, d *DeviceCredential) error {
	record := encodeRecord(d)
	if _, err := store.Write(CredentialBlobName, sealedstore.Normal, record, len(record)); err != nil {
		return fmt.Errorf("devcred: save credential record: %w", err)
	}
	if len(d.HMACKey) > 0 {
		if _, err := store.Write(HMACKeyBlobName, sealedstore.Secure, d.HMACKey, len(d.HMACKey)); err != nil {
			return fmt.Errorf("devcred: save HMAC key: %w", err)
		}
	}
	return nil
}

// Load reads back a DeviceCredential previously written by Save. ok
// is false if no credential record exists yet (a fresh, un-initialized
// device).
func Load(store *sealedstore.Store) (d *DeviceCredential, ok bool, err error) {
	size, err := store.Size(CredentialBlobName, sealedstore.Normal)
	if err != nil {
		return nil, false, fmt.Errorf("devcred: size: %w", err)
	}
	if size == 0 {
		return nil, false, nil
	}
	if size > maxCredentialRecordSize {
		return nil, false, fmt.Errorf("devcred: credential record implausibly large (%d bytes)", size)
	}

	buf := make([]byte, size)
	n, err := store.Read(CredentialBlobName, sealedstore.Normal, buf, size)
	if err != nil {
		return nil, false, fmt.Errorf("devcred: read: %w", err)
	}
	d, err = decodeRecord(buf[:n])
	if err != nil {
		return nil, false, fmt.Errorf("devcred: decode: %w", err)
	}

	hmacSize, err := store.Size(HMACKeyBlobName, sealedstore.Secure)
	if err == nil && hmacSize > 0 {
		hbuf := make([]byte, hmacSize)
		hn, err := store.Read(HMACKeyBlobName, sealedstore.Secure, hbuf, hmacSize)
		if err != nil {
			return nil, false, fmt.Errorf("devcred: read HMAC key: %w", err)
		}
		d.HMACKey = hbuf[:hn]
	}

	return d, true, nil
}

// encodeRecord serializes the non-secret portion of a DeviceCredential
// as a flat length-prefixed record. This is an internal on-disk
// format private to this package, not a wire format: TO1/TO2 never
// see it directly.
func encodeRecord(d *DeviceCredential) []byte {
	var buf bytes.Buffer
	activeByte := byte(0)
	if d.Active {
		activeByte = 1
	}
	buf.WriteByte(activeByte)
	buf.Write(d.Manufacturer.GUID[:])
	writeLP(&buf, []byte(d.Manufacturer.DeviceInfo))
	writeLP(&buf, d.Manufacturer.RVInfo)
	var algo [8]byte
	binary.BigEndian.PutUint64(algo[:], uint64(d.Owner.OwnerPublicKeyHashAlgo))
	buf.Write(algo[:])
	writeLP(&buf, d.Owner.OwnerPublicKeyHash)
	return buf.Bytes()
}

func decodeRecord(data []byte) (*DeviceCredential, error) {
	r := bytes.NewReader(data)
	active, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	d := &DeviceCredential{Active: active != 0}
	if _, err := r.Read(d.Manufacturer.GUID[:]); err != nil {
		return nil, err
	}
	devInfo, err := readLP(r)
	if err != nil {
		return nil, err
	}
	d.Manufacturer.DeviceInfo = string(devInfo)
	rvInfo, err := readLP(r)
	if err != nil {
		return nil, err
	}
	d.Manufacturer.RVInfo = rvInfo
	var algo [8]byte
	if _, err := r.Read(algo[:]); err != nil {
		return nil, err
	}
	d.Owner.OwnerPublicKeyHashAlgo = int64(binary.BigEndian.Uint64(algo[:]))
	pkh, err := readLP(r)
	if err != nil {
		return nil, err
	}
	d.Owner.OwnerPublicKeyHash = pkh
	return d, nil
}

func writeLP(buf *bytes.Buffer, b []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	buf.Write(n[:])
	buf.Write(b)
}

func readLP(r *bytes.Reader) ([]byte, error) {
	var n [4]byte
	if _, err := r.Read(n[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(n[:])
	b := make([]byte, length)
	if length > 0 {
		if _, err := r.Read(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}
