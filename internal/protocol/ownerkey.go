// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package protocol

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/fido-device-onboard/sdo-device-agent/internal/rsaverify"
)

// encodeOwnerKey serializes an RSA public key's wire form per spec.md
// §3/§6: two big-endian byte strings, modulus then exponent, each
// prefixed by its own u16 length.
func encodeOwnerKey(modulus, exponent []byte) []byte {
	buf := make([]byte, 0, 4+len(modulus)+len(exponent))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(modulus)))
	buf = append(buf, modulus...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(exponent)))
	buf = append(buf, exponent...)
	return buf
}

// decodeOwnerKey parses the wire form written by encodeOwnerKey back
// into its modulus and exponent byte strings.
func decodeOwnerKey(wire []byte) (modulus, exponent []byte, err error) {
	if len(wire) < 2 {
		return nil, nil, Errorf(ProtocolViolation, "owner key: truncated modulus length")
	}
	modLen := int(binary.BigEndian.Uint16(wire))
	wire = wire[2:]
	if len(wire) < modLen+2 {
		return nil, nil, Errorf(ProtocolViolation, "owner key: truncated modulus")
	}
	modulus = wire[:modLen]
	wire = wire[modLen:]
	expLen := int(binary.BigEndian.Uint16(wire))
	wire = wire[2:]
	if len(wire) < expLen {
		return nil, nil, Errorf(ProtocolViolation, "owner key: truncated exponent")
	}
	exponent = wire[:expLen]
	return modulus, exponent, nil
}

// ownerKeyHash is the SHA-256 digest of an owner key's wire form,
// compared against devcred.OwnerBlock.OwnerPublicKeyHash to confirm a
// key received on the wire is the one the device was bound to.
func ownerKeyHash(modulus, exponent []byte) []byte {
	h := sha256.Sum256(encodeOwnerKey(modulus, exponent))
	return h[:]
}

// verifyOwnerSignature is the single call site every owner-signed
// artifact goes through: §4.1's Key Verifier, invoked with the sole
// legal (encoding, algorithm) pairing since devices in this fleet only
// ever carry RSA_MOD_EXP/RSA credentials.
func verifyOwnerSignature(modulus, exponent, message, sig []byte) error {
	if err := rsaverify.Verify(rsaverify.KeyEncodingRSAModExp, rsaverify.KeyAlgoRSA, modulus, exponent, message, sig); err != nil {
		return Errorf(CryptoFailure, "owner signature verification: %v", err)
	}
	return nil
}
