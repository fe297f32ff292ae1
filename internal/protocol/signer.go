// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package protocol

// DeviceSigner is the capability the core consumes to prove possession
// of the device's private key during TO1.ProveToSDO and
// TO2.ProveDevice. spec.md deliberately leaves the key storage
// mechanism (TPM, EPID, plain file) external; this interface is the
// seam. internal/devicekey ships one software-backed implementation.
type DeviceSigner interface {
	// Sign returns a PKCS#1 v1.5 signature over sha256(message).
	Sign(message []byte) (signature []byte, err error)
}

// PublicKeyEncoding and PublicKeyAlgo mirror the two wire tags §6
// recognizes for RSA public keys.
type PublicKeyEncoding uint8

const (
	PublicKeyEncodingRSAModExp PublicKeyEncoding = 1
)

type PublicKeyAlgo uint8

const (
	PublicKeyAlgoRSA PublicKeyAlgo = 1
)
