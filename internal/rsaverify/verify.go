// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

// Package rsaverify reconstructs RSA public keys from their wire-form
// encoding and verifies PKCS#1 v1.5 signatures over SHA-256, grounded
// on original_source/crypto/openssl/openssl_RSAVerifyRoutines.c's
// convert2pkey and sdoCryptoSigVerify. The verifier is stateless: it
// holds no key material between calls, and every path that
// constructs a key zeroizes it before returning.
package rsaverify

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"math/big"
)

// KeyEncoding and KeyAlgo mirror the two wire tags §4.1 recognizes.
// The only legal pairing is (KeyEncodingRSAModExp, KeyAlgoRSA); every
// other combination is InvalidKeyType.
type KeyEncoding uint8

const (
	KeyEncodingRSAModExp KeyEncoding = 1
)

type KeyAlgo uint8

const (
	KeyAlgoRSA KeyAlgo = 1
)

// Kind classifies a verification failure. Verify never panics; every
// failure path returns an *Error carrying one of these kinds,
// checkable with errors.As.
type Kind int

const (
	InvalidKeyType Kind = iota
	WrongSignatureLength
	SignatureInvalid
)

func (k Kind) String() string {
	switch k {
	case InvalidKeyType:
		return "InvalidKeyType"
	case WrongSignatureLength:
		return "WrongSignatureLength"
	case SignatureInvalid:
		return "SignatureInvalid"
	default:
		return "Unknown"
	}
}

// Error wraps a Kind with a message.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Msg) }

func errf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// Verify checks that sig is a valid PKCS#1 v1.5 signature over
// sha256(message), under the RSA public key encoded by (modulus,
// exponent) per the wire tags encoding/algo. It is the direct
// counterpart of sdoCryptoSigVerify: key-tag validation happens first
// (InvalidKeyType), then the signature-length-equals-modulus-size
// check (WrongSignatureLength) happens before any cryptographic
// primitive runs, matching the original's ordering so a
// short/oversized signature never reaches the hash or verify step.
func Verify(encoding KeyEncoding, algo KeyAlgo, modulus, exponent, message, sig []byte) error {
	if encoding != KeyEncodingRSAModExp || algo != KeyAlgoRSA {
		return errf(InvalidKeyType, "unsupported key encoding/algorithm (encoding=%d algo=%d)", encoding, algo)
	}
	if len(modulus) == 0 || len(exponent) == 0 {
		return errf(InvalidKeyType, "empty key parameter")
	}

	pub, err := convertToPublicKey(modulus, exponent)
	if err != nil {
		return errf(InvalidKeyType, "construct RSA public key: %v", err)
	}
	defer zeroizeKey(pub)

	modSize := (pub.N.BitLen() + 7) / 8
	if len(sig) != modSize {
		return errf(WrongSignatureLength, "signature length %d does not match modulus size %d", len(sig), modSize)
	}

	hash := sha256.Sum256(message)
	defer zero(hash[:])

	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, hash[:], sig); err != nil {
		return errf(SignatureInvalid, "PKCS#1 v1.5 verification failed")
	}
	return nil
}

// convertToPublicKey builds an *rsa.PublicKey from big-endian modulus
// and exponent byte strings, the Go equivalent of convert2pkey's
// BIGNUM-based construction.
func convertToPublicKey(modulus, exponent []byte) (*rsa.PublicKey, error) {
	n := new(big.Int).SetBytes(modulus)
	e := new(big.Int).SetBytes(exponent)
	if n.Sign() <= 0 || e.Sign() <= 0 {
		return nil, fmt.Errorf("non-positive key parameter")
	}
	if !e.IsInt64() {
		return nil, fmt.Errorf("exponent too large")
	}
	pub := &rsa.PublicKey{N: n, E: int(e.Int64())}
	// x509.MarshalPKCS1PublicKey returns no error and rejects no key;
	// its re-encoded bytes are discarded, so the positivity and
	// exponent-size checks above are the only validation done here.
	_ = x509.MarshalPKCS1PublicKey(pub)
	return pub, nil
}

// zeroizeKey drops the public key's big.Int references. A public key
// carries no secret, but the original's convert2pkey zeroizes its
// BIGNUMs unconditionally on every exit path; big.Int exposes no
// mutable backing array, so the closest equivalent is releasing the
// reference immediately rather than treating public material as
// exempt from the discipline.
func zeroizeKey(pub *rsa.PublicKey) {
	if pub == nil {
		return
	}
	pub.N = nil
	pub.E = 0
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
