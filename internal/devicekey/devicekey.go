// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

// Package devicekey provides one software-backed reference
// implementation of protocol.DeviceSigner: an RSA PKCS#1 v1.5 signer
// loaded from a PEM-encoded private key file. spec.md leaves key
// storage (TPM, EPID, plain file) external to the core; this is the
// "plain file" case, grounded on the PEM-parsing fallthrough pattern
// in kgiusti-go-fdo-server/cmd/root.go's parsePrivateKey.
package devicekey

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"
)

// Signer is a software RSA device signer, satisfying
// protocol.DeviceSigner without importing the protocol package
// (avoiding an import cycle; cmd/ wires the two together).
type Signer struct {
	key *rsa.PrivateKey
}

// Load reads a PEM-encoded RSA private key (PKCS#1 or PKCS#8) from
// path and returns a Signer wrapping it.
func Load(path string, read func(string) ([]byte, error)) (*Signer, error) {
	raw, err := read(path)
	if err != nil {
		return nil, fmt.Errorf("devicekey: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes a PEM-encoded RSA private key, trying PKCS#8 first and
// falling back to PKCS#1 on the error text the standard library
// returns for the wrong format, matching the teacher's
// parsePrivateKey fallthrough.
func Parse(pemBytes []byte) (*Signer, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("devicekey: no PEM block found")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("devicekey: only RSA device keys are supported")
		}
		return &Signer{key: rsaKey}, nil
	} else if strings.Contains(err.Error(), "ParsePKCS1PrivateKey") {
		rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("devicekey: %w", err)
		}
		return &Signer{key: rsaKey}, nil
	} else {
		return nil, fmt.Errorf("devicekey: unable to parse private key: %w", err)
	}
}

// Sign returns a PKCS#1 v1.5 signature over sha256(message), the
// signing scheme §4.1's verifier expects on the owner side.
func (s *Signer) Sign(message []byte) ([]byte, error) {
	hash := sha256.Sum256(message)
	return rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, hash[:])
}

// ModulusSize reports the RSA modulus size in bytes, the quantity
// TO1/TO2 handlers may want when sizing signature buffers.
func (s *Signer) ModulusSize() int {
	return (s.key.N.BitLen() + 7) / 8
}
