// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package devicekey

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"testing"
)

func genPKCS8PEM(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal PKCS8: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

func genPKCS1PEM(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der := x509.MarshalPKCS1PrivateKey(key)
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der})
}

func TestParsePKCS8Key(t *testing.T) {
	signer, err := Parse(genPKCS8PEM(t))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	sig, err := signer.Sign([]byte("message"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(sig) != signer.ModulusSize() {
		t.Fatalf("signature length %d != modulus size %d", len(sig), signer.ModulusSize())
	}
}

func TestParsePKCS1Key(t *testing.T) {
	signer, err := Parse(genPKCS1PEM(t))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := signer.Sign([]byte("message")); err != nil {
		t.Fatalf("Sign: %v", err)
	}
}

func TestSignatureVerifiesUnderPublicKey(t *testing.T) {
	pemBytes := genPKCS8PEM(t)
	signer, err := Parse(pemBytes)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	message := []byte("ownership-voucher-header||n6")
	sig, err := signer.Sign(message)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	hash := sha256.Sum256(message)
	if err := rsa.VerifyPKCS1v15(&signer.key.PublicKey, crypto.SHA256, hash[:], sig); err != nil {
		t.Fatalf("signature did not verify: %v", err)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse([]byte("not a pem file")); err == nil {
		t.Fatalf("expected error parsing garbage input")
	}
}
