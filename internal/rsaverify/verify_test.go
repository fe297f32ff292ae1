// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package rsaverify

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"testing"
)

func genKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return k
}

func sign(t *testing.T, key *rsa.PrivateKey, message []byte) []byte {
	t.Helper()
	h := sha256.Sum256(message)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, h[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return sig
}

func wireKey(key *rsa.PrivateKey) (modulus, exponent []byte) {
	pub := key.PublicKey
	modulus = pub.N.Bytes()
	exponent = big64(pub.E)
	return
}

func big64(e int) []byte {
	b := make([]byte, 0, 4)
	for shift := 24; shift >= 0; shift -= 8 {
		v := byte(e >> shift)
		if len(b) == 0 && v == 0 {
			continue
		}
		b = append(b, v)
	}
	if len(b) == 0 {
		b = []byte{0}
	}
	return b
}

func TestVerifyAccepsValidSignature(t *testing.T) {
	key := genKey(t)
	modulus, exponent := wireKey(key)
	message := []byte("ownership-voucher-header")
	sig := sign(t, key, message)

	if err := Verify(KeyEncodingRSAModExp, KeyAlgoRSA, modulus, exponent, message, sig); err != nil {
		t.Fatalf("expected valid signature to verify, got: %v", err)
	}
}

func TestVerifyRejectsWrongEncoding(t *testing.T) {
	key := genKey(t)
	modulus, exponent := wireKey(key)
	message := []byte("hello")
	sig := sign(t, key, message)

	err := Verify(KeyEncoding(99), KeyAlgoRSA, modulus, exponent, message, sig)
	var e *Error
	if !errors.As(err, &e) || e.Kind != InvalidKeyType {
		t.Fatalf("got %v, want InvalidKeyType", err)
	}
}

func TestVerifyRejectsWrongSignatureLengthWithoutHashing(t *testing.T) {
	key := genKey(t)
	modulus, exponent := wireKey(key)
	message := []byte("hello")

	shortSig := make([]byte, 10)
	err := Verify(KeyEncodingRSAModExp, KeyAlgoRSA, modulus, exponent, message, shortSig)
	var e *Error
	if !errors.As(err, &e) || e.Kind != WrongSignatureLength {
		t.Fatalf("got %v, want WrongSignatureLength", err)
	}
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	key := genKey(t)
	modulus, exponent := wireKey(key)
	message := []byte("original message")
	sig := sign(t, key, message)

	err := Verify(KeyEncodingRSAModExp, KeyAlgoRSA, modulus, exponent, []byte("tampered message"), sig)
	var e *Error
	if !errors.As(err, &e) || e.Kind != SignatureInvalid {
		t.Fatalf("got %v, want SignatureInvalid", err)
	}
}

func TestVerifyRejectsEmptyKeyParameter(t *testing.T) {
	err := Verify(KeyEncodingRSAModExp, KeyAlgoRSA, nil, []byte{1, 0, 1}, []byte("m"), []byte("s"))
	var e *Error
	if !errors.As(err, &e) || e.Kind != InvalidKeyType {
		t.Fatalf("got %v, want InvalidKeyType", err)
	}
}
