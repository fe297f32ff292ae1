// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package sealedstore

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"math"

	"github.com/spf13/afero"
)

// Platform is the seam between the store's framing logic and the
// device's key material and IV counter, mirroring the original's
// platform_utils/sdoCryptoHal boundary (getPlatformAESKey,
// getPlatformIV, sdoComputeStorageHMAC, sdoCryptoAESGcmEncrypt/Decrypt).
type Platform interface {
	// GetAESKey returns the platform's device AES key. The caller
	// zeroizes it after use.
	GetAESKey() ([]byte, error)
	// ComputeStorageMAC computes the keyed MAC over data for the NORMAL
	// discipline.
	ComputeStorageMAC(data []byte) []byte
	// NextIV advances the platform's IV counter for an encryption of
	// nBytes plaintext and returns the nonce to use, or IVExhausted if
	// the counter would wrap back to its original seed.
	NextIV(nBytes int) ([]byte, error)
	// Encrypt performs AES-GCM-128 encryption, returning ciphertext and tag.
	Encrypt(key, iv, plaintext []byte) (ciphertext, tag []byte, err error)
	// Decrypt performs AES-GCM-128 authenticated decryption.
	Decrypt(key, iv, ciphertext, tag []byte) (plaintext []byte, err error)
}

// FilePlatform is a software-only reference Platform implementation
// backed by files on an afero.Fs: an AES key file and a combined
// seed||counter IV file, reproducing the asymmetric +1/+2 increment
// and seed-wrap refusal documented in storage_if_linux.c's header
// comment and spec.md §4.2's IV counter discipline. It exists so the
// sealed store is exercisable without real platform firmware; a
// TPM-backed Platform would implement the same interface.
type FilePlatform struct {
	fs         afero.Fs
	keyPath    string
	ivPath     string
	hmacKeyPath string
}

const (
	aesKeySize  = 16
	macKeySize  = 32
	blockSize   = 16
	blocksLimit = 1 << 32
)

// NewFilePlatform builds a FilePlatform rooted at fs, provisioning a
// fresh AES key, HMAC key, and IV seed on first use if none exist.
func NewFilePlatform(fs afero.Fs, keyPath, hmacKeyPath, ivPath string) (*FilePlatform, error) {
	p := &FilePlatform{fs: fs, keyPath: keyPath, hmacKeyPath: hmacKeyPath, ivPath: ivPath}
	if err := p.ensureKey(keyPath, aesKeySize); err != nil {
		return nil, err
	}
	if err := p.ensureKey(hmacKeyPath, macKeySize); err != nil {
		return nil, err
	}
	if err := p.ensureIVSeed(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *FilePlatform) ensureKey(path string, size int) error {
	if exists, _ := afero.Exists(p.fs, path); exists {
		return nil
	}
	key := make([]byte, size)
	if _, err := rand.Read(key); err != nil {
		return err
	}
	return afero.WriteFile(p.fs, path, key, 0o600)
}

func (p *FilePlatform) ensureIVSeed() error {
	if exists, _ := afero.Exists(p.fs, p.ivPath); exists {
		return nil
	}
	seed := make([]byte, ivSize)
	if _, err := rand.Read(seed); err != nil {
		return err
	}
	// Layout: seed(12) || counter(12), counter starts equal to seed.
	buf := append(append([]byte{}, seed...), seed...)
	return afero.WriteFile(p.fs, p.ivPath, buf, 0o600)
}

func (p *FilePlatform) GetAESKey() ([]byte, error) {
	return afero.ReadFile(p.fs, p.keyPath)
}

func (p *FilePlatform) ComputeStorageMAC(data []byte) []byte {
	key, err := afero.ReadFile(p.fs, p.hmacKeyPath)
	if err != nil {
		return nil
	}
	defer zero(key)
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// NextIV implements the seed/counter split: the file holds
// seed(12)||counter(12). Block count < 2^32 increments the counter by
// one; otherwise by two. If the incremented counter equals the
// original seed, the counter has wrapped and encryption is refused.
func (p *FilePlatform) NextIV(nBytes int) ([]byte, error) {
	raw, err := afero.ReadFile(p.fs, p.ivPath)
	if err != nil || len(raw) != 2*ivSize {
		return nil, errf(ResourceFailure, "platform IV store: %v", err)
	}
	seed := raw[:ivSize]
	counter := new(bigCounter).setBytes(raw[ivSize:])

	blocks := uint64(math.Ceil(float64(nBytes) / float64(blockSize)))
	step := uint64(1)
	if blocks >= blocksLimit {
		step = 2
	}
	counter.add(step)

	next := counter.bytes(ivSize)
	if bytes.Equal(next, seed) {
		return nil, errf(IVExhausted, "IV counter wrapped to original seed")
	}

	updated := append(append([]byte{}, seed...), next...)
	if err := atomicWrite(p.fs, p.ivPath, updated); err != nil {
		return nil, errf(ResourceFailure, "persist IV counter: %v", err)
	}
	return next, nil
}

func (p *FilePlatform) Encrypt(key, iv, plaintext []byte) (ciphertext, tag []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	gcm, err := cipher.NewGCMWithTagSize(block, tagSize)
	if err != nil {
		return nil, nil, err
	}
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ct := sealed[:len(sealed)-tagSize]
	tg := sealed[len(sealed)-tagSize:]
	return ct, tg, nil
}

func (p *FilePlatform) Decrypt(key, iv, ciphertext, tag []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCMWithTagSize(block, tagSize)
	if err != nil {
		return nil, err
	}
	sealed := append(append([]byte{}, ciphertext...), tag...)
	return gcm.Open(nil, iv, sealed, nil)
}

// bigCounter is a fixed-width big-endian unsigned counter sized to
// the 12-byte IV, avoiding a dependency on math/big for a value this
// small and keeping the add/compare semantics explicit.
type bigCounter struct {
	v [ivSize]byte
}

func (c *bigCounter) setBytes(b []byte) *bigCounter {
	copy(c.v[:], b)
	return c
}

func (c *bigCounter) add(n uint64) {
	carry := n
	for i := len(c.v) - 1; i >= 0 && carry > 0; i-- {
		sum := uint64(c.v[i]) + (carry & 0xFF)
		c.v[i] = byte(sum)
		carry = (carry >> 8) + (sum >> 8)
	}
}

func (c *bigCounter) bytes(n int) []byte {
	out := make([]byte, n)
	copy(out, c.v[:])
	return out
}
