// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

// Package sealedstore implements the three blob storage disciplines
// (RAW, NORMAL, SECURE) described in spec.md §4.2/§6, grounded on
// original_source/storage/linux/storage_if_linux.c's sdoBlobSize/
// sdoBlobRead/sdoBlobWrite. File access goes through afero.Fs so
// tests can run against an in-memory filesystem, matching the
// filesystem-abstraction idiom used throughout the pack.
package sealedstore

import (
	"crypto/hmac"
	"encoding/binary"
	"fmt"

	"github.com/spf13/afero"
)

// Flag selects a blob's storage discipline.
type Flag int

const (
	Raw Flag = iota
	Normal
	Secure
)

const (
	hmacSize   = 32
	ivSize     = 12
	tagSize    = 16
	lengthSize = 4

	// RMaxSize bounds every read/write's nBytes, matching the
	// platform-wide R_MAX_SIZE cap from spec.md §4.2.
	RMaxSize = 16 * 1024 * 1024
)

// Kind classifies a store failure.
type Kind int

const (
	IntegrityFailure Kind = iota
	BufferTooSmall
	SizeLimitExceeded
	// IVExhausted covers a GCM nonce counter that would wrap back to its
	// original seed, per spec.md §4.2/§7/§8 Invariant 6.
	IVExhausted
	ResourceFailure
)

func (k Kind) String() string {
	switch k {
	case IntegrityFailure:
		return "IntegrityFailure"
	case BufferTooSmall:
		return "BufferTooSmall"
	case SizeLimitExceeded:
		return "SizeLimitExceeded"
	case IVExhausted:
		return "IVExhausted"
	case ResourceFailure:
		return "ResourceFailure"
	default:
		return "Unknown"
	}
}

type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Msg) }

func errf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// Store is a sealed blob store rooted at an afero.Fs, backed by a
// Platform service for MAC keys, AES keys, and IV management.
type Store struct {
	fs       afero.Fs
	platform Platform
}

// New builds a Store over fs using platform for keyed-MAC, AEAD, and
// IV services.
func New(fs afero.Fs, platform Platform) *Store {
	return &Store{fs: fs, platform: platform}
}

// Size returns the plaintext size of the named blob, 0 if absent, or
// an error if the stored framing is corrupt or the plaintext size
// would exceed RMaxSize.
func (st *Store) Size(name string, flag Flag) (int, error) {
	info, err := st.fs.Stat(name)
	if err != nil {
		return 0, nil
	}
	total := int(info.Size())

	var overhead int
	switch flag {
	case Raw:
		overhead = 0
	case Normal:
		overhead = hmacSize + lengthSize
	case Secure:
		overhead = ivSize + tagSize + lengthSize
	default:
		return 0, errf(ResourceFailure, "invalid storage flag %d", flag)
	}

	size := total - overhead
	if size < 0 {
		return 0, errf(IntegrityFailure, "%s: framed size shorter than overhead", name)
	}
	if size > RMaxSize {
		return 0, errf(SizeLimitExceeded, "%s: plaintext size %d exceeds R_MAX_SIZE", name, size)
	}
	return size, nil
}

// Read reads the named blob under the given discipline into buf[:nBytes]
// and returns the number of bytes read.
func (st *Store) Read(name string, flag Flag, buf []byte, nBytes int) (int, error) {
	if nBytes <= 0 || nBytes > RMaxSize {
		return 0, errf(SizeLimitExceeded, "read size %d exceeds R_MAX_SIZE", nBytes)
	}

	raw, err := afero.ReadFile(st.fs, name)
	if err != nil {
		return 0, errf(ResourceFailure, "%s: %v", name, err)
	}

	switch flag {
	case Raw:
		if len(raw) > nBytes {
			return 0, errf(BufferTooSmall, "%s: buffer too small for %d raw bytes", name, len(raw))
		}
		n := copy(buf, raw)
		return n, nil

	case Normal:
		if len(raw) < hmacSize+lengthSize {
			return 0, errf(IntegrityFailure, "%s: framed blob too short", name)
		}
		storedMAC := raw[:hmacSize]
		dataLength := int(binary.BigEndian.Uint32(raw[hmacSize : hmacSize+lengthSize]))
		plaintext := raw[hmacSize+lengthSize:]
		if dataLength > len(plaintext) {
			return 0, errf(IntegrityFailure, "%s: declared length exceeds stored content", name)
		}
		plaintext = plaintext[:dataLength]
		if nBytes < dataLength {
			return 0, errf(BufferTooSmall, "%s: buffer %d smaller than stored length %d", name, nBytes, dataLength)
		}

		computed := st.platform.ComputeStorageMAC(plaintext)
		if !hmac.Equal(storedMAC, computed) {
			return 0, errf(IntegrityFailure, "%s: HMAC mismatch", name)
		}

		n := copy(buf, plaintext)
		return n, nil

	case Secure:
		if len(raw) < ivSize+tagSize+lengthSize {
			return 0, errf(IntegrityFailure, "%s: framed blob too short", name)
		}
		iv := raw[:ivSize]
		tag := raw[ivSize : ivSize+tagSize]
		offset := ivSize + tagSize
		dataLength := int(binary.BigEndian.Uint32(raw[offset : offset+lengthSize]))
		ciphertext := raw[offset+lengthSize:]
		if dataLength > len(ciphertext) {
			return 0, errf(IntegrityFailure, "%s: declared length exceeds stored content", name)
		}
		ciphertext = ciphertext[:dataLength]
		if nBytes < dataLength {
			return 0, errf(BufferTooSmall, "%s: buffer %d smaller than stored length %d", name, nBytes, dataLength)
		}

		aesKey, err := st.platform.GetAESKey()
		if err != nil {
			return 0, errf(ResourceFailure, "%s: platform AES key: %v", name, err)
		}
		defer zero(aesKey)

		plaintext, err := st.platform.Decrypt(aesKey, iv, ciphertext, tag)
		if err != nil {
			return 0, errf(IntegrityFailure, "%s: AEAD authentication failed", name)
		}

		n := copy(buf, plaintext)
		return n, nil

	default:
		return 0, errf(ResourceFailure, "invalid storage flag %d", flag)
	}
}

// Write composes the framed representation for buf[:nBytes] under the
// given discipline and atomically replaces name's contents.
func (st *Store) Write(name string, flag Flag, buf []byte, nBytes int) (int, error) {
	if nBytes <= 0 || nBytes > RMaxSize {
		return 0, errf(SizeLimitExceeded, "write size %d exceeds R_MAX_SIZE", nBytes)
	}
	plaintext := buf[:nBytes]

	var framed []byte
	switch flag {
	case Raw:
		framed = append([]byte{}, plaintext...)

	case Normal:
		mac := st.platform.ComputeStorageMAC(plaintext)
		framed = make([]byte, 0, hmacSize+lengthSize+nBytes)
		framed = append(framed, mac...)
		framed = binary.BigEndian.AppendUint32(framed, uint32(nBytes))
		framed = append(framed, plaintext...)

	case Secure:
		iv, err := st.platform.NextIV(nBytes)
		if err != nil {
			return 0, err
		}
		aesKey, err := st.platform.GetAESKey()
		if err != nil {
			return 0, errf(ResourceFailure, "%s: platform AES key: %v", name, err)
		}
		defer zero(aesKey)

		ciphertext, tag, err := st.platform.Encrypt(aesKey, iv, plaintext)
		if err != nil {
			return 0, errf(ResourceFailure, "%s: AEAD encryption: %v", name, err)
		}

		framed = make([]byte, 0, ivSize+tagSize+lengthSize+nBytes)
		framed = append(framed, iv...)
		framed = append(framed, tag...)
		framed = binary.BigEndian.AppendUint32(framed, uint32(nBytes))
		framed = append(framed, ciphertext...)

	default:
		return 0, errf(ResourceFailure, "invalid storage flag %d", flag)
	}

	if err := atomicWrite(st.fs, name, framed); err != nil {
		return 0, errf(ResourceFailure, "%s: %v", name, err)
	}
	return nBytes, nil
}

// atomicWrite writes data to a temporary sibling of name and renames
// it into place, so a crash mid-write never leaves a half-written
// credential blob.
func atomicWrite(fs afero.Fs, name string, data []byte) error {
	tmp := name + ".tmp"
	if err := afero.WriteFile(fs, tmp, data, 0o600); err != nil {
		return err
	}
	return fs.Rename(tmp, name)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
