// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package protocol

import (
	"crypto/hmac"
	"crypto/sha256"
)

// hmacSHA256 computes the keyed MAC used to bind the device to a
// replacement ownership-voucher header, matching the NORMAL blob
// discipline's HMAC-SHA-256 (spec.md §6).
func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}
