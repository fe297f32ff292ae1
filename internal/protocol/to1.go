// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package protocol

import (
	"bytes"
	"crypto/rand"
)

// TO1Handlers returns the state-to-handler table for the Transfer
// Ownership 1 phase: device locates its current owner via a
// rendezvous service. Grounded on original_source/lib/sdoprot.c's
// to1_state_fn[] table and §4.3's four TO1 handlers.
func TO1Handlers() map[State]handlerFunc {
	return map[State]handlerFunc{
		TO1Init:          to1HelloSDO,
		TO1SndHelloSDO:   to1HelloSDOAck,
		TO1RcvHelloSDOAck: to1ProveToSDO,
		TO1SndProveToSDO: to1SDORedirect,
	}
}

// to1HelloSDO sends the device GUID and a fresh nonce n5 to the
// rendezvous service.
func to1HelloSDO(c *Context, s Serializer) error {
	n5 := make([]byte, nonceSize)
	if _, err := rand.Read(n5); err != nil {
		return Errorf(ResourceFailure, "TO1HelloSDO: nonce: %v", err)
	}
	c.N5 = n5

	if err := s.WNextBlock(MsgTO1HelloSDO); err != nil {
		return Errorf(ResourceFailure, "TO1HelloSDO: write: %v", err)
	}
	if err := s.WBeginObject(); err != nil {
		return Errorf(ResourceFailure, "TO1HelloSDO: %v", err)
	}
	if err := s.WriteTag("g2"); err != nil {
		return Errorf(ResourceFailure, "TO1HelloSDO: %v", err)
	}
	if err := s.WriteBytes(c.GUID); err != nil {
		return Errorf(ResourceFailure, "TO1HelloSDO: %v", err)
	}
	if err := s.WriteTag("n5"); err != nil {
		return Errorf(ResourceFailure, "TO1HelloSDO: %v", err)
	}
	if err := s.WriteBytes(c.N5); err != nil {
		return Errorf(ResourceFailure, "TO1HelloSDO: %v", err)
	}
	if err := s.WEndObject(); err != nil {
		return Errorf(ResourceFailure, "TO1HelloSDO: %v", err)
	}

	c.State = TO1SndHelloSDO
	return nil
}

// to1HelloSDOAck waits for the rendezvous service's echo of n5 (as
// n5r) and validates it matches what was sent.
func to1HelloSDOAck(c *Context, s Serializer) error {
	if !s.HaveBlock() {
		return nil
	}
	typ, ok, err := s.NextBlock()
	if err != nil {
		return Errorf(ProtocolViolation, "msg31: message parse error: %v", err)
	}
	if !ok {
		return nil
	}
	if typ == MsgTypeError {
		return ReceiveError(s)
	}
	if typ != MsgTO1HelloSDOAck {
		return Errorf(ProtocolViolation, "msg31: expected HelloSDOAck, got %d", typ)
	}

	if err := s.RBeginObject(); err != nil {
		return Errorf(ProtocolViolation, "msg31: %v", err)
	}
	if err := s.ReadExpectedTag("n5r"); err != nil {
		return Errorf(ProtocolViolation, "msg31: %v", err)
	}
	n5r, err := s.ReadBytes()
	if err != nil {
		return Errorf(ProtocolViolation, "msg31: n5r: %v", err)
	}
	if err := s.ReadExpectedTag("pk"); err != nil {
		return Errorf(ProtocolViolation, "msg31: %v", err)
	}
	pk, err := s.ReadBytes()
	if err != nil {
		return Errorf(ProtocolViolation, "msg31: pk: %v", err)
	}
	if err := s.REndObject(); err != nil {
		return Errorf(ProtocolViolation, "msg31: %v", err)
	}

	if !bytes.Equal(n5r, c.N5) {
		return Errorf(ProtocolViolation, "msg31: n5r does not match n5")
	}
	c.N5r = n5r

	// pk is the owner public key this rendezvous entry claims to
	// redirect to, wire-form encoded; it must hash to what DI recorded
	// before SDORedirect's signature is trusted against it.
	modulus, exponent, err := decodeOwnerKey(pk)
	if err != nil {
		return Errorf(ProtocolViolation, "msg31: pk: %v", err)
	}
	if !bytes.Equal(ownerKeyHash(modulus, exponent), c.Credentials.Owner.OwnerPublicKeyHash) {
		return Errorf(CryptoFailure, "msg31: owner public key does not match current owner")
	}
	c.CurrentOwnerKeyMod = modulus
	c.CurrentOwnerKeyExp = exponent

	c.State = TO1RcvHelloSDOAck
	return nil
}

// to1ProveToSDO signs {g2, n5r} with the device key to prove
// possession of the device private key to the rendezvous service.
func to1ProveToSDO(c *Context, s Serializer) error {
	msg := append(append([]byte{}, c.GUID...), c.N5r...)
	sig, err := c.Signer.Sign(msg)
	if err != nil {
		return Errorf(CryptoFailure, "TO1ProveToSDO: sign: %v", err)
	}

	if err := s.WNextBlock(MsgTO1ProveToSDO); err != nil {
		return Errorf(ResourceFailure, "TO1ProveToSDO: write: %v", err)
	}
	if err := s.WBeginObject(); err != nil {
		return Errorf(ResourceFailure, "TO1ProveToSDO: %v", err)
	}
	if err := s.WriteTag("sig"); err != nil {
		return Errorf(ResourceFailure, "TO1ProveToSDO: %v", err)
	}
	if err := s.WriteBytes(sig); err != nil {
		return Errorf(ResourceFailure, "TO1ProveToSDO: %v", err)
	}
	if err := s.WEndObject(); err != nil {
		return Errorf(ResourceFailure, "TO1ProveToSDO: %v", err)
	}

	c.State = TO1SndProveToSDO
	return nil
}

// to1SDORedirect waits for the owner's redirect record (plaintext
// rendezvous target plus owner signature Obsig), verifies Obsig via
// the RSA verifier, and caches the record for TO2.
func to1SDORedirect(c *Context, s Serializer) error {
	if !s.HaveBlock() {
		return nil
	}
	typ, ok, err := s.NextBlock()
	if err != nil {
		return Errorf(ProtocolViolation, "msg33: message parse error: %v", err)
	}
	if !ok {
		return nil
	}
	if typ == MsgTypeError {
		return ReceiveError(s)
	}
	if typ != MsgTO1SDORedirect {
		return Errorf(ProtocolViolation, "msg33: expected SDORedirect, got %d", typ)
	}

	if err := s.RBeginObject(); err != nil {
		return Errorf(ProtocolViolation, "msg33: %v", err)
	}
	if err := s.ReadExpectedTag("plainText"); err != nil {
		return Errorf(ProtocolViolation, "msg33: %v", err)
	}
	plainText, err := s.ReadBytes()
	if err != nil {
		return Errorf(ProtocolViolation, "msg33: plainText: %v", err)
	}
	if err := s.ReadExpectedTag("obsig"); err != nil {
		return Errorf(ProtocolViolation, "msg33: %v", err)
	}
	obsig, err := s.ReadBytes()
	if err != nil {
		return Errorf(ProtocolViolation, "msg33: obsig: %v", err)
	}
	if err := s.REndObject(); err != nil {
		return Errorf(ProtocolViolation, "msg33: %v", err)
	}

	// Obsig is the owner's signature over plainText, verified against the
	// key captured and hash-checked in HelloSDOAck, per §4.1/§4.4.
	if err := verifyOwnerSignature(c.CurrentOwnerKeyMod, c.CurrentOwnerKeyExp, plainText, obsig); err != nil {
		return err
	}
	c.Redirect = &Redirect{PlainText: plainText, ObSig: obsig}

	c.State = Done
	return nil
}
