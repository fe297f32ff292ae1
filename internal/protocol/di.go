// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package protocol

// DIHandlers returns the state-to-handler table for the Device
// Initialization phase, grounded on original_source/lib/sdoprot.c's
// di_state_fn[] table and §4.3's four DI handlers.
func DIHandlers() map[State]handlerFunc {
	return map[State]handlerFunc{
		DIInit:           diAppStart,
		DIAppStart:       diSetCredentials,
		DISetCredentials: diSetHMAC,
		DISetHMAC:        diDone,
	}
}

// diAppStart emits the device's attestation public data (DeviceInfo
// string and public-key-capable request) to the manufacturer and
// advances to DIAppStart without reading a reply; the next handler
// waits for SetCredentials.
func diAppStart(c *Context, s Serializer) error {
	if err := s.WNextBlock(MsgDIAppStart); err != nil {
		return Errorf(ResourceFailure, "DIAppStart: write: %v", err)
	}
	if err := s.WBeginObject(); err != nil {
		return Errorf(ResourceFailure, "DIAppStart: %v", err)
	}
	if err := s.WriteTag("devinfo"); err != nil {
		return Errorf(ResourceFailure, "DIAppStart: %v", err)
	}
	if err := s.WriteString(c.Credentials.Manufacturer.DeviceInfo); err != nil {
		return Errorf(ResourceFailure, "DIAppStart: %v", err)
	}
	if err := s.WEndObject(); err != nil {
		return Errorf(ResourceFailure, "DIAppStart: %v", err)
	}
	c.State = DIAppStart
	return nil
}

// diSetCredentials waits for the manufacturer's SetCredentials message
// carrying the device GUID and owner public key hash, then writes the
// resulting ManufacturerBlock+OwnerBlock to the NORMAL-disciplined
// credential blob (the caller performs the actual store write once DI
// reaches Done; this handler only populates c.Credentials).
func diSetCredentials(c *Context, s Serializer) error {
	if !s.HaveBlock() {
		return nil
	}
	typ, ok, err := s.NextBlock()
	if err != nil {
		return Errorf(ProtocolViolation, "msg11: message parse error: %v", err)
	}
	if !ok {
		return nil
	}
	if typ == MsgTypeError {
		return ReceiveError(s)
	}
	if typ != MsgDISetCredentials {
		return Errorf(ProtocolViolation, "msg11: expected SetCredentials, got %d", typ)
	}

	if err := s.RBeginObject(); err != nil {
		return Errorf(ProtocolViolation, "msg11: %v", err)
	}
	if err := s.ReadExpectedTag("g2"); err != nil {
		return Errorf(ProtocolViolation, "msg11: %v", err)
	}
	guid, err := s.ReadBytes()
	if err != nil {
		return Errorf(ProtocolViolation, "msg11: g2: %v", err)
	}
	if len(guid) != guidSize {
		return Errorf(ProtocolViolation, "msg11: g2: expected %d bytes, got %d", guidSize, len(guid))
	}
	if err := s.ReadExpectedTag("rvinfo"); err != nil {
		return Errorf(ProtocolViolation, "msg11: %v", err)
	}
	rvinfo, err := s.ReadBytes()
	if err != nil {
		return Errorf(ProtocolViolation, "msg11: rvinfo: %v", err)
	}
	if err := s.ReadExpectedTag("pkh"); err != nil {
		return Errorf(ProtocolViolation, "msg11: %v", err)
	}
	pkh, err := s.ReadBytes()
	if err != nil {
		return Errorf(ProtocolViolation, "msg11: pkh: %v", err)
	}
	if err := s.REndObject(); err != nil {
		return Errorf(ProtocolViolation, "msg11: %v", err)
	}

	copy(c.Credentials.Manufacturer.GUID[:], guid)
	c.Credentials.Manufacturer.RVInfo = rvinfo
	c.Credentials.Owner.OwnerPublicKeyHash = pkh
	c.GUID = c.Credentials.GUID()

	c.State = DISetCredentials
	return nil
}

// diSetHMAC waits for the manufacturer's SetHMAC message carrying the
// ownership-voucher-header HMAC key, stores it in c.Credentials and
// marks the credential Active (the caller seals it into the SECURE
// blob once DI completes).
func diSetHMAC(c *Context, s Serializer) error {
	if !s.HaveBlock() {
		return nil
	}
	typ, ok, err := s.NextBlock()
	if err != nil {
		return Errorf(ProtocolViolation, "msg12: message parse error: %v", err)
	}
	if !ok {
		return nil
	}
	if typ == MsgTypeError {
		return ReceiveError(s)
	}
	if typ != MsgDISetHMAC {
		return Errorf(ProtocolViolation, "msg12: expected SetHMAC, got %d", typ)
	}

	if err := s.RBeginObject(); err != nil {
		return Errorf(ProtocolViolation, "msg12: %v", err)
	}
	if err := s.ReadExpectedTag("hmac"); err != nil {
		return Errorf(ProtocolViolation, "msg12: %v", err)
	}
	hmacKey, err := s.ReadBytes()
	if err != nil {
		return Errorf(ProtocolViolation, "msg12: hmac: %v", err)
	}
	if err := s.REndObject(); err != nil {
		return Errorf(ProtocolViolation, "msg12: %v", err)
	}

	c.Credentials.HMACKey = hmacKey
	c.Credentials.Active = true

	c.State = DISetHMAC
	return nil
}

// diDone emits the final DI acknowledgement and transitions to Done,
// the phase's success terminal.
func diDone(c *Context, s Serializer) error {
	if err := s.WNextBlock(MsgDIDone); err != nil {
		return Errorf(ResourceFailure, "DIDone: write: %v", err)
	}
	if err := s.WBeginObject(); err != nil {
		return Errorf(ResourceFailure, "DIDone: %v", err)
	}
	if err := s.WEndObject(); err != nil {
		return Errorf(ResourceFailure, "DIDone: %v", err)
	}
	c.State = Done
	return nil
}
