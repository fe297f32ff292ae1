// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package protocol

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"math/big"
	"testing"

	"github.com/fido-device-onboard/sdo-device-agent/internal/devcred"
)

// fakeSerializer is a minimal in-memory Serializer used only to drive
// handler and driver tests. It is not a protocol transport
// implementation: spec.md's Non-goals explicitly exclude that, this
// fake exists solely so the state machine can be exercised here.
type fakeSerializer struct {
	inbox  []fakeBlock
	outbox []fakeBlock

	wcur *fakeBlock
	rcur *fakeBlock
	ri   int // read cursor into rcur.fields
	wkey string
}

type fakeBlock struct {
	typ    MsgType
	fields []fakeField
}

type fakeField struct {
	tag string
	val any
}

func (f *fakeSerializer) WNextBlock(typ MsgType) error {
	f.outbox = append(f.outbox, fakeBlock{typ: typ})
	f.wcur = &f.outbox[len(f.outbox)-1]
	return nil
}
func (f *fakeSerializer) WBeginObject() error { return nil }
func (f *fakeSerializer) WEndObject() error   { return nil }
func (f *fakeSerializer) WriteTag(tag string) error {
	f.wkey = tag
	return nil
}
func (f *fakeSerializer) WriteUint(v uint64) error {
	f.wcur.fields = append(f.wcur.fields, fakeField{f.wkey, v})
	return nil
}
func (f *fakeSerializer) WriteString(s string) error {
	f.wcur.fields = append(f.wcur.fields, fakeField{f.wkey, s})
	return nil
}
func (f *fakeSerializer) WriteBytes(b []byte) error {
	f.wcur.fields = append(f.wcur.fields, fakeField{f.wkey, append([]byte{}, b...)})
	return nil
}

func (f *fakeSerializer) HaveBlock() bool { return len(f.inbox) > 0 }
func (f *fakeSerializer) NextBlock() (MsgType, bool, error) {
	if len(f.inbox) == 0 {
		return 0, false, nil
	}
	f.rcur = &f.inbox[0]
	f.inbox = f.inbox[1:]
	f.ri = 0
	return f.rcur.typ, true, nil
}
func (f *fakeSerializer) RBeginObject() error { return nil }
func (f *fakeSerializer) REndObject() error   { return nil }
func (f *fakeSerializer) ReadExpectedTag(tag string) error {
	if f.ri >= len(f.rcur.fields) {
		return errors.New("no more fields")
	}
	if f.rcur.fields[f.ri].tag != tag {
		return errors.New("tag mismatch: want " + tag + " got " + f.rcur.fields[f.ri].tag)
	}
	return nil
}
func (f *fakeSerializer) ReadUint() (uint64, error) {
	v := f.rcur.fields[f.ri].val.(uint64)
	f.ri++
	return v, nil
}
func (f *fakeSerializer) ReadString() (string, error) {
	v := f.rcur.fields[f.ri].val.(string)
	f.ri++
	return v, nil
}
func (f *fakeSerializer) ReadBytes() ([]byte, error) {
	v := f.rcur.fields[f.ri].val.([]byte)
	f.ri++
	return v, nil
}

func (f *fakeSerializer) push(typ MsgType, fields ...fakeField) {
	f.inbox = append(f.inbox, fakeBlock{typ: typ, fields: fields})
}

func (f *fakeSerializer) lastOut() fakeBlock {
	return f.outbox[len(f.outbox)-1]
}

func (f *fakeSerializer) fieldOf(b fakeBlock, tag string) any {
	for _, fl := range b.fields {
		if fl.tag == tag {
			return fl.val
		}
	}
	return nil
}

// fakeSigner signs with a throwaway RSA key purely to exercise the
// Sign seam; no test verifies the signatures it produces (owner-side
// signatures that are verified come from testOwnerKey).
type fakeSigner struct{ key *rsa.PrivateKey }

func newFakeSigner(t *testing.T) *fakeSigner {
	t.Helper()
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return &fakeSigner{key: k}
}

func (s *fakeSigner) Sign(message []byte) ([]byte, error) {
	h := sha256.Sum256(message)
	return rsa.SignPKCS1v15(rand.Reader, s.key, 0, h[:])
}

func newTestCreds() *devcred.DeviceCredential {
	return &devcred.DeviceCredential{
		Manufacturer: devcred.ManufacturerBlock{DeviceInfo: "test-device"},
	}
}

// testOwnerKey is a throwaway RSA key standing in for an owner's key
// in the voucher trust chain, used to produce real signatures and a
// real wire-form encoding so tests exercise the actual Key Verifier
// call path rather than stubbing around it.
type testOwnerKey struct {
	priv *rsa.PrivateKey
}

func newTestOwnerKey(t *testing.T) *testOwnerKey {
	t.Helper()
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate owner key: %v", err)
	}
	return &testOwnerKey{priv: k}
}

func (k *testOwnerKey) wire() []byte {
	return encodeOwnerKey(k.priv.N.Bytes(), big.NewInt(int64(k.priv.E)).Bytes())
}

func (k *testOwnerKey) hash() []byte {
	return ownerKeyHash(k.priv.N.Bytes(), big.NewInt(int64(k.priv.E)).Bytes())
}

func (k *testOwnerKey) sign(t *testing.T, message []byte) []byte {
	t.Helper()
	h := sha256.Sum256(message)
	sig, err := rsa.SignPKCS1v15(rand.Reader, k.priv, crypto.SHA256, h[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return sig
}

func TestDIFullRun(t *testing.T) {
	creds := newTestCreds()
	ctx := NewContext(DIInit, creds, nil, nil)
	d := NewDriver(ctx, DIHandlers())
	s := &fakeSerializer{}

	if out := d.Process(s); out != Progressed {
		t.Fatalf("AppStart: got %v, want Progressed", out)
	}

	guid := bytes.Repeat([]byte{0xAB}, guidSize)
	s.push(MsgDISetCredentials,
		fakeField{"g2", guid},
		fakeField{"rvinfo", []byte("rendezvous.example:8040")},
		fakeField{"pkh", []byte("owner-pkh")},
	)
	if out := d.Process(s); out != Progressed {
		t.Fatalf("SetCredentials: got %v, want Progressed", out)
	}
	if !bytes.Equal(ctx.GUID, guid) {
		t.Fatalf("GUID not captured: got %x", ctx.GUID)
	}

	s.push(MsgDISetHMAC, fakeField{"hmac", []byte("hmac-key-bytes")})
	if out := d.Process(s); out != Progressed {
		t.Fatalf("SetHMAC: got %v, want Progressed", out)
	}
	if !creds.Active {
		t.Fatalf("expected credentials marked Active after SetHMAC")
	}

	if out := d.Process(s); out != Completed {
		t.Fatalf("Done: got %v, want Completed", out)
	}
	if !ctx.Success {
		t.Fatalf("expected ctx.Success after Completed")
	}

	// Re-invoking a terminal state must keep returning the terminal
	// outcome without panicking or mutating further state.
	if out := d.Process(s); out != Completed {
		t.Fatalf("post-terminal Process: got %v, want Completed", out)
	}
}

func TestSuspensionIsIdempotentAndDoesNotFreeBuffers(t *testing.T) {
	creds := newTestCreds()
	signer := newFakeSigner(t)
	ctx := NewContext(TO1Init, creds, signer, nil)
	ctx.GUID = bytes.Repeat([]byte{0x01}, guidSize)
	d := NewDriver(ctx, TO1Handlers())
	s := &fakeSerializer{}

	if out := d.Process(s); out != Progressed {
		t.Fatalf("HelloSDO: got %v, want Progressed", out)
	}
	n5Before := append([]byte{}, ctx.N5...)

	// No input buffered: must suspend without changing state or
	// clearing N5, repeatedly.
	for i := 0; i < 3; i++ {
		if out := d.Process(s); out != Suspended {
			t.Fatalf("iteration %d: got %v, want Suspended", i, out)
		}
		if ctx.State != TO1SndHelloSDO {
			t.Fatalf("state changed during suspension: %v", ctx.State)
		}
		if !bytes.Equal(ctx.N5, n5Before) {
			t.Fatalf("N5 mutated during suspension")
		}
	}
}

func TestTO1RejectsMismatchedNonceEcho(t *testing.T) {
	creds := newTestCreds()
	signer := newFakeSigner(t)
	ctx := NewContext(TO1Init, creds, signer, nil)
	ctx.GUID = bytes.Repeat([]byte{0x02}, guidSize)
	d := NewDriver(ctx, TO1Handlers())
	s := &fakeSerializer{}

	d.Process(s) // HelloSDO

	s.push(MsgTO1HelloSDOAck,
		fakeField{"n5r", bytes.Repeat([]byte{0xFF}, nonceSize)},
		fakeField{"pk", newTestOwnerKey(t).wire()},
	)
	if out := d.Process(s); out != Failed {
		t.Fatalf("mismatched n5r: got %v, want Failed", out)
	}
	if ctx.State != Error {
		t.Fatalf("expected Error state, got %v", ctx.State)
	}
	block := s.lastOut()
	if block.typ != MsgTypeError {
		t.Fatalf("expected error block on wire, got msg type %v", block.typ)
	}
}

func TestTO1FullRunCachesRedirect(t *testing.T) {
	creds := newTestCreds()
	owner := newTestOwnerKey(t)
	creds.Owner.OwnerPublicKeyHash = owner.hash()
	signer := newFakeSigner(t)
	ctx := NewContext(TO1Init, creds, signer, nil)
	ctx.GUID = bytes.Repeat([]byte{0x03}, guidSize)
	d := NewDriver(ctx, TO1Handlers())
	s := &fakeSerializer{}

	d.Process(s) // HelloSDO
	n5 := s.fieldOf(s.lastOut(), "n5").([]byte)

	s.push(MsgTO1HelloSDOAck,
		fakeField{"n5r", n5},
		fakeField{"pk", owner.wire()},
	)
	if out := d.Process(s); out != Progressed {
		t.Fatalf("HelloSDOAck: got %v, want Progressed", out)
	}

	if out := d.Process(s); out != Progressed {
		t.Fatalf("ProveToSDO: got %v, want Progressed", out)
	}

	plainText := []byte("owner.example:8041")
	s.push(MsgTO1SDORedirect,
		fakeField{"plainText", plainText},
		fakeField{"obsig", owner.sign(t, plainText)},
	)
	if out := d.Process(s); out != Completed {
		t.Fatalf("SDORedirect: got %v, want Completed", out)
	}
	if ctx.Redirect == nil {
		t.Fatalf("expected cached redirect record")
	}
	if string(ctx.Redirect.PlainText) != "owner.example:8041" {
		t.Fatalf("redirect plaintext mismatch: %q", ctx.Redirect.PlainText)
	}
}

// TestTO1SDORedirectRejectsBadSignature confirms a syntactically valid
// but forged Obsig is rejected rather than cached, closing the gap
// where signature verification was previously a no-op.
func TestTO1SDORedirectRejectsBadSignature(t *testing.T) {
	creds := newTestCreds()
	owner := newTestOwnerKey(t)
	creds.Owner.OwnerPublicKeyHash = owner.hash()
	signer := newFakeSigner(t)
	ctx := NewContext(TO1Init, creds, signer, nil)
	ctx.GUID = bytes.Repeat([]byte{0x06}, guidSize)
	d := NewDriver(ctx, TO1Handlers())
	s := &fakeSerializer{}

	d.Process(s) // HelloSDO
	n5 := s.fieldOf(s.lastOut(), "n5").([]byte)

	s.push(MsgTO1HelloSDOAck,
		fakeField{"n5r", n5},
		fakeField{"pk", owner.wire()},
	)
	d.Process(s) // HelloSDOAck
	d.Process(s) // ProveToSDO

	plainText := []byte("owner.example:8041")
	forgedSigner := newTestOwnerKey(t)
	s.push(MsgTO1SDORedirect,
		fakeField{"plainText", plainText},
		fakeField{"obsig", forgedSigner.sign(t, plainText)},
	)
	if out := d.Process(s); out != Failed {
		t.Fatalf("forged obsig: got %v, want Failed", out)
	}
	if ctx.Redirect != nil {
		t.Fatalf("forged obsig must not be cached")
	}
}

func TestContextFreeIsIdempotent(t *testing.T) {
	creds := newTestCreds()
	ctx := NewContext(TO1Init, creds, nil, nil)
	ctx.N5 = []byte{1, 2, 3}
	ctx.N6 = []byte{4, 5, 6}
	ctx.Redirect = &Redirect{PlainText: []byte("x"), ObSig: []byte("y")}

	ctx.Free()
	if ctx.N5 != nil || ctx.N6 != nil || ctx.Redirect != nil {
		t.Fatalf("expected owned buffers released after Free")
	}

	// A second Free must not panic (no double free of already-nil slices
	// and no re-entry into the zeroing loop via stale pointers).
	ctx.Free()
}

func TestRoundTripCapFailsTO2(t *testing.T) {
	creds := newTestCreds()
	creds.HMACKey = []byte("hmac-key")
	signer := newFakeSigner(t)
	ctx := NewContext(TO2RcvNextOwnerServiceInfo, creds, signer, nil)
	ctx.GUID = bytes.Repeat([]byte{0x04}, guidSize)
	ctx.RoundTripCount = MaxTO2RoundTrips
	ctx.N6 = bytes.Repeat([]byte{0x05}, nonceSize)
	ctx.NewOVHdrHMAC = []byte("expected-hmac")

	d := NewDriver(ctx, TO2Handlers())
	s := &fakeSerializer{}

	if out := d.Process(s); out != Failed {
		t.Fatalf("got %v, want Failed once round-trip cap is already at max", out)
	}
	if ctx.State != Error {
		t.Fatalf("expected Error state, got %v", ctx.State)
	}
}

// TestTO2VerifiesVoucherChainThroughProveDevice drives TO2 from
// HelloDevice through ProveDevice, exercising the full ownership
// voucher trust chain: ProveOVHdr's signature over {ovhdr, n6},
// OPNextEntry's chain-link signature and final-entry-matches-owner
// check, and ProveDevice signing the owner-supplied n7r rather than a
// device-fabricated one.
func TestTO2VerifiesVoucherChainThroughProveDevice(t *testing.T) {
	creds := newTestCreds()
	firstOwner := newTestOwnerKey(t)
	finalOwner := newTestOwnerKey(t)
	creds.Owner.OwnerPublicKeyHash = finalOwner.hash()
	signer := newFakeSigner(t)
	ctx := NewContext(TO2Init, creds, signer, nil)
	ctx.GUID = bytes.Repeat([]byte{0x07}, guidSize)
	d := NewDriver(ctx, TO2Handlers())
	s := &fakeSerializer{}

	if out := d.Process(s); out != Progressed {
		t.Fatalf("HelloDevice: got %v, want Progressed", out)
	}
	n6 := s.fieldOf(s.lastOut(), "n6").([]byte)

	n7r := bytes.Repeat([]byte{0x09}, nonceSize)
	ovhdr := firstOwner.wire()
	s.push(MsgTO2ProveOVHdr,
		fakeField{"ovhdr", ovhdr},
		fakeField{"sig", firstOwner.sign(t, append(append([]byte{}, ovhdr...), n6...))},
		fakeField{"entrycount", uint64(1)},
		fakeField{"xA", []byte("session-key-exchange-material")},
		fakeField{"n7r", n7r},
	)
	if out := d.Process(s); out != Progressed {
		t.Fatalf("ProveOVHdr: got %v, want Progressed", out)
	}
	if !bytes.Equal(ctx.N7r, n7r) {
		t.Fatalf("n7r not captured from owner: got %x", ctx.N7r)
	}

	if out := d.Process(s); out != Progressed {
		t.Fatalf("GetOPNextEntry: got %v, want Progressed", out)
	}

	entry := finalOwner.wire()
	s.push(MsgTO2OVNextEntry,
		fakeField{"entry", entry},
		fakeField{"sig", firstOwner.sign(t, entry)},
	)
	if out := d.Process(s); out != Progressed {
		t.Fatalf("OPNextEntry: got %v, want Progressed", out)
	}
	if ctx.State != TO2RcvOPNextEntry {
		t.Fatalf("expected chain exhausted into TO2RcvOPNextEntry, got %v", ctx.State)
	}

	if out := d.Process(s); out != Progressed {
		t.Fatalf("ProveDevice: got %v, want Progressed", out)
	}
	sig := s.fieldOf(s.lastOut(), "sig")
	if sig == nil {
		t.Fatalf("expected ProveDevice to emit a signature")
	}
}

// TestTO2OPNextEntryRejectsWrongFinalOwner confirms a chain whose last
// entry's key does not hash to the device's recorded current owner is
// rejected rather than silently accepted.
func TestTO2OPNextEntryRejectsWrongFinalOwner(t *testing.T) {
	creds := newTestCreds()
	firstOwner := newTestOwnerKey(t)
	finalOwner := newTestOwnerKey(t)
	wrongOwner := newTestOwnerKey(t)
	creds.Owner.OwnerPublicKeyHash = wrongOwner.hash()
	signer := newFakeSigner(t)
	ctx := NewContext(TO2Init, creds, signer, nil)
	ctx.GUID = bytes.Repeat([]byte{0x08}, guidSize)
	d := NewDriver(ctx, TO2Handlers())
	s := &fakeSerializer{}

	d.Process(s) // HelloDevice
	n6 := s.fieldOf(s.lastOut(), "n6").([]byte)

	ovhdr := firstOwner.wire()
	s.push(MsgTO2ProveOVHdr,
		fakeField{"ovhdr", ovhdr},
		fakeField{"sig", firstOwner.sign(t, append(append([]byte{}, ovhdr...), n6...))},
		fakeField{"entrycount", uint64(1)},
		fakeField{"xA", []byte("session-key-exchange-material")},
		fakeField{"n7r", bytes.Repeat([]byte{0x0A}, nonceSize)},
	)
	d.Process(s) // ProveOVHdr
	d.Process(s) // GetOPNextEntry

	entry := finalOwner.wire()
	s.push(MsgTO2OVNextEntry,
		fakeField{"entry", entry},
		fakeField{"sig", firstOwner.sign(t, entry)},
	)
	if out := d.Process(s); out != Failed {
		t.Fatalf("mismatched final owner: got %v, want Failed", out)
	}
}

func TestReceiveErrorBlockIsProtocolViolation(t *testing.T) {
	creds := newTestCreds()
	ctx := NewContext(DIAppStart, creds, nil, nil)
	d := NewDriver(ctx, DIHandlers())
	s := &fakeSerializer{}

	s.push(MsgTypeError,
		fakeField{"ec", uint64(ECInvalidMessageError)},
		fakeField{"emsg", uint64(int(DIAppStart))},
		fakeField{"em", "bad request"},
	)
	if out := d.Process(s); out != Failed {
		t.Fatalf("got %v, want Failed on inbound error block", out)
	}
	if ctx.State != Error {
		t.Fatalf("expected Error state, got %v", ctx.State)
	}
	if got := s.fieldOf(s.lastOut(), "ec"); got != uint64(ECInvalidMessageError) {
		t.Fatalf("expected ec %d (ProtocolViolation) in emitted error block, got %v", ECInvalidMessageError, got)
	}
}
