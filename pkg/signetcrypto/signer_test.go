package signetcrypto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Maverick0351a/signet-protocol/pkg/signet"
)

func sampleReceipt() signet.Receipt {
	return signet.Receipt{
		TraceID:   "trace-1",
		Hop:       1,
		Timestamp: time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC),
		Tenant:    "acme",
		CID:       "sha256:deadbeef",
		Canon:     `{"a":1}`,
		Algo:      "sha256",
		Policy:    signet.PolicyResult{Engine: "HEL", Allowed: true, Reason: "ok"},
	}
}

func TestSignAndVerifyReceipt(t *testing.T) {
	s, err := NewEd25519Signer("kid-1")
	require.NoError(t, err)

	r := sampleReceipt()
	require.NoError(t, SignReceipt(s, &r))
	require.NotEmpty(t, r.ReceiptHash)
	require.NotEmpty(t, r.Signature)
	require.Equal(t, "kid-1", r.KID)

	ok, err := VerifyReceiptSignature(s.PublicKeyHex(), r)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSignAndVerifyReceipt_SignedBeforeForwardPopulatedStillVerifies(t *testing.T) {
	s, err := NewEd25519Signer("kid-1")
	require.NoError(t, err)

	// Mirrors the pipeline: sign the receipt first (step 13/14), then
	// attach the best-effort forward outcome (step 16) before persisting.
	r := sampleReceipt()
	require.NoError(t, SignReceipt(s, &r))

	r.Forwarded = &signet.Forwarded{
		URL: "https://hooks.example.com/invoice", Host: "hooks.example.com",
		PinnedIP: "203.0.113.5", StatusCode: 200, ResponseSize: 42,
	}

	ok, err := VerifyReceiptSignature(s.PublicKeyHex(), r)
	require.NoError(t, err)
	require.True(t, ok, "a receipt signed before forwarding must still verify once Forwarded is attached")
}

func TestVerifyReceipt_TamperedFieldFailsVerification(t *testing.T) {
	s, err := NewEd25519Signer("kid-1")
	require.NoError(t, err)

	r := sampleReceipt()
	require.NoError(t, SignReceipt(s, &r))

	r.Tenant = "evil-corp" // mutate a single field after signing
	ok, err := VerifyReceiptSignature(s.PublicKeyHex(), r)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestKeyRing_ActiveKeyIsLexicographicallyLast(t *testing.T) {
	ring := NewKeyRing()
	a, err := NewEd25519Signer("key-a")
	require.NoError(t, err)
	b, err := NewEd25519Signer("key-b")
	require.NoError(t, err)

	ring.AddKey(a)
	ring.AddKey(b)

	active, err := ring.ActiveSigner()
	require.NoError(t, err)
	require.Equal(t, "key-b", active.KeyID())
}

func TestKeyRing_VerifyReceiptResolvesByKID(t *testing.T) {
	ring := NewKeyRing()
	a, err := NewEd25519Signer("key-a")
	require.NoError(t, err)
	ring.AddKey(a)

	r := sampleReceipt()
	require.NoError(t, ring.SignReceipt(&r))
	require.Equal(t, "key-a", r.KID)

	ok, err := ring.VerifyReceipt(r)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestKeyRing_KeySetIncludesEveryAddedKey(t *testing.T) {
	ring := NewKeyRing()
	a, _ := NewEd25519Signer("key-a")
	b, _ := NewEd25519Signer("key-b")
	ring.AddKey(a)
	ring.AddKey(b)

	set := ring.KeySet()
	require.Len(t, set.Keys, 2)
}
