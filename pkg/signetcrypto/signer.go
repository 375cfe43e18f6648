// Package signetcrypto provides Ed25519 detached signing and multi-key
// verification for Signet receipts and export bundles, plus the JWKS-shaped
// key set a verifier uses to resolve a kid to a public key.
package signetcrypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/Maverick0351a/signet-protocol/pkg/canonicalize"
	"github.com/Maverick0351a/signet-protocol/pkg/signet"
)

// Signer signs and verifies arbitrary canonical byte payloads with a
// single Ed25519 key, identified by a stable KeyID (kid).
type Signer interface {
	Sign(data []byte) (string, error)
	KeyID() string
	PublicKeyHex() string
	PublicKeyBytes() []byte
}

// Ed25519Signer is the concrete Signer implementation.
type Ed25519Signer struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
	kid     string
}

// NewEd25519Signer generates a fresh Ed25519 key pair under the given kid.
func NewEd25519Signer(kid string) (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("signetcrypto: key generation failed: %w", err)
	}
	return &Ed25519Signer{privKey: priv, pubKey: pub, kid: kid}, nil
}

// NewEd25519SignerFromKey wraps an existing private key under the given kid.
func NewEd25519SignerFromKey(priv ed25519.PrivateKey, kid string) *Ed25519Signer {
	return &Ed25519Signer{
		privKey: priv,
		pubKey:  priv.Public().(ed25519.PublicKey),
		kid:     kid,
	}
}

func (s *Ed25519Signer) Sign(data []byte) (string, error) {
	sig := ed25519.Sign(s.privKey, data)
	return hex.EncodeToString(sig), nil
}

func (s *Ed25519Signer) KeyID() string { return s.kid }

func (s *Ed25519Signer) PublicKeyHex() string { return hex.EncodeToString(s.pubKey) }

func (s *Ed25519Signer) PublicKeyBytes() []byte { return s.pubKey }

// Verify checks a hex-encoded detached signature against a hex-encoded
// Ed25519 public key and the signed bytes.
func Verify(pubKeyHex, sigHex string, data []byte) (bool, error) {
	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("signetcrypto: invalid public key hex: %w", err)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("signetcrypto: invalid signature hex: %w", err)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("signetcrypto: invalid public key size")
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), data, sig), nil
}

// receiptSignable returns the canonical bytes of a receipt with
// ReceiptHash and Signature cleared, per spec §4.1 step 14 ("Ed25519 over
// the canonical receipt excluding receipt_hash"). Forwarded is also
// cleared: the best-effort forward (step 16) happens after signing, so
// the signed form never includes it, even though the persisted and
// re-read receipt does.
func receiptSignable(r signet.Receipt) ([]byte, error) {
	r.ReceiptHash = ""
	r.Signature = ""
	r.KID = ""
	r.Forwarded = nil
	return canonicalize.JCS(r)
}

// SignReceipt computes receipt_hash over the canonical receipt (excluding
// receipt_hash and signature), signs that same canonical form, and attaches
// ReceiptHash, Signature, and KID to r.
func SignReceipt(s Signer, r *signet.Receipt) error {
	signable, err := receiptSignable(*r)
	if err != nil {
		return fmt.Errorf("signetcrypto: canonicalize receipt: %w", err)
	}
	r.ReceiptHash = canonicalize.CIDFromBytes(signable)

	sig, err := s.Sign(signable)
	if err != nil {
		return fmt.Errorf("signetcrypto: sign receipt: %w", err)
	}
	r.Signature = sig
	r.KID = s.KeyID()
	return nil
}

// VerifyReceiptSignature re-derives the signable canonical form of r and
// checks both the receipt_hash and the detached signature against pubKeyHex.
func VerifyReceiptSignature(pubKeyHex string, r signet.Receipt) (bool, error) {
	signable, err := receiptSignable(r)
	if err != nil {
		return false, err
	}
	if canonicalize.CIDFromBytes(signable) != r.ReceiptHash {
		return false, nil
	}
	return Verify(pubKeyHex, r.Signature, signable)
}

// KeyEntry returns the JWKS-shaped representation of a signer's public key.
func KeyEntry(s Signer) signet.PublicKeyEntry {
	return signet.PublicKeyEntry{
		KTY: "OKP",
		CRV: "Ed25519",
		KID: s.KeyID(),
		X:   base64.RawURLEncoding.EncodeToString(s.PublicKeyBytes()),
	}
}
