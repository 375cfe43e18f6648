package signetcrypto

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Maverick0351a/signet-protocol/pkg/signet"
)

// KeyRing holds every key a verifier may encounter: the current signing
// key and any prior keys retained for verification after rotation.
type KeyRing struct {
	mu      sync.RWMutex
	signers map[string]Signer
	active  string
}

// NewKeyRing creates an empty key ring.
func NewKeyRing() *KeyRing {
	return &KeyRing{signers: make(map[string]Signer)}
}

// AddKey registers a signer under its own kid. The lexicographically last
// kid added becomes the active signing key, a deterministic stand-in for
// "most recently rotated in" that requires no wall-clock dependency.
func (k *KeyRing) AddKey(s Signer) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.signers[s.KeyID()] = s
	k.recomputeActiveLocked()
}

// RevokeKey removes a key from the ring, e.g. after a rotation grace period.
func (k *KeyRing) RevokeKey(kid string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.signers, kid)
	k.recomputeActiveLocked()
}

func (k *KeyRing) recomputeActiveLocked() {
	var kids []string
	for kid := range k.signers {
		kids = append(kids, kid)
	}
	sort.Strings(kids)
	if len(kids) == 0 {
		k.active = ""
		return
	}
	k.active = kids[len(kids)-1]
}

// ActiveSigner returns the current active signing key.
func (k *KeyRing) ActiveSigner() (Signer, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.active == "" {
		return nil, fmt.Errorf("signetcrypto: no active signing key configured")
	}
	return k.signers[k.active], nil
}

// SignReceipt signs r with the active key.
func (k *KeyRing) SignReceipt(r *signet.Receipt) error {
	s, err := k.ActiveSigner()
	if err != nil {
		return err
	}
	return SignReceipt(s, r)
}

// VerifyReceipt resolves r's kid in the ring and checks its signature.
func (k *KeyRing) VerifyReceipt(r signet.Receipt) (bool, error) {
	k.mu.RLock()
	s, ok := k.signers[r.KID]
	k.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("signetcrypto: unknown or revoked kid %q", r.KID)
	}
	return VerifyReceiptSignature(s.PublicKeyHex(), r)
}

// KeySet returns the JWKS-shaped view of every key in the ring.
func (k *KeyRing) KeySet() signet.KeySet {
	k.mu.RLock()
	defer k.mu.RUnlock()
	var kids []string
	for kid := range k.signers {
		kids = append(kids, kid)
	}
	sort.Strings(kids)

	set := signet.KeySet{Keys: make([]signet.PublicKeyEntry, 0, len(kids))}
	for _, kid := range kids {
		set.Keys = append(set.Keys, KeyEntry(k.signers[kid]))
	}
	return set
}
