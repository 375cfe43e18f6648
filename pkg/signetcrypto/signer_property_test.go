//go:build property
// +build property

package signetcrypto_test

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Maverick0351a/signet-protocol/pkg/signet"
	"github.com/Maverick0351a/signet-protocol/pkg/signetcrypto"
)

// TestMutatingTenantBreaksReceiptVerification verifies invariant 2 on
// the tenant field: for generated tenant and canon values, changing the
// tenant after signing must be detectable.
func TestMutatingTenantBreaksReceiptVerification(t *testing.T) {
	signer, err := signetcrypto.NewEd25519Signer("kid-1")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	pubKeyHex := signer.PublicKeyHex()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("mutating tenant after signing invalidates the receipt", prop.ForAll(
		func(tenant, canon, mutation string) bool {
			if mutation == "" {
				mutation = "x"
			}
			r := signet.Receipt{
				TraceID:   "trace-1",
				Hop:       1,
				Timestamp: time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC),
				Tenant:    tenant,
				CID:       "sha256:abc",
				Canon:     canon,
				Algo:      "sha256",
				Policy:    signet.PolicyResult{Engine: "HEL", Allowed: true, Reason: "ok"},
			}
			if err := signetcrypto.SignReceipt(signer, &r); err != nil {
				return false
			}

			ok, err := signetcrypto.VerifyReceiptSignature(pubKeyHex, r)
			if err != nil || !ok {
				return false
			}

			if mutation == tenant {
				return true // no mutation would actually occur; vacuously fine
			}
			mutated := r
			mutated.Tenant = mutation

			stillOK, err := signetcrypto.VerifyReceiptSignature(pubKeyHex, mutated)
			if err != nil {
				return false
			}
			return !stillOK
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
