// Package export builds signed export bundles from a trace's receipt
// chain, so a tenant can hand the whole verified history to an auditor
// as one self-contained, tamper-evident artifact.
package export

import (
	"context"
	"fmt"

	"github.com/Maverick0351a/signet-protocol/pkg/canonicalize"
	"github.com/Maverick0351a/signet-protocol/pkg/signet"
	"github.com/Maverick0351a/signet-protocol/pkg/signetcrypto"
	"github.com/Maverick0351a/signet-protocol/pkg/store"
)

// ErrEmptyChain is returned when a trace has no receipts to export.
var ErrEmptyChain = fmt.Errorf("export: trace has no receipts")

// Exporter seals a receipt chain into a signed ExportBundle.
type Exporter struct {
	store   store.Port
	keyRing *signetcrypto.KeyRing
	sink    DurableSink
}

// DurableSink optionally persists a sealed bundle to long-term storage
// (S3) in addition to returning it to the caller. A nil sink means
// export bundles are only ever returned inline.
type DurableSink interface {
	Put(ctx context.Context, traceID string, bundle signet.ExportBundle) (location string, err error)
}

// New builds an Exporter. sink may be nil.
func New(s store.Port, keyRing *signetcrypto.KeyRing, sink DurableSink) *Exporter {
	return &Exporter{store: s, keyRing: keyRing, sink: sink}
}

// Export builds, seals, and signs the export bundle for traceID, owned
// by tenant. Chain export tenant isolation is enforced here: a trace
// whose receipts belong to a different tenant is reported exactly like
// a trace that does not exist, so a caller cannot distinguish "wrong
// tenant" from "unknown trace".
func (e *Exporter) Export(ctx context.Context, tenant, traceID string) (signet.ExportBundle, error) {
	chain, err := e.store.Chain(ctx, traceID)
	if err != nil {
		return signet.ExportBundle{}, fmt.Errorf("export: load chain: %w", err)
	}
	if len(chain) == 0 {
		return signet.ExportBundle{}, ErrEmptyChain
	}
	if chain[0].Tenant != tenant {
		return signet.ExportBundle{}, ErrEmptyChain
	}

	bundle := signet.ExportBundle{
		TraceID:    traceID,
		Chain:      chain,
		ExportedAt: nowUTC(),
	}

	cid, err := canonicalize.CID(sealable(bundle))
	if err != nil {
		return signet.ExportBundle{}, fmt.Errorf("export: compute bundle cid: %w", err)
	}
	bundle.BundleCID = cid

	signable, err := canonicalize.JCSString(sealable(bundle))
	if err != nil {
		return signet.ExportBundle{}, fmt.Errorf("export: canonicalize for signing: %w", err)
	}
	signer, err := e.keyRing.ActiveSigner()
	if err != nil {
		return signet.ExportBundle{}, fmt.Errorf("export: no active signer: %w", err)
	}
	sig, err := signer.Sign([]byte(signable))
	if err != nil {
		return signet.ExportBundle{}, fmt.Errorf("export: sign bundle: %w", err)
	}
	bundle.Signature = sig
	bundle.KID = signer.KeyID()

	if e.sink != nil {
		if _, err := e.sink.Put(ctx, traceID, bundle); err != nil {
			return signet.ExportBundle{}, fmt.Errorf("export: durable sink write: %w", err)
		}
	}

	return bundle, nil
}

// ChainFor returns the raw receipt chain for traceID without sealing it
// into a bundle, for callers that just need to inspect or display the
// chain rather than hand it to an auditor.
func (e *Exporter) ChainFor(ctx context.Context, traceID string) ([]signet.Receipt, error) {
	return e.store.Chain(ctx, traceID)
}

// sealable returns the portion of the bundle that participates in the
// CID/signature, which is everything except the fields the seal itself
// produces.
func sealable(b signet.ExportBundle) map[string]interface{} {
	return map[string]interface{}{
		"trace_id":    b.TraceID,
		"chain":       b.Chain,
		"exported_at": b.ExportedAt,
	}
}
