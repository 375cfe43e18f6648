// Package store implements the Storage Port: durable, transactional
// persistence for the receipt hash chain, the idempotency table, and
// monthly usage counters, with interchangeable SQLite and PostgreSQL
// engines behind the same interface.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Maverick0351a/signet-protocol/pkg/signet"
)

// ErrChainConflict is returned when an append races another writer for
// the same trace and loses: the previous-hash the caller computed no
// longer matches the tail actually persisted.
var ErrChainConflict = errors.New("store: chain conflict")

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("store: not found")

// Port is the storage boundary the exchange pipeline depends on. Every
// method is safe for concurrent use; AppendReceipt is additionally
// atomic with respect to the idempotency and usage side effects it
// performs alongside the append.
type Port interface {
	// AppendReceipt persists receipt as the new tail of its trace's
	// chain, and in the same transaction upserts the idempotency record
	// (if idemKey is non-empty), stored under (receipt.Tenant, idemKey),
	// and increments the tenant's monthly
	// usage counters. Returns ErrChainConflict if receipt.PrevReceiptHash
	// does not match the trace's current tail.
	AppendReceipt(ctx context.Context, receipt signet.Receipt, idemKey string, responseBody []byte, statusCode int, vexDelta, fuDelta int64) error

	// Chain returns every receipt for traceID in hop order.
	Chain(ctx context.Context, traceID string) ([]signet.Receipt, error)

	// Tail returns the most recent receipt for traceID, or ErrNotFound
	// if the trace has no receipts yet.
	Tail(ctx context.Context, traceID string) (signet.Receipt, error)

	// LookupIdempotent returns the previously stored response for
	// (apiKey, idemKey), or ErrNotFound if no such record exists. Records
	// are written by AppendReceipt under the receipt's tenant ID, so that
	// is the value to pass as apiKey.
	LookupIdempotent(ctx context.Context, apiKey, idemKey string) (signet.IdempotencyRecord, error)

	// Usage returns the tenant's usage counters for the given month
	// (format "2006-01"), or a zero-valued counter if none recorded yet.
	Usage(ctx context.Context, tenant, month string) (signet.UsageCounter, error)
}

func nowUTC() time.Time { return time.Now().UTC() }
