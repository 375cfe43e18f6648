// Package billing implements the metering buffer and the
// reserved-capacity/tiered-overage accounting applied on top of raw
// usage counters.
package billing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Maverick0351a/signet-protocol/pkg/signet"
)

// Entry is one usage delta queued for durable persistence.
type Entry struct {
	Tenant   string
	Month    string
	VExDelta int64
	FUDelta  int64
	Flush    func(ctx context.Context, vex, fu int64) error
}

// Buffer is a bounded, multi-producer, single-consumer queue of usage
// deltas. Producers never block on the storage write; a single flusher
// goroutine drains the channel and applies each delta, so a slow
// storage backend degrades latency for the flusher only, never for the
// request path.
type Buffer struct {
	entries chan Entry
	done    chan struct{}
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// NewBuffer constructs a Buffer with the given channel capacity and
// starts its flusher goroutine.
func NewBuffer(capacity int, logger *slog.Logger) *Buffer {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Buffer{
		entries: make(chan Entry, capacity),
		done:    make(chan struct{}),
		logger:  logger,
	}
	b.wg.Add(1)
	go b.run()
	return b
}

func (b *Buffer) run() {
	defer b.wg.Done()
	for {
		select {
		case e, ok := <-b.entries:
			if !ok {
				return
			}
			if err := e.Flush(context.Background(), e.VExDelta, e.FUDelta); err != nil {
				b.logger.Error("billing: flush failed", "tenant", e.Tenant, "month", e.Month, "error", err)
			}
		case <-b.done:
			// Drain whatever is already queued before exiting, so a
			// graceful shutdown never silently drops usage.
			for {
				select {
				case e, ok := <-b.entries:
					if !ok {
						return
					}
					if err := e.Flush(context.Background(), e.VExDelta, e.FUDelta); err != nil {
						b.logger.Error("billing: flush failed during drain", "tenant", e.Tenant, "error", err)
					}
				default:
					return
				}
			}
		}
	}
}

// Enqueue queues a usage delta. It blocks the caller only while the
// channel's buffer is full: a full buffer applies backpressure by
// blocking the enqueue, the same way the teacher's budget trackers serialize writes
// under a lock rather than dropping them.
func (b *Buffer) Enqueue(e Entry) {
	b.entries <- e
}

// Shutdown signals the flusher to drain and stop, and waits for it to
// finish.
func (b *Buffer) Shutdown() {
	close(b.done)
	close(b.entries)
	b.wg.Wait()
}

// OverageTier is re-exported from signet for readability at call sites.
type OverageTier = signet.OverageTier

// Charge describes the billed outcome of a usage counter against a
// tenant's reserved capacity and overage tiers.
type Charge struct {
	ReservedUnits int64
	OverageUnits  int64
	OverageCost   float64
	BillingItem   string
}

// ComputeVExCharge applies the tenant's reserved VEx capacity and
// tiered overage pricing to a raw usage count, at query time rather
// than at write time, so tier boundaries can be repriced retroactively
// without replaying the usage log.
func ComputeVExCharge(usedVEx int64, cfg signet.TenantConfig) (Charge, error) {
	return computeCharge(usedVEx, cfg.ReservedVEx, cfg.OverageTiers, cfg.VExBillingItem)
}

// ComputeFUCharge is ComputeVExCharge's FU-unit counterpart.
func ComputeFUCharge(usedFU int64, cfg signet.TenantConfig) (Charge, error) {
	return computeCharge(usedFU, cfg.ReservedFU, cfg.OverageTiers, cfg.FUBillingItem)
}

func computeCharge(used, reserved int64, tiers []OverageTier, billingItem string) (Charge, error) {
	if used < 0 {
		return Charge{}, fmt.Errorf("billing: used units cannot be negative: %d", used)
	}
	if used <= reserved {
		return Charge{ReservedUnits: used, BillingItem: billingItem}, nil
	}

	overage := used - reserved
	charge := Charge{ReservedUnits: reserved, OverageUnits: overage, BillingItem: billingItem}

	// Tiers are evaluated in ascending threshold order; units beyond the
	// last tier's threshold are billed at that tier's rate, mirroring
	// the teacher's ascending resource-window accounting.
	remaining := overage
	var priorThreshold int64
	for i, tier := range tiers {
		bandWidth := tier.Threshold - priorThreshold
		if bandWidth <= 0 {
			continue
		}
		band := bandWidth
		if remaining < band {
			band = remaining
		}
		charge.OverageCost += float64(band) * tier.PricePerUnit
		remaining -= band
		priorThreshold = tier.Threshold
		if tier.BillingItem != "" {
			charge.BillingItem = tier.BillingItem
		}
		if remaining <= 0 {
			break
		}
		if i == len(tiers)-1 && remaining > 0 {
			// Units beyond the final declared tier bill at that tier's
			// rate indefinitely.
			charge.OverageCost += float64(remaining) * tier.PricePerUnit
			remaining = 0
		}
	}
	if len(tiers) == 0 && remaining > 0 {
		return Charge{}, fmt.Errorf("billing: usage %d exceeds reserved capacity %d with no overage tiers configured", used, reserved)
	}

	return charge, nil
}
