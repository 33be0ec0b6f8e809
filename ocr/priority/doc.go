// Package priority bounds the number of concurrently running OCR jobs per
// priority tier and lets a saturated, more urgent tier borrow idle capacity
// from a less urgent one.
//
// Tiers:
//
// - Express: a single interactively submitted image
// - Standard: small batches up to the bulk threshold
// - Background: bulk scans
//
// Each tier owns a capacity and an active counter; active never exceeds
// capacity. Waiters within a tier are served first come, first served. There
// is no ordering across tiers.
//
// Borrowing:
//
// When borrowing is enabled and a tier is fully active at acquire time, the
// gate walks the less urgent tiers (Express tries Standard then Background,
// Standard tries Background). The first donor whose utilization is below the
// borrowing threshold, that has an idle slot, and that keeps at least one unit
// gives one capacity unit to the requester. The total capacity across tiers
// never changes. Borrowed units stay where they are until RestoreBaseline is
// called.
//
// Usage:
//
//	gate := priority.NewGate(priority.GateConfig{
//		Capacities:         adaptive.Capacities{Express: 2, Standard: 2, Background: 1},
//		BorrowingEnabled:   true,
//		BorrowingThreshold: 0.8,
//	})
//
//	h, err := gate.Acquire(ctx, priority.Express)
//	if err != nil {
//		return err
//	}
//	defer h.Release()
package priority
