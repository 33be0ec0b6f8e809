// Package governor is the entry point for running OCR work under the
// priority gate.
//
// A job is described by its item count. Submit classifies it into a tier
// (one item is Express, up to the bulk threshold is Standard, larger scans
// are Background) and RunScoped holds a slot of that tier for exactly as
// long as the caller's work runs:
//
//	g := governor.New(adaptive.Load())
//	if err := g.Start(ctx); err != nil {
//		return err
//	}
//	defer g.Stop()
//
//	req := g.Submit(len(images), userID)
//	err := g.RunScoped(ctx, req, func(ctx context.Context) error {
//		return scan(ctx, images)
//	})
//
// The Tracker keeps the lifecycle of every request (queued, running,
// completed) and the usage statistics of the current adaptation window. A
// monitoring tick turns gate state and usage into a monitoring.MetricsSnapshot
// for the observer and, once the window has elapsed, lets the policy package
// decide whether the global mode should change. Mode switches only relabel
// the governor and reset the window; tier capacities change through
// borrowing and RestoreBaseline.
package governor
