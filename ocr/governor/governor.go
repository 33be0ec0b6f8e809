package governor

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"

	"github.com/clanwars/ocrgov/config/adaptive"
	"github.com/clanwars/ocrgov/monitoring"
	"github.com/clanwars/ocrgov/ocr/policy"
	"github.com/clanwars/ocrgov/ocr/priority"
)

var log = logging.Logger("ocr/governor")

// Governor classifies OCR jobs into tiers, runs them inside gate slots and
// tracks their lifecycle. It also drives the periodic monitoring, cleanup
// and capacity restore loops.
type Governor struct {
	config   *adaptive.Config
	gate     *priority.Gate
	tracker  *Tracker
	observer *monitoring.Observer
	metrics  *monitoring.PerformanceMonitor
	sampler  monitoring.ResourceSampler
	clock    clock.Clock
	reclaim  func()

	bulkThreshold int
	thresholds    policy.Thresholds
	startedAt     time.Time

	// throughput bookkeeping, only touched by the monitoring tick
	tickMu            sync.Mutex
	lastTick          time.Time
	lastTickCompleted int64

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	running     bool
	stopped     atomic.Bool
}

// Option configures a Governor
type Option func(*Governor)

// WithClock sets the clock used for request timestamps and the periodic loops
func WithClock(c clock.Clock) Option {
	return func(g *Governor) {
		g.clock = c
	}
}

// WithObserver sets the observer fed by the monitoring tick
func WithObserver(o *monitoring.Observer) Option {
	return func(g *Governor) {
		g.observer = o
	}
}

// WithPerformanceMonitor enables Prometheus export
func WithPerformanceMonitor(pm *monitoring.PerformanceMonitor) Option {
	return func(g *Governor) {
		g.metrics = pm
	}
}

// WithResourceSampler replaces the process resource collector
func WithResourceSampler(s monitoring.ResourceSampler) Option {
	return func(g *Governor) {
		g.sampler = s
	}
}

// WithMemoryReclaimer replaces the function the cleanup tick calls when
// memory usage is above the configured threshold
func WithMemoryReclaimer(f func()) Option {
	return func(g *Governor) {
		g.reclaim = f
	}
}

// WithHighWait overrides the average wait above which a specialized mode
// falls back to balanced
func WithHighWait(d time.Duration) Option {
	return func(g *Governor) {
		g.thresholds.HighWait = d
	}
}

// New creates a governor from cfg. The governor serves RunScoped right away;
// Start is only needed for the periodic loops.
func New(cfg *adaptive.Config, options ...Option) *Governor {
	if cfg == nil {
		cfg = adaptive.DefaultConfig()
	}
	snap := cfg.GetSnapshot()

	g := &Governor{
		config:        cfg,
		gate:          priority.NewGate(priority.GateConfigFrom(cfg)),
		clock:         clock.New(),
		bulkThreshold: snap.BulkThreshold,
		thresholds:    policy.ThresholdsFrom(cfg),
		reclaim:       reclaimMemory,
	}
	for _, option := range options {
		option(g)
	}
	if g.observer == nil {
		g.observer = monitoring.NewObserver(monitoring.WithObserverClock(g.clock))
	}
	if g.sampler == nil {
		g.sampler = monitoring.NewResourceCollector()
	}

	now := g.clock.Now()
	g.startedAt = now
	g.lastTick = now
	g.tracker = NewTracker(snap.CompletedHistorySize, snap.BulkThreshold, now)

	g.gate.SetBorrowCallback(func(e priority.BorrowEvent) {
		g.tracker.recordBorrow()
		g.metrics.ObserveBorrow(e.From, e.To)
	})

	log.Infof("Governor created: mode=%s capacities=%d/%d/%d bulk_threshold=%d",
		snap.Mode, snap.Capacities.Express, snap.Capacities.Standard, snap.Capacities.Background, snap.BulkThreshold)

	return g
}

func reclaimMemory() {
	runtime.GC()
	debug.FreeOSMemory()
}

// Classify maps an item count to a tier: one item is Express, up to the
// bulk threshold is Standard, anything larger is Background.
func Classify(itemCount, bulkThreshold int) priority.Tier {
	switch {
	case itemCount <= 1:
		return priority.Express
	case itemCount <= bulkThreshold:
		return priority.Standard
	default:
		return priority.Background
	}
}

// Classify maps an item count to a tier using the configured bulk threshold.
func (g *Governor) Classify(itemCount int) priority.Tier {
	return Classify(itemCount, g.bulkThreshold)
}

// Submit creates a queued request. It does not touch the gate.
func (g *Governor) Submit(itemCount int, submitterIDs ...string) *Request {
	if itemCount < 1 {
		itemCount = 1
	}
	r := &Request{
		ID:        uuid.NewString(),
		Tier:      g.Classify(itemCount),
		ItemCount: itemCount,
		State:     StateQueued,
		QueuedAt:  g.clock.Now(),
	}
	if len(submitterIDs) > 0 {
		r.SubmitterIDs = append([]string(nil), submitterIDs...)
	}
	log.Debugf("Request %s submitted: items=%d tier=%s", r.ID, itemCount, r.Tier)
	return r
}

// RunScoped waits for a slot in the request's tier, runs fn while holding
// it and releases the slot exactly once however fn exits. The request is
// completed with fn's outcome and fn's error is returned unchanged. A panic
// in fn completes the request as failed, releases the slot and continues
// unwinding.
//
// If ctx ends before a slot is granted, or the tier's queue is full, fn is
// not called and the request completes unsuccessfully with that error.
func (g *Governor) RunScoped(ctx context.Context, r *Request, fn func(context.Context) error) (err error) {
	if r == nil {
		return ErrNilRequest
	}
	if g.stopped.Load() {
		return ErrGovernorStopped
	}

	g.tracker.begin(r)

	h, err := g.gate.Acquire(ctx, r.Tier)
	if err != nil {
		rejected := errors.Is(err, priority.ErrQueueFull)
		g.finish(r, err, rejected)
		if rejected {
			log.Warnf("Request %s rejected: %s queue full", r.ID, r.Tier)
		} else {
			log.Debugf("Request %s gave up waiting for %s slot: %v", r.ID, r.Tier, err)
		}
		return err
	}

	g.tracker.markRunning(r, g.clock.Now())
	log.Debugf("Request %s running in %s tier", r.ID, r.Tier)

	defer func() {
		p := recover()
		outcome := err
		if p != nil {
			outcome = fmt.Errorf("ocr job panicked: %v", p)
		}
		if rerr := h.Release(); rerr != nil {
			log.Errorf("Release of %s slot for request %s failed: %v", r.Tier, r.ID, rerr)
		}
		g.finish(r, outcome, false)
		if p != nil {
			panic(p)
		}
	}()

	return fn(ctx)
}

// Run submits a request for itemCount items and runs fn under it.
func (g *Governor) Run(ctx context.Context, itemCount int, fn func(context.Context) error, submitterIDs ...string) (*Request, error) {
	r := g.Submit(itemCount, submitterIDs...)
	err := g.RunScoped(ctx, r, fn)
	return r, err
}

func (g *Governor) finish(r *Request, err error, rejected bool) {
	g.tracker.complete(r, g.clock.Now(), err, rejected)

	outcome := monitoring.OutcomeSuccess
	switch {
	case rejected:
		outcome = monitoring.OutcomeRejected
	case err != nil:
		outcome = monitoring.OutcomeFailure
	}
	g.metrics.ObserveRequest(r.Tier, outcome, r.WaitTime(), r.ProcessingTime())

	if err != nil && !rejected {
		log.Debugf("Request %s completed with error: %v", r.ID, err)
	}
}

// Config returns the configuration the governor was built from.
func (g *Governor) Config() *adaptive.Config { return g.config }

// Gate returns the priority gate.
func (g *Governor) Gate() *priority.Gate { return g.gate }

// Tracker returns the request tracker.
func (g *Governor) Tracker() *Tracker { return g.tracker }

// Observer returns the observer the monitoring tick feeds.
func (g *Governor) Observer() *monitoring.Observer { return g.observer }

// Stats is an operator view of the governor.
type Stats struct {
	Timestamp time.Time                 `json:"timestamp"`
	Uptime    time.Duration             `json:"uptime"`
	Mode      string                    `json:"mode"`
	Gate      priority.Snapshot         `json:"gate"`
	Usage     UsageStats                `json:"usage"`
	Totals    TrackerTotals             `json:"totals"`
	Resources monitoring.ResourceSample `json:"resources"`
}

// GetCurrentStats returns the current gate state, window statistics and
// resource usage.
func (g *Governor) GetCurrentStats() Stats {
	now := g.clock.Now()
	return Stats{
		Timestamp: now,
		Uptime:    now.Sub(g.startedAt),
		Mode:      g.config.GetMode().String(),
		Gate:      g.gate.Snapshot(),
		Usage:     g.tracker.Usage(),
		Totals:    g.tracker.Totals(),
		Resources: g.sampler.Sample(),
	}
}

// Start launches the monitoring, cleanup and, when configured, capacity
// restore loops. They run until ctx is done or Stop is called.
func (g *Governor) Start(ctx context.Context) error {
	g.lifecycleMu.Lock()
	defer g.lifecycleMu.Unlock()

	if g.stopped.Load() {
		return ErrGovernorStopped
	}
	if g.running {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.running = true

	snap := g.config.GetSnapshot()
	g.startLoop(ctx, "monitoring", snap.MetricsInterval, func() { g.monitorTick() })
	g.startLoop(ctx, "cleanup", snap.CleanupInterval, g.cleanupTick)
	if snap.CapacityRestoreInterval > 0 {
		g.startLoop(ctx, "capacity restore", snap.CapacityRestoreInterval, g.restoreTick)
	}

	log.Infof("Governor started: metrics every %s, cleanup every %s", snap.MetricsInterval, snap.CleanupInterval)
	return nil
}

// Stop ends the periodic loops and refuses new work. Requests already inside
// RunScoped finish normally.
func (g *Governor) Stop() error {
	g.lifecycleMu.Lock()
	defer g.lifecycleMu.Unlock()

	if !g.stopped.CompareAndSwap(false, true) {
		return nil
	}
	if g.cancel != nil {
		g.cancel()
	}
	g.wg.Wait()
	g.running = false

	log.Info("Governor stopped")
	return nil
}

func (g *Governor) startLoop(ctx context.Context, name string, interval time.Duration, tick func()) {
	if interval <= 0 {
		log.Warnf("Skipping %s loop: interval %s", name, interval)
		return
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()

		ticker := g.clock.Ticker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.safeTick(name, tick)
			}
		}
	}()
}

// safeTick keeps a failing tick from ending its loop.
func (g *Governor) safeTick(name string, tick func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Recovered panic in %s tick: %v", name, r)
		}
	}()
	tick()
}

// Tick runs one monitoring tick now and returns the snapshot it recorded.
func (g *Governor) Tick() monitoring.MetricsSnapshot {
	return g.monitorTick()
}

// monitorTick builds a snapshot, applies the adaptive mode switch when due
// and hands the snapshot to the observer.
func (g *Governor) monitorTick() monitoring.MetricsSnapshot {
	now := g.clock.Now()
	snap := g.buildSnapshot(now)

	cfg := g.config.GetSnapshot()
	if cfg.UsageAdaptationEnabled {
		if target, ok := g.adaptMode(now, cfg); ok {
			snap.SuggestedMode = target.String()
			snap.Mode = target.String()
			snap.ModeSwitches++
		}
	}

	g.observer.Record(snap)
	g.metrics.ObserveSnapshot(snap)
	return snap
}

// adaptMode evaluates the window once it has elapsed and holds enough
// samples. Every evaluation starts a new window; the mode only changes when
// the policy says so.
func (g *Governor) adaptMode(now time.Time, cfg adaptive.Snapshot) (adaptive.Mode, bool) {
	usage := g.tracker.Usage()
	if now.Sub(usage.WindowStart) < cfg.AdaptationWindow {
		return 0, false
	}
	if usage.TotalRequests < int64(cfg.MinSamplesForSwitch) {
		log.Debugf("Adaptation window elapsed with %d requests, need %d", usage.TotalRequests, cfg.MinSamplesForSwitch)
		return 0, false
	}

	current := g.config.GetMode()
	target, changed := policy.Decide(policy.Input{
		BulkRatio:   usage.BulkRatio(),
		SingleRatio: usage.SingleRatio(),
		AvgWait:     usage.AvgWait(),
		Current:     current,
	}, g.thresholds)

	if changed {
		g.config.SetMode(target)
		g.metrics.ObserveModeSwitch(current.String(), target.String())
		log.Infof("Resource mode switched %s -> %s (bulk=%.2f single=%.2f avg_wait=%s over %d requests)",
			current, target, usage.BulkRatio(), usage.SingleRatio(), usage.AvgWait(), usage.TotalRequests)
	}
	g.tracker.resetWindow(now, changed)

	return target, changed
}

func (g *Governor) buildSnapshot(now time.Time) monitoring.MetricsSnapshot {
	gs := g.gate.Snapshot()
	usage := g.tracker.Usage()
	totals := g.tracker.Totals()
	res := g.sampler.Sample()

	g.tickMu.Lock()
	elapsed := now.Sub(g.lastTick)
	completed := totals.Completed - g.lastTickCompleted
	g.lastTick = now
	g.lastTickCompleted = totals.Completed
	g.tickMu.Unlock()

	var throughput float64
	if elapsed > 0 {
		throughput = float64(completed) / elapsed.Minutes()
	}

	return monitoring.MetricsSnapshot{
		Timestamp:          now,
		Mode:               g.config.GetMode().String(),
		Tiers:              monitoring.TiersFromGate(gs),
		Utilization:        gs.Utilization(),
		QueueDepth:         gs.TotalWaiting,
		ActiveRequests:     gs.TotalActive,
		AvgWaitTime:        usage.AvgWait(),
		PeakWaitTime:       usage.PeakWait,
		AvgProcessingTime:  usage.AvgProcessing(),
		PeakProcessingTime: usage.PeakProcessing,
		MemoryUsage:        res.MemoryUsage,
		MemoryBytes:        res.MemoryBytes,
		CPUUsage:           res.CPUUsage,
		SuccessRate:        usage.SuccessRate(),
		Throughput:         throughput,
		TotalRequests:      usage.TotalRequests,
		BulkRatio:          usage.BulkRatio(),
		SingleRatio:        usage.SingleRatio(),
		BorrowEvents:       gs.BorrowEvents,
		ModeSwitches:       totals.ModeSwitches,
	}
}

// cleanupTick evicts old history and reclaims memory above the threshold.
func (g *Governor) cleanupTick() {
	now := g.clock.Now()
	cfg := g.config.GetSnapshot()

	if removed := g.tracker.Evict(now.Add(-cfg.HistoryRetention)); removed > 0 {
		log.Debugf("Evicted %d completed requests older than %s", removed, cfg.HistoryRetention)
	}

	res := g.sampler.Sample()
	if res.MemoryUsage > cfg.MemoryCleanupThreshold {
		log.Warnf("Memory usage %.1f%% above %.0f%%, reclaiming",
			res.MemoryUsage*100, cfg.MemoryCleanupThreshold*100)
		g.reclaim()
	}
}

func (g *Governor) restoreTick() {
	if n := g.gate.RestoreBaseline(); n > 0 {
		log.Infof("Restored %d borrowed capacity units", n)
	}
}
