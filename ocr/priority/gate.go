package priority

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/clanwars/ocrgov/config/adaptive"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("ocr/priority")

// GateConfig holds the parameters a Gate is built from.
type GateConfig struct {
	Capacities         adaptive.Capacities
	BorrowingEnabled   bool
	BorrowingThreshold float64
	// QueueLimits caps the number of waiters per tier; 0 means unbounded
	QueueLimits [numTiers]int
}

// GateConfigFrom derives the gate parameters from the governor configuration.
func GateConfigFrom(c *adaptive.Config) GateConfig {
	s := c.GetSnapshot()
	gc := GateConfig{
		Capacities:         s.Capacities,
		BorrowingEnabled:   s.BorrowingEnabled,
		BorrowingThreshold: s.BorrowingThreshold,
	}
	gc.QueueLimits[Background] = s.BackgroundQueueLimit
	return gc
}

// BorrowEvent records one capacity unit moving between tiers.
type BorrowEvent struct {
	From         Tier
	To           Tier
	DonorUsage   float64 // donor utilization when the decision was made
	FromCapacity int     // donor capacity after the transfer
	ToCapacity   int     // requester capacity after the transfer
	Time         time.Time
}

type waiter struct {
	ready   chan struct{}
	granted bool
}

type tierState struct {
	capacity   int
	baseline   int
	active     int
	queueLimit int
	waiters    list.List // *waiter, FIFO
	granted    int64
	rejected   int64
}

func (t *tierState) utilization() float64 {
	if t.capacity == 0 {
		return 0
	}
	return float64(t.active) / float64(t.capacity)
}

// Gate is a three-tier counting semaphore with cross-tier borrowing.
//
// All tier counters live under a single mutex so that the borrowing decision
// (reading every tier, then moving capacity) is one critical section.
type Gate struct {
	mu sync.Mutex

	tiers              [numTiers]tierState
	borrowingEnabled   bool
	borrowingThreshold float64

	borrowEvents   int64
	restoredUnits  int64
	doubleReleases int64

	onBorrow func(BorrowEvent)
}

// NewGate creates a gate with the given capacities. Capacities below 1 are
// raised to 1.
func NewGate(cfg GateConfig) *Gate {
	g := &Gate{
		borrowingEnabled:   cfg.BorrowingEnabled,
		borrowingThreshold: cfg.BorrowingThreshold,
	}
	caps := [numTiers]int{cfg.Capacities.Express, cfg.Capacities.Standard, cfg.Capacities.Background}
	for i := range g.tiers {
		c := caps[i]
		if c < 1 {
			log.Warnf("Capacity %d for %s tier raised to 1", c, Tier(i))
			c = 1
		}
		g.tiers[i].capacity = c
		g.tiers[i].baseline = c
		g.tiers[i].queueLimit = cfg.QueueLimits[i]
	}

	log.Debugf("Gate created: express=%d standard=%d background=%d borrowing=%v threshold=%.2f",
		caps[Express], caps[Standard], caps[Background], cfg.BorrowingEnabled, cfg.BorrowingThreshold)

	return g
}

// SetBorrowCallback sets a function called after every borrowing event. The
// callback runs outside the gate's lock.
func (g *Gate) SetBorrowCallback(callback func(BorrowEvent)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onBorrow = callback
}

// Acquire blocks until a slot in tier is available and returns a handle that
// must be released exactly once.
//
// Waiters within a tier are served in arrival order. If ctx is done before a
// slot is granted, Acquire returns ctx.Err() and the caller holds nothing; a
// grant that races with the cancellation is handed back to the tier.
func (g *Gate) Acquire(ctx context.Context, tier Tier) (*Handle, error) {
	if !tier.Valid() {
		return nil, ErrInvalidTier
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	t := &g.tiers[tier]

	var event *BorrowEvent
	if g.borrowingEnabled && t.active >= t.capacity {
		event = g.tryBorrowLocked(tier)
	}
	callback := g.onBorrow

	if t.active < t.capacity && t.waiters.Len() == 0 {
		t.active++
		t.granted++
		g.mu.Unlock()
		g.notifyBorrow(callback, event)
		return newHandle(g, tier), nil
	}

	if t.queueLimit > 0 && t.waiters.Len() >= t.queueLimit {
		t.rejected++
		waiting, limit := t.waiters.Len(), t.queueLimit
		g.mu.Unlock()
		g.notifyBorrow(callback, event)
		log.Debugf("Rejected %s acquire: %d already waiting (limit %d)", tier, waiting, limit)
		return nil, ErrQueueFull
	}

	w := &waiter{ready: make(chan struct{})}
	elem := t.waiters.PushBack(w)
	// a borrowed unit may already be free for the head of the queue
	g.grantLocked(tier)
	g.mu.Unlock()
	g.notifyBorrow(callback, event)

	select {
	case <-w.ready:
		return newHandle(g, tier), nil
	case <-ctx.Done():
		g.mu.Lock()
		if w.granted {
			t.active--
			t.granted--
			g.grantLocked(tier)
		} else {
			t.waiters.Remove(elem)
		}
		g.mu.Unlock()
		return nil, ctx.Err()
	}
}

// TryAcquire acquires a slot only if one is available without waiting.
func (g *Gate) TryAcquire(tier Tier) (*Handle, bool) {
	if !tier.Valid() {
		return nil, false
	}

	g.mu.Lock()
	t := &g.tiers[tier]
	var event *BorrowEvent
	if g.borrowingEnabled && t.active >= t.capacity {
		event = g.tryBorrowLocked(tier)
	}
	callback := g.onBorrow
	ok := t.active < t.capacity && t.waiters.Len() == 0
	if ok {
		t.active++
		t.granted++
	}
	g.mu.Unlock()
	g.notifyBorrow(callback, event)

	if !ok {
		return nil, false
	}
	return newHandle(g, tier), true
}

// Release frees the slot held by h. Releasing a handle twice, or a handle
// from another gate, leaves the counters untouched and returns an error.
func (g *Gate) Release(h *Handle) error {
	if h == nil || h.gate != g {
		return ErrForeignHandle
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if h.released {
		g.doubleReleases++
		log.Warnf("Ignoring second release of %s handle", h.tier)
		return ErrHandleReleased
	}
	h.released = true

	t := &g.tiers[h.tier]
	if t.active > 0 {
		t.active--
	}
	g.grantLocked(h.tier)
	return nil
}

// grantLocked hands free slots in tier to queued waiters in FIFO order.
func (g *Gate) grantLocked(tier Tier) {
	t := &g.tiers[tier]
	for t.active < t.capacity {
		front := t.waiters.Front()
		if front == nil {
			return
		}
		w := t.waiters.Remove(front).(*waiter)
		w.granted = true
		t.active++
		t.granted++
		close(w.ready)
	}
}

// tryBorrowLocked moves one capacity unit from the first eligible donor to
// tier. A donor is eligible when its utilization is below the borrowing
// threshold, it has an idle slot, and it keeps at least one unit afterwards.
func (g *Gate) tryBorrowLocked(tier Tier) *BorrowEvent {
	t := &g.tiers[tier]
	for _, donor := range tier.donors() {
		d := &g.tiers[donor]
		usage := d.utilization()
		if d.capacity-1 < 1 || d.active >= d.capacity || usage >= g.borrowingThreshold {
			continue
		}

		d.capacity--
		t.capacity++
		g.borrowEvents++

		log.Infof("%s tier borrowed 1 slot from %s (donor usage %.0f%%): %s=%d %s=%d",
			tier, donor, usage*100, tier, t.capacity, donor, d.capacity)

		return &BorrowEvent{
			From:         donor,
			To:           tier,
			DonorUsage:   usage,
			FromCapacity: d.capacity,
			ToCapacity:   t.capacity,
			Time:         time.Now(),
		}
	}
	return nil
}

func (g *Gate) notifyBorrow(callback func(BorrowEvent), event *BorrowEvent) {
	if callback != nil && event != nil {
		callback(*event)
	}
}

// RestoreBaseline returns borrowed capacity to the tiers it was taken from.
// A unit only moves back when the tier holding it has an idle slot, so the
// call never preempts running jobs; it returns the number of units moved.
func (g *Gate) RestoreBaseline() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	moved := 0
	for {
		progressed := false
		for i := range g.tiers {
			holder := &g.tiers[i]
			if holder.capacity <= holder.baseline || holder.active >= holder.capacity {
				continue
			}
			for j := range g.tiers {
				owner := &g.tiers[j]
				if owner.capacity >= owner.baseline {
					continue
				}
				holder.capacity--
				owner.capacity++
				moved++
				progressed = true
				g.grantLocked(Tier(j))
				break
			}
		}
		if !progressed {
			break
		}
	}

	if moved > 0 {
		g.restoredUnits += int64(moved)
		log.Infof("Restored %d borrowed slot(s): express=%d standard=%d background=%d",
			moved, g.tiers[Express].capacity, g.tiers[Standard].capacity, g.tiers[Background].capacity)
	}
	return moved
}

// SetQueueLimit changes the maximum number of waiters for tier; 0 removes
// the limit. Callers already waiting are not affected.
func (g *Gate) SetQueueLimit(tier Tier, limit int) error {
	if !tier.Valid() {
		return ErrInvalidTier
	}
	if limit < 0 {
		limit = 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tiers[tier].queueLimit = limit
	return nil
}

// TierSnapshot describes one tier at a point in time.
type TierSnapshot struct {
	Tier        Tier    `json:"tier"`
	Capacity    int     `json:"capacity"`
	Baseline    int     `json:"baseline"`
	Active      int     `json:"active"`
	Waiting     int     `json:"waiting"`
	Utilization float64 `json:"utilization"`
	Granted     int64   `json:"granted"`
	Rejected    int64   `json:"rejected"`
}

// Snapshot is a point-in-time view of the whole gate.
type Snapshot struct {
	Tiers          [numTiers]TierSnapshot `json:"tiers"`
	TotalCapacity  int                    `json:"total_capacity"`
	TotalActive    int                    `json:"total_active"`
	TotalWaiting   int                    `json:"total_waiting"`
	BorrowEvents   int64                  `json:"borrow_events"`
	RestoredUnits  int64                  `json:"restored_units"`
	DoubleReleases int64                  `json:"double_releases"`
}

// Tier returns the snapshot of a single tier.
func (s Snapshot) Tier(t Tier) TierSnapshot {
	if !t.Valid() {
		return TierSnapshot{Tier: t}
	}
	return s.Tiers[t]
}

// Utilization returns total active over total capacity.
func (s Snapshot) Utilization() float64 {
	if s.TotalCapacity == 0 {
		return 0
	}
	return float64(s.TotalActive) / float64(s.TotalCapacity)
}

// Snapshot returns the current state without waiting for any slot.
func (g *Gate) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := Snapshot{
		BorrowEvents:   g.borrowEvents,
		RestoredUnits:  g.restoredUnits,
		DoubleReleases: g.doubleReleases,
	}
	for i := range g.tiers {
		t := &g.tiers[i]
		s.Tiers[i] = TierSnapshot{
			Tier:        Tier(i),
			Capacity:    t.capacity,
			Baseline:    t.baseline,
			Active:      t.active,
			Waiting:     t.waiters.Len(),
			Utilization: t.utilization(),
			Granted:     t.granted,
			Rejected:    t.rejected,
		}
		s.TotalCapacity += t.capacity
		s.TotalActive += t.active
		s.TotalWaiting += t.waiters.Len()
	}
	return s
}

// Handle represents one granted slot.
type Handle struct {
	gate       *Gate
	tier       Tier
	acquiredAt time.Time
	released   bool // guarded by gate.mu
}

func newHandle(g *Gate, tier Tier) *Handle {
	return &Handle{gate: g, tier: tier, acquiredAt: time.Now()}
}

// Tier returns the tier the slot was acquired under.
func (h *Handle) Tier() Tier { return h.tier }

// AcquiredAt returns when the slot was granted to the caller.
func (h *Handle) AcquiredAt() time.Time { return h.acquiredAt }

// Release is shorthand for h's gate Release.
func (h *Handle) Release() error {
	if h == nil {
		return ErrForeignHandle
	}
	return h.gate.Release(h)
}
