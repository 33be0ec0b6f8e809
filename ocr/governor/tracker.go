package governor

import (
	"sync"
	"time"

	"github.com/clanwars/ocrgov/ocr/priority"
)

// UsageStats are running totals over the current adaptation window.
type UsageStats struct {
	WindowStart time.Time `json:"window_start"`

	TotalRequests  int64    `json:"total_requests"`
	TierRequests   [3]int64 `json:"tier_requests"`
	SingleRequests int64    `json:"single_requests"` // one item
	BulkRequests   int64    `json:"bulk_requests"`   // more items than the bulk threshold

	Successful   int64    `json:"successful"`
	Failed       int64    `json:"failed"`
	Rejected     int64    `json:"rejected"`
	TierRejected [3]int64 `json:"tier_rejected"`

	TotalWait       time.Duration    `json:"total_wait"`
	PeakWait        time.Duration    `json:"peak_wait"`
	TierWait        [3]time.Duration `json:"tier_wait"`
	TotalProcessing time.Duration    `json:"total_processing"`
	PeakProcessing  time.Duration    `json:"peak_processing"`
	Processed       int64            `json:"processed"` // requests that held a slot

	BorrowEvents int64 `json:"borrow_events"`
	ModeSwitches int64 `json:"mode_switches"`
}

// BulkRatio is the share of requests in the window that were bulk scans.
func (u UsageStats) BulkRatio() float64 {
	if u.TotalRequests == 0 {
		return 0
	}
	return float64(u.BulkRequests) / float64(u.TotalRequests)
}

// SingleRatio is the share of requests in the window that were single scans.
func (u UsageStats) SingleRatio() float64 {
	if u.TotalRequests == 0 {
		return 0
	}
	return float64(u.SingleRequests) / float64(u.TotalRequests)
}

// AvgWait is the mean wait over the requests in the window that were
// admitted to a queue. Rejected requests never waited and are left out.
func (u UsageStats) AvgWait() time.Duration {
	waited := u.TotalRequests - u.Rejected
	if waited <= 0 {
		return 0
	}
	return u.TotalWait / time.Duration(waited)
}

// AvgTierWait is the mean wait of one tier.
func (u UsageStats) AvgTierWait(t priority.Tier) time.Duration {
	if !t.Valid() {
		return 0
	}
	waited := u.TierRequests[t] - u.TierRejected[t]
	if waited <= 0 {
		return 0
	}
	return u.TierWait[t] / time.Duration(waited)
}

// AvgProcessing is the mean time a slot was held.
func (u UsageStats) AvgProcessing() time.Duration {
	if u.Processed == 0 {
		return 0
	}
	return u.TotalProcessing / time.Duration(u.Processed)
}

// SuccessRate is successful over all completed requests; 1 when nothing
// completed yet.
func (u UsageStats) SuccessRate() float64 {
	if u.TotalRequests == 0 {
		return 1
	}
	return float64(u.Successful) / float64(u.TotalRequests)
}

// Tracker records request lifecycles, a bounded history of completed
// requests and the usage statistics of the current window.
type Tracker struct {
	mu sync.Mutex

	bulkThreshold int

	active map[string]*Request

	// ring buffer of completed requests, oldest first
	history []Request
	start   int
	size    int

	usage UsageStats

	totalCompleted    int64
	totalBorrowEvents int64
	totalModeSwitches int64
}

// NewTracker creates a tracker keeping at most historySize completed
// requests. Requests with more than bulkThreshold items count as bulk.
func NewTracker(historySize, bulkThreshold int, now time.Time) *Tracker {
	if historySize < 1 {
		historySize = 1
	}
	return &Tracker{
		bulkThreshold: bulkThreshold,
		active:        make(map[string]*Request),
		history:       make([]Request, historySize),
		usage:         UsageStats{WindowStart: now},
	}
}

func (t *Tracker) begin(r *Request) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r.State = StateQueued
	t.active[r.ID] = r
}

func (t *Tracker) markRunning(r *Request, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r.State = StateRunning
	r.StartedAt = now
}

// complete moves r to the history and folds it into the usage stats.
func (t *Tracker) complete(r *Request, now time.Time, err error, rejected bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r.State = StateCompleted
	r.CompletedAt = now
	r.Err = err
	r.Success = err == nil
	r.Rejected = rejected

	delete(t.active, r.ID)
	t.appendHistoryLocked(r.clone())
	t.totalCompleted++

	u := &t.usage
	u.TotalRequests++
	if r.Tier.Valid() {
		u.TierRequests[r.Tier]++
	}
	switch {
	case r.ItemCount <= 1:
		u.SingleRequests++
	case r.ItemCount > t.bulkThreshold:
		u.BulkRequests++
	}
	switch {
	case rejected:
		u.Rejected++
		if r.Tier.Valid() {
			u.TierRejected[r.Tier]++
		}
	case r.Success:
		u.Successful++
	default:
		u.Failed++
	}

	if rejected {
		return
	}
	wait := r.WaitTime()
	u.TotalWait += wait
	if r.Tier.Valid() {
		u.TierWait[r.Tier] += wait
	}
	if wait > u.PeakWait {
		u.PeakWait = wait
	}
	if r.Started() {
		processing := r.ProcessingTime()
		u.Processed++
		u.TotalProcessing += processing
		if processing > u.PeakProcessing {
			u.PeakProcessing = processing
		}
	}
}

func (t *Tracker) appendHistoryLocked(r Request) {
	capacity := len(t.history)
	if t.size < capacity {
		t.history[(t.start+t.size)%capacity] = r
		t.size++
		return
	}
	t.history[t.start] = r
	t.start = (t.start + 1) % capacity
}

func (t *Tracker) recordBorrow() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage.BorrowEvents++
	t.totalBorrowEvents++
}

// resetWindow starts a new adaptation window. A mode switch is counted in
// the lifetime totals and carried into the new window.
func (t *Tracker) resetWindow(now time.Time, switched bool) UsageStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.usage
	t.usage = UsageStats{WindowStart: now}
	if switched {
		t.totalModeSwitches++
		t.usage.ModeSwitches = 1
	}
	return prev
}

// Evict drops completed requests that finished before cutoff and returns
// how many were removed.
func (t *Tracker) Evict(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for t.size > 0 && t.history[t.start].CompletedAt.Before(cutoff) {
		t.history[t.start] = Request{}
		t.start = (t.start + 1) % len(t.history)
		t.size--
		removed++
	}
	return removed
}

// Usage returns a copy of the current window's statistics.
func (t *Tracker) Usage() UsageStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage
}

// Active returns copies of the requests that are queued or running.
func (t *Tracker) Active() []Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Request, 0, len(t.active))
	for _, r := range t.active {
		out = append(out, r.clone())
	}
	return out
}

// History returns up to n of the most recently completed requests, oldest
// first. n <= 0 returns all of them.
func (t *Tracker) History(n int) []Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n <= 0 || n > t.size {
		n = t.size
	}
	out := make([]Request, n)
	first := t.size - n
	for i := 0; i < n; i++ {
		out[i] = t.history[(t.start+first+i)%len(t.history)]
	}
	return out
}

// TrackerTotals are lifetime counters that survive window resets.
type TrackerTotals struct {
	Active       int   `json:"active"`
	Queued       int   `json:"queued"`
	Running      int   `json:"running"`
	HistoryLen   int   `json:"history_len"`
	Completed    int64 `json:"completed"`
	BorrowEvents int64 `json:"borrow_events"`
	ModeSwitches int64 `json:"mode_switches"`
}

// Totals returns the lifetime counters.
func (t *Tracker) Totals() TrackerTotals {
	t.mu.Lock()
	defer t.mu.Unlock()
	tt := TrackerTotals{
		Active:       len(t.active),
		HistoryLen:   t.size,
		Completed:    t.totalCompleted,
		BorrowEvents: t.totalBorrowEvents,
		ModeSwitches: t.totalModeSwitches,
	}
	for _, r := range t.active {
		if r.State == StateRunning {
			tt.Running++
		} else {
			tt.Queued++
		}
	}
	return tt
}
