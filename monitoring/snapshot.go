package monitoring

import (
	"time"

	"github.com/clanwars/ocrgov/ocr/priority"
)

// TierMetrics describes one priority tier inside a snapshot.
type TierMetrics struct {
	Tier        priority.Tier `json:"tier"`
	Active      int           `json:"active"`
	Capacity    int           `json:"capacity"`
	Baseline    int           `json:"baseline"`
	Waiting     int           `json:"waiting"`
	Utilization float64       `json:"utilization"`
}

// MetricsSnapshot is a point-in-time record of governor state. Snapshots are
// passed and stored by value and never modified after creation.
type MetricsSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	Mode          string `json:"mode"`
	SuggestedMode string `json:"suggested_mode,omitempty"` // set when the governor decided a switch this tick

	Tiers          [3]TierMetrics `json:"tiers"`
	Utilization    float64        `json:"utilization"` // total active over total capacity
	QueueDepth     int            `json:"queue_depth"`
	ActiveRequests int            `json:"active_requests"`

	AvgWaitTime        time.Duration `json:"avg_wait_time"`
	PeakWaitTime       time.Duration `json:"peak_wait_time"`
	AvgProcessingTime  time.Duration `json:"avg_processing_time"`
	PeakProcessingTime time.Duration `json:"peak_processing_time"`

	MemoryUsage float64 `json:"memory_usage"`
	MemoryBytes uint64  `json:"memory_bytes"`
	CPUUsage    float64 `json:"cpu_usage"`

	SuccessRate float64 `json:"success_rate"`
	Throughput  float64 `json:"throughput"` // completed requests per minute since the previous snapshot

	TotalRequests int64   `json:"total_requests"`
	BulkRatio     float64 `json:"bulk_ratio"`
	SingleRatio   float64 `json:"single_ratio"`
	BorrowEvents  int64   `json:"borrow_events"`
	ModeSwitches  int64   `json:"mode_switches"`
}

// TiersFromGate converts a gate snapshot into per-tier metrics.
func TiersFromGate(s priority.Snapshot) [3]TierMetrics {
	var out [3]TierMetrics
	for i, t := range s.Tiers {
		out[i] = TierMetrics{
			Tier:        t.Tier,
			Active:      t.Active,
			Capacity:    t.Capacity,
			Baseline:    t.Baseline,
			Waiting:     t.Waiting,
			Utilization: t.Utilization,
		}
	}
	return out
}
