package adaptive

import (
	"errors"
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("config/adaptive")

// Mode is a coarse global policy label used for reporting and as input to
// adaptive switching.
type Mode int

const (
	Balanced Mode = iota
	BulkHeavy
	SingleFocused
)

func (m Mode) String() string {
	switch m {
	case Balanced:
		return "balanced"
	case BulkHeavy:
		return "bulk_heavy"
	case SingleFocused:
		return "single_focused"
	default:
		return "unknown"
	}
}

// ParseMode converts the environment spelling of a mode into a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "balanced", "BALANCED", "Balanced":
		return Balanced, nil
	case "bulk_heavy", "BULK_HEAVY", "BulkHeavy":
		return BulkHeavy, nil
	case "single_focused", "SINGLE_FOCUSED", "SingleFocused":
		return SingleFocused, nil
	}
	return Balanced, fmt.Errorf("unknown resource mode %q", s)
}

// Range bounds a numeric configuration value.
type Range struct {
	Min float64
	Max float64
}

// Clamp returns v forced into [Min, Max] and whether it had to be changed.
func (r Range) Clamp(v float64) (float64, bool) {
	if v < r.Min {
		return r.Min, true
	}
	if v > r.Max {
		return r.Max, true
	}
	return v, false
}

// Documented bounds. Load clamps every numeric value into these ranges.
var (
	CapacityRange               = Range{Min: 1, Max: 16}
	BorrowingThresholdRange     = Range{Min: 0.5, Max: 0.95}
	UsageWindowMinutesRange     = Range{Min: 5, Max: 1440}
	ModeSwitchThresholdRange    = Range{Min: 0.5, Max: 0.95}
	BulkThresholdRange          = Range{Min: 2, Max: 100}
	MinSamplesRange             = Range{Min: 1, Max: 10000}
	MetricsIntervalSecondsRange = Range{Min: 5, Max: 3600}
	CleanupIntervalSecondsRange = Range{Min: 30, Max: 3600}
	MemoryThresholdRange        = Range{Min: 0.5, Max: 0.95}
	RetentionMinutesRange       = Range{Min: 1, Max: 1440}
	HistorySizeRange            = Range{Min: 10, Max: 100000}
	QueueLimitRange             = Range{Min: 0, Max: 10000}
	RestoreMinutesRange         = Range{Min: 0, Max: 1440}
	WorkerCountRange            = Range{Min: 0, Max: 256}
)

// Capacities are the per-tier concurrent job limits.
type Capacities struct {
	Express    int `json:"express"`
	Standard   int `json:"standard"`
	Background int `json:"background"`
}

// Total returns the sum across all tiers.
func (c Capacities) Total() int {
	return c.Express + c.Standard + c.Background
}

// Config is the governor configuration.
type Config struct {
	mu sync.RWMutex

	// mode is read and written through GetMode/SetMode only
	mode Mode

	// Tier capacities at startup
	Capacities Capacities `json:"capacities"`

	// Borrowing
	BorrowingEnabled   bool    `json:"borrowing_enabled"`
	BorrowingThreshold float64 `json:"borrowing_threshold"`

	// Usage adaptation
	UsageAdaptationEnabled bool          `json:"usage_adaptation_enabled"`
	AdaptationWindow       time.Duration `json:"adaptation_window"`
	ModeSwitchThreshold    float64       `json:"mode_switch_threshold"`
	BulkThreshold          int           `json:"bulk_threshold"`
	MinSamplesForSwitch    int           `json:"min_samples_for_switch"`

	// Periodic ticks
	MetricsInterval time.Duration `json:"metrics_interval"`
	CleanupInterval time.Duration `json:"cleanup_interval"`

	// Cleanup
	MemoryCleanupThreshold float64       `json:"memory_cleanup_threshold"`
	HistoryRetention       time.Duration `json:"history_retention"`
	CompletedHistorySize   int           `json:"completed_history_size"`

	// Admission control for the background tier; 0 means unbounded
	BackgroundQueueLimit int `json:"background_queue_limit"`

	// Periodic return of borrowed capacity; 0 disables it
	CapacityRestoreInterval time.Duration `json:"capacity_restore_interval"`

	// OCR worker goroutines; 0 means GOMAXPROCS
	WorkerCount int `json:"worker_count"`
}

// DefaultConfig returns a configuration with the documented defaults
func DefaultConfig() *Config {
	return &Config{
		mode: Balanced,
		Capacities: Capacities{
			Express:    2,
			Standard:   2,
			Background: 1,
		},
		BorrowingEnabled:        true,
		BorrowingThreshold:      0.8,
		UsageAdaptationEnabled:  true,
		AdaptationWindow:        60 * time.Minute,
		ModeSwitchThreshold:     0.7,
		BulkThreshold:           10,
		MinSamplesForSwitch:     20,
		MetricsInterval:         60 * time.Second,
		CleanupInterval:         5 * time.Minute,
		MemoryCleanupThreshold:  0.85,
		HistoryRetention:        60 * time.Minute,
		CompletedHistorySize:    1000,
		BackgroundQueueLimit:    0,
		CapacityRestoreInterval: 0,
		WorkerCount:             0,
	}
}

// GetMode returns the current mode thread-safely
func (c *Config) GetMode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// SetMode changes the current mode and returns the previous one
func (c *Config) SetMode(m Mode) Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.mode
	c.mode = m
	return prev
}

// Validate checks that every field lies inside its documented range.
// Load never produces an invalid configuration; Validate exists for
// configurations assembled in code.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs []error

	checkInt := func(name string, v int, r Range) {
		if float64(v) < r.Min || float64(v) > r.Max {
			errs = append(errs, fmt.Errorf("%s must be between %g and %g, got %d", name, r.Min, r.Max, v))
		}
	}
	checkFloat := func(name string, v float64, r Range) {
		if v < r.Min || v > r.Max {
			errs = append(errs, fmt.Errorf("%s must be between %g and %g, got %g", name, r.Min, r.Max, v))
		}
	}
	checkMinutes := func(name string, d time.Duration, r Range) {
		checkFloat(name, d.Minutes(), r)
	}
	checkSeconds := func(name string, d time.Duration, r Range) {
		checkFloat(name, d.Seconds(), r)
	}

	if c.mode.String() == "unknown" {
		errs = append(errs, errors.New("unknown resource mode"))
	}

	checkInt("express capacity", c.Capacities.Express, CapacityRange)
	checkInt("standard capacity", c.Capacities.Standard, CapacityRange)
	checkInt("background capacity", c.Capacities.Background, CapacityRange)
	checkFloat("borrowing threshold", c.BorrowingThreshold, BorrowingThresholdRange)
	checkMinutes("adaptation window", c.AdaptationWindow, UsageWindowMinutesRange)
	checkFloat("mode switch threshold", c.ModeSwitchThreshold, ModeSwitchThresholdRange)
	checkInt("bulk threshold", c.BulkThreshold, BulkThresholdRange)
	checkInt("min samples for switch", c.MinSamplesForSwitch, MinSamplesRange)
	checkSeconds("metrics interval", c.MetricsInterval, MetricsIntervalSecondsRange)
	checkSeconds("cleanup interval", c.CleanupInterval, CleanupIntervalSecondsRange)
	checkFloat("memory cleanup threshold", c.MemoryCleanupThreshold, MemoryThresholdRange)
	checkMinutes("history retention", c.HistoryRetention, RetentionMinutesRange)
	checkInt("completed history size", c.CompletedHistorySize, HistorySizeRange)
	checkInt("background queue limit", c.BackgroundQueueLimit, QueueLimitRange)
	checkMinutes("capacity restore interval", c.CapacityRestoreInterval, RestoreMinutesRange)
	checkInt("worker count", c.WorkerCount, WorkerCountRange)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, errors.Join(errs...))
	}
	return nil
}

// Clone creates a copy of the configuration including the current mode
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Config{
		mode:                    c.mode,
		Capacities:              c.Capacities,
		BorrowingEnabled:        c.BorrowingEnabled,
		BorrowingThreshold:      c.BorrowingThreshold,
		UsageAdaptationEnabled:  c.UsageAdaptationEnabled,
		AdaptationWindow:        c.AdaptationWindow,
		ModeSwitchThreshold:     c.ModeSwitchThreshold,
		BulkThreshold:           c.BulkThreshold,
		MinSamplesForSwitch:     c.MinSamplesForSwitch,
		MetricsInterval:         c.MetricsInterval,
		CleanupInterval:         c.CleanupInterval,
		MemoryCleanupThreshold:  c.MemoryCleanupThreshold,
		HistoryRetention:        c.HistoryRetention,
		CompletedHistorySize:    c.CompletedHistorySize,
		BackgroundQueueLimit:    c.BackgroundQueueLimit,
		CapacityRestoreInterval: c.CapacityRestoreInterval,
		WorkerCount:             c.WorkerCount,
	}
}

// Snapshot is a read-only, lock-free view of the configuration.
type Snapshot struct {
	Mode                    string        `json:"mode"`
	Capacities              Capacities    `json:"capacities"`
	BorrowingEnabled        bool          `json:"borrowing_enabled"`
	BorrowingThreshold      float64       `json:"borrowing_threshold"`
	UsageAdaptationEnabled  bool          `json:"usage_adaptation_enabled"`
	AdaptationWindow        time.Duration `json:"adaptation_window"`
	ModeSwitchThreshold     float64       `json:"mode_switch_threshold"`
	BulkThreshold           int           `json:"bulk_threshold"`
	MinSamplesForSwitch     int           `json:"min_samples_for_switch"`
	MetricsInterval         time.Duration `json:"metrics_interval"`
	CleanupInterval         time.Duration `json:"cleanup_interval"`
	MemoryCleanupThreshold  float64       `json:"memory_cleanup_threshold"`
	HistoryRetention        time.Duration `json:"history_retention"`
	CompletedHistorySize    int           `json:"completed_history_size"`
	BackgroundQueueLimit    int           `json:"background_queue_limit"`
	CapacityRestoreInterval time.Duration `json:"capacity_restore_interval"`
	WorkerCount             int           `json:"worker_count"`
}

// GetSnapshot returns a read-only snapshot of the current configuration
func (c *Config) GetSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		Mode:                    c.mode.String(),
		Capacities:              c.Capacities,
		BorrowingEnabled:        c.BorrowingEnabled,
		BorrowingThreshold:      c.BorrowingThreshold,
		UsageAdaptationEnabled:  c.UsageAdaptationEnabled,
		AdaptationWindow:        c.AdaptationWindow,
		ModeSwitchThreshold:     c.ModeSwitchThreshold,
		BulkThreshold:           c.BulkThreshold,
		MinSamplesForSwitch:     c.MinSamplesForSwitch,
		MetricsInterval:         c.MetricsInterval,
		CleanupInterval:         c.CleanupInterval,
		MemoryCleanupThreshold:  c.MemoryCleanupThreshold,
		HistoryRetention:        c.HistoryRetention,
		CompletedHistorySize:    c.CompletedHistorySize,
		BackgroundQueueLimit:    c.BackgroundQueueLimit,
		CapacityRestoreInterval: c.CapacityRestoreInterval,
		WorkerCount:             c.WorkerCount,
	}
}
