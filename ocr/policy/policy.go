// Package policy decides when the governor should change its global mode.
// It is the only place the mode-switch rule lives; the governor calls it on
// its monitoring tick and the observer only reports what it decided.
package policy

import (
	"time"

	"github.com/clanwars/ocrgov/config/adaptive"
)

// DefaultHighWait is the average wait above which a specialized mode facing
// mixed traffic falls back to balanced.
const DefaultHighWait = 10 * time.Second

// Input is the traffic summary a decision is made from.
type Input struct {
	BulkRatio   float64
	SingleRatio float64
	AvgWait     time.Duration
	Current     adaptive.Mode
}

// Thresholds parameterize Decide.
type Thresholds struct {
	// ModeSwitch is the share of one size class that triggers a specialized mode
	ModeSwitch float64
	// HighWait triggers the return to balanced for mixed traffic
	HighWait time.Duration
}

// ThresholdsFrom builds Thresholds from the configuration.
func ThresholdsFrom(c *adaptive.Config) Thresholds {
	return Thresholds{
		ModeSwitch: c.GetSnapshot().ModeSwitchThreshold,
		HighWait:   DefaultHighWait,
	}
}

// Decide returns the mode the governor should switch to, or false when the
// current mode should stay.
//
//   - bulk share above the threshold: BulkHeavy
//   - single share above the threshold: SingleFocused
//   - neither, while a specialized mode is active and waits are high: Balanced
func Decide(in Input, th Thresholds) (adaptive.Mode, bool) {
	var target adaptive.Mode
	switch {
	case in.BulkRatio > th.ModeSwitch:
		target = adaptive.BulkHeavy
	case in.SingleRatio > th.ModeSwitch:
		target = adaptive.SingleFocused
	case in.Current != adaptive.Balanced && th.HighWait > 0 && in.AvgWait > th.HighWait:
		target = adaptive.Balanced
	default:
		return in.Current, false
	}

	if target == in.Current {
		return in.Current, false
	}
	return target, true
}
