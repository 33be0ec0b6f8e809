package monitoring

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("monitoring")

// Defaults for the observer.
const (
	DefaultHistorySize  = 1440 // one day at one snapshot per minute
	DefaultMinSamples   = 5
	DefaultRecentWindow = 60
)

// Status of an analysis report.
type Status string

const (
	StatusOK               Status = "ok"
	StatusInsufficientData Status = "insufficient_data"
	StatusError            Status = "error"
)

// Trend is the direction of a metric over the analysis window.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDegrading Trend = "degrading"
	TrendStable    Trend = "stable"
)

// IssueKind identifies a fixed-threshold problem.
type IssueKind string

const (
	IssueHighWaitTime    IssueKind = "high_wait_time"
	IssueLowUtilization  IssueKind = "low_utilization"
	IssueHighUtilization IssueKind = "high_utilization"
	IssueLowSuccessRate  IssueKind = "low_success_rate"
)

// Severity of an issue.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Issue is a threshold violation found by Analyze.
type Issue struct {
	Kind      IssueKind `json:"kind"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
}

// AnalysisThresholds are the fixed limits Analyze checks against.
type AnalysisThresholds struct {
	HighWaitTime    time.Duration
	LowUtilization  float64
	HighUtilization float64
	MinSuccessRate  float64
	// TrendChange is the relative change between window halves that counts
	// as a trend
	TrendChange float64
}

// DefaultAnalysisThresholds returns the documented thresholds
func DefaultAnalysisThresholds() AnalysisThresholds {
	return AnalysisThresholds{
		HighWaitTime:    10 * time.Second,
		LowUtilization:  0.30,
		HighUtilization: 0.85,
		MinSuccessRate:  0.95,
		TrendChange:     0.20,
	}
}

// Report is the result of Analyze.
type Report struct {
	Status      Status    `json:"status"`
	GeneratedAt time.Time `json:"generated_at"`
	SampleCount int       `json:"sample_count"`
	WindowSize  int       `json:"window_size"`
	Message     string    `json:"message,omitempty"`

	AvgWaitTime    time.Duration `json:"avg_wait_time"`
	PeakWaitTime   time.Duration `json:"peak_wait_time"`
	AvgUtilization float64       `json:"avg_utilization"`
	AvgSuccessRate float64       `json:"avg_success_rate"`
	AvgThroughput  float64       `json:"avg_throughput"`
	AvgMemoryUsage float64       `json:"avg_memory_usage"`

	Trend            Trend `json:"trend"`
	WaitTrend        Trend `json:"wait_trend"`
	UtilizationTrend Trend `json:"utilization_trend"`

	Issues      []Issue  `json:"issues"`
	Suggestions []string `json:"suggestions"`

	CurrentMode   string `json:"current_mode"`
	SuggestedMode string `json:"suggested_mode,omitempty"`
}

// Observer keeps a bounded history of snapshots and turns it into analysis
// reports. Record and Analyze never panic into the caller; the governor's
// periodic loop depends on that.
type Observer struct {
	mu sync.RWMutex

	// ring buffer of snapshots
	buf   []MetricsSnapshot
	start int
	size  int

	minSamples   int
	recentWindow int
	thresholds   AnalysisThresholds
	clock        clock.Clock

	lastSuggestion     string
	lastSuggestionTime time.Time
	recorded           int64
	failures           int64
}

// ObserverOption configures an Observer
type ObserverOption func(*Observer)

// WithHistorySize sets the number of snapshots kept
func WithHistorySize(n int) ObserverOption {
	return func(o *Observer) {
		if n > 0 {
			o.buf = make([]MetricsSnapshot, n)
		}
	}
}

// WithMinSamples sets the number of snapshots Analyze requires
func WithMinSamples(n int) ObserverOption {
	return func(o *Observer) {
		if n > 0 {
			o.minSamples = n
		}
	}
}

// WithRecentWindow sets how many of the newest snapshots Analyze averages over
func WithRecentWindow(n int) ObserverOption {
	return func(o *Observer) {
		if n > 1 {
			o.recentWindow = n
		}
	}
}

// WithAnalysisThresholds replaces the issue thresholds
func WithAnalysisThresholds(th AnalysisThresholds) ObserverOption {
	return func(o *Observer) {
		o.thresholds = th
	}
}

// WithObserverClock sets the clock used to stamp reports
func WithObserverClock(c clock.Clock) ObserverOption {
	return func(o *Observer) {
		o.clock = c
	}
}

// NewObserver creates an observer
func NewObserver(options ...ObserverOption) *Observer {
	o := &Observer{
		buf:          make([]MetricsSnapshot, DefaultHistorySize),
		minSamples:   DefaultMinSamples,
		recentWindow: DefaultRecentWindow,
		thresholds:   DefaultAnalysisThresholds(),
		clock:        clock.New(),
	}
	for _, option := range options {
		option(o)
	}
	return o
}

// Record appends a snapshot, evicting the oldest one when the history is full.
func (o *Observer) Record(s MetricsSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			o.mu.Lock()
			o.failures++
			o.mu.Unlock()
			log.Errorf("Recovered panic while recording snapshot: %v", r)
		}
	}()

	o.mu.Lock()
	defer o.mu.Unlock()

	capacity := len(o.buf)
	if o.size < capacity {
		o.buf[(o.start+o.size)%capacity] = s
		o.size++
	} else {
		o.buf[o.start] = s
		o.start = (o.start + 1) % capacity
	}
	o.recorded++

	if s.SuggestedMode != "" {
		o.lastSuggestion = s.SuggestedMode
		o.lastSuggestionTime = s.Timestamp
	}
}

// Len returns the number of snapshots held.
func (o *Observer) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.size
}

// Latest returns the most recent snapshot.
func (o *Observer) Latest() (MetricsSnapshot, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.size == 0 {
		return MetricsSnapshot{}, false
	}
	return o.buf[(o.start+o.size-1)%len(o.buf)], true
}

// History returns up to n of the newest snapshots, oldest first. n <= 0
// returns the whole history.
func (o *Observer) History(n int) []MetricsSnapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.historyLocked(n)
}

func (o *Observer) historyLocked(n int) []MetricsSnapshot {
	if n <= 0 || n > o.size {
		n = o.size
	}
	out := make([]MetricsSnapshot, n)
	first := o.size - n
	for i := 0; i < n; i++ {
		out[i] = o.buf[(o.start+first+i)%len(o.buf)]
	}
	return out
}

// SuggestMode reports the most recent mode switch the governor decided, if
// any. The observer does not make mode decisions itself.
func (o *Observer) SuggestMode() (string, time.Time, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.lastSuggestion == "" {
		return "", time.Time{}, false
	}
	return o.lastSuggestion, o.lastSuggestionTime, true
}

// Analyze computes averages, trends and issues over the recent window.
func (o *Observer) Analyze() (report Report) {
	now := o.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			o.mu.Lock()
			o.failures++
			o.mu.Unlock()
			log.Errorf("Recovered panic during analysis: %v", r)
			report = Report{
				Status:      StatusError,
				GeneratedAt: now,
				Message:     fmt.Sprintf("analysis failed: %v", r),
			}
		}
	}()

	o.mu.RLock()
	count := o.size
	window := o.historyLocked(o.recentWindow)
	minSamples := o.minSamples
	th := o.thresholds
	suggestion := o.lastSuggestion
	o.mu.RUnlock()

	if count < minSamples {
		return Report{
			Status:      StatusInsufficientData,
			GeneratedAt: now,
			SampleCount: count,
			Message:     fmt.Sprintf("need at least %d snapshots, have %d", minSamples, count),
			Trend:       TrendStable,
		}
	}

	report = analyzeWindow(window, th)
	report.GeneratedAt = now
	report.SampleCount = count
	report.SuggestedMode = suggestion
	if report.SuggestedMode != "" && report.SuggestedMode != report.CurrentMode {
		report.Suggestions = append(report.Suggestions,
			fmt.Sprintf("Traffic mix favors %s mode", report.SuggestedMode))
	}

	for _, issue := range report.Issues {
		log.Warnf("Performance issue %s (%s): %s", issue.Kind, issue.Severity, issue.Message)
	}

	return report
}

func analyzeWindow(window []MetricsSnapshot, th AnalysisThresholds) Report {
	r := Report{
		Status:     StatusOK,
		WindowSize: len(window),
	}

	var (
		waitSum    time.Duration
		utilSum    float64
		successSum float64
		tputSum    float64
		memSum     float64
	)
	for _, s := range window {
		waitSum += s.AvgWaitTime
		utilSum += s.Utilization
		successSum += s.SuccessRate
		tputSum += s.Throughput
		memSum += s.MemoryUsage
		if s.PeakWaitTime > r.PeakWaitTime {
			r.PeakWaitTime = s.PeakWaitTime
		}
	}
	n := float64(len(window))
	r.AvgWaitTime = waitSum / time.Duration(len(window))
	r.AvgUtilization = utilSum / n
	r.AvgSuccessRate = successSum / n
	r.AvgThroughput = tputSum / n
	r.AvgMemoryUsage = memSum / n
	r.CurrentMode = window[len(window)-1].Mode

	r.WaitTrend, r.UtilizationTrend = windowTrends(window, th.TrendChange)
	r.Trend = r.WaitTrend
	if r.Trend == TrendStable {
		r.Trend = r.UtilizationTrend
	}

	r.Issues = findIssues(r, th)
	for _, issue := range r.Issues {
		r.Suggestions = append(r.Suggestions, suggestionFor(issue))
	}

	return r
}

// windowTrends compares the first and second half of the window. Rising
// wait time or utilization counts as degrading.
func windowTrends(window []MetricsSnapshot, change float64) (wait, util Trend) {
	if len(window) < 2 {
		return TrendStable, TrendStable
	}
	half := len(window) / 2
	first, second := window[:half], window[half:]

	avg := func(ss []MetricsSnapshot, f func(MetricsSnapshot) float64) float64 {
		var sum float64
		for _, s := range ss {
			sum += f(s)
		}
		return sum / float64(len(ss))
	}
	waitOf := func(s MetricsSnapshot) float64 { return s.AvgWaitTime.Seconds() }
	utilOf := func(s MetricsSnapshot) float64 { return s.Utilization }

	wait = classify(relativeChange(avg(first, waitOf), avg(second, waitOf)), change)
	util = classify(relativeChange(avg(first, utilOf), avg(second, utilOf)), change)
	return wait, util
}

func relativeChange(before, after float64) float64 {
	if before == 0 {
		if after == 0 {
			return 0
		}
		return 1
	}
	return (after - before) / before
}

func classify(change, threshold float64) Trend {
	switch {
	case change >= threshold:
		return TrendDegrading
	case change <= -threshold:
		return TrendImproving
	default:
		return TrendStable
	}
}

func findIssues(r Report, th AnalysisThresholds) []Issue {
	var issues []Issue

	if r.AvgWaitTime > th.HighWaitTime {
		sev := SeverityWarning
		if r.AvgWaitTime > 2*th.HighWaitTime {
			sev = SeverityCritical
		}
		issues = append(issues, Issue{
			Kind:      IssueHighWaitTime,
			Severity:  sev,
			Message:   fmt.Sprintf("average wait %.1fs exceeds %.0fs", r.AvgWaitTime.Seconds(), th.HighWaitTime.Seconds()),
			Value:     r.AvgWaitTime.Seconds(),
			Threshold: th.HighWaitTime.Seconds(),
		})
	}

	if r.AvgUtilization < th.LowUtilization {
		issues = append(issues, Issue{
			Kind:      IssueLowUtilization,
			Severity:  SeverityWarning,
			Message:   fmt.Sprintf("utilization %.0f%% below %.0f%%", r.AvgUtilization*100, th.LowUtilization*100),
			Value:     r.AvgUtilization,
			Threshold: th.LowUtilization,
		})
	} else if r.AvgUtilization > th.HighUtilization {
		issues = append(issues, Issue{
			Kind:      IssueHighUtilization,
			Severity:  SeverityWarning,
			Message:   fmt.Sprintf("utilization %.0f%% above %.0f%%", r.AvgUtilization*100, th.HighUtilization*100),
			Value:     r.AvgUtilization,
			Threshold: th.HighUtilization,
		})
	}

	if r.AvgSuccessRate < th.MinSuccessRate {
		sev := SeverityWarning
		if r.AvgSuccessRate < 0.8 {
			sev = SeverityCritical
		}
		issues = append(issues, Issue{
			Kind:      IssueLowSuccessRate,
			Severity:  sev,
			Message:   fmt.Sprintf("success rate %.1f%% below %.0f%%", r.AvgSuccessRate*100, th.MinSuccessRate*100),
			Value:     r.AvgSuccessRate,
			Threshold: th.MinSuccessRate,
		})
	}

	return issues
}

func suggestionFor(issue Issue) string {
	switch issue.Kind {
	case IssueHighWaitTime:
		return "Raise tier capacities or enable borrowing to cut queueing time"
	case IssueLowUtilization:
		return "OCR capacity is mostly idle; tier capacities can be lowered"
	case IssueHighUtilization:
		return "OCR capacity is saturated; add workers or raise tier capacities"
	case IssueLowSuccessRate:
		return "Inspect OCR engine failures; too many jobs complete unsuccessfully"
	default:
		return string(issue.Kind)
	}
}
