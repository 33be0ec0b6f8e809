package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clanwars/ocrgov/ocr/priority"
)

// Request outcomes used as the "outcome" label.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
)

// PerformanceMonitor exports governor state as Prometheus metrics. All
// methods are safe on a nil receiver so the governor can run without one.
type PerformanceMonitor struct {
	registry *prometheus.Registry

	tierCapacity    *prometheus.GaugeVec
	tierBaseline    *prometheus.GaugeVec
	tierActive      *prometheus.GaugeVec
	tierWaiting     *prometheus.GaugeVec
	tierUtilization *prometheus.GaugeVec

	requestsTotal     *prometheus.CounterVec
	waitSeconds       *prometheus.HistogramVec
	processingSeconds *prometheus.HistogramVec
	borrowEvents      *prometheus.CounterVec
	modeSwitches      *prometheus.CounterVec

	mode        *prometheus.GaugeVec
	utilization prometheus.Gauge
	queueDepth  prometheus.Gauge
	successRate prometheus.Gauge
	throughput  prometheus.Gauge
	memoryUsage prometheus.Gauge
	memoryBytes prometheus.Gauge
	cpuUsage    prometheus.Gauge
}

// NewPerformanceMonitor creates a monitor with its own registry. A nil
// registry allocates a fresh one.
func NewPerformanceMonitor(registry *prometheus.Registry) *PerformanceMonitor {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	pm := &PerformanceMonitor{registry: registry}
	pm.initPrometheusMetrics()
	return pm
}

func (pm *PerformanceMonitor) initPrometheusMetrics() {
	factory := promauto.With(pm.registry)

	// Tier metrics
	pm.tierCapacity = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ocrgov",
		Subsystem: "tier",
		Name:      "capacity",
		Help:      "Current concurrency capacity of the tier",
	}, []string{"tier"})

	pm.tierBaseline = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ocrgov",
		Subsystem: "tier",
		Name:      "baseline_capacity",
		Help:      "Configured concurrency capacity of the tier",
	}, []string{"tier"})

	pm.tierActive = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ocrgov",
		Subsystem: "tier",
		Name:      "active",
		Help:      "Slots currently held in the tier",
	}, []string{"tier"})

	pm.tierWaiting = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ocrgov",
		Subsystem: "tier",
		Name:      "waiting",
		Help:      "Requests queued for a slot in the tier",
	}, []string{"tier"})

	pm.tierUtilization = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ocrgov",
		Subsystem: "tier",
		Name:      "utilization_ratio",
		Help:      "Active slots over capacity for the tier",
	}, []string{"tier"})

	// Request metrics
	pm.requestsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ocrgov",
		Subsystem: "requests",
		Name:      "total",
		Help:      "Completed OCR requests by tier and outcome",
	}, []string{"tier", "outcome"})

	pm.waitSeconds = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ocrgov",
		Subsystem: "requests",
		Name:      "wait_seconds",
		Help:      "Time from submission until a slot was granted",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
	}, []string{"tier"})

	pm.processingSeconds = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ocrgov",
		Subsystem: "requests",
		Name:      "processing_seconds",
		Help:      "Time spent holding a slot",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"tier"})

	// Governor metrics
	pm.borrowEvents = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ocrgov",
		Subsystem: "governor",
		Name:      "borrow_events_total",
		Help:      "Capacity units moved between tiers",
	}, []string{"from", "to"})

	pm.modeSwitches = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ocrgov",
		Subsystem: "governor",
		Name:      "mode_switches_total",
		Help:      "Adaptive resource mode switches",
	}, []string{"from", "to"})

	pm.mode = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ocrgov",
		Subsystem: "governor",
		Name:      "mode",
		Help:      "Current resource mode, 1 for the active mode",
	}, []string{"mode"})

	pm.utilization = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "ocrgov",
		Subsystem: "governor",
		Name:      "utilization_ratio",
		Help:      "Total active slots over total capacity",
	})

	pm.queueDepth = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "ocrgov",
		Subsystem: "governor",
		Name:      "queue_depth",
		Help:      "Requests waiting across all tiers",
	})

	pm.successRate = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "ocrgov",
		Subsystem: "governor",
		Name:      "success_ratio",
		Help:      "Share of recently completed requests that succeeded",
	})

	pm.throughput = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "ocrgov",
		Subsystem: "governor",
		Name:      "throughput_per_minute",
		Help:      "Requests completed per minute",
	})

	// Resource metrics
	pm.memoryUsage = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "ocrgov",
		Subsystem: "resource",
		Name:      "memory_usage_ratio",
		Help:      "Process resident memory over total system memory",
	})

	pm.memoryBytes = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "ocrgov",
		Subsystem: "resource",
		Name:      "memory_bytes",
		Help:      "Process resident memory in bytes",
	})

	pm.cpuUsage = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "ocrgov",
		Subsystem: "resource",
		Name:      "cpu_usage_ratio",
		Help:      "Process CPU usage across all cores",
	})
}

// Registry returns the Prometheus registry for external use
func (pm *PerformanceMonitor) Registry() *prometheus.Registry {
	if pm == nil {
		return nil
	}
	return pm.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (pm *PerformanceMonitor) Handler() http.Handler {
	if pm == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}

// ObserveSnapshot updates the gauges from a snapshot.
func (pm *PerformanceMonitor) ObserveSnapshot(s MetricsSnapshot) {
	if pm == nil {
		return
	}
	for _, t := range s.Tiers {
		name := t.Tier.String()
		pm.tierCapacity.WithLabelValues(name).Set(float64(t.Capacity))
		pm.tierBaseline.WithLabelValues(name).Set(float64(t.Baseline))
		pm.tierActive.WithLabelValues(name).Set(float64(t.Active))
		pm.tierWaiting.WithLabelValues(name).Set(float64(t.Waiting))
		pm.tierUtilization.WithLabelValues(name).Set(t.Utilization)
	}

	pm.mode.Reset()
	if s.Mode != "" {
		pm.mode.WithLabelValues(s.Mode).Set(1)
	}
	pm.utilization.Set(s.Utilization)
	pm.queueDepth.Set(float64(s.QueueDepth))
	pm.successRate.Set(s.SuccessRate)
	pm.throughput.Set(s.Throughput)
	pm.memoryUsage.Set(s.MemoryUsage)
	pm.memoryBytes.Set(float64(s.MemoryBytes))
	pm.cpuUsage.Set(s.CPUUsage)
}

// ObserveRequest records one completed request.
func (pm *PerformanceMonitor) ObserveRequest(tier priority.Tier, outcome string, wait, processing time.Duration) {
	if pm == nil {
		return
	}
	name := tier.String()
	pm.requestsTotal.WithLabelValues(name, outcome).Inc()
	if outcome == OutcomeRejected {
		return
	}
	pm.waitSeconds.WithLabelValues(name).Observe(wait.Seconds())
	pm.processingSeconds.WithLabelValues(name).Observe(processing.Seconds())
}

// ObserveBorrow records a capacity unit moving between tiers.
func (pm *PerformanceMonitor) ObserveBorrow(from, to priority.Tier) {
	if pm == nil {
		return
	}
	pm.borrowEvents.WithLabelValues(from.String(), to.String()).Inc()
}

// ObserveModeSwitch records an adaptive mode switch.
func (pm *PerformanceMonitor) ObserveModeSwitch(from, to string) {
	if pm == nil {
		return
	}
	pm.modeSwitches.WithLabelValues(from, to).Inc()
}
