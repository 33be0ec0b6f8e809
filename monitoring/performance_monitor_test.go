package monitoring

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clanwars/ocrgov/ocr/priority"
)

func TestNewPerformanceMonitor(t *testing.T) {
	pm := NewPerformanceMonitor(nil)
	require.NotNil(t, pm)
	require.NotNil(t, pm.Registry())
}

func TestPerformanceMonitorObserveSnapshot(t *testing.T) {
	pm := NewPerformanceMonitor(nil)

	snap := MetricsSnapshot{
		Mode:        "bulk_heavy",
		Utilization: 0.6,
		QueueDepth:  4,
		SuccessRate: 0.98,
		MemoryUsage: 0.4,
		CPUUsage:    0.25,
	}
	snap.Tiers[priority.Express] = TierMetrics{Tier: priority.Express, Capacity: 3, Baseline: 2, Active: 2, Waiting: 1, Utilization: 2.0 / 3}
	snap.Tiers[priority.Standard] = TierMetrics{Tier: priority.Standard, Capacity: 2, Baseline: 2, Active: 1, Utilization: 0.5}
	snap.Tiers[priority.Background] = TierMetrics{Tier: priority.Background, Capacity: 1, Baseline: 2, Waiting: 3}

	pm.ObserveSnapshot(snap)

	assert.Equal(t, 3.0, testutil.ToFloat64(pm.tierCapacity.WithLabelValues("express")))
	assert.Equal(t, 2.0, testutil.ToFloat64(pm.tierBaseline.WithLabelValues("express")))
	assert.Equal(t, 3.0, testutil.ToFloat64(pm.tierWaiting.WithLabelValues("background")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.mode.WithLabelValues("bulk_heavy")))
	assert.Equal(t, 4.0, testutil.ToFloat64(pm.queueDepth))
	assert.Equal(t, 0.25, testutil.ToFloat64(pm.cpuUsage))

	// a mode change leaves exactly one mode series
	snap.Mode = "balanced"
	pm.ObserveSnapshot(snap)
	assert.Equal(t, 1, testutil.CollectAndCount(pm.mode))
}

func TestPerformanceMonitorObserveRequest(t *testing.T) {
	pm := NewPerformanceMonitor(nil)

	pm.ObserveRequest(priority.Express, OutcomeSuccess, time.Second, 2*time.Second)
	pm.ObserveRequest(priority.Express, OutcomeFailure, time.Second, time.Second)
	pm.ObserveRequest(priority.Background, OutcomeRejected, 0, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(pm.requestsTotal.WithLabelValues("express", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.requestsTotal.WithLabelValues("express", OutcomeFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.requestsTotal.WithLabelValues("background", OutcomeRejected)))

	// rejected requests never held a slot and are not timed
	assert.Equal(t, 1, testutil.CollectAndCount(pm.waitSeconds))
}

func TestPerformanceMonitorBorrowAndModeSwitch(t *testing.T) {
	pm := NewPerformanceMonitor(nil)

	pm.ObserveBorrow(priority.Background, priority.Express)
	pm.ObserveBorrow(priority.Background, priority.Express)
	pm.ObserveModeSwitch("balanced", "bulk_heavy")

	assert.Equal(t, 2.0, testutil.ToFloat64(pm.borrowEvents.WithLabelValues("background", "express")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.modeSwitches.WithLabelValues("balanced", "bulk_heavy")))
}

func TestPerformanceMonitorHandler(t *testing.T) {
	pm := NewPerformanceMonitor(nil)
	pm.ObserveBorrow(priority.Standard, priority.Express)

	srv := httptest.NewServer(pm.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "ocrgov_governor_borrow_events_total"))
}

func TestPerformanceMonitorNilSafe(t *testing.T) {
	var pm *PerformanceMonitor

	assert.NotPanics(t, func() {
		pm.ObserveSnapshot(MetricsSnapshot{})
		pm.ObserveRequest(priority.Express, OutcomeSuccess, 0, 0)
		pm.ObserveBorrow(priority.Background, priority.Express)
		pm.ObserveModeSwitch("balanced", "bulk_heavy")
	})
	assert.Nil(t, pm.Registry())
	assert.NotNil(t, pm.Handler())
}
