package governor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clanwars/ocrgov/config/adaptive"
	"github.com/clanwars/ocrgov/monitoring"
	"github.com/clanwars/ocrgov/ocr/priority"
)

func testConfig(express, standard, background int, borrowing bool) *adaptive.Config {
	cfg := adaptive.DefaultConfig()
	cfg.Capacities = adaptive.Capacities{Express: express, Standard: standard, Background: background}
	cfg.BorrowingEnabled = borrowing
	return cfg
}

func newTestGovernor(cfg *adaptive.Config, options ...Option) *Governor {
	opts := append([]Option{WithResourceSampler(monitoring.StaticSampler{MemoryUsage: 0.2})}, options...)
	return New(cfg, opts...)
}

func noop(context.Context) error { return nil }

func TestClassifyBoundaries(t *testing.T) {
	assert.Equal(t, priority.Express, Classify(1, 10))
	assert.Equal(t, priority.Express, Classify(0, 10))
	assert.Equal(t, priority.Standard, Classify(2, 10))
	assert.Equal(t, priority.Standard, Classify(10, 10))
	assert.Equal(t, priority.Background, Classify(11, 10))
	assert.Equal(t, priority.Background, Classify(50, 10))

	g := newTestGovernor(adaptive.DefaultConfig())
	assert.Equal(t, priority.Standard, g.Classify(10))
	assert.Equal(t, priority.Background, g.Classify(11))
}

func TestSubmit(t *testing.T) {
	mock := clock.NewMock()
	g := newTestGovernor(adaptive.DefaultConfig(), WithClock(mock))

	r := g.Submit(5, "player-1", "player-2")
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, priority.Standard, r.Tier)
	assert.Equal(t, StateQueued, r.State)
	assert.Equal(t, mock.Now(), r.QueuedAt)
	assert.Equal(t, []string{"player-1", "player-2"}, r.SubmitterIDs)

	// submitting does not touch the gate or the tracker
	assert.Equal(t, 0, g.Gate().Snapshot().TotalActive)
	assert.Empty(t, g.Tracker().Active())

	other := g.Submit(0)
	assert.Equal(t, 1, other.ItemCount)
	assert.NotEqual(t, r.ID, other.ID)
}

func TestRunScopedSuccess(t *testing.T) {
	g := newTestGovernor(adaptive.DefaultConfig())

	var inside priority.Snapshot
	r, err := g.Run(context.Background(), 1, func(context.Context) error {
		inside = g.Gate().Snapshot()
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1, inside.Tier(priority.Express).Active)
	assert.Equal(t, StateCompleted, r.State)
	assert.True(t, r.Success)
	assert.True(t, r.Started())
	assert.False(t, r.CompletedAt.Before(r.StartedAt))

	assert.Equal(t, 0, g.Gate().Snapshot().TotalActive)
	assert.Empty(t, g.Tracker().Active())

	usage := g.Tracker().Usage()
	assert.Equal(t, int64(1), usage.TotalRequests)
	assert.Equal(t, int64(1), usage.TierRequests[priority.Express])
	assert.Equal(t, int64(1), usage.SingleRequests)
	assert.Equal(t, int64(1), usage.Successful)

	history := g.Tracker().History(0)
	require.Len(t, history, 1)
	assert.Equal(t, r.ID, history[0].ID)
}

func TestRunScopedReleasesAfterFailure(t *testing.T) {
	g := newTestGovernor(testConfig(1, 1, 1, false))
	jobErr := errors.New("tesseract crashed")

	r, err := g.Run(context.Background(), 1, func(context.Context) error {
		return jobErr
	})
	require.ErrorIs(t, err, jobErr)

	assert.False(t, r.Success)
	assert.ErrorIs(t, r.Err, jobErr)
	assert.Equal(t, StateCompleted, r.State)

	// the single express slot is free again
	h, ok := g.Gate().TryAcquire(priority.Express)
	require.True(t, ok)
	require.NoError(t, h.Release())

	assert.Equal(t, int64(1), g.Tracker().Usage().Failed)
}

func TestRunScopedPanic(t *testing.T) {
	g := newTestGovernor(testConfig(1, 1, 1, false))
	r := g.Submit(1)

	assert.PanicsWithValue(t, "boom", func() {
		_ = g.RunScoped(context.Background(), r, func(context.Context) error {
			panic("boom")
		})
	})

	assert.Equal(t, StateCompleted, r.State)
	assert.False(t, r.Success)
	require.Error(t, r.Err)
	assert.Contains(t, r.Err.Error(), "boom")

	h, ok := g.Gate().TryAcquire(priority.Express)
	require.True(t, ok)
	require.NoError(t, h.Release())
}

func TestRunScopedNilRequest(t *testing.T) {
	g := newTestGovernor(adaptive.DefaultConfig())
	assert.ErrorIs(t, g.RunScoped(context.Background(), nil, noop), ErrNilRequest)
}

func TestRunScopedCancelledWhileWaiting(t *testing.T) {
	g := newTestGovernor(testConfig(1, 1, 1, false))

	h, ok := g.Gate().TryAcquire(priority.Background)
	require.True(t, ok)
	defer h.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	called := false
	r, err := g.Run(ctx, 50, func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, called)
	assert.False(t, r.Started())
	assert.False(t, r.Success)
	assert.Equal(t, StateCompleted, r.State)

	snap := g.Gate().Snapshot().Tier(priority.Background)
	assert.Equal(t, 1, snap.Active)
	assert.Equal(t, 0, snap.Waiting)
}

func TestRunScopedQueueFullRejects(t *testing.T) {
	cfg := testConfig(1, 1, 1, false)
	cfg.BackgroundQueueLimit = 1
	g := newTestGovernor(cfg)

	hold, ok := g.Gate().TryAcquire(priority.Background)
	require.True(t, ok)

	waiterDone := make(chan error, 1)
	go func() {
		_, err := g.Run(context.Background(), 20, noop)
		waiterDone <- err
	}()
	require.Eventually(t, func() bool {
		return g.Gate().Snapshot().Tier(priority.Background).Waiting == 1
	}, time.Second, time.Millisecond)

	r, err := g.Run(context.Background(), 20, noop)
	require.ErrorIs(t, err, priority.ErrQueueFull)
	assert.True(t, r.Rejected)
	assert.False(t, r.Success)

	require.NoError(t, hold.Release())
	require.NoError(t, <-waiterDone)

	usage := g.Tracker().Usage()
	assert.Equal(t, int64(1), usage.Rejected)
	assert.Equal(t, int64(1), usage.Successful)
}

func TestBackgroundRunsOneAtATime(t *testing.T) {
	g := newTestGovernor(testConfig(2, 2, 1, false))
	const unit = 40 * time.Millisecond

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Run(context.Background(), 30, func(context.Context) error {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(unit)
				running.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
	assert.GreaterOrEqual(t, time.Since(start), 5*unit)
	assert.Equal(t, int64(5), g.Tracker().Usage().TierRequests[priority.Background])
}

func TestBorrowingCountedInUsage(t *testing.T) {
	g := newTestGovernor(testConfig(1, 2, 1, true))

	hold, ok := g.Gate().TryAcquire(priority.Express)
	require.True(t, ok)
	defer hold.Release()

	_, err := g.Run(context.Background(), 1, noop)
	require.NoError(t, err)

	assert.Equal(t, int64(1), g.Tracker().Usage().BorrowEvents)
	assert.Equal(t, int64(1), g.Tracker().Totals().BorrowEvents)
	assert.Equal(t, 2, g.Gate().Snapshot().Tier(priority.Express).Capacity)
}

func TestAdaptiveSwitchToBulkHeavy(t *testing.T) {
	mock := clock.NewMock()
	observer := monitoring.NewObserver(monitoring.WithObserverClock(mock))
	g := newTestGovernor(adaptive.DefaultConfig(), WithClock(mock), WithObserver(observer))
	windowStart := g.Tracker().Usage().WindowStart

	for i := 0; i < 18; i++ {
		_, err := g.Run(context.Background(), 50, noop)
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		_, err := g.Run(context.Background(), 1, noop)
		require.NoError(t, err)
	}
	require.InDelta(t, 0.9, g.Tracker().Usage().BulkRatio(), 1e-9)

	// window not elapsed yet
	mock.Add(30 * time.Minute)
	g.monitorTick()
	assert.Equal(t, adaptive.Balanced, g.Config().GetMode())
	assert.Equal(t, int64(20), g.Tracker().Usage().TotalRequests)

	mock.Add(31 * time.Minute)
	g.monitorTick()

	assert.Equal(t, adaptive.BulkHeavy, g.Config().GetMode())
	usage := g.Tracker().Usage()
	assert.Equal(t, int64(0), usage.TotalRequests)
	assert.False(t, usage.WindowStart.Before(windowStart.Add(time.Hour)))
	assert.Equal(t, int64(1), g.Tracker().Totals().ModeSwitches)

	latest, ok := observer.Latest()
	require.True(t, ok)
	assert.Equal(t, "bulk_heavy", latest.SuggestedMode)
	assert.Equal(t, "bulk_heavy", latest.Mode)

	mode, _, ok := observer.SuggestMode()
	require.True(t, ok)
	assert.Equal(t, "bulk_heavy", mode)
}

func TestAdaptiveSwitchNeedsMinSamples(t *testing.T) {
	mock := clock.NewMock()
	g := newTestGovernor(adaptive.DefaultConfig(), WithClock(mock))

	for i := 0; i < 5; i++ {
		_, err := g.Run(context.Background(), 50, noop)
		require.NoError(t, err)
	}
	mock.Add(2 * time.Hour)
	g.monitorTick()

	assert.Equal(t, adaptive.Balanced, g.Config().GetMode())
	assert.Equal(t, int64(5), g.Tracker().Usage().TotalRequests)
}

func TestAdaptiveSwitchDisabled(t *testing.T) {
	mock := clock.NewMock()
	cfg := adaptive.DefaultConfig()
	cfg.UsageAdaptationEnabled = false
	cfg.MinSamplesForSwitch = 1
	g := newTestGovernor(cfg, WithClock(mock))

	_, err := g.Run(context.Background(), 50, noop)
	require.NoError(t, err)
	mock.Add(2 * time.Hour)
	g.monitorTick()

	assert.Equal(t, adaptive.Balanced, g.Config().GetMode())
}

func TestAdaptiveFallbackToBalanced(t *testing.T) {
	mock := clock.NewMock()
	cfg := adaptive.DefaultConfig()
	cfg.SetMode(adaptive.BulkHeavy)
	g := newTestGovernor(cfg, WithClock(mock))

	g.tracker.mu.Lock()
	g.tracker.usage = UsageStats{
		WindowStart:    mock.Now(),
		TotalRequests:  30,
		SingleRequests: 10,
		BulkRequests:   10,
		TotalWait:      30 * 15 * time.Second,
	}
	g.tracker.mu.Unlock()

	mock.Add(time.Hour)
	g.monitorTick()

	assert.Equal(t, adaptive.Balanced, g.Config().GetMode())
}

func TestAdaptiveNoChangeStillResetsWindow(t *testing.T) {
	mock := clock.NewMock()
	cfg := adaptive.DefaultConfig()
	cfg.MinSamplesForSwitch = 2
	g := newTestGovernor(cfg, WithClock(mock))

	// mixed traffic below the switch threshold
	for _, items := range []int{1, 5, 50, 5} {
		_, err := g.Run(context.Background(), items, noop)
		require.NoError(t, err)
	}
	mock.Add(time.Hour)
	g.monitorTick()

	assert.Equal(t, adaptive.Balanced, g.Config().GetMode())
	assert.Equal(t, int64(0), g.Tracker().Usage().TotalRequests)
	assert.Equal(t, int64(0), g.Tracker().Totals().ModeSwitches)
}

func TestMonitorTickSnapshot(t *testing.T) {
	mock := clock.NewMock()
	observer := monitoring.NewObserver()
	pm := monitoring.NewPerformanceMonitor(nil)
	g := newTestGovernor(testConfig(2, 2, 1, false),
		WithClock(mock), WithObserver(observer), WithPerformanceMonitor(pm),
		WithResourceSampler(monitoring.StaticSampler{MemoryUsage: 0.4, CPUUsage: 0.1}))

	hold, ok := g.Gate().TryAcquire(priority.Standard)
	require.True(t, ok)
	defer hold.Release()

	for i := 0; i < 3; i++ {
		_, err := g.Run(context.Background(), 1, noop)
		require.NoError(t, err)
	}
	mock.Add(time.Minute)
	g.monitorTick()

	snap, ok := observer.Latest()
	require.True(t, ok)
	assert.Equal(t, mock.Now(), snap.Timestamp)
	assert.Equal(t, "balanced", snap.Mode)
	assert.Empty(t, snap.SuggestedMode)
	assert.Equal(t, 1, snap.ActiveRequests)
	assert.Equal(t, 1, snap.Tiers[priority.Standard].Active)
	assert.InDelta(t, 0.2, snap.Utilization, 1e-9)
	assert.Equal(t, 0.4, snap.MemoryUsage)
	assert.Equal(t, 1.0, snap.SuccessRate)
	assert.InDelta(t, 3.0, snap.Throughput, 1e-9)
	assert.Equal(t, int64(3), snap.TotalRequests)
}

func TestCleanupTick(t *testing.T) {
	mock := clock.NewMock()
	var reclaimed atomic.Int32
	cfg := adaptive.DefaultConfig()
	cfg.HistoryRetention = 10 * time.Minute
	g := newTestGovernor(cfg,
		WithClock(mock),
		WithResourceSampler(monitoring.StaticSampler{MemoryUsage: 0.9}),
		WithMemoryReclaimer(func() { reclaimed.Add(1) }))

	_, err := g.Run(context.Background(), 1, noop)
	require.NoError(t, err)
	mock.Add(15 * time.Minute)
	_, err = g.Run(context.Background(), 1, noop)
	require.NoError(t, err)

	g.cleanupTick()

	assert.Len(t, g.Tracker().History(0), 1)
	assert.Equal(t, int32(1), reclaimed.Load())
}

func TestCleanupTickBelowMemoryThreshold(t *testing.T) {
	var reclaimed atomic.Int32
	g := newTestGovernor(adaptive.DefaultConfig(),
		WithMemoryReclaimer(func() { reclaimed.Add(1) }))

	g.cleanupTick()
	assert.Equal(t, int32(0), reclaimed.Load())
}

func TestRestoreTick(t *testing.T) {
	g := newTestGovernor(testConfig(1, 2, 1, true))

	hold, ok := g.Gate().TryAcquire(priority.Express)
	require.True(t, ok)
	_, err := g.Run(context.Background(), 1, noop)
	require.NoError(t, err)
	require.NoError(t, hold.Release())
	require.Equal(t, 2, g.Gate().Snapshot().Tier(priority.Express).Capacity)

	g.restoreTick()

	snap := g.Gate().Snapshot()
	assert.Equal(t, 1, snap.Tier(priority.Express).Capacity)
	assert.Equal(t, 2, snap.Tier(priority.Standard).Capacity)
}

func TestStartStop(t *testing.T) {
	mock := clock.NewMock()
	observer := monitoring.NewObserver()
	g := newTestGovernor(adaptive.DefaultConfig(), WithClock(mock), WithObserver(observer))

	require.NoError(t, g.Start(context.Background()))
	assert.ErrorIs(t, g.Start(context.Background()), ErrAlreadyStarted)

	interval := g.Config().GetSnapshot().MetricsInterval
	require.Eventually(t, func() bool {
		mock.Add(interval)
		return observer.Len() > 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, g.Stop())
	require.NoError(t, g.Stop())

	_, err := g.Run(context.Background(), 1, noop)
	assert.ErrorIs(t, err, ErrGovernorStopped)
	assert.ErrorIs(t, g.Start(context.Background()), ErrGovernorStopped)
}

func TestGetCurrentStats(t *testing.T) {
	mock := clock.NewMock()
	g := newTestGovernor(adaptive.DefaultConfig(), WithClock(mock))

	_, err := g.Run(context.Background(), 3, noop)
	require.NoError(t, err)
	mock.Add(time.Minute)

	stats := g.GetCurrentStats()
	assert.Equal(t, "balanced", stats.Mode)
	assert.Equal(t, time.Minute, stats.Uptime)
	assert.Equal(t, 5, stats.Gate.TotalCapacity)
	assert.Equal(t, int64(1), stats.Usage.TierRequests[priority.Standard])
	assert.Equal(t, int64(1), stats.Totals.Completed)
	assert.Equal(t, 0.2, stats.Resources.MemoryUsage)
}
