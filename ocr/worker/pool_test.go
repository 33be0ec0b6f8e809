package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolDo(t *testing.T) {
	p := NewPool(2)
	defer p.Close()

	ran := false
	err := p.Do(context.Background(), func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	stats := p.Stats()
	assert.Equal(t, 2, stats.Workers)
	assert.Equal(t, int64(1), stats.TasksSubmitted)
	assert.Equal(t, int64(1), stats.TasksCompleted)
}

func TestPoolDefaultSize(t *testing.T) {
	p := NewPool(0)
	defer p.Close()
	assert.Greater(t, p.Stats().Workers, 0)
}

func TestPoolPropagatesError(t *testing.T) {
	p := NewPool(1)
	defer p.Close()

	want := errors.New("bad image")
	err := p.Do(context.Background(), func(context.Context) error { return want })
	assert.ErrorIs(t, err, want)
}

func TestPoolRecoversPanic(t *testing.T) {
	p := NewPool(1)
	defer p.Close()

	err := p.Do(context.Background(), func(context.Context) error { panic("decoder") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoder")
	assert.Equal(t, int64(1), p.Stats().TasksPanicked)

	// the worker survives
	require.NoError(t, p.Do(context.Background(), func(context.Context) error { return nil }))
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(3)
	defer p.Close()

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Do(context.Background(), func(context.Context) error {
				n := running.Add(1)
				for {
					cur := peak.Load()
					if n <= cur || peak.CompareAndSwap(cur, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				running.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Equal(t, int64(12), p.Stats().TasksCompleted)
}

func TestPoolContextCancelled(t *testing.T) {
	p := NewPool(1)
	defer p.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = p.Do(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := p.Do(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.Eventually(t, func() bool {
		return p.Stats().TasksAbandoned == 1
	}, time.Second, time.Millisecond)
}

func TestPoolWaitsForRunningTask(t *testing.T) {
	p := NewPool(1)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	var finished atomic.Bool
	err := p.Do(ctx, func(context.Context) error {
		// ignores ctx like an opaque OCR engine
		time.Sleep(80 * time.Millisecond)
		finished.Store(true)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, finished.Load())
	assert.Zero(t, p.Stats().TasksAbandoned)
}

func TestPoolEnsureWorkers(t *testing.T) {
	p := NewPool(1)
	defer p.Close()

	p.EnsureWorkers(4)
	assert.Equal(t, 4, p.Stats().Workers)
	p.EnsureWorkers(2)
	assert.Equal(t, 4, p.Stats().Workers)

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	block := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Do(context.Background(), func(context.Context) error {
				n := running.Add(1)
				for {
					cur := peak.Load()
					if n <= cur || peak.CompareAndSwap(cur, n) {
						break
					}
				}
				<-block
				running.Add(-1)
				return nil
			})
		}()
	}
	require.Eventually(t, func() bool { return peak.Load() == 4 }, time.Second, time.Millisecond)
	close(block)
	wg.Wait()
}

func TestPoolClose(t *testing.T) {
	p := NewPool(2)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	err := p.Do(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolClosed)
}
