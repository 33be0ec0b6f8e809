package monitoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResourceCollector(t *testing.T) {
	collector := NewResourceCollector()
	require.NotNil(t, collector)
	assert.True(t, collector.procAvailable)
}

func TestResourceCollectorSample(t *testing.T) {
	collector := NewResourceCollector()

	first := collector.Sample()
	assert.Greater(t, first.MemoryBytes, uint64(0), "memory falls back to runtime stats")
	assert.Greater(t, first.Goroutines, 0)
	assert.GreaterOrEqual(t, first.CPUUsage, 0.0)
	if first.MemoryTotal > 0 {
		assert.Greater(t, first.MemoryUsage, 0.0)
		assert.LessOrEqual(t, first.MemoryUsage, 1.0)
	}

	// burn a little CPU so the second reading has a delta to work with
	deadline := time.Now().Add(20 * time.Millisecond)
	for time.Now().Before(deadline) {
	}

	second := collector.Sample()
	assert.GreaterOrEqual(t, second.CPUUsage, 0.0)
}

func TestStaticSampler(t *testing.T) {
	s := StaticSampler{MemoryUsage: 0.9, CPUUsage: 0.5}
	var sampler ResourceSampler = s

	got := sampler.Sample()
	assert.Equal(t, 0.9, got.MemoryUsage)
	assert.Equal(t, 0.5, got.CPUUsage)
}
