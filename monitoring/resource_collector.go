package monitoring

import (
	"runtime"
	"sync"
	"time"

	"github.com/pbnjay/memory"
	"github.com/prometheus/procfs"
)

// ResourceSample is a best-effort reading of process resource usage. Any
// source that is unavailable on the platform leaves its fields at zero.
type ResourceSample struct {
	MemoryUsage float64 `json:"memory_usage"` // resident memory over total system memory
	MemoryBytes uint64  `json:"memory_bytes"`
	MemoryTotal uint64  `json:"memory_total"`
	CPUUsage    float64 `json:"cpu_usage"` // process CPU time over wall time across all cores
	Goroutines  int     `json:"goroutines"`
}

// ResourceSampler produces resource samples. The governor depends on this
// interface so tests can substitute fixed readings.
type ResourceSampler interface {
	Sample() ResourceSample
}

// ResourceCollector reads process memory and CPU usage from procfs, falling
// back to Go runtime statistics where procfs is not available.
type ResourceCollector struct {
	mu sync.Mutex

	totalMemory uint64

	lastCPUSeconds float64
	lastSampleTime time.Time
	procAvailable  bool
}

// NewResourceCollector creates a new resource collector
func NewResourceCollector() *ResourceCollector {
	rc := &ResourceCollector{
		totalMemory:   memory.TotalMemory(),
		procAvailable: true,
	}
	if rc.totalMemory == 0 {
		log.Debug("Total system memory unknown, memory usage ratio will be zero")
	}
	return rc
}

// Sample implements ResourceSampler
func (rc *ResourceCollector) Sample() ResourceSample {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	s := ResourceSample{
		MemoryTotal: rc.totalMemory,
		Goroutines:  runtime.NumGoroutine(),
	}

	now := time.Now()
	if rc.procAvailable {
		if stat, err := rc.procStat(); err == nil {
			s.MemoryBytes = uint64(stat.ResidentMemory())
			cpuSeconds := stat.CPUTime()
			if !rc.lastSampleTime.IsZero() {
				wall := now.Sub(rc.lastSampleTime).Seconds()
				if wall > 0 {
					s.CPUUsage = (cpuSeconds - rc.lastCPUSeconds) / (wall * float64(runtime.NumCPU()))
				}
			}
			rc.lastCPUSeconds = cpuSeconds
			rc.lastSampleTime = now
		} else {
			log.Debugf("procfs unavailable, falling back to runtime stats: %v", err)
			rc.procAvailable = false
		}
	}

	if s.MemoryBytes == 0 {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		s.MemoryBytes = ms.Sys
	}

	if rc.totalMemory > 0 {
		s.MemoryUsage = float64(s.MemoryBytes) / float64(rc.totalMemory)
	}
	if s.CPUUsage < 0 {
		s.CPUUsage = 0
	}

	return s
}

func (rc *ResourceCollector) procStat() (procfs.ProcStat, error) {
	p, err := procfs.Self()
	if err != nil {
		return procfs.ProcStat{}, err
	}
	return p.Stat()
}

// StaticSampler returns the same sample every time.
type StaticSampler ResourceSample

// Sample implements ResourceSampler
func (s StaticSampler) Sample() ResourceSample {
	return ResourceSample(s)
}
