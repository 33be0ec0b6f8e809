package ocr

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// ErrSimulatedFailure is returned by SimulatedEngine for injected failures
var ErrSimulatedFailure = errors.New("simulated ocr failure")

// SimulatedEngine stands in for a real OCR backend in load tests. Each call
// burns CPU for a duration drawn around BaseLatency plus PerKB for the image
// size, and fails with probability FailureRate.
type SimulatedEngine struct {
	BaseLatency time.Duration
	Jitter      float64 // fraction of BaseLatency added or removed at random
	PerKB       time.Duration
	FailureRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedEngine creates an engine with a seeded random source.
func NewSimulatedEngine(base time.Duration, failureRate float64, seed uint64) *SimulatedEngine {
	return &SimulatedEngine{
		BaseLatency: base,
		Jitter:      0.25,
		FailureRate: failureRate,
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (e *SimulatedEngine) draw() (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rng == nil {
		e.rng = rand.New(rand.NewPCG(1, 2))
	}
	d := e.BaseLatency
	if e.Jitter > 0 && d > 0 {
		d += time.Duration((e.rng.Float64()*2 - 1) * e.Jitter * float64(d))
	}
	return d, e.rng.Float64() < e.FailureRate
}

// PerformOCR implements Engine
func (e *SimulatedEngine) PerformOCR(ctx context.Context, img Image) (Result, error) {
	d, fail := e.draw()
	d += time.Duration(len(img.Data)/1024) * e.PerKB

	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		spin(50 * time.Microsecond)
	}

	if fail {
		return Result{}, fmt.Errorf("%w: %s", ErrSimulatedFailure, img.Name)
	}
	return Result{
		Success:    true,
		Text:       fmt.Sprintf("%s: %d bytes", img.Name, len(img.Data)),
		Confidence: 0.9,
	}, nil
}

// spin keeps the CPU busy for roughly d.
func spin(d time.Duration) {
	end := time.Now().Add(d)
	x := 0
	for time.Now().Before(end) {
		x++
	}
	_ = x
}
