package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/clanwars/ocrgov/config/adaptive"
	"github.com/clanwars/ocrgov/ocr"
)

var loadFlags struct {
	Duration       time.Duration
	Clients        int
	BulkRatio      float64
	BulkSize       int
	Latency        time.Duration
	FailureRate    float64
	Think          time.Duration
	SampleInterval time.Duration
	Seed           uint64
}

var loadtestCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Drive simulated OCR traffic through the governor",
	Long: `Starts the governor with a simulated OCR engine and runs --clients
concurrent submitters for --duration. Each submitter sends a bulk scan of
--bulk-size images with probability --bulk-ratio and a single image otherwise.
Tier statistics and the performance analysis are printed at the end.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if loadFlags.Clients < 1 {
			return fmt.Errorf("clients must be at least 1")
		}
		if loadFlags.Duration <= 0 {
			return fmt.Errorf("duration must be positive, got %s", loadFlags.Duration)
		}
		if loadFlags.SampleInterval <= 0 {
			return fmt.Errorf("sample-interval must be positive, got %s", loadFlags.SampleInterval)
		}

		engine := ocr.NewSimulatedEngine(loadFlags.Latency, loadFlags.FailureRate, loadFlags.Seed)
		a, err := newApp(adaptive.Load(), engine)
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := context.WithTimeout(cmd.Context(), loadFlags.Duration)
		defer cancel()

		scans, failures, err := runLoad(ctx, a)
		if err != nil {
			return err
		}
		pterm.Success.Printfln("%d scans completed, %d failed, %d borrow events",
			scans, failures, a.governor.Gate().Snapshot().BorrowEvents)

		if err := renderStats(a.governor.GetCurrentStats()); err != nil {
			return err
		}
		return renderReport(a.observer.Analyze())
	},
}

// runLoad drives the configured traffic until ctx ends. Snapshots come only
// from the governor's monitoring loop, plus one final tick after it stopped.
func runLoad(ctx context.Context, a *app) (int64, int64, error) {
	if err := a.governor.Start(ctx); err != nil {
		return 0, 0, err
	}

	var scans, failures atomic.Int64
	spinner, _ := pterm.DefaultSpinner.Start("Running load test")

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		ticker := time.NewTicker(loadFlags.SampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				gate := a.governor.GetCurrentStats().Gate
				spinner.UpdateText(fmt.Sprintf("scans=%d failures=%d queued=%d utilization=%s",
					scans.Load(), failures.Load(), gate.TotalWaiting, percent(gate.Utilization())))
			}
		}
	})
	for i := 0; i < loadFlags.Clients; i++ {
		rng := rand.New(rand.NewPCG(loadFlags.Seed, uint64(i)))
		client := fmt.Sprintf("client-%d", i)
		group.Go(func() error {
			for gctx.Err() == nil {
				n := 1
				if rng.Float64() < loadFlags.BulkRatio {
					n = loadFlags.BulkSize
				}
				_, err := a.processor.ScanBulk(gctx, syntheticImages(n), client)
				switch {
				case err == nil:
					scans.Add(1)
				case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
					return nil
				default:
					failures.Add(1)
				}
				if loadFlags.Think > 0 {
					select {
					case <-gctx.Done():
					case <-time.After(loadFlags.Think):
					}
				}
			}
			return nil
		})
	}
	err := group.Wait()
	_ = spinner.Stop()
	if err != nil {
		return scans.Load(), failures.Load(), err
	}

	if err := a.governor.Stop(); err != nil {
		return scans.Load(), failures.Load(), err
	}
	a.governor.Tick()
	return scans.Load(), failures.Load(), nil
}

func init() {
	f := loadtestCmd.Flags()
	f.DurationVar(&loadFlags.Duration, "duration", 30*time.Second, "how long to generate load")
	f.IntVar(&loadFlags.Clients, "clients", 8, "concurrent submitters")
	f.Float64Var(&loadFlags.BulkRatio, "bulk-ratio", 0.3, "probability that a submission is a bulk scan")
	f.IntVar(&loadFlags.BulkSize, "bulk-size", 20, "images per bulk scan")
	f.DurationVar(&loadFlags.Latency, "latency", 50*time.Millisecond, "simulated OCR time per image")
	f.Float64Var(&loadFlags.FailureRate, "failure-rate", 0.02, "probability that one image fails")
	f.DurationVar(&loadFlags.Think, "think", 0, "pause between submissions of one client")
	f.DurationVar(&loadFlags.SampleInterval, "sample-interval", time.Second, "how often to refresh the progress line")
	f.Uint64Var(&loadFlags.Seed, "seed", 1, "random seed")
}

func syntheticImages(n int) []ocr.Image {
	imgs := make([]ocr.Image, n)
	for i := range imgs {
		imgs[i] = ocr.Image{Name: fmt.Sprintf("screenshot-%d.png", i), Data: make([]byte, 4096)}
	}
	return imgs
}
