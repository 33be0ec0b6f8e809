package main

import (
	"fmt"

	logging "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/clanwars/ocrgov/config/adaptive"
	"github.com/clanwars/ocrgov/monitoring"
	"github.com/clanwars/ocrgov/ocr"
	"github.com/clanwars/ocrgov/ocr/governor"
	"github.com/clanwars/ocrgov/ocr/worker"
)

var log = logging.Logger("ocrgovd")

type globalOptions struct {
	LogLevel string
	JSON     bool
}

var globalFlags globalOptions

var rootCmd = &cobra.Command{
	Use:   "ocrgovd",
	Short: "Priority-tiered OCR resource governor",
	Long: `ocrgovd arbitrates a CPU-bound OCR worker pool between interactive single
image scans and large bulk scans.

Configuration is read once at startup from OCR_* environment variables, for
example OCR_EXPRESS_MAX_CONCURRENT=3 or OCR_RESOURCE_MODE=bulk_heavy. Values
outside their documented range are clamped with a warning.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.SetLogLevel("*", globalFlags.LogLevel); err != nil {
			return fmt.Errorf("log level: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalFlags.LogLevel, "log-level", "info", "log level: debug|info|warn|error")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.JSON, "json", false, "print JSON instead of tables")

	rootCmd.AddCommand(serveCmd, loadtestCmd, configCmd)
}

// app is the composition root: every long-lived component is built here
// and handed to whatever needs it.
type app struct {
	config    *adaptive.Config
	metrics   *monitoring.PerformanceMonitor
	observer  *monitoring.Observer
	governor  *governor.Governor
	pool      *worker.Pool
	processor *ocr.Processor
}

func newApp(cfg *adaptive.Config, engine ocr.Engine, options ...ocr.ProcessorOption) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := &app{
		config:   cfg,
		metrics:  monitoring.NewPerformanceMonitor(registry),
		observer: monitoring.NewObserver(),
	}
	a.governor = governor.New(cfg,
		governor.WithObserver(a.observer),
		governor.WithPerformanceMonitor(a.metrics),
	)
	snap := cfg.GetSnapshot()
	a.pool = worker.NewPool(snap.WorkerCount)
	a.processor = ocr.NewProcessor(a.governor, engine, a.pool, options...)

	// borrowing keeps the total capacity, so this many workers lets every
	// admitted item run without queueing behind another tier in the pool
	if need := snap.Capacities.Total() * a.processor.ItemParallelism(); a.pool.Stats().Workers < need {
		log.Warnf("Worker count %d is below %d admitted items (capacity %d x parallelism %d), growing pool",
			a.pool.Stats().Workers, need, snap.Capacities.Total(), a.processor.ItemParallelism())
		a.pool.EnsureWorkers(need)
	}
	return a, nil
}

func (a *app) close() {
	if err := a.governor.Stop(); err != nil {
		log.Warnf("Stopping governor: %v", err)
	}
	if err := a.pool.Close(); err != nil {
		log.Warnf("Closing worker pool: %v", err)
	}
}
