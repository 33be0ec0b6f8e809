package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/clanwars/ocrgov/config/adaptive"
	"github.com/clanwars/ocrgov/monitoring"
	"github.com/clanwars/ocrgov/ocr"
)

var serveFlags struct {
	Listen         string
	ReportInterval time.Duration
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the governor and its HTTP endpoints",
	Long: `Runs the governor with its monitoring, cleanup and capacity restore loops
and serves:

  GET /metrics   Prometheus metrics
  GET /stats     current gate state and window statistics (JSON)
  GET /report    latest performance analysis (JSON)

A performance report is logged every --report-interval.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveFlags.ReportInterval <= 0 {
			return fmt.Errorf("report-interval must be positive, got %s", serveFlags.ReportInterval)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// The OCR backend is wired by the embedding service; serve runs the
		// governor against the simulated engine.
		a, err := newApp(adaptive.Load(), ocr.NewSimulatedEngine(500*time.Millisecond, 0, uint64(time.Now().UnixNano())))
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.governor.Start(ctx); err != nil {
			return err
		}

		srv := &http.Server{
			Addr:              serveFlags.Listen,
			Handler:           a.routes(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() {
			log.Infof("Listening on %s", serveFlags.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		ticker := time.NewTicker(serveFlags.ReportInterval)
		defer ticker.Stop()

	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case err := <-errCh:
				return err
			case <-ticker.C:
				logReport(a.observer.Analyze())
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.Listen, "listen", ":9464", "HTTP listen address")
	serveCmd.Flags().DurationVar(&serveFlags.ReportInterval, "report-interval", 5*time.Minute, "how often to log a performance report")
}

func (a *app) routes() http.Handler {
	router := mux.NewRouter()
	router.Handle("/metrics", a.metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/stats", a.handleStats).Methods(http.MethodGet)
	router.HandleFunc("/report", a.handleReport).Methods(http.MethodGet)
	return router
}

func (a *app) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.governor.GetCurrentStats())
}

func (a *app) handleReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.observer.Analyze())
}

func logReport(r monitoring.Report) {
	if r.Status != monitoring.StatusOK {
		log.Infof("Performance report: %s (%s)", r.Status, r.Message)
		return
	}
	log.Infof("Performance report: trend=%s avg_wait=%s utilization=%.2f success=%.2f issues=%d",
		r.Trend, r.AvgWaitTime, r.AvgUtilization, r.AvgSuccessRate, len(r.Issues))
	for _, s := range r.Suggestions {
		log.Infof("Suggestion: %s", s)
	}
}
