package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pterm/pterm"

	"github.com/clanwars/ocrgov/config/adaptive"
	"github.com/clanwars/ocrgov/monitoring"
	"github.com/clanwars/ocrgov/ocr/governor"
	"github.com/clanwars/ocrgov/ocr/priority"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

func renderConfig(s adaptive.Snapshot) error {
	if globalFlags.JSON {
		return printJSON(s)
	}
	data := pterm.TableData{
		{"Setting", "Value"},
		{"mode", s.Mode},
		{"express capacity", strconv.Itoa(s.Capacities.Express)},
		{"standard capacity", strconv.Itoa(s.Capacities.Standard)},
		{"background capacity", strconv.Itoa(s.Capacities.Background)},
		{"borrowing", strconv.FormatBool(s.BorrowingEnabled)},
		{"borrowing threshold", percent(s.BorrowingThreshold)},
		{"usage adaptation", strconv.FormatBool(s.UsageAdaptationEnabled)},
		{"adaptation window", s.AdaptationWindow.String()},
		{"mode switch threshold", percent(s.ModeSwitchThreshold)},
		{"bulk threshold", strconv.Itoa(s.BulkThreshold)},
		{"min samples for switch", strconv.Itoa(s.MinSamplesForSwitch)},
		{"metrics interval", s.MetricsInterval.String()},
		{"cleanup interval", s.CleanupInterval.String()},
		{"memory cleanup threshold", percent(s.MemoryCleanupThreshold)},
		{"history retention", s.HistoryRetention.String()},
		{"history size", strconv.Itoa(s.CompletedHistorySize)},
		{"background queue limit", queueLimit(s.BackgroundQueueLimit)},
		{"capacity restore", restoreInterval(s.CapacityRestoreInterval)},
		{"workers", workerCount(s.WorkerCount)},
	}
	return pterm.DefaultTable.WithHasHeader(true).WithData(data).Render()
}

func queueLimit(n int) string {
	if n == 0 {
		return "unbounded"
	}
	return strconv.Itoa(n)
}

func restoreInterval(d time.Duration) string {
	if d == 0 {
		return "never"
	}
	return d.String()
}

func workerCount(n int) string {
	if n == 0 {
		return "GOMAXPROCS"
	}
	return strconv.Itoa(n)
}

func renderStats(s governor.Stats) error {
	if globalFlags.JSON {
		return printJSON(s)
	}

	pterm.DefaultSection.Println("Tiers")
	tiers := pterm.TableData{{"Tier", "Active", "Capacity", "Baseline", "Waiting", "Utilization", "Granted", "Rejected", "Avg wait"}}
	for _, t := range priority.AllTiers {
		ts := s.Gate.Tier(t)
		tiers = append(tiers, []string{
			t.String(),
			strconv.Itoa(ts.Active),
			strconv.Itoa(ts.Capacity),
			strconv.Itoa(ts.Baseline),
			strconv.Itoa(ts.Waiting),
			percent(ts.Utilization),
			strconv.FormatInt(ts.Granted, 10),
			strconv.FormatInt(ts.Rejected, 10),
			s.Usage.AvgTierWait(t).Round(time.Millisecond).String(),
		})
	}
	if err := pterm.DefaultTable.WithHasHeader(true).WithData(tiers).Render(); err != nil {
		return err
	}

	pterm.DefaultSection.Println("Window")
	window := pterm.TableData{
		{"mode", s.Mode},
		{"uptime", s.Uptime.Round(time.Second).String()},
		{"window start", s.Usage.WindowStart.Format(time.RFC3339)},
		{"requests", strconv.FormatInt(s.Usage.TotalRequests, 10)},
		{"single / bulk", fmt.Sprintf("%s / %s", percent(s.Usage.SingleRatio()), percent(s.Usage.BulkRatio()))},
		{"success rate", percent(s.Usage.SuccessRate())},
		{"avg wait", s.Usage.AvgWait().Round(time.Millisecond).String()},
		{"peak wait", s.Usage.PeakWait.Round(time.Millisecond).String()},
		{"avg processing", s.Usage.AvgProcessing().Round(time.Millisecond).String()},
		{"borrow events", strconv.FormatInt(s.Totals.BorrowEvents, 10)},
		{"mode switches", strconv.FormatInt(s.Totals.ModeSwitches, 10)},
		{"completed", strconv.FormatInt(s.Totals.Completed, 10)},
		{"memory", fmt.Sprintf("%s (%d MiB)", percent(s.Resources.MemoryUsage), s.Resources.MemoryBytes>>20)},
		{"cpu", percent(s.Resources.CPUUsage)},
	}
	return pterm.DefaultTable.WithData(window).Render()
}

func renderReport(r monitoring.Report) error {
	if globalFlags.JSON {
		return printJSON(r)
	}

	pterm.DefaultSection.Println("Analysis")
	if r.Status != monitoring.StatusOK {
		pterm.Warning.Printfln("%s: %s", r.Status, r.Message)
		return nil
	}

	summary := pterm.TableData{
		{"samples", fmt.Sprintf("%d (window %d)", r.SampleCount, r.WindowSize)},
		{"trend", string(r.Trend)},
		{"avg wait", r.AvgWaitTime.Round(time.Millisecond).String()},
		{"avg utilization", percent(r.AvgUtilization)},
		{"avg success rate", percent(r.AvgSuccessRate)},
		{"avg throughput", fmt.Sprintf("%.1f/min", r.AvgThroughput)},
		{"mode", r.CurrentMode},
	}
	if err := pterm.DefaultTable.WithData(summary).Render(); err != nil {
		return err
	}

	for _, issue := range r.Issues {
		if issue.Severity == monitoring.SeverityCritical {
			pterm.Error.Println(issue.Message)
		} else {
			pterm.Warning.Println(issue.Message)
		}
	}
	for _, s := range r.Suggestions {
		pterm.Info.Println(s)
	}
	return nil
}
