package monitoring_test

import (
	"fmt"
	"time"

	"github.com/clanwars/ocrgov/monitoring"
)

func ExampleObserver() {
	observer := monitoring.NewObserver(monitoring.WithMinSamples(3))

	for i := 0; i < 4; i++ {
		observer.Record(monitoring.MetricsSnapshot{
			Timestamp:   time.Unix(int64(i*60), 0),
			Mode:        "balanced",
			Utilization: 0.95,
			AvgWaitTime: 2 * time.Second,
			SuccessRate: 1,
		})
	}

	report := observer.Analyze()
	fmt.Println(report.Status, report.Trend)
	for _, issue := range report.Issues {
		fmt.Println(issue.Kind)
	}

	// Output:
	// ok stable
	// high_utilization
}
