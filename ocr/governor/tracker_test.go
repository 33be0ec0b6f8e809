package governor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clanwars/ocrgov/ocr/priority"
)

func TestAvgWaitIgnoresRejected(t *testing.T) {
	start := time.Unix(1000, 0)
	tr := NewTracker(10, 10, start)

	admitted := &Request{ID: "admitted", Tier: priority.Background, ItemCount: 20, State: StateQueued, QueuedAt: start}
	tr.begin(admitted)
	tr.markRunning(admitted, start.Add(8*time.Second))
	tr.complete(admitted, start.Add(9*time.Second), nil, false)

	for _, id := range []string{"rejected-1", "rejected-2", "rejected-3"} {
		r := &Request{ID: id, Tier: priority.Background, ItemCount: 20, State: StateQueued, QueuedAt: start}
		tr.begin(r)
		tr.complete(r, start, priority.ErrQueueFull, true)
	}

	usage := tr.Usage()
	require.Equal(t, int64(4), usage.TotalRequests)
	assert.Equal(t, int64(3), usage.Rejected)
	assert.Equal(t, int64(3), usage.TierRejected[priority.Background])
	assert.Equal(t, 8*time.Second, usage.AvgWait())
	assert.Equal(t, 8*time.Second, usage.AvgTierWait(priority.Background))
}

func TestAvgWaitAllRejected(t *testing.T) {
	u := UsageStats{TotalRequests: 2, Rejected: 2}
	u.TierRequests[priority.Background] = 2
	u.TierRejected[priority.Background] = 2

	assert.Zero(t, u.AvgWait())
	assert.Zero(t, u.AvgTierWait(priority.Background))
}
