package policy

import (
	"testing"
	"time"

	"github.com/clanwars/ocrgov/config/adaptive"
	"github.com/stretchr/testify/assert"
)

func TestDecide(t *testing.T) {
	th := Thresholds{ModeSwitch: 0.7, HighWait: 10 * time.Second}

	tests := []struct {
		name    string
		in      Input
		want    adaptive.Mode
		changed bool
	}{
		{
			name:    "bulk dominated",
			in:      Input{BulkRatio: 0.9, SingleRatio: 0.1, Current: adaptive.Balanced},
			want:    adaptive.BulkHeavy,
			changed: true,
		},
		{
			name:    "single dominated",
			in:      Input{BulkRatio: 0.2, SingleRatio: 0.8, Current: adaptive.BulkHeavy},
			want:    adaptive.SingleFocused,
			changed: true,
		},
		{
			name: "already bulk heavy",
			in:   Input{BulkRatio: 0.95, Current: adaptive.BulkHeavy},
			want: adaptive.BulkHeavy,
		},
		{
			name: "ratio equal to threshold does not switch",
			in:   Input{BulkRatio: 0.7, SingleRatio: 0.3, Current: adaptive.Balanced},
			want: adaptive.Balanced,
		},
		{
			name:    "mixed traffic with long waits returns to balanced",
			in:      Input{BulkRatio: 0.5, SingleRatio: 0.5, AvgWait: 12 * time.Second, Current: adaptive.SingleFocused},
			want:    adaptive.Balanced,
			changed: true,
		},
		{
			name: "mixed traffic with short waits keeps specialized mode",
			in:   Input{BulkRatio: 0.5, SingleRatio: 0.5, AvgWait: time.Second, Current: adaptive.SingleFocused},
			want: adaptive.SingleFocused,
		},
		{
			name: "mixed traffic while balanced",
			in:   Input{BulkRatio: 0.5, SingleRatio: 0.5, AvgWait: time.Minute, Current: adaptive.Balanced},
			want: adaptive.Balanced,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := Decide(tt.in, th)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.changed, changed)
		})
	}
}

func TestThresholdsFrom(t *testing.T) {
	c := adaptive.DefaultConfig()
	c.ModeSwitchThreshold = 0.8
	th := ThresholdsFrom(c)
	assert.Equal(t, 0.8, th.ModeSwitch)
	assert.Equal(t, DefaultHighWait, th.HighWait)
}
