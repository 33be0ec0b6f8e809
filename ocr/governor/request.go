package governor

import (
	"time"

	"github.com/clanwars/ocrgov/ocr/priority"
)

// State is the lifecycle position of a request.
type State int

const (
	// StateQueued requests are waiting for a gate slot
	StateQueued State = iota
	// StateRunning requests hold a gate slot
	StateRunning
	// StateCompleted requests have left the governed scope, successfully or not
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Request is one submitted OCR job. Its fields are written by the governor
// while the job is inside RunScoped; callers should read them after RunScoped
// returns or through the tracker's copies.
type Request struct {
	ID           string        `json:"id"`
	Tier         priority.Tier `json:"tier"`
	ItemCount    int           `json:"item_count"`
	SubmitterIDs []string      `json:"submitter_ids,omitempty"`

	State       State     `json:"state"`
	QueuedAt    time.Time `json:"queued_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`

	Success bool `json:"success"`
	// Rejected is set when the request was refused a slot because its tier
	// queue was full
	Rejected bool  `json:"rejected,omitempty"`
	Err      error `json:"-"`
}

// Started reports whether the request was ever granted a slot.
func (r *Request) Started() bool {
	return !r.StartedAt.IsZero()
}

// WaitTime is the time between submission and the slot grant. For requests
// that never got a slot it is the time until they gave up.
func (r *Request) WaitTime() time.Duration {
	switch {
	case r.Started():
		return r.StartedAt.Sub(r.QueuedAt)
	case !r.CompletedAt.IsZero():
		return r.CompletedAt.Sub(r.QueuedAt)
	default:
		return 0
	}
}

// ProcessingTime is the time the request held its slot.
func (r *Request) ProcessingTime() time.Duration {
	if !r.Started() || r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// clone returns a copy that shares no mutable state with r.
func (r *Request) clone() Request {
	c := *r
	if r.SubmitterIDs != nil {
		c.SubmitterIDs = append([]string(nil), r.SubmitterIDs...)
	}
	return c
}
