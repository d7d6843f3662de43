package breaker

import "time"

// Counter tracks occurrences of one outcome kind since a window start.
// Since is zero while Count is zero.
type Counter struct {
	Count int       `json:"count"`
	Since time.Time `json:"since,omitzero"`
}

// bump increments the counter, starting a new window on the first hit.
func (c *Counter) bump() {
	if c.Count == 0 {
		c.Since = time.Now()
	}
	c.Count++
}

// Record is the breaker state for one guarded service. Records stored in
// the registry are immutable snapshots: the coordinator clones a record,
// mutates the clone, and swaps it in, so lock-free readers always see a
// consistent view. An absent record is equivalent to a fresh OK record
// with zero counters.
type Record struct {
	Service   string    `json:"service"`
	Status    Status    `json:"status"`
	Errors    Counter   `json:"errors"`
	Timeouts  Counter   `json:"timeouts"`
	Manual    bool      `json:"manual"` // blocked by Block rather than by counters
	BlockedAt time.Time `json:"blocked_at,omitzero"`

	// Coordinator-owned fields. timer is non-nil exactly when the service
	// is BLOCKED automatically and a reset evaluation is pending; timerSeq
	// invalidates fires from timers that have since been replaced.
	resetProbe   func() bool
	resetTimeout time.Duration
	timer        *time.Timer
	timerSeq     uint64
}

func newRecord(service string) *Record {
	return &Record{Service: service, Status: StatusOK}
}

// clone returns a shallow copy for mutation by the coordinator.
func (r *Record) clone() *Record {
	c := *r
	return &c
}

// public returns a copy with only the externally visible fields, for
// snapshots handed to callers.
func (r *Record) public() Record {
	return Record{
		Service:   r.Service,
		Status:    r.Status,
		Errors:    r.Errors,
		Timeouts:  r.Timeouts,
		Manual:    r.Manual,
		BlockedAt: r.BlockedAt,
	}
}
