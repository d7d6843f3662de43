package breaker

// Status is the admission state of a guarded service.
type Status int

const (
	StatusOK      Status = iota // Calls are admitted.
	StatusWarning               // Soft block; counters crossed the warn threshold, calls refused.
	StatusBlocked               // Hard block; automatic (reset timer pending) or manual.
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusWarning:
		return "warning"
	case StatusBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Outcome classifies how a guarded call finished.
type Outcome int

const (
	OutcomeSuccess Outcome = iota // Operation returned nil.
	OutcomeFailure                // Operation returned an error.
	OutcomeTimeout                // Caller gave up waiting; operation still running.
)

// String returns a human-readable outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}
