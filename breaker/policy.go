package breaker

import "time"

// Policy holds the thresholds and timeouts applied to guarded calls.
// The warn and block crossings are independently configurable for each
// counter: crossing a warn threshold moves an OK service to WARNING,
// crossing a block threshold moves it to BLOCKED. A policy travels with
// each call; late reports from detached operations are evaluated against
// the policy that was in effect when the call was dispatched.
type Policy struct {
	// ErrorWarnThreshold is the error count at which an OK service
	// transitions to WARNING.
	ErrorWarnThreshold int `yaml:"error_warn_threshold" json:"error_warn_threshold"`

	// ErrorBlockThreshold is the error count at which a service
	// transitions to BLOCKED.
	ErrorBlockThreshold int `yaml:"error_block_threshold" json:"error_block_threshold"`

	// TimeoutWarnThreshold is the call-timeout count at which an OK
	// service transitions to WARNING.
	TimeoutWarnThreshold int `yaml:"timeout_warn_threshold" json:"timeout_warn_threshold"`

	// TimeoutBlockThreshold is the call-timeout count at which a service
	// transitions to BLOCKED.
	TimeoutBlockThreshold int `yaml:"timeout_block_threshold" json:"timeout_block_threshold"`

	// CallTimeout bounds how long a caller waits for the guarded
	// operation. The operation itself is never cancelled.
	CallTimeout time.Duration `yaml:"call_timeout" json:"call_timeout"`

	// ResetTimeout is the delay before a blocked service is re-evaluated
	// for recovery.
	ResetTimeout time.Duration `yaml:"reset_timeout" json:"reset_timeout"`
}

// DefaultPolicy returns the stock policy applied when a call supplies
// no overrides.
func DefaultPolicy() Policy {
	return Policy{
		ErrorWarnThreshold:    5,
		ErrorBlockThreshold:   10,
		TimeoutWarnThreshold:  5,
		TimeoutBlockThreshold: 10,
		CallTimeout:           10 * time.Second,
		ResetTimeout:          30 * time.Second,
	}
}

// withDefaults fills zero-valued fields from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.ErrorWarnThreshold <= 0 {
		p.ErrorWarnThreshold = d.ErrorWarnThreshold
	}
	if p.ErrorBlockThreshold <= 0 {
		p.ErrorBlockThreshold = d.ErrorBlockThreshold
	}
	if p.TimeoutWarnThreshold <= 0 {
		p.TimeoutWarnThreshold = d.TimeoutWarnThreshold
	}
	if p.TimeoutBlockThreshold <= 0 {
		p.TimeoutBlockThreshold = d.TimeoutBlockThreshold
	}
	if p.CallTimeout <= 0 {
		p.CallTimeout = d.CallTimeout
	}
	if p.ResetTimeout <= 0 {
		p.ResetTimeout = d.ResetTimeout
	}
	return p
}
