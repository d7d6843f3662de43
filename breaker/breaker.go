// Package breaker provides per-service circuit breaking for arbitrary
// guarded operations. A Registry tracks recent call outcomes per service
// identity and refuses new calls once failure or timeout thresholds are
// crossed, while letting already-in-flight work run to completion.
//
// The admission check is a lock-free read and never blocks behind call
// execution. Every state mutation (call outcomes, manual block/clear,
// reset-timer evaluations) funnels through a single coordinator
// goroutine, so concurrent callers never lose or double-apply counter
// updates. A call that outlives its timeout keeps running detached; the
// caller is told the call timed out, and the operation's eventual outcome
// is still counted when it arrives.
//
// Blocked services recover through a per-service reset timer: on each
// fire the stored reset probe is consulted, and the service is either
// cleared or rescheduled. Manual blocks never time out on their own and
// require an explicit Clear.
package breaker

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Registry tracks one breaker record per guarded service and coordinates
// all state transitions. The zero value is not usable; construct with New.
type Registry struct {
	store    *store
	cmds     chan command
	defaults atomic.Pointer[Policy]
	notifier Notifier
	logger   *slog.Logger

	closeOnce sync.Once
	stop      chan struct{} // closed by Close; stops accepting commands
	done      chan struct{} // closed when the coordinator exits
}

// New creates a Registry with the given default policy. Zero policy
// fields fall back to DefaultPolicy. A nil notifier logs events through
// logger; a nil logger falls back to slog.Default.
func New(defaults Policy, notifier Notifier, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}

	r := &Registry{
		store:    &store{},
		cmds:     make(chan command, 256),
		notifier: notifier,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	p := defaults.withDefaults()
	r.defaults.Store(&p)

	go r.run()
	return r
}

// Defaults returns the current default policy.
func (r *Registry) Defaults() Policy {
	return *r.defaults.Load()
}

// UpdateDefaults swaps the default policy. In-flight calls keep the
// policy they were dispatched with; subsequent calls and late reports
// that carry no override pick up the new one.
func (r *Registry) UpdateDefaults(p Policy) {
	p = p.withDefaults()
	r.defaults.Store(&p)
}

// Close stops the coordinator and cancels all pending reset timers.
// Guarded operations still running are not interrupted, but their
// outcomes are no longer recorded.
func (r *Registry) Close() {
	r.closeOnce.Do(func() { close(r.stop) })
	<-r.done
}

// Block forces the service into BLOCKED regardless of counters. A manual
// block schedules no reset timer; only Clear releases it. Returns once
// the transition is applied.
func (r *Registry) Block(service string) {
	r.sync(command{kind: cmdBlock, service: service})
}

// Clear forces the service to OK, zeroes both counters, and cancels any
// pending reset timer. Returns once the transition is applied.
func (r *Registry) Clear(service string) {
	r.sync(command{kind: cmdClear, service: service})
}

// IsActive reports whether the service admits calls (status OK). A
// never-referenced service is active.
func (r *Registry) IsActive(service string) bool {
	rec, ok := r.store.get(service)
	return !ok || rec.Status == StatusOK
}

// IsBlocked reports whether the service refuses calls (status WARNING
// or BLOCKED).
func (r *Registry) IsBlocked(service string) bool {
	rec, ok := r.store.get(service)
	return ok && rec.Status != StatusOK
}

// Snapshot returns a point-in-time copy of every breaker record, ordered
// by service name. It requires no coordination with writers.
func (r *Registry) Snapshot() []Record {
	recs := r.store.snapshot()
	out := make([]Record, len(recs))
	for i, rec := range recs {
		out[i] = rec.public()
	}
	return out
}

// Info is one row of operational display output.
type Info struct {
	Service      string `json:"service"`
	Status       string `json:"status"`
	ErrorCount   int    `json:"error_count"`
	TimeoutCount int    `json:"timeout_count"`
}

// Info returns the current status and counts for every service, ordered
// by service name.
func (r *Registry) Info() []Info {
	recs := r.store.snapshot()
	out := make([]Info, len(recs))
	for i, rec := range recs {
		out[i] = Info{
			Service:      rec.Service,
			Status:       rec.Status.String(),
			ErrorCount:   rec.Errors.Count,
			TimeoutCount: rec.Timeouts.Count,
		}
	}
	return out
}

// enqueue submits a command to the coordinator. Returns false if the
// registry is closed.
func (r *Registry) enqueue(cmd command) bool {
	select {
	case r.cmds <- cmd:
		return true
	case <-r.stop:
		return false
	}
}

// sync submits a command and waits until the coordinator has applied it.
func (r *Registry) sync(cmd command) {
	cmd.applied = make(chan struct{})
	if !r.enqueue(cmd) {
		return
	}
	select {
	case <-cmd.applied:
	case <-r.done:
	}
}
