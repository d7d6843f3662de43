package breaker

import (
	"fmt"
	"time"

	"github.com/dskow/breaker-core/internal/metrics"
)

type cmdKind int

const (
	cmdOutcome     cmdKind = iota // a call finished (possibly late, after the caller left)
	cmdBlock                      // manual block
	cmdClear                      // manual clear
	cmdResetCheck                 // reset timer fired
	cmdResetResult                // reset probe finished
)

// command is one serialized mutation request. Commands from many callers
// and from reset timers drain through a single channel, so for any one
// service they are applied in arrival order.
type command struct {
	kind    cmdKind
	service string

	// cmdOutcome
	outcome      Outcome
	policy       Policy
	resetProbe   func() bool
	resetTimeout time.Duration

	// cmdResetCheck / cmdResetResult. seq is the timer generation the
	// command belongs to; a mismatch against the record means the timer
	// was replaced or cancelled and the command is stale.
	seq     uint64
	healthy bool

	// applied, when non-nil, is closed after the command takes effect.
	applied chan struct{}
}

// run is the coordinator loop. It is the only goroutine that writes to
// the store.
func (r *Registry) run() {
	defer close(r.done)
	for {
		select {
		case cmd := <-r.cmds:
			r.apply(cmd)
		case <-r.stop:
			r.stopTimers()
			return
		}
	}
}

func (r *Registry) apply(cmd command) {
	switch cmd.kind {
	case cmdOutcome:
		r.applyOutcome(cmd)
	case cmdBlock:
		r.applyBlock(cmd)
	case cmdClear:
		r.applyClear(cmd)
	case cmdResetCheck:
		r.applyResetCheck(cmd)
	case cmdResetResult:
		r.applyResetResult(cmd)
	}
	if cmd.applied != nil {
		close(cmd.applied)
	}
}

// lookup returns a mutable clone of the service's record, creating a
// fresh OK record on first reference.
func (r *Registry) lookup(service string) *Record {
	rec, ok := r.store.get(service)
	if !ok {
		return newRecord(service)
	}
	return rec.clone()
}

func (r *Registry) applyOutcome(cmd command) {
	rec := r.lookup(cmd.service)

	// Retain the most recent recovery parameters so the reset timer can
	// re-evaluate without the caller resupplying them.
	if cmd.resetProbe != nil {
		rec.resetProbe = cmd.resetProbe
	}
	if cmd.resetTimeout > 0 {
		rec.resetTimeout = cmd.resetTimeout
	}

	switch cmd.outcome {
	case OutcomeSuccess:
		rec.Errors = Counter{}
		rec.Timeouts = Counter{}
		// A single success clears counter-caused WARNING. BLOCKED is
		// released only by a reset evaluation or a manual clear.
		if rec.Status == StatusWarning {
			r.transition(rec, StatusOK, "successful call")
		}
	case OutcomeFailure:
		rec.Errors.bump()
		r.evaluate(rec, cmd.policy)
	case OutcomeTimeout:
		rec.Timeouts.bump()
		r.evaluate(rec, cmd.policy)
	}

	r.store.put(rec)
}

// evaluate applies the threshold crossings after a counter increment.
// Within one evaluation status only escalates; it never moves down.
func (r *Registry) evaluate(rec *Record, p Policy) {
	if rec.Status == StatusBlocked {
		return
	}

	blocked := rec.Errors.Count >= p.ErrorBlockThreshold ||
		rec.Timeouts.Count >= p.TimeoutBlockThreshold
	warned := rec.Errors.Count >= p.ErrorWarnThreshold ||
		rec.Timeouts.Count >= p.TimeoutWarnThreshold

	switch {
	case blocked:
		detail := fmt.Sprintf("auto-blocked: %d errors, %d timeouts", rec.Errors.Count, rec.Timeouts.Count)
		r.transition(rec, StatusBlocked, detail)
		rec.BlockedAt = time.Now()
		rec.Manual = false
		r.scheduleReset(rec, p)
		r.notifier.Notify(LevelError, rec.Service, StatusBlocked, detail)
	case warned && rec.Status == StatusOK:
		r.transition(rec, StatusWarning,
			fmt.Sprintf("threshold warning: %d errors, %d timeouts", rec.Errors.Count, rec.Timeouts.Count))
	}
}

func (r *Registry) applyBlock(cmd command) {
	rec := r.lookup(cmd.service)

	// A manual block holds until an explicit clear; cancel any automatic
	// recovery already scheduled.
	r.cancelTimer(rec)
	rec.Manual = true
	if rec.Status != StatusBlocked {
		rec.BlockedAt = time.Now()
		r.transition(rec, StatusBlocked, "manual block")
	}

	r.store.put(rec)
}

func (r *Registry) applyClear(cmd command) {
	rec := r.lookup(cmd.service)
	r.release(rec, false)
	r.store.put(rec)
}

// release returns a record to OK with zero counters, cancelling any
// pending reset evaluation. auto distinguishes timer-driven recovery
// (notified as auto-cleared) from a manual clear.
func (r *Registry) release(rec *Record, auto bool) {
	r.cancelTimer(rec)
	rec.Errors = Counter{}
	rec.Timeouts = Counter{}
	rec.Manual = false
	rec.BlockedAt = time.Time{}

	if rec.Status == StatusOK {
		return
	}
	if auto {
		r.transition(rec, StatusOK, "auto-cleared")
		r.notifier.Notify(LevelInfo, rec.Service, StatusOK, "auto-cleared: reset probe reported healthy")
	} else {
		r.transition(rec, StatusOK, "manual clear")
	}
}

func (r *Registry) applyResetCheck(cmd command) {
	rec, ok := r.store.get(cmd.service)
	if !ok {
		return
	}
	if rec.Status != StatusBlocked || cmd.seq != rec.timerSeq {
		// The timer was replaced or the service already cleared.
		metrics.ResetChecks.WithLabelValues(cmd.service, "stale").Inc()
		return
	}

	// No probe stored: recover on time alone.
	if rec.resetProbe == nil {
		rec = rec.clone()
		r.release(rec, true)
		r.store.put(rec)
		metrics.ResetChecks.WithLabelValues(cmd.service, "recovered").Inc()
		return
	}

	// Run the probe off the coordinator so a slow health check cannot
	// stall every other breaker. The seq guard drops the result if the
	// service is cleared or re-blocked in the meantime.
	probe := rec.resetProbe
	service := cmd.service
	seq := cmd.seq
	go func() {
		healthy := probe()
		r.enqueue(command{kind: cmdResetResult, service: service, seq: seq, healthy: healthy})
	}()
}

func (r *Registry) applyResetResult(cmd command) {
	rec, ok := r.store.get(cmd.service)
	if !ok || rec.Status != StatusBlocked || cmd.seq != rec.timerSeq {
		metrics.ResetChecks.WithLabelValues(cmd.service, "stale").Inc()
		return
	}

	rec = rec.clone()
	if cmd.healthy {
		r.release(rec, true)
		metrics.ResetChecks.WithLabelValues(cmd.service, "recovered").Inc()
	} else {
		r.logger.Debug("service still unhealthy, rescheduling reset check",
			"service", rec.Service, "reset_timeout", r.resetTimeoutFor(rec))
		r.scheduleReset(rec, r.Defaults())
		metrics.ResetChecks.WithLabelValues(cmd.service, "still_blocked").Inc()
	}
	r.store.put(rec)
}

// scheduleReset installs the reset timer for a blocked record, replacing
// any timer already pending. Must only run on the coordinator.
func (r *Registry) scheduleReset(rec *Record, p Policy) {
	if rec.timer != nil {
		rec.timer.Stop()
	}
	rec.timerSeq++
	seq := rec.timerSeq
	service := rec.Service

	d := rec.resetTimeout
	if d <= 0 {
		d = p.ResetTimeout
	}
	rec.timer = time.AfterFunc(d, func() {
		r.enqueue(command{kind: cmdResetCheck, service: service, seq: seq})
	})
}

// cancelTimer stops and discards the pending reset timer, if any, and
// invalidates fires already in flight.
func (r *Registry) cancelTimer(rec *Record) {
	if rec.timer != nil {
		rec.timer.Stop()
		rec.timer = nil
	}
	rec.timerSeq++
}

// resetTimeoutFor returns the effective reset delay for a record.
func (r *Registry) resetTimeoutFor(rec *Record) time.Duration {
	if rec.resetTimeout > 0 {
		return rec.resetTimeout
	}
	return r.Defaults().ResetTimeout
}

// transition changes a record's status, emitting metrics and logging.
func (r *Registry) transition(rec *Record, to Status, reason string) {
	from := rec.Status
	rec.Status = to

	metrics.StateChanges.WithLabelValues(rec.Service, from.String(), to.String()).Inc()
	metrics.State.WithLabelValues(rec.Service).Set(float64(to))

	r.logger.Info("breaker status change",
		"service", rec.Service,
		"from", from.String(),
		"to", to.String(),
		"reason", reason,
	)
}

// stopTimers cancels every pending reset timer at shutdown.
func (r *Registry) stopTimers() {
	for _, rec := range r.store.snapshot() {
		if rec.timer != nil {
			rec.timer.Stop()
		}
	}
}
