package breaker

import (
	"context"
	"fmt"
	"time"

	"github.com/dskow/breaker-core/internal/metrics"
)

// CallOptions customizes a single guarded call. Zero fields fall back to
// the registry's default policy.
type CallOptions struct {
	// Timeout bounds the caller's wait. The operation itself is never
	// cancelled when it elapses.
	Timeout time.Duration

	// ResetProbe is stored with the service record; when the service
	// auto-blocks, the reset timer consults it to decide recovery. Nil
	// leaves the last-supplied probe in place (or, if none was ever
	// supplied, recovery happens on time alone).
	ResetProbe func() bool

	// ResetTimeout is the delay between reset evaluations once the
	// service blocks.
	ResetTimeout time.Duration

	// Policy overrides the threshold crossings for this call's outcome.
	Policy *Policy
}

// Call runs op under the breaker for service with default options.
// See CallWithOptions.
func (r *Registry) Call(ctx context.Context, service string, op func() error) error {
	return r.CallWithOptions(ctx, service, op, CallOptions{})
}

// CallWithOptions runs op under the breaker for service.
//
// If the admission check refuses, a *RefusedError is returned and op is
// never invoked. Otherwise op runs in its own goroutine, detached from
// the caller's wait: when the call timeout elapses first, ErrTimedOut is
// returned immediately, a timeout outcome is recorded, and op keeps
// running; its eventual result still updates the counters but is never
// delivered to the caller. Operation errors are passed through
// unmodified. Cancelling ctx abandons the wait without recording a
// timeout; the detached outcome is still counted when it arrives.
func (r *Registry) CallWithOptions(ctx context.Context, service string, op func() error, opts CallOptions) error {
	pol := r.Defaults()
	if opts.Policy != nil {
		pol = opts.Policy.withDefaults()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = pol.CallTimeout
	}

	if rec, ok := r.store.get(service); ok && rec.Status != StatusOK {
		metrics.RefusalsTotal.WithLabelValues(service, rec.Status.String()).Inc()
		return &RefusedError{Service: service, Status: rec.Status}
	}

	start := time.Now()
	// Buffered so the detached goroutine never blocks on a departed caller.
	resCh := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				resCh <- fmt.Errorf("breaker: operation panic: %v", p)
			}
		}()
		resCh <- op()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-resCh:
		out := outcomeOf(err)
		r.report(service, out, pol, opts)
		metrics.CallsTotal.WithLabelValues(service, out.String()).Inc()
		metrics.CallDuration.WithLabelValues(service).Observe(time.Since(start).Seconds())
		return err

	case <-timer.C:
		// Report the timeout first so the late completion report below
		// is ordered after it.
		r.report(service, OutcomeTimeout, pol, opts)
		go r.reportLate(service, resCh, pol, opts)
		metrics.CallsTotal.WithLabelValues(service, OutcomeTimeout.String()).Inc()
		metrics.CallDuration.WithLabelValues(service).Observe(time.Since(start).Seconds())
		return ErrTimedOut

	case <-ctx.Done():
		// The caller cancelled its own wait; that says nothing about the
		// service, so no timeout is counted against it.
		go r.reportLate(service, resCh, pol, opts)
		return ctx.Err()
	}
}

// report delivers one outcome to the coordinator.
func (r *Registry) report(service string, out Outcome, pol Policy, opts CallOptions) {
	r.enqueue(command{
		kind:         cmdOutcome,
		service:      service,
		outcome:      out,
		policy:       pol,
		resetProbe:   opts.ResetProbe,
		resetTimeout: opts.ResetTimeout,
	})
}

// reportLate waits for a detached operation to finish after its caller
// has departed and records the outcome for counting. The report is
// applied against the state in effect when it arrives, which may be
// after the service has already been cleared or re-blocked.
func (r *Registry) reportLate(service string, resCh <-chan error, pol Policy, opts CallOptions) {
	select {
	case err := <-resCh:
		out := outcomeOf(err)
		r.report(service, out, pol, opts)
		metrics.CallsTotal.WithLabelValues(service, out.String()).Inc()
	case <-r.stop:
	}
}

func outcomeOf(err error) Outcome {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
