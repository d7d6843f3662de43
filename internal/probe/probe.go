// Package probe runs periodic health probes against the configured
// upstream services through the breaker, so quiet services still
// accumulate outcome history and blocked services get a recovery check.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dskow/breaker-core/breaker"
	"github.com/dskow/breaker-core/internal/config"
	"github.com/dskow/breaker-core/internal/metrics"
)

// Prober owns one probe loop per configured service. Each tick issues a
// guarded GET through the registry; the same check, unguarded, serves as
// the service's reset probe once it blocks.
type Prober struct {
	registry *breaker.Registry
	client   *http.Client
	logger   *slog.Logger

	mu   sync.Mutex
	gen  chan struct{} // closed to retire the current probe loops
	wg   sync.WaitGroup
	done bool
}

// New creates a Prober. The HTTP client timeout bounds the raw check;
// the breaker's call timeout bounds the guarded wait around it.
func New(registry *breaker.Registry, logger *slog.Logger) *Prober {
	return &Prober{
		registry: registry,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logger,
	}
}

// Start launches probe loops for the given services.
func (p *Prober) Start(services []config.ServiceConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return
	}
	p.startLocked(services)
}

// UpdateServices retires the current probe loops and starts fresh ones
// for the new service list. Called on config reload.
func (p *Prober) UpdateServices(services []config.ServiceConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return
	}
	if p.gen != nil {
		close(p.gen)
	}
	p.startLocked(services)
	p.logger.Info("prober services updated", "count", len(services))
}

// Stop retires all probe loops and waits for them to exit.
func (p *Prober) Stop() {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return
	}
	p.done = true
	if p.gen != nil {
		close(p.gen)
		p.gen = nil
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Prober) startLocked(services []config.ServiceConfig) {
	gen := make(chan struct{})
	p.gen = gen
	for _, svc := range services {
		p.wg.Add(1)
		go p.loop(svc, gen)
	}
}

func (p *Prober) loop(svc config.ServiceConfig, gen chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(svc.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.probeOnce(svc, gen)
		case <-gen:
			return
		}
	}
}

// probeOnce issues one guarded probe. A refusal means the service is
// already warned or blocked; that is recorded but does not count as an
// outcome.
func (p *Prober) probeOnce(svc config.ServiceConfig, gen chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-gen:
			cancel()
		case <-ctx.Done():
		}
	}()

	opts := breaker.CallOptions{
		Policy:       svc.Policy,
		ResetProbe:   func() bool { return p.check(svc) == nil },
		ResetTimeout: 0, // policy default
	}

	err := p.registry.CallWithOptions(ctx, svc.Name, func() error {
		return p.check(svc)
	}, opts)

	switch {
	case err == nil:
		metrics.ProbesTotal.WithLabelValues(svc.Name, "ok").Inc()
	case breaker.IsRefused(err):
		metrics.ProbesTotal.WithLabelValues(svc.Name, "refused").Inc()
	default:
		metrics.ProbesTotal.WithLabelValues(svc.Name, "failed").Inc()
		p.logger.Warn("probe failed", "service", svc.Name, "error", err)
	}
}

// check performs the raw HTTP health check without breaker involvement.
func (p *Prober) check(svc config.ServiceConfig) error {
	req, err := http.NewRequest(http.MethodGet, svc.URL, nil)
	if err != nil {
		return fmt.Errorf("building probe request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probing %s: %w", svc.Name, err)
	}
	resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("probing %s: upstream returned %d", svc.Name, resp.StatusCode)
	}
	return nil
}
