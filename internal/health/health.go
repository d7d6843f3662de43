// Package health provides health check and readiness probe HTTP handlers
// for the breaker daemon.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dskow/breaker-core/breaker"
	"github.com/dskow/breaker-core/internal/config"
)

// Pre-serialized liveness response avoids json.Encoder allocation.
var livenessBody = []byte(`{"status":"ok"}` + "\n")

const readinessCacheTTL = 5 * time.Second

// Handler provides /health and /ready endpoints. Readiness reflects the
// breaker state of the configured services: a blocked service counts as
// down without dialling it; OK services get a TCP reachability check.
type Handler struct {
	registry *breaker.Registry
	logger   *slog.Logger

	mu       sync.RWMutex
	services []config.ServiceConfig

	// Cached readiness result to avoid TCP-dialling every service on
	// every /ready poll. Protected by cacheMu.
	cacheMu      sync.RWMutex
	cachedResult []byte
	cachedStatus int
	cachedAt     time.Time
}

// New creates a new health check Handler.
func New(registry *breaker.Registry, services []config.ServiceConfig, logger *slog.Logger) *Handler {
	return &Handler{registry: registry, services: services, logger: logger}
}

// UpdateServices swaps the watched service list after a config reload.
func (h *Handler) UpdateServices(services []config.ServiceConfig) {
	h.mu.Lock()
	h.services = services
	h.mu.Unlock()

	h.cacheMu.Lock()
	h.cachedResult = nil
	h.cacheMu.Unlock()
}

// RegisterRoutes adds health check routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.liveness)
	mux.HandleFunc("/ready", h.readiness)
}

func (h *Handler) liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(livenessBody)
}

func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	// Serve from cache if fresh.
	h.cacheMu.RLock()
	if h.cachedResult != nil && time.Since(h.cachedAt) < readinessCacheTTL {
		body := h.cachedResult
		status := h.cachedStatus
		h.cacheMu.RUnlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(body)
		return
	}
	h.cacheMu.RUnlock()

	h.mu.RLock()
	services := h.services
	h.mu.RUnlock()

	type serviceResult struct {
		name   string
		status string
		ok     bool
	}

	ch := make(chan serviceResult, len(services))
	for _, svc := range services {
		go func(svc config.ServiceConfig) {
			// Fast path: a non-OK breaker record settles it without a dial.
			if h.registry.IsBlocked(svc.Name) {
				ch <- serviceResult{name: svc.Name, status: "blocked", ok: false}
				return
			}

			u, err := url.Parse(svc.URL)
			if err != nil {
				ch <- serviceResult{name: svc.Name, status: "invalid URL", ok: false}
				return
			}

			host := u.Host
			if !hasPort(host) {
				switch u.Scheme {
				case "https":
					host += ":443"
				default:
					host += ":80"
				}
			}

			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", host)
			cancel()

			if err != nil {
				h.logger.Warn("service unreachable", "service", svc.Name, "url", svc.URL, "error", err)
				ch <- serviceResult{name: svc.Name, status: "unreachable", ok: false}
				return
			}
			conn.Close()
			ch <- serviceResult{name: svc.Name, status: "ok", ok: true}
		}(svc)
	}

	results := make(map[string]string, len(services))
	anyDown := false
	for range services {
		res := <-ch
		results[res.name] = res.status
		if !res.ok {
			anyDown = true
		}
	}

	httpStatus := http.StatusOK
	statusStr := "ready"
	if anyDown {
		httpStatus = http.StatusServiceUnavailable
		statusStr = "not ready"
	}

	body, _ := json.Marshal(map[string]interface{}{
		"status":   statusStr,
		"services": results,
	})
	body = append(body, '\n')

	h.cacheMu.Lock()
	h.cachedResult = body
	h.cachedStatus = httpStatus
	h.cachedAt = time.Now()
	h.cacheMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	w.Write(body)
}

func hasPort(host string) bool {
	_, _, err := net.SplitHostPort(host)
	return err == nil
}
