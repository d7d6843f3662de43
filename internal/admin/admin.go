// Package admin provides the operator API for inspecting and overriding
// breaker state at runtime. All endpoints sit behind an IP allowlist;
// JWT auth is layered on top by the caller when enabled.
package admin

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/dskow/breaker-core/breaker"
	"github.com/dskow/breaker-core/internal/apierror"
	"github.com/dskow/breaker-core/internal/config"
	"github.com/dskow/breaker-core/internal/metrics"
)

// Handler provides admin API endpoints.
type Handler struct {
	registry    *breaker.Registry
	reloader    ConfigProvider
	allowedNets []*net.IPNet
	logger      *slog.Logger
}

// ConfigProvider abstracts config access for testability.
type ConfigProvider interface {
	Current() *config.Config
}

// New creates a new admin Handler. The allowlist CIDRs must be pre-validated
// (config validation ensures this).
func New(registry *breaker.Registry, reloader ConfigProvider, allowlist []string, logger *slog.Logger) *Handler {
	nets := make([]*net.IPNet, 0, len(allowlist))
	for _, cidr := range allowlist {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue // already validated by config
		}
		nets = append(nets, ipNet)
	}
	return &Handler{
		registry:    registry,
		reloader:    reloader,
		allowedNets: nets,
		logger:      logger,
	}
}

// RegisterRoutes adds admin routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/admin/breakers", h.guard(http.MethodGet, h.breakersHandler))
	mux.HandleFunc("/admin/breakers/", h.guard(http.MethodPost, h.actionHandler))
	mux.HandleFunc("/admin/config", h.guard(http.MethodGet, h.configHandler))
}

// guard wraps a handler with method and IP allowlist checking.
func (h *Handler) guard(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			apierror.WriteJSON(w, r, http.StatusMethodNotAllowed, apierror.MethodNotAllowed,
				"method not allowed")
			return
		}

		ip := extractIP(r.RemoteAddr)
		if !h.isAllowed(ip) {
			h.logger.Warn("admin access denied", "client_ip", ip, "path", r.URL.Path)
			apierror.WriteJSON(w, r, http.StatusForbidden, apierror.Forbidden,
				"source address not allowed")
			return
		}
		next(w, r)
	}
}

func (h *Handler) isAllowed(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range h.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// breakerStatus is the per-service element of the /admin/breakers response.
type breakerStatus struct {
	Service       string `json:"service"`
	Status        string `json:"status"`
	ErrorCount    int    `json:"error_count"`
	TimeoutCount  int    `json:"timeout_count"`
	Manual        bool   `json:"manual"`
	BlockedAtUnix int64  `json:"blocked_at_unix,omitempty"`
}

func (h *Handler) breakersHandler(w http.ResponseWriter, r *http.Request) {
	recs := h.registry.Snapshot()
	statuses := make([]breakerStatus, len(recs))
	for i, rec := range recs {
		s := breakerStatus{
			Service:      rec.Service,
			Status:       rec.Status.String(),
			ErrorCount:   rec.Errors.Count,
			TimeoutCount: rec.Timeouts.Count,
			Manual:       rec.Manual,
		}
		if !rec.BlockedAt.IsZero() {
			s.BlockedAtUnix = rec.BlockedAt.Unix()
		}
		statuses[i] = s
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"breakers": statuses})
}

// actionHandler serves POST /admin/breakers/{service}/block and
// POST /admin/breakers/{service}/clear.
func (h *Handler) actionHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/admin/breakers/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		apierror.WriteJSON(w, r, http.StatusNotFound, apierror.NotFound, "no such resource")
		return
	}
	service, action := parts[0], parts[1]

	switch action {
	case "block":
		h.registry.Block(service)
		metrics.AdminActions.WithLabelValues("block").Inc()
		h.logger.Info("manual block", "service", service)
	case "clear":
		if !h.registry.IsBlocked(service) {
			apierror.WriteJSON(w, r, http.StatusNotFound, apierror.ServiceUnknown,
				"service is not blocked")
			return
		}
		h.registry.Clear(service)
		metrics.AdminActions.WithLabelValues("clear").Inc()
		h.logger.Info("manual clear", "service", service)
	default:
		apierror.WriteJSON(w, r, http.StatusNotFound, apierror.NotFound, "no such resource")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"service": service,
		"action":  action,
	})
}

func (h *Handler) configHandler(w http.ResponseWriter, r *http.Request) {
	cfg := h.reloader.Current()

	// Shallow copy and redact sensitive fields.
	redacted := *cfg
	if redacted.Auth.JWTSecret != "" {
		redacted.Auth.JWTSecret = "***"
	}

	writeJSON(w, http.StatusOK, redacted)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
