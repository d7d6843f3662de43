// Package metrics provides Prometheus instrumentation for the breaker
// engine and the breakerd ops server. All collectors are registered via
// Init and exposed through Handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CallsTotal counts guarded calls by service and outcome
	// (success, failure, timeout).
	CallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breaker_calls_total",
			Help: "Total guarded calls by outcome",
		},
		[]string{"service", "outcome"},
	)

	// CallDuration observes caller-observed call latency in seconds.
	// Timed-out calls observe the call timeout, not the operation's
	// eventual runtime.
	CallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "breaker_call_duration_seconds",
			Help:    "Caller-observed guarded call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	)

	// RefusalsTotal counts calls refused by the admission check, by
	// service and the status that caused the refusal.
	RefusalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breaker_refusals_total",
			Help: "Total calls refused without invoking the operation",
		},
		[]string{"service", "status"},
	)

	// State tracks the current breaker status per service
	// (0=ok, 1=warning, 2=blocked).
	State = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "breaker_state",
			Help: "Current breaker status (0=ok, 1=warning, 2=blocked)",
		},
		[]string{"service"},
	)

	// StateChanges counts status transitions by service and edge.
	StateChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breaker_state_changes_total",
			Help: "Total breaker status transitions",
		},
		[]string{"service", "from", "to"},
	)

	// ResetChecks counts reset-timer evaluations by service and result
	// (recovered, still_blocked, stale).
	ResetChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breaker_reset_checks_total",
			Help: "Total reset evaluations triggered by the reset timer",
		},
		[]string{"service", "result"},
	)

	// NotificationsDropped counts notifications discarded by the
	// throttled event sink.
	NotificationsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "breaker_notifications_dropped_total",
			Help: "Total notifications dropped by the sink throttle",
		},
	)

	// ProbesTotal counts upstream health probes by service and result.
	ProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breaker_probes_total",
			Help: "Total upstream health probes",
		},
		[]string{"service", "result"},
	)

	// AuthFailures counts rejected admin API requests by reason
	// (missing_token, invalid_token, insufficient_scope).
	AuthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breaker_auth_failures_total",
			Help: "Total admin API authentication failures",
		},
		[]string{"reason"},
	)

	// AdminActions counts manual admin operations by action
	// (block, clear).
	AdminActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breaker_admin_actions_total",
			Help: "Total manual admin actions",
		},
		[]string{"action"},
	)
)

// Init registers all collectors with the default Prometheus registry.
// Must be called once at startup.
func Init() {
	prometheus.MustRegister(
		CallsTotal,
		CallDuration,
		RefusalsTotal,
		State,
		StateChanges,
		ResetChecks,
		NotificationsDropped,
		ProbesTotal,
		AuthFailures,
		AdminActions,
	)
}

// Handler returns an http.Handler serving the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
