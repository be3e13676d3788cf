// Package metrics defines the daemon's Prometheus instrumentation. Metrics
// are registered at package init via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts RPC requests by command, including unknown ones.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escalationd_rpc_requests_total",
			Help: "Total number of RPC requests received, labeled by command.",
		},
		[]string{"command"},
	)

	// FramingErrorsTotal counts connections closed due to a malformed frame.
	FramingErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "escalationd_rpc_framing_errors_total",
			Help: "Total number of connections closed due to a framing error.",
		},
	)

	// EventsScheduledTotal counts individual ScheduledEvents armed by add.
	EventsScheduledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "escalationd_events_scheduled_total",
			Help: "Total number of scheduled events armed across all add calls.",
		},
	)

	// EventsFiredTotal counts notifier invocations by outcome.
	EventsFiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escalationd_events_fired_total",
			Help: "Total number of notifier invocations, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	// EventsSuppressedTotal counts events dropped due to busy-suppression.
	EventsSuppressedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "escalationd_events_suppressed_busy_total",
			Help: "Total number of events suppressed because the session looked busy.",
		},
	)

	// SessionsActive is the current session registry size.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "escalationd_sessions_active",
			Help: "Current number of tracked sessions.",
		},
	)

	// SessionsSweptTotal counts sessions pruned by the PID sweeper.
	SessionsSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "escalationd_sessions_swept_total",
			Help: "Total number of sessions removed by the dead-PID sweeper.",
		},
	)
)
