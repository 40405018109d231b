// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// SessionsActive tracks connected dashboard sessions by transport.
	SessionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "leadrelay_sessions_active",
			Help: "Number of connected dashboard sessions",
		},
		[]string{"transport"},
	)

	// RoomsActive tracks rooms with at least one member.
	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leadrelay_rooms_active",
			Help: "Number of rooms with at least one member",
		},
	)

	// EventsPublished tracks publish calls on the router.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadrelay_router_published_total",
			Help: "Events published to rooms",
		},
		[]string{"disposition"},
	)

	// EventsDelivered tracks per-session deliveries.
	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadrelay_router_delivered_total",
			Help: "Events delivered to session outbound buffers",
		},
		[]string{"disposition"},
	)

	// EventsDropped tracks deliveries dropped because a session buffer was full.
	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadrelay_router_dropped_total",
			Help: "Events dropped because a session outbound buffer was full",
		},
	)

	// BusErrors tracks cluster bus publish and decode failures.
	BusErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadrelay_bus_errors_total",
			Help: "Cluster bus failures",
		},
		[]string{"driver", "op"},
	)

	// LeadsCreated tracks leads accepted by intake.
	LeadsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadrelay_leads_created_total",
			Help: "Leads created by intake",
		},
		[]string{"tenant_id", "disposition"},
	)

	// FieldUpdates tracks persisted lead field edits.
	FieldUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadrelay_field_updates_total",
			Help: "Lead field updates by field and outcome",
		},
		[]string{"field", "outcome"},
	)

	// ConversationResolves tracks identity resolves.
	ConversationResolves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadrelay_conversation_resolves_total",
			Help: "Conversation identity resolves by provenance and outcome",
		},
		[]string{"provenance", "outcome"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// IncrementSessions increments the active session count for a transport.
func IncrementSessions(transport string) {
	SessionsActive.WithLabelValues(transport).Inc()
}

// DecrementSessions decrements the active session count for a transport.
func DecrementSessions(transport string) {
	SessionsActive.WithLabelValues(transport).Dec()
}

// RecordPublish records a router publish and the number of sessions reached.
func RecordPublish(disposition string, delivered int) {
	EventsPublished.WithLabelValues(disposition).Inc()
	EventsDelivered.WithLabelValues(disposition).Add(float64(delivered))
}

// RecordFieldUpdate records the outcome of a lead field update.
func RecordFieldUpdate(field, outcome string) {
	FieldUpdates.WithLabelValues(field, outcome).Inc()
}

// RecordResolve records the outcome of a conversation resolve.
func RecordResolve(provenance, outcome string) {
	ConversationResolves.WithLabelValues(provenance, outcome).Inc()
}
