// Package metrics holds the Prometheus collectors shared by the social
// services. Collectors are registered on the default registry at init so
// GET /metrics exposes them through promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

var (
	// RelationshipTransitions counts state machine calls by action and outcome.
	RelationshipTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relationship_transitions_total",
		Help: "Relationship state machine operations by action and outcome.",
	}, []string{"action", "outcome"})

	// Notifications counts published channel events by event name and outcome.
	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Relationship events published to user channels.",
	}, []string{"event", "outcome"})

	// LastMessageFailures counts per-friend last-message lookups that failed
	// and were reported as "no last message".
	LastMessageFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "friends_last_message_failures_total",
		Help: "Failed last-message lookups isolated by the friends view.",
	})

	// RealtimeConnections tracks open SSE and WebSocket streams.
	RealtimeConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "realtime_connections",
		Help: "Open real-time streams by transport.",
	}, []string{"transport"})

	// Relationships holds the row count per status, refreshed periodically.
	Relationships = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relationships",
		Help: "Stored relationship rows by status.",
	}, []string{"status"})
)
