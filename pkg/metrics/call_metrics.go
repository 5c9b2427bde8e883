package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Call metrics for monitoring session lifecycle, signaling and fanout delivery
var (
	// Lifecycle transitions: kind is one_to_one or group
	CallTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_transitions_total",
		Help: "Total number of call lifecycle transitions",
	}, []string{"kind", "transition"})

	CallDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "call_duration_seconds",
		Help:    "Duration of ended calls",
		Buckets: []float64{5, 15, 30, 60, 180, 300, 600, 1800, 3600, 7200},
	}, []string{"kind"})

	CallConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_conflicts_total",
		Help: "Total number of operations rejected by an exclusivity constraint",
	}, []string{"operation"})

	CallPromoteRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_promote_retries_total",
		Help: "Total number of promotion attempts retried after a uniqueness conflict",
	})

	// Signaling relay
	SignalingRelayedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaling_relayed_total",
		Help: "Total number of signaling envelopes handed to fanout",
	}, []string{"kind", "addressee"})

	SignalingRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaling_rejected_total",
		Help: "Total number of signaling envelopes rejected",
	}, []string{"reason"})

	// Join links
	LinkOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_link_operations_total",
		Help: "Total number of call link operations",
	}, []string{"operation", "status"})

	// Fanout delivery
	FanoutDispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_dispatch_total",
		Help: "Total number of fanout dispatches",
	}, []string{"provider", "status"})

	FanoutDispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fanout_dispatch_duration_seconds",
		Help:    "Time taken to hand an event to the fanout service",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"provider"})

	// Request protection
	RateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_rate_limited_total",
		Help: "Total number of requests rejected by a rate limit",
	}, []string{"limit", "backend"})

	RequestTimeoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_request_timeouts_total",
		Help: "Total number of requests that ran past their deadline",
	}, []string{"method", "endpoint"})

	DBPoolShedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "db_pool_shed_total",
		Help: "Total number of requests shed because the database pool was saturated",
	})

	PanicsRecoveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_panics_recovered_total",
		Help: "Total number of handler panics recovered",
	}, []string{"endpoint"})

	// System messages
	SystemMessageWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_system_message_writes_total",
		Help: "Total number of call system messages written to the timeline",
	}, []string{"status"})
)
