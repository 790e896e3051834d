package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Transition counters let operators watch the state machine converge;
// rejected transitions and lost CAS races are normal under concurrency but
// spikes indicate a misbehaving gateway or worker.
var (
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connector_charge_transitions_total",
		Help: "Charge status transitions, by target status and outcome.",
	}, []string{"to_status", "outcome"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connector_notifications_total",
		Help: "Inbound gateway notifications, by gateway and outcome.",
	}, []string{"gateway", "outcome"})

	Tasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connector_tasks_total",
		Help: "Queue task processing results, by kind and outcome.",
	}, []string{"kind", "outcome"})

	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "connector_gateway_request_seconds",
		Help:    "Latency of outbound gateway operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"gateway", "operation"})
)

// Outcome label values.
const (
	OutcomeApplied  = "applied"
	OutcomeRejected = "rejected"
	OutcomeConflict = "conflict"
	OutcomeIgnored  = "ignored"
	OutcomeError    = "error"
	OutcomeRetried  = "retried"
	OutcomeAcked    = "acked"
)
