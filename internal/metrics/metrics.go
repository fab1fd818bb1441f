package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts processed events by flow, operation and outcome.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quoting_requests_total",
			Help: "Total quoting events processed (by flow, operation, and result).",
		},
		[]string{"flow", "operation", "result"},
	)

	// ForwardDuration measures outbound forward calls to participants.
	ForwardDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quoting_forward_duration_seconds",
			Help:    "Duration of outbound forwards to participant endpoints in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms → ~16s
		},
		[]string{"flow", "method"},
	)

	DuplicateChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quoting_duplicate_checks_total",
			Help: "Duplicate check outcomes (new, resend, conflict).",
		},
		[]string{"flow", "result"},
	)

	RuleEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quoting_rule_events_total",
			Help: "Rule events produced by evaluation, by type.",
		},
		[]string{"type"},
	)

	// ErrorCallbacks counts error callbacks sent to participants.
	ErrorCallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quoting_error_callbacks_total",
			Help: "Error callbacks sent (by mode and result).",
		},
		[]string{"mode", "result"},
	)

	// QuotesExpired counts stored quotes marked expired by the sweeper.
	QuotesExpired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quoting_expired_total",
			Help: "Quotes marked expired by the expiry sweeper, by flow.",
		},
		[]string{"flow"},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quoting_errors_total",
			Help: "Errors by component and reason.",
		},
		[]string{"component", "reason"},
	)

	// TransportMessages tracks consumed NATS or AMQP messages by subject and outcome.
	TransportMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transport_messages_total",
			Help: "Transport messages consumed (by subject and result).",
		},
		[]string{"subject", "result"},
	)

	// TransportPublishLatency measures publish latency by subject.
	TransportPublishLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transport_publish_latency_seconds",
			Help:    "Latency of transport publishes in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"subject"},
	)

	// TransportPublishErrors tracks publish failures by subject.
	TransportPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transport_publish_errors_total",
			Help: "Number of transport publish failures by subject.",
		},
		[]string{"subject"},
	)
)

func IncRequest(flow, operation, result string) {
	RequestsTotal.WithLabelValues(flow, operation, result).Inc()
}

func IncDuplicateCheck(flow, result string) {
	DuplicateChecks.WithLabelValues(flow, result).Inc()
}

func IncRuleEvent(eventType string) {
	RuleEvents.WithLabelValues(eventType).Inc()
}

func IncErrorCallback(mode, result string) {
	ErrorCallbacks.WithLabelValues(mode, result).Inc()
}

func AddExpired(flow string, n int64) {
	QuotesExpired.WithLabelValues(flow).Add(float64(n))
}

// IncError increments the error counter for a component.
func IncError(component, reason string) {
	Errors.WithLabelValues(component, reason).Inc()
}

func IncTransportMessage(subject, result string) {
	TransportMessages.WithLabelValues(subject, result).Inc()
}

// IncTransportPublishError increments the publish error counter for the given subject.
func IncTransportPublishError(subject string) {
	TransportPublishErrors.WithLabelValues(subject).Inc()
}

// ObserveDuration records elapsed time since start into a HistogramVec or SummaryVec.
func ObserveDuration(v any, start time.Time, labels ...string) {
	duration := time.Since(start).Seconds()
	switch metric := v.(type) {
	case *prometheus.HistogramVec:
		metric.WithLabelValues(labels...).Observe(duration)
	case *prometheus.SummaryVec:
		metric.WithLabelValues(labels...).Observe(duration)
	}
}
