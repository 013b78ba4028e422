// Package observability provides logging, metrics, and tracing.
//
// It integrates with OpenTelemetry for system monitoring.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// EventStoreAppendsTotal counts EventStore.Append calls by stream prefix and outcome.
	EventStoreAppendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_store_appends_total",
			Help: "Total number of EventStore.Append calls by stream type and outcome",
		},
		[]string{"stream_type", "outcome"},
	)
	// EventStoreAppendDuration records Append latency by stream type.
	EventStoreAppendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "event_store_append_duration_seconds",
			Help:    "EventStore.Append duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"stream_type"},
	)

	// OutboxRelayPublishedTotal counts rows the relay has successfully published.
	OutboxRelayPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_relay_published_total",
			Help: "Total number of outbox rows published by topic",
		},
		[]string{"topic"},
	)
	// OutboxRelayPublishFailuresTotal counts transient publish failures that were retried.
	OutboxRelayPublishFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_relay_publish_failures_total",
			Help: "Total number of transient outbox publish failures",
		},
		[]string{"topic"},
	)
	// OutboxRelayPublishDuration records the time from outbox row creation to ack.
	OutboxRelayPublishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outbox_relay_publish_duration_seconds",
			Help:    "Outbox relay end-to-end publish duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"topic"},
	)
	// OutboxBacklog is a gauge of unclaimed+claimed outbox rows observed at poll time.
	OutboxBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_backlog",
			Help: "Number of outbox rows not yet published, as of the last poll",
		},
	)

	// CheckpointLag is a gauge of (max event sequence - checkpointed sequence) per subscription/stream.
	CheckpointLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "checkpoint_lag",
			Help: "Number of unprocessed events behind the head of stream for a subscription",
		},
		[]string{"subscription_id", "stream_name"},
	)
	// ProjectionEventsProcessedTotal counts events a projection has applied.
	ProjectionEventsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "projection_events_processed_total",
			Help: "Total number of events applied by a projection",
		},
		[]string{"subscription_id", "event_type"},
	)

	// SagaStepTransitionsTotal counts saga step executions by saga type, step index, and direction.
	SagaStepTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_step_transitions_total",
			Help: "Total number of saga step transitions by saga type, step, and direction",
		},
		[]string{"saga_type", "step", "direction"},
	)
	// SagaOutcomesTotal counts terminal saga outcomes by saga type and outcome.
	SagaOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_outcomes_total",
			Help: "Total number of sagas reaching a terminal state, by outcome",
		},
		[]string{"saga_type", "outcome"},
	)
	// SagaActiveGauge tracks in-flight (non-terminal) saga instances.
	SagaActiveGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "saga_active",
			Help: "Number of non-terminal saga instances observed",
		},
		[]string{"saga_type"},
	)

	// CircuitBreakerStatus tracks circuit breaker state.
	CircuitBreakerStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_status",
			Help: "Circuit breaker status (0=closed, 1=open, 2=half-open)",
		},
		[]string{"service", "operation"},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(EventStoreAppendsTotal)
	prometheus.MustRegister(EventStoreAppendDuration)
	prometheus.MustRegister(OutboxRelayPublishedTotal)
	prometheus.MustRegister(OutboxRelayPublishFailuresTotal)
	prometheus.MustRegister(OutboxRelayPublishDuration)
	prometheus.MustRegister(OutboxBacklog)
	prometheus.MustRegister(CheckpointLag)
	prometheus.MustRegister(ProjectionEventsProcessedTotal)
	prometheus.MustRegister(SagaStepTransitionsTotal)
	prometheus.MustRegister(SagaOutcomesTotal)
	prometheus.MustRegister(SagaActiveGauge)
	prometheus.MustRegister(CircuitBreakerStatus)
}

// RecordAppend observes the outcome and latency of an EventStore.Append call.
func RecordAppend(streamType, outcome string, seconds float64) {
	EventStoreAppendsTotal.WithLabelValues(streamType, outcome).Inc()
	EventStoreAppendDuration.WithLabelValues(streamType).Observe(seconds)
}

// RecordOutboxPublish marks a successful relay publish and its end-to-end latency.
func RecordOutboxPublish(topic string, seconds float64) {
	OutboxRelayPublishedTotal.WithLabelValues(topic).Inc()
	OutboxRelayPublishDuration.WithLabelValues(topic).Observe(seconds)
}

// RecordOutboxPublishFailure marks a transient relay publish failure.
func RecordOutboxPublishFailure(topic string) {
	OutboxRelayPublishFailuresTotal.WithLabelValues(topic).Inc()
}

// SetOutboxBacklog records the outbox backlog observed at poll time.
func SetOutboxBacklog(n int) {
	OutboxBacklog.Set(float64(n))
}

// SetCheckpointLag records how far a subscription is behind a stream's head.
func SetCheckpointLag(subscriptionID, streamName string, lag int64) {
	CheckpointLag.WithLabelValues(subscriptionID, streamName).Set(float64(lag))
}

// RecordProjectionEvent marks a projection having applied one event.
func RecordProjectionEvent(subscriptionID, eventType string) {
	ProjectionEventsProcessedTotal.WithLabelValues(subscriptionID, eventType).Inc()
}

// RecordSagaStep marks a saga step execution, forward or compensating.
func RecordSagaStep(sagaType, step, direction string) {
	SagaStepTransitionsTotal.WithLabelValues(sagaType, step, direction).Inc()
}

// RecordSagaOutcome marks a saga reaching a terminal state.
func RecordSagaOutcome(sagaType, outcome string) {
	SagaOutcomesTotal.WithLabelValues(sagaType, outcome).Inc()
}

// SetSagaActive records the number of non-terminal instances of a saga type.
func SetSagaActive(sagaType string, n int) {
	SagaActiveGauge.WithLabelValues(sagaType).Set(float64(n))
}

// RecordCircuitBreakerStatus records circuit breaker state.
func RecordCircuitBreakerStatus(service, operation string, status int) {
	CircuitBreakerStatus.WithLabelValues(service, operation).Set(float64(status))
}
