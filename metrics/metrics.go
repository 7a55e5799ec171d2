// Package metrics instruments the command bus, query bus, event bus, and
// processor executor with Prometheus collectors, adapted from the
// teacher's internal/shared/metrics package (same promauto/
// CounterVec/HistogramVec/Gauge idiom, same promhttp.Handler exposure),
// generalized from HTTP/domain-specific counters to the framework's own
// dispatch points.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	commandsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventflow_commands_dispatched_total",
			Help: "Total number of commands dispatched through the command bus",
		},
		[]string{"command_type", "outcome"},
	)

	commandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventflow_command_duration_seconds",
			Help:    "Command dispatch duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"command_type"},
	)

	queriesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventflow_queries_dispatched_total",
			Help: "Total number of queries dispatched through the query bus",
		},
		[]string{"query_type", "outcome"},
	)

	eventsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventflow_events_appended_total",
			Help: "Total number of events appended to aggregate streams",
		},
		[]string{"aggregate_type", "event_type"},
	)

	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventflow_events_published_total",
			Help: "Total number of events handed to the event bus",
		},
		[]string{"event_type"},
	)

	concurrencyConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventflow_concurrency_conflicts_total",
			Help: "Total number of optimistic concurrency conflicts on aggregate commit",
		},
		[]string{"aggregate_type"},
	)

	processorLagEvents = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eventflow_processor_lag_events",
			Help: "Number of unprocessed events behind the head of the stream, per processor",
		},
		[]string{"processor_id"},
	)

	processorLagAge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eventflow_processor_lag_age_seconds",
			Help: "Average age of unprocessed events, per processor",
		},
		[]string{"processor_id"},
	)

	processorEventsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventflow_processor_events_handled_total",
			Help: "Total number of events handled by a processor",
		},
		[]string{"processor_id", "outcome"},
	)

	sagaStepsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventflow_saga_steps_executed_total",
			Help: "Total number of saga steps executed",
		},
		[]string{"saga_name", "step_id", "outcome"},
	)

	snapshotsCaptured = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventflow_snapshots_captured_total",
			Help: "Total number of aggregate snapshots captured",
		},
		[]string{"aggregate_type"},
	)
)

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCommand records the outcome and duration of one command
// dispatch. outcome is "success" or "error".
func RecordCommand(commandType, outcome string, duration time.Duration) {
	commandsDispatched.WithLabelValues(commandType, outcome).Inc()
	commandDuration.WithLabelValues(commandType).Observe(duration.Seconds())
}

// RecordQuery records the outcome of one query dispatch.
func RecordQuery(queryType, outcome string) {
	queriesDispatched.WithLabelValues(queryType, outcome).Inc()
}

// RecordEventAppended records one event appended to an aggregate stream.
func RecordEventAppended(aggregateType, eventType string) {
	eventsAppended.WithLabelValues(aggregateType, eventType).Inc()
}

// RecordEventPublished records one event handed to the event bus.
func RecordEventPublished(eventType string) {
	eventsPublished.WithLabelValues(eventType).Inc()
}

// RecordConcurrencyConflict records one optimistic concurrency conflict
// surfaced by a repository commit.
func RecordConcurrencyConflict(aggregateType string) {
	concurrencyConflicts.WithLabelValues(aggregateType).Inc()
}

// RecordProcessorLag records the current lag measurement for a
// processor, as reported by the processor executor's catch-up loop.
func RecordProcessorLag(processorID string, unprocessedEvents int, averageAge time.Duration) {
	processorLagEvents.WithLabelValues(processorID).Set(float64(unprocessedEvents))
	processorLagAge.WithLabelValues(processorID).Set(averageAge.Seconds())
}

// RecordProcessorEvent records one event handled by a processor.
// outcome is "success", "error", or "dead-lettered".
func RecordProcessorEvent(processorID, outcome string) {
	processorEventsHandled.WithLabelValues(processorID, outcome).Inc()
}

// RecordSagaStep records the execution of one saga step.
func RecordSagaStep(sagaName, stepID, outcome string) {
	sagaStepsExecuted.WithLabelValues(sagaName, stepID, outcome).Inc()
}

// RecordSnapshotCaptured records one snapshot capture.
func RecordSnapshotCaptured(aggregateType string) {
	snapshotsCaptured.WithLabelValues(aggregateType).Inc()
}
