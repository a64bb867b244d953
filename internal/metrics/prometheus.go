package metrics

import (
	"context"
	"net/http"

	"github.com/garyjia/grants-workflow/internal/application/dispatcher"
	"github.com/garyjia/grants-workflow/internal/domain/event"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Results recorded by the workflow manager for each event
const (
	ResultProcessed = "processed"
	ResultFailed    = "failed"
	ResultRetry     = "retry"
)

var (
	// Workflow manager metrics
	eventsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_events_processed_total",
			Help: "Total number of workflow events handled by the workflow manager",
		},
		[]string{"result"},
	)

	batchesProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "workflow_batches_processed_total",
			Help: "Total number of event batches processed by the workflow manager",
		},
	)

	eventDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workflow_event_duration_seconds",
			Help:    "Time spent processing a single workflow event",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event_type"},
	)

	// Engine metrics fed from published domain events
	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_transitions_total",
			Help: "Total number of committed state machine transitions",
		},
		[]string{"workflow_type", "trigger", "automatic"},
	)

	workflowsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_completed_total",
			Help: "Total number of workflows that reached an end state",
		},
		[]string{"workflow_type", "final_state"},
	)
)

// RecordEvent records the outcome of one event
func RecordEvent(result, eventType string, durationSeconds float64) {
	eventsProcessedTotal.WithLabelValues(result).Inc()
	eventDuration.WithLabelValues(eventType).Observe(durationSeconds)
}

// RecordBatch records one processed batch
func RecordBatch() {
	batchesProcessedTotal.Inc()
}

// Subscribe counts transitions and completions published by the dispatcher
func Subscribe(d dispatcher.Dispatcher) {
	d.SubscribeNamed(event.TypeStateChanged, "metrics-transitions", func(_ context.Context, evt *event.Event) error {
		automatic := "false"
		if auto, ok := evt.Payload["automatic"].(bool); ok && auto {
			automatic = "true"
		}
		transitionsTotal.WithLabelValues(evt.GetPayloadString("workflow_type"), evt.GetPayloadString("trigger"), automatic).Inc()
		return nil
	})

	d.SubscribeNamed(event.TypeWorkflowCompleted, "metrics-completions", func(_ context.Context, evt *event.Event) error {
		workflowsCompletedTotal.WithLabelValues(evt.GetPayloadString("workflow_type"), evt.GetPayloadString("final_state")).Inc()
		return nil
	})
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
