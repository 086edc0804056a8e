package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Evaluation metrics
	ReadingsEvaluated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitaltrace_readings_evaluated_total",
			Help: "Total number of sensor readings evaluated",
		},
		[]string{"device_known"}, // "true" or "false"
	)

	EvaluationErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vitaltrace_evaluation_errors_total",
			Help: "Total number of per-rule evaluation failures",
		},
	)

	// Alert lifecycle metrics
	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitaltrace_alerts_created_total",
			Help: "Total number of alerts created",
		},
		[]string{"rule_kind", "severity"},
	)

	AlertsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitaltrace_alerts_suppressed_total",
			Help: "Total number of matched conditions suppressed",
		},
		[]string{"rule_kind", "reason"}, // reason: cooldown, frequency_cap
	)

	AlertsDeduplicated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitaltrace_alerts_deduplicated_total",
			Help: "Total number of matched conditions skipped because an alert is already open",
		},
		[]string{"rule_kind"},
	)

	AlertsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitaltrace_alerts_resolved_total",
			Help: "Total number of alerts resolved",
		},
		[]string{"rule_kind", "source"}, // source: auto, manual
	)

	AlertsEscalated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitaltrace_alerts_escalated_total",
			Help: "Total number of alerts escalated",
		},
		[]string{"rule_kind"},
	)

	AlertsAcknowledged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vitaltrace_alerts_acknowledged_total",
			Help: "Total number of alerts acknowledged",
		},
	)

	RacesLost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitaltrace_status_transition_races_lost_total",
			Help: "Status transitions skipped because the precondition no longer held",
		},
		[]string{"transition"},
	)

	SuppressionEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vitaltrace_suppression_entries",
			Help: "Number of tracked (device, rule) suppression keys",
		},
	)

	EscalationTimers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vitaltrace_escalation_timers",
			Help: "Number of armed escalation timers",
		},
	)

	// Delivery metrics
	DeliveryResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitaltrace_delivery_results_total",
			Help: "Total number of channel delivery results",
		},
		[]string{"channel", "status"},
	)

	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vitaltrace_delivery_duration_seconds",
			Help:    "Channel send latency in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"channel"},
	)

	// Event metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitaltrace_events_published_total",
			Help: "Total number of lifecycle events published",
		},
		[]string{"status"}, // success, failed, dropped
	)

	EventPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vitaltrace_event_publish_duration_seconds",
			Help:    "Event batch publish latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	EventPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vitaltrace_event_publish_retries_total",
			Help: "Total number of event publish retries",
		},
	)

	// Ingest metrics
	IngestReadings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitaltrace_ingest_readings_total",
			Help: "Total number of readings received",
		},
		[]string{"source", "status"}, // status: accepted, invalid, dropped, evaluated, failed
	)

	IngestQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vitaltrace_ingest_queue_depth",
			Help: "Queued readings per ingest shard",
		},
		[]string{"shard"},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitaltrace_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// Runtime health
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitaltrace_panics_recovered_total",
			Help: "Total number of recovered panics",
		},
		[]string{"component"},
	)
)
