// Package metrics defines the Prometheus collectors of the alerting pipeline.
//
// Collectors are registered with the default registry in init and served by promhttp.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ChecksRecordedTotal counts persisted checks by monitor type and status.
	ChecksRecordedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_checks_recorded_total",
			Help: "Total checks recorded by monitor type and status.",
		},
		[]string{"type", "status"},
	)

	// ProbeDurationSeconds is a histogram of checker execution time.
	ProbeDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "watchtower_probe_duration_seconds",
			Help:    "Duration of checker executions in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"type"},
	)

	// EvaluationsTotal counts check evaluations by outcome (applied, duplicate, stale, missing, error).
	EvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_evaluations_total",
			Help: "Total check evaluations by outcome.",
		},
		[]string{"outcome"},
	)

	// EvaluationDurationSeconds is a histogram of evaluation transaction time.
	EvaluationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "watchtower_evaluation_duration_seconds",
			Help:    "Duration of check evaluation transactions in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// StatusChangesTotal counts debounced monitor status changes by new status.
	StatusChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_monitor_status_changes_total",
			Help: "Total debounced monitor status changes.",
		},
		[]string{"status"},
	)

	// AnomalyTransitionsTotal counts anomaly openings and closings.
	AnomalyTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_anomaly_transitions_total",
			Help: "Total anomaly lifecycle transitions.",
		},
		[]string{"transition"},
	)

	// NotificationsTotal counts dispatch attempts by kind and result (sent, retry, dead, duplicate).
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_notifications_total",
			Help: "Total notification dispatch attempts by kind and result.",
		},
		[]string{"kind", "result"},
	)

	// QueueRedeliveriesTotal counts checks re-published by the redeliverer.
	QueueRedeliveriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "watchtower_queue_redeliveries_total",
			Help: "Total unevaluated checks re-published to the queue.",
		},
	)

	// IngestRequestsTotal counts server-metric pushes by result.
	IngestRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_ingest_requests_total",
			Help: "Total server metric ingestion requests by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		ChecksRecordedTotal,
		ProbeDurationSeconds,
		EvaluationsTotal,
		EvaluationDurationSeconds,
		StatusChangesTotal,
		AnomalyTransitionsTotal,
		NotificationsTotal,
		QueueRedeliveriesTotal,
		IngestRequestsTotal,
	)
}

// ObserveProbe records a checker execution.
func ObserveProbe(monitorType string, d time.Duration) {
	ProbeDurationSeconds.WithLabelValues(monitorType).Observe(d.Seconds())
}
