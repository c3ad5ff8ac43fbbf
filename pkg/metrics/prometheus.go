package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syllaflow_workflow_transitions_total",
			Help: "Total number of committed workflow transitions",
		},
		[]string{"event", "to_state"},
	)

	TransitionRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syllaflow_workflow_transition_rejections_total",
			Help: "Rejected transition attempts by reason",
		},
		[]string{"reason"},
	)

	SyncEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syllaflow_sync_events_published_total",
			Help: "Outbox events published to the bus by outcome",
		},
		[]string{"event_type", "outcome"},
	)

	SyncEventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syllaflow_sync_events_consumed_total",
			Help: "Sync events consumed by the document service by outcome",
		},
		[]string{"event_type", "outcome"},
	)

	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syllaflow_notifications_created_total",
			Help: "Persisted notification rows by type",
		},
		[]string{"type"},
	)

	RemindersSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "syllaflow_deadline_reminders_sent_total",
			Help: "Deadline reminder notifications emitted by the scanner",
		},
	)

	RemindersSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "syllaflow_deadline_reminders_suppressed_total",
			Help: "Reminders skipped because of the per-user cooldown window",
		},
	)

	LiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "syllaflow_live_connections",
			Help: "Currently open live notification connections",
		},
	)

	PushDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syllaflow_push_deliveries_total",
			Help: "Push gateway deliveries by outcome",
		},
		[]string{"outcome"},
	)
)
