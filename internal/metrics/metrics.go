// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TaskOps counts task store operations.
	// Labels: op (create, get, list, update, complete, delete), status (ok, error, not_found, invalid)
	TaskOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "todocore",
		Subsystem: "tasks",
		Name:      "ops_total",
		Help:      "Task store operations by outcome",
	}, []string{"op", "status"})

	// OpDuration measures task store operation latency.
	// Labels: op
	OpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "todocore",
		Subsystem: "tasks",
		Name:      "op_duration_seconds",
		Help:      "Task store operation duration in seconds",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
	}, []string{"op"})

	// SearchDuration measures full-text query latency separately because
	// ranked search has a very different profile from plain filters.
	SearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "todocore",
		Subsystem: "tasks",
		Name:      "search_duration_seconds",
		Help:      "Full-text search duration in seconds",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
	})

	// EventsPublished counts events accepted by the sink.
	// Labels: type
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "todocore",
		Subsystem: "bus",
		Name:      "events_published_total",
		Help:      "Events published to the bus by type",
	}, []string{"type"})

	// EventsConsumed counts handler outcomes.
	// Labels: type, consumer, status (ok, duplicate, dead_letter)
	EventsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "todocore",
		Subsystem: "bus",
		Name:      "events_consumed_total",
		Help:      "Events consumed by consumer and outcome",
	}, []string{"type", "consumer", "status"})

	// DeadLetters counts events routed to the dead-letter topic.
	DeadLetters = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "todocore",
		Subsystem: "bus",
		Name:      "dead_letters_total",
		Help:      "Events moved to the dead-letter topic",
	})

	// OutboxBacklog tracks rows still waiting in the outbox after a relay
	// pass. A persistently non-zero value means the relay cannot keep up.
	OutboxBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "todocore",
		Subsystem: "bus",
		Name:      "outbox_backlog",
		Help:      "Unpublished outbox rows remaining after a relay pass",
	})

	// RemindersScheduled counts reminder jobs created or refreshed.
	RemindersScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "todocore",
		Subsystem: "reminders",
		Name:      "scheduled_total",
		Help:      "Reminder jobs scheduled",
	})

	// RemindersTriggered counts fired reminders.
	RemindersTriggered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "todocore",
		Subsystem: "reminders",
		Name:      "triggered_total",
		Help:      "Reminders fired",
	})

	// ReminderLatency measures fire_at to delivery latency.
	ReminderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "todocore",
		Subsystem: "reminders",
		Name:      "delivery_latency_seconds",
		Help:      "Latency between a reminder's fire time and its delivery",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	// SyncLatency measures bus-to-socket forwarding latency.
	SyncLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "todocore",
		Subsystem: "sync",
		Name:      "latency_seconds",
		Help:      "Latency between event publication and WebSocket delivery",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	// ActiveSessions tracks live WebSocket sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "todocore",
		Subsystem: "sync",
		Name:      "active_sessions",
		Help:      "Currently connected WebSocket sessions",
	})
)
