package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks the number of active WebSocket connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "csms_active_connections",
		Help: "The total number of active WebSocket connections.",
	})

	// ConnectionsSuperseded counts connections replaced by a newer connection for the same station.
	ConnectionsSuperseded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "csms_connections_superseded_total",
		Help: "Total number of connections superseded by a newer connection from the same station.",
	})

	// MessagesReceived counts the total number of messages received, labeled by action.
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "csms_messages_received_total",
		Help: "Total number of messages received from charging stations.",
	}, []string{"action"})

	// CallErrors counts CallError frames returned to stations, labeled by error code.
	CallErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "csms_call_errors_total",
		Help: "Total number of CallError frames sent to charging stations.",
	}, []string{"error_code"})

	// PendingCalls tracks outstanding server-initiated calls awaiting a response.
	PendingCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "csms_pending_calls",
		Help: "Number of outstanding server-initiated calls awaiting a station response.",
	})

	// CallTimeouts counts server-initiated calls that expired without a response.
	CallTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "csms_call_timeouts_total",
		Help: "Total number of server-initiated calls that timed out.",
	})

	// SessionsStarted counts charging sessions started.
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "csms_sessions_started_total",
		Help: "Total number of charging sessions started.",
	})

	// SessionsEnded counts charging sessions ended, labeled by final status.
	SessionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "csms_sessions_ended_total",
		Help: "Total number of charging sessions ended.",
	}, []string{"status"})

	// SessionCost observes the final cost of completed sessions.
	SessionCost = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "csms_session_cost",
		Help:    "Histogram of final session costs in the session currency.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	// EventsPublished counts the total number of events published to Kafka, labeled by event type.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "csms_events_published_total",
		Help: "Total number of events published to the message broker.",
	}, []string{"event_type"})

	// CommandsConsumed counts the total number of commands consumed from Kafka, labeled by command name.
	CommandsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "csms_commands_consumed_total",
		Help: "Total number of commands consumed from the message broker.",
	}, []string{"command_name"})

	// CommandsExecuted counts server-initiated commands sent to stations, labeled by action and result.
	CommandsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "csms_commands_executed_total",
		Help: "Total number of server-initiated commands sent to charging stations.",
	}, []string{"action", "result"})

	// MessageProcessingDuration observes the duration of message processing, labeled by action.
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "csms_message_processing_duration_seconds",
		Help:    "Histogram of message processing times.",
		Buckets: prometheus.LinearBuckets(0.01, 0.01, 10),
	}, []string{"action"})
)
