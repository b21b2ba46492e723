package client

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for one client process
type Metrics struct {
	// Socket traffic
	eventsReceived *prometheus.CounterVec // by event name
	eventsSent     *prometheus.CounterVec // by event name
	decodeErrors   prometheus.Counter
	queueDrops     prometheus.Counter

	// Connection lifecycle
	reconnectAttempts prometheus.Counter
	connected         prometheus.Gauge

	// Session reducers
	echoSuppressed  prometheus.Counter
	reconciled      prometheus.Counter
	droppedMessages prometheus.Counter

	// REST
	fetchDuration *prometheus.HistogramVec // by resource kind and outcome
}

// NewMetrics registers client metrics on reg. A nil reg uses a private registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		eventsReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_events_received_total",
				Help: "Socket events received from the server by event name",
			},
			[]string{"event"},
		),
		eventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_events_sent_total",
				Help: "Socket events written to the server by event name",
			},
			[]string{"event"},
		),
		decodeErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chatsync_decode_errors_total",
				Help: "Inbound frames that could not be decoded",
			},
		),
		queueDrops: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chatsync_outgoing_queue_drops_total",
				Help: "Outbound events rejected because the send queue was full",
			},
		),
		reconnectAttempts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chatsync_reconnect_attempts_total",
				Help: "Reconnect attempts after connection loss",
			},
		),
		connected: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "chatsync_connected",
				Help: "1 while the socket is connected",
			},
		),
		echoSuppressed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chatsync_echo_suppressed_total",
				Help: "Self-authored messages dropped on echo",
			},
		),
		reconciled: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chatsync_optimistic_reconciled_total",
				Help: "Optimistic messages replaced by the server copy",
			},
		),
		droppedMessages: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chatsync_dropped_messages_total",
				Help: "Inbound messages dropped for missing sender",
			},
		),
		fetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatsync_fetch_duration_seconds",
				Help:    "REST fetch latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"resource", "outcome"},
		),
	}
}

// All recorders accept a nil receiver so metrics stay optional.

func (m *Metrics) RecordEventReceived(event string) {
	if m == nil {
		return
	}
	m.eventsReceived.WithLabelValues(event).Inc()
}

func (m *Metrics) RecordEventSent(event string) {
	if m == nil {
		return
	}
	m.eventsSent.WithLabelValues(event).Inc()
}

func (m *Metrics) RecordDecodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

func (m *Metrics) RecordQueueDrop() {
	if m == nil {
		return
	}
	m.queueDrops.Inc()
}

func (m *Metrics) RecordReconnectAttempt() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

func (m *Metrics) RecordEchoSuppressed() {
	if m == nil {
		return
	}
	m.echoSuppressed.Inc()
}

func (m *Metrics) RecordReconciled() {
	if m == nil {
		return
	}
	m.reconciled.Inc()
}

func (m *Metrics) RecordDroppedMessage() {
	if m == nil {
		return
	}
	m.droppedMessages.Inc()
}

// ObserveFetch records one REST fetch
func (m *Metrics) ObserveFetch(resource string, started time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.fetchDuration.WithLabelValues(resource, outcome).Observe(time.Since(started).Seconds())
}
