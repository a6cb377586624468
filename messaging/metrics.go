package messaging

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values.
const (
	outcomeProcessed     = "processed"
	outcomeDecodeFailure = "decode_failure"
	outcomeMalformed     = "malformed"
	outcomeUnroutable    = "unroutable"
	outcomeHandlerFailed = "handler_failed"

	outcomePublished = "published"
	outcomeInvalid   = "invalid"
	outcomeFailed    = "failed"
)

// Metrics holds the messaging collectors. A nil *Metrics records nothing.
type Metrics struct {
	MessagesConsumed   *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	MessagesPublished  *prometheus.CounterVec
	DeadLettered       *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "polako",
				Subsystem: "messaging",
				Name:      "messages_consumed_total",
				Help:      "Total number of deliveries handled, by outcome",
			},
			[]string{"message_type", "outcome"},
		),
		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "polako",
				Subsystem: "messaging",
				Name:      "processing_duration_seconds",
				Help:      "Delivery processing duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"message_type", "outcome"},
		),
		MessagesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "polako",
				Subsystem: "messaging",
				Name:      "messages_published_total",
				Help:      "Total number of publish attempts, by outcome",
			},
			[]string{"message_type", "outcome"},
		),
		DeadLettered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "polako",
				Subsystem: "messaging",
				Name:      "dead_lettered_total",
				Help:      "Total number of deliveries republished to the dead-letter route",
			},
			[]string{"message_type", "reason"},
		),
	}

	reg.MustRegister(m.MessagesConsumed, m.ProcessingDuration, m.MessagesPublished, m.DeadLettered)
	return m
}

func (m *Metrics) observeDelivery(messageType, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.MessagesConsumed.WithLabelValues(messageType, outcome).Inc()
	m.ProcessingDuration.WithLabelValues(messageType, outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) observePublish(messageType, outcome string) {
	if m == nil {
		return
	}
	m.MessagesPublished.WithLabelValues(messageType, outcome).Inc()
}

func (m *Metrics) observeDeadLetter(messageType, reason string) {
	if m == nil {
		return
	}
	m.DeadLettered.WithLabelValues(messageType, reason).Inc()
}
