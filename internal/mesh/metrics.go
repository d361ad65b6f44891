package mesh

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts per-channel traffic and transform invocations. A nil
// *Metrics records nothing.
type Metrics struct {
	connections *prometheus.CounterVec
	received    *prometheus.CounterVec
	sent        *prometheus.CounterVec
	errors      *prometheus.CounterVec

	invocations    *prometheus.CounterVec
	invokeDuration *prometheus.HistogramVec
}

// NewMetrics builds the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		connections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "connections_total",
			Help:      "Peers that joined a channel this node publishes.",
		}, []string{"channel"}),
		received: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "received_total",
			Help:      "Envelopes delivered to a channel proxy.",
		}, []string{"channel"}),
		sent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "sent_total",
			Help:      "Envelopes handed to the transport.",
		}, []string{"channel"}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "errors_total",
			Help:      "Decode and encode failures per channel.",
		}, []string{"channel"}),
		invocations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transform",
			Name:      "invocations_total",
			Help:      "Transform invocations by outcome.",
		}, []string{"transform", "outcome"}),
		invokeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transform",
			Name:      "invocation_duration_seconds",
			Help:      "Transform invocation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"transform"}),
	}
}

func (m *Metrics) Connected(channel string) {
	if m != nil {
		m.connections.WithLabelValues(channel).Inc()
	}
}

func (m *Metrics) Received(channel string) {
	if m != nil {
		m.received.WithLabelValues(channel).Inc()
	}
}

func (m *Metrics) Sent(channel string) {
	if m != nil {
		m.sent.WithLabelValues(channel).Inc()
	}
}

func (m *Metrics) Failed(channel string) {
	if m != nil {
		m.errors.WithLabelValues(channel).Inc()
	}
}

// Invoked records one transform invocation with outcome "ok" or "error".
func (m *Metrics) Invoked(transform, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(transform, outcome).Inc()
	m.invokeDuration.WithLabelValues(transform).Observe(d.Seconds())
}
