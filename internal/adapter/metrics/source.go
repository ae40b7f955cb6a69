package metrics

import "github.com/prometheus/client_golang/prometheus"

// SourceMetrics holds Prometheus metrics for upstream sources.
type SourceMetrics struct {
	MessagesReceived *prometheus.CounterVec
	DecodeErrors     *prometheus.CounterVec
	LastUpdate       *prometheus.GaugeVec
	Resubscribes     *prometheus.CounterVec
	BreakerOpen      *prometheus.GaugeVec
}

// NewSourceMetrics creates and registers source metrics on the given registry.
func NewSourceMetrics(reg prometheus.Registerer) *SourceMetrics {
	m := &SourceMetrics{
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "messages_received_total",
			Help:      "Total number of messages accepted into the cache, by source.",
		}, []string{"source"}),
		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "decode_errors_total",
			Help:      "Total number of messages dropped because they failed to decode, by source.",
		}, []string{"source"}),
		LastUpdate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "last_update_timestamp_seconds",
			Help:      "Unix time of the last accepted message, by source.",
		}, []string{"source"}),
		Resubscribes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "resubscribes_total",
			Help:      "Total number of subscription retries after a failure, by source.",
		}, []string{"source"}),
		BreakerOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "circuit_breaker_open",
			Help:      "1 if the subscription circuit breaker is open, by source.",
		}, []string{"source"}),
	}

	reg.MustRegister(m.MessagesReceived, m.DecodeErrors, m.LastUpdate, m.Resubscribes, m.BreakerOpen)
	return m
}
